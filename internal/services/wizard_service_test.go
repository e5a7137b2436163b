package services

import (
	"strings"
	"testing"
	"time"
)

func TestWizardSessionLifecycle(t *testing.T) {
	svc := NewWizardService()

	key := svc.NewSessionKey()
	state := svc.Get(key, 1)
	state.CompletedSteps[StepAccount] = true
	svc.Save(key, state)

	// 同一邀请取回同一状态
	again := svc.Get(key, 1)
	if !again.CompletedSteps[StepAccount] {
		t.Fatal("state not persisted for same invite")
	}

	// 换邀请重建状态
	other := svc.Get(key, 2)
	if other.CompletedSteps[StepAccount] {
		t.Fatal("state leaked across invites")
	}

	svc.Clear(key)
	cleared := svc.Get(key, 2)
	if cleared == other {
		t.Fatal("state survived Clear")
	}
}

func TestWizardSessionExpires(t *testing.T) {
	svc := &WizardService{
		sessions: make(map[string]*WizardState),
		ttl:      10 * time.Millisecond,
	}

	key := svc.NewSessionKey()
	state := svc.Get(key, 1)
	state.CompletedSteps[StepPin] = true
	svc.Save(key, state)

	time.Sleep(25 * time.Millisecond)

	fresh := svc.Get(key, 1)
	if fresh.CompletedSteps[StepPin] {
		t.Fatal("expired session still returned")
	}
}

func TestSetDraftHashesPassword(t *testing.T) {
	svc := NewWizardService()
	state := svc.Get(svc.NewSessionKey(), 1)

	if err := svc.SetDraft(state, "alice", "alice@example.com", "secret123"); err != nil {
		t.Fatalf("SetDraft() = %v", err)
	}
	if state.Draft == nil || !state.CompletedSteps[StepAccount] {
		t.Fatalf("state = %+v", state)
	}
	if state.Draft.PasswordHash == "secret123" || state.Draft.PasswordHash == "" {
		t.Fatal("password stored without hashing")
	}
	if state.Draft.Password() != "secret123" {
		t.Fatal("draft plaintext password lost")
	}
	if strings.Contains(state.Draft.PasswordHash, "secret123") {
		t.Fatal("hash contains plaintext")
	}
}

func TestStoreProofMarksStep(t *testing.T) {
	svc := NewWizardService()
	state := svc.Get(svc.NewSessionKey(), 1)

	svc.StoreProof(state, &IdentityProof{Protocol: ProtocolOAuth, Username: "dave"})
	if !state.CompletedSteps[StepOAuth] {
		t.Fatal("oauth step not marked complete")
	}
	if state.Identities[ProtocolOAuth] == nil {
		t.Fatal("proof not stored")
	}
}

func TestResetPinClearsSessionData(t *testing.T) {
	state := &WizardState{PinID: "1", PinCode: "CODE", PinClientID: "client"}
	state.ResetPin()
	if state.PinID != "" || state.PinCode != "" || state.PinClientID != "" {
		t.Fatalf("state = %+v", state)
	}
}
