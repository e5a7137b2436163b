package models

import (
	"testing"
	"time"
)

func TestInviteIsExpired(t *testing.T) {
	if (&Invite{}).IsExpired() {
		t.Fatal("invite without expiry reported expired")
	}

	past := time.Now().UTC().Add(-time.Minute)
	if !(&Invite{ExpiresAt: &past}).IsExpired() {
		t.Fatal("past expiry not detected")
	}

	// 时区不影响判定：同一时刻的东八区表示
	cst := time.FixedZone("CST", 8*3600)
	pastCST := time.Now().In(cst).Add(-time.Minute)
	if !(&Invite{ExpiresAt: &pastCST}).IsExpired() {
		t.Fatal("past expiry in non-UTC zone not detected")
	}

	future := time.Now().UTC().Add(time.Hour)
	if (&Invite{ExpiresAt: &future}).IsExpired() {
		t.Fatal("future expiry reported expired")
	}
}

func TestInviteMaxedOut(t *testing.T) {
	if (&Invite{MaxUses: 0, UsedCount: 100}).MaxedOut() {
		t.Fatal("unlimited invite reported maxed out")
	}
	if (&Invite{MaxUses: 3, UsedCount: 2}).MaxedOut() {
		t.Fatal("invite with remaining uses reported maxed out")
	}
	if !(&Invite{MaxUses: 3, UsedCount: 3}).MaxedOut() {
		t.Fatal("exhausted invite not reported maxed out")
	}
}

func TestInviteIsUsable(t *testing.T) {
	if !(&Invite{}).IsUsable() {
		t.Fatal("fresh invite not usable")
	}
	if (&Invite{Disabled: true}).IsUsable() {
		t.Fatal("disabled invite usable")
	}
}

func TestMediaServerProtocol(t *testing.T) {
	cases := map[string]string{
		ServerTypePlex:     "pin",
		ServerTypeJellyfin: "local",
		ServerTypeEmby:     "local",
	}
	for serverType, want := range cases {
		server := &MediaServer{Type: serverType}
		if got := server.Protocol(); got != want {
			t.Fatalf("Protocol(%s) = %q, want %q", serverType, got, want)
		}
	}
}

func TestUserPasswordHashing(t *testing.T) {
	user := &User{}
	if err := user.SetPassword("secret123"); err != nil {
		t.Fatalf("SetPassword() = %v", err)
	}
	if user.Password == "secret123" {
		t.Fatal("password stored in plaintext")
	}
	if !user.CheckPassword("secret123") {
		t.Fatal("correct password rejected")
	}
	if user.CheckPassword("wrong") {
		t.Fatal("wrong password accepted")
	}
}
