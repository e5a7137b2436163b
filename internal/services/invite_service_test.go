package services

import (
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/themaluxis/MUM-sub001/internal/models"
)

func TestGenerateInviteTokenFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}$`)
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		token := GenerateInviteToken()
		if !pattern.MatchString(token) {
			t.Fatalf("token %q does not match format", token)
		}
		if seen[token] {
			t.Fatalf("token %q generated twice", token)
		}
		seen[token] = true
	}
}

func TestValidateChecksInOrder(t *testing.T) {
	db := newTestDB(t)
	svc := NewInviteService(db)

	past := time.Now().UTC().Add(-time.Hour)

	disabled := &models.Invite{Token: GenerateInviteToken(), Disabled: true}
	mustCreate(t, db, disabled)
	expired := &models.Invite{Token: GenerateInviteToken(), ExpiresAt: &past}
	mustCreate(t, db, expired)
	maxed := &models.Invite{Token: GenerateInviteToken(), MaxUses: 2, UsedCount: 2}
	mustCreate(t, db, maxed)

	// 禁用且过期的邀请：禁用先报
	disabledExpired := &models.Invite{Token: GenerateInviteToken(), Disabled: true, ExpiresAt: &past}
	mustCreate(t, db, disabledExpired)

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{"not found", "NOPE-NOPE-NOPE", ErrInviteNotFound},
		{"empty", "", ErrInviteNotFound},
		{"disabled", disabled.Token, ErrInviteDisabled},
		{"expired", expired.Token, ErrInviteExpired},
		{"max uses", maxed.Token, ErrInviteMaxUses},
		{"disabled before expired", disabledExpired.Token, ErrInviteDisabled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Validate(tc.token); !errors.Is(err, tc.want) {
				t.Fatalf("Validate(%q) = %v, want %v", tc.token, err, tc.want)
			}
		})
	}
}

func TestValidateUnlimitedUses(t *testing.T) {
	db := newTestDB(t)
	svc := NewInviteService(db)

	// max_uses = 0 表示不限次数
	invite := &models.Invite{Token: GenerateInviteToken(), MaxUses: 0, UsedCount: 999}
	mustCreate(t, db, invite)

	if _, err := svc.Validate(invite.Token); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateLookupByTokenAndPath(t *testing.T) {
	db := newTestDB(t)
	svc := NewInviteService(db)

	path := "movie-night"
	invite := &models.Invite{Token: GenerateInviteToken(), CustomPath: &path}
	mustCreate(t, db, invite)

	// 令牌大小写不敏感
	found, err := svc.Validate(strings.ToLower(invite.Token))
	if err != nil {
		t.Fatalf("Validate(lowercase token) = %v", err)
	}
	if found.ID != invite.ID {
		t.Fatalf("got invite %d, want %d", found.ID, invite.ID)
	}

	found, err = svc.Validate("movie-night")
	if err != nil {
		t.Fatalf("Validate(custom path) = %v", err)
	}
	if found.ID != invite.ID {
		t.Fatalf("got invite %d, want %d", found.ID, invite.ID)
	}
}

func TestValidatePreloadsServers(t *testing.T) {
	db := newTestDB(t)
	svc := NewInviteService(db)

	server := &models.MediaServer{Name: "jelly", Type: models.ServerTypeJellyfin, URL: "http://jelly.local", APIKey: "k"}
	mustCreate(t, db, server)
	invite := &models.Invite{Token: GenerateInviteToken(), Servers: []models.MediaServer{*server}}
	mustCreate(t, db, invite)

	found, err := svc.Validate(invite.Token)
	if err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if len(found.Servers) != 1 || found.Servers[0].Name != "jelly" {
		t.Fatalf("servers not preloaded: %+v", found.Servers)
	}
}

func TestCreateRejectsDuplicateCustomPath(t *testing.T) {
	db := newTestDB(t)
	svc := NewInviteService(db)

	if _, err := svc.Create(&models.CreateInviteRequest{CustomPath: "friends"}); err != nil {
		t.Fatalf("first Create() = %v", err)
	}
	if _, err := svc.Create(&models.CreateInviteRequest{CustomPath: "friends"}); err == nil {
		t.Fatal("second Create() with same custom path succeeded, want error")
	}
}

func TestRecordUsageTruncatesMessage(t *testing.T) {
	db := newTestDB(t)
	svc := NewInviteService(db)

	invite := &models.Invite{Token: GenerateInviteToken()}
	mustCreate(t, db, invite)

	long := strings.Repeat("x", 600)
	if err := svc.RecordUsage(db, invite.ID, false, long, "local", "alice"); err != nil {
		t.Fatalf("RecordUsage() = %v", err)
	}

	usages, err := svc.Usages(invite.ID)
	if err != nil {
		t.Fatalf("Usages() = %v", err)
	}
	if len(usages) != 1 {
		t.Fatalf("got %d usages, want 1", len(usages))
	}
	if len(usages[0].Message) != 500 {
		t.Fatalf("message length %d, want 500", len(usages[0].Message))
	}
}

// 中文消息截断不能落在多字节字符中间
func TestRecordUsageTruncatesOnRuneBoundary(t *testing.T) {
	db := newTestDB(t)
	svc := NewInviteService(db)

	invite := &models.Invite{Token: GenerateInviteToken()}
	mustCreate(t, db, invite)

	long := strings.Repeat("所有服务器开通失败", 30)
	if err := svc.RecordUsage(db, invite.ID, false, long, "local", "alice"); err != nil {
		t.Fatalf("RecordUsage() = %v", err)
	}

	usages, err := svc.Usages(invite.ID)
	if err != nil {
		t.Fatalf("Usages() = %v", err)
	}
	if len(usages) != 1 {
		t.Fatalf("got %d usages, want 1", len(usages))
	}
	stored := usages[0].Message
	if len(stored) > 500 {
		t.Fatalf("message length %d, want <= 500", len(stored))
	}
	if !utf8.ValidString(stored) {
		t.Fatalf("stored message is not valid UTF-8: %q", stored)
	}
	if !strings.HasPrefix(long, stored) {
		t.Fatal("stored message is not a prefix of the original")
	}
}

func TestDeleteRemovesUsages(t *testing.T) {
	db := newTestDB(t)
	svc := NewInviteService(db)

	invite := &models.Invite{Token: GenerateInviteToken()}
	mustCreate(t, db, invite)
	if err := svc.RecordUsage(db, invite.ID, true, "ok", "local", "alice"); err != nil {
		t.Fatalf("RecordUsage() = %v", err)
	}

	if err := svc.Delete(invite.ID); err != nil {
		t.Fatalf("Delete() = %v", err)
	}

	var count int64
	db.Model(&models.InviteUsage{}).Where("invite_id = ?", invite.ID).Count(&count)
	if count != 0 {
		t.Fatalf("got %d orphan usages, want 0", count)
	}
}
