package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/themaluxis/MUM-sub001/internal/config"
	"github.com/themaluxis/MUM-sub001/internal/models"
	"github.com/themaluxis/MUM-sub001/internal/services"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
	config.AppConfig = &config.Config{
		ServerPort: "8080",
		GinMode:    "test",
		JWTSecret:  "test-secret",
		AppBaseURL: "http://localhost:8080",
	}
}

type wizardTestEnv struct {
	db     *gorm.DB
	router *gin.Engine
}

func newWizardTestEnv(t *testing.T) *wizardTestEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	invites := services.NewInviteService(db)
	wizard := services.NewWizardService()
	libraries := services.NewLibraryService()
	handler := NewWizardHandler(db, invites, wizard,
		services.NewPinAuthService(services.RetryPolicy{Attempts: 1, Interval: time.Millisecond}),
		services.NewOAuthService(db),
		services.NewConflictService(db),
		libraries,
		services.NewProvisionService(db, invites, libraries, wizard))

	router := gin.New()
	invite := router.Group("/invite/:code")
	{
		invite.GET("", handler.Show)
		invite.POST("/account", handler.SubmitAccount)
		invite.POST("/accept", handler.Accept)
	}
	return &wizardTestEnv{db: db, router: router}
}

func (e *wizardTestEnv) do(t *testing.T, method, path string, body interface{}, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestWizardUnknownInvite(t *testing.T) {
	env := newWizardTestEnv(t)

	w := env.do(t, http.MethodGet, "/invite/NOPE-NOPE-NOPE", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestWizardGoneInvite(t *testing.T) {
	env := newWizardTestEnv(t)

	past := time.Now().UTC().Add(-time.Hour)
	invite := &models.Invite{Token: services.GenerateInviteToken(), ExpiresAt: &past}
	if err := env.db.Create(invite).Error; err != nil {
		t.Fatalf("create invite: %v", err)
	}

	w := env.do(t, http.MethodGet, "/invite/"+invite.Token, nil, nil)
	if w.Code != http.StatusGone {
		t.Fatalf("status = %d, want 410", w.Code)
	}
}

func TestWizardLocalAccountFlow(t *testing.T) {
	env := newWizardTestEnv(t)

	invite := &models.Invite{Token: services.GenerateInviteToken(), MaxUses: 1, CreateLocalAccount: true}
	if err := env.db.Create(invite).Error; err != nil {
		t.Fatalf("create invite: %v", err)
	}
	path := "/invite/" + invite.Token

	// 入口：分配会话 Cookie
	w := env.do(t, http.MethodGet, path, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Show status = %d: %s", w.Code, w.Body.String())
	}
	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("no session cookie issued")
	}

	var shown struct {
		Steps struct {
			AccountRequired bool `json:"account_required"`
		} `json:"steps"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &shown); err != nil {
		t.Fatalf("decode show: %v", err)
	}
	if !shown.Steps.AccountRequired {
		t.Fatal("account step not required for local account invite")
	}

	// 步骤没走完就提交
	w = env.do(t, http.MethodPost, path+"/accept", nil, cookies)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("premature accept status = %d", w.Code)
	}

	// 账号草稿
	draft := map[string]string{"username": "alice", "email": "alice@example.com", "password": "secret123"}
	w = env.do(t, http.MethodPost, path+"/account", draft, cookies)
	if w.Code != http.StatusOK {
		t.Fatalf("account status = %d: %s", w.Code, w.Body.String())
	}

	// 最终提交
	w = env.do(t, http.MethodPost, path+"/accept", nil, cookies)
	if w.Code != http.StatusOK {
		t.Fatalf("accept status = %d: %s", w.Code, w.Body.String())
	}
	var result struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil || !result.Success {
		t.Fatalf("accept body = %s", w.Body.String())
	}

	var user models.User
	if err := env.db.Where("username = ?", "alice").First(&user).Error; err != nil {
		t.Fatalf("local user missing: %v", err)
	}

	// 名额用完后邀请失效
	w = env.do(t, http.MethodGet, path, nil, nil)
	if w.Code != http.StatusGone {
		t.Fatalf("exhausted invite status = %d, want 410", w.Code)
	}
}

func TestWizardAccountValidation(t *testing.T) {
	env := newWizardTestEnv(t)

	invite := &models.Invite{Token: services.GenerateInviteToken(), CreateLocalAccount: true}
	if err := env.db.Create(invite).Error; err != nil {
		t.Fatalf("create invite: %v", err)
	}
	path := "/invite/" + invite.Token + "/account"

	// 密码太短
	w := env.do(t, http.MethodPost, path, map[string]string{"username": "alice", "password": "123"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("short password status = %d", w.Code)
	}

	// 用户名占用
	existing := &models.User{Username: "taken", Password: "x", Role: "user", Status: "active"}
	if err := env.db.Create(existing).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	w = env.do(t, http.MethodPost, path, map[string]string{"username": "taken", "password": "secret123"}, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate username status = %d", w.Code)
	}
}
