package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const wizardSessionTTL = 30 * time.Minute

// 向导步骤
const (
	StepPin     = "pin"
	StepOAuth   = "oauth"
	StepAccount = "account"
)

// 身份协议
const (
	ProtocolPin   = "pin"
	ProtocolOAuth = "oauth"
)

// 冲突分类
const (
	ConflictNone          = "none"
	ConflictAlreadyLinked = "already_linked"
	ConflictCanLink       = "can_link"
	ConflictNoLinking     = "exists_no_linking"
)

// IdentityProof 一次外部身份验证的结果。会话内不可变，只有用户显式重做该步骤才会被替换。
type IdentityProof struct {
	Protocol   string                 `json:"protocol"`
	ExternalID string                 `json:"external_id"`
	Username   string                 `json:"username"`
	Email      string                 `json:"email"`
	Raw        map[string]interface{} `json:"-"`
}

// ConflictRecord 身份冲突检查结果
type ConflictRecord struct {
	Kind           string `json:"kind"`
	ServerName     string `json:"server_name,omitempty"`
	LinkedUsername string `json:"linked_username,omitempty"`
}

// AccountDraft 本地账号草稿。password 只在会话内保存，用于在本地协议服务器上同步建号。
type AccountDraft struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	password     string
}

// Password 草稿明文密码（仅 services 包内使用）
func (d *AccountDraft) Password() string {
	return d.password
}

// WizardState 一个 邀请+浏览器会话 的向导进度
type WizardState struct {
	InviteID       uint
	CompletedSteps map[string]bool
	Identities     map[string]*IdentityProof
	Draft          *AccountDraft
	ServerDone     map[uint]bool
	Conflict       *ConflictRecord

	// PIN 协议会话数据
	PinID       string
	PinCode     string
	PinClientID string

	// OAuth state 随机数（单次使用）
	OAuthState string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// ResetPin 清除 PIN 会话数据，向导将重新发起（产生新的 pinId）
func (w *WizardState) ResetPin() {
	w.PinID = ""
	w.PinCode = ""
	w.PinClientID = ""
}

// WizardService 向导状态存储：按会话键保存，TTL 过期清理
type WizardService struct {
	mu       sync.Mutex
	sessions map[string]*WizardState
	ttl      time.Duration
}

func NewWizardService() *WizardService {
	return &WizardService{
		sessions: make(map[string]*WizardState),
		ttl:      wizardSessionTTL,
	}
}

// NewSessionKey 生成不透明会话键
func (s *WizardService) NewSessionKey() string {
	return uuid.NewString()
}

// Get 取出会话状态；不存在、已过期或邀请不匹配时新建
func (s *WizardService) Get(key string, inviteID uint) *WizardState {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpiredLocked(now)

	state, ok := s.sessions[key]
	if ok && state.InviteID == inviteID {
		return state
	}

	state = &WizardState{
		InviteID:       inviteID,
		CompletedSteps: make(map[string]bool),
		Identities:     make(map[string]*IdentityProof),
		ServerDone:     make(map[uint]bool),
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}
	s.sessions[key] = state
	return state
}

// Save 写回会话状态并刷新 TTL
func (s *WizardService) Save(key string, state *WizardState) {
	now := time.Now()
	state.ExpiresAt = now.Add(s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpiredLocked(now)
	s.sessions[key] = state
}

// Clear 销毁会话状态（成功开通或任一终态后调用）
func (s *WizardService) Clear(key string) {
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
}

func (s *WizardService) purgeExpiredLocked(now time.Time) {
	for key, state := range s.sessions {
		if now.After(state.ExpiresAt) {
			delete(s.sessions, key)
		}
	}
}

// SetDraft 记录本地账号草稿（立即散列密码，明文仅留在会话内用于外部建号）
func (s *WizardService) SetDraft(state *WizardState, username, email, password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	state.Draft = &AccountDraft{
		Username:     username,
		Email:        email,
		PasswordHash: string(hashed),
		password:     password,
	}
	state.CompletedSteps[StepAccount] = true
	return nil
}

// StoreProof 接受一份已通过冲突检查的身份证明并标记步骤完成
func (s *WizardService) StoreProof(state *WizardState, proof *IdentityProof) {
	state.Identities[proof.Protocol] = proof
	state.CompletedSteps[proof.Protocol] = true
}
