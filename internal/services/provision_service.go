package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/themaluxis/MUM-sub001/internal/adapters"
	"github.com/themaluxis/MUM-sub001/internal/models"
	"gorm.io/gorm"
)

const perServerTimeout = 10 * time.Second

// ProvisionService 最终开通事务：按邀请配置逐台服务器建号，
// 本地账号 + 授权记录 + 用量自增在一个数据库事务里落库。
type ProvisionService struct {
	db        *gorm.DB
	invites   *InviteService
	libraries *LibraryService
	wizard    *WizardService
	timeout   time.Duration // 单台服务器建号调用的超时
}

func NewProvisionService(db *gorm.DB, invites *InviteService, libraries *LibraryService, wizard *WizardService) *ProvisionService {
	return &ProvisionService{
		db:        db,
		invites:   invites,
		libraries: libraries,
		wizard:    wizard,
		timeout:   perServerTimeout,
	}
}

// ServerOutcome 单台服务器的开通结果
type ServerOutcome struct {
	ServerID       uint   `json:"server_id"`
	ServerName     string `json:"server_name"`
	Success        bool   `json:"success"`
	ExternalUserID string `json:"external_user_id,omitempty"`
	Reason         string `json:"reason,omitempty"`

	grantedLibraries []string // 实际授予的原生库 ID，nil 表示全部
}

// ProvisionResult 开通结果。Partial 表示部分服务器成功——外部建号无法跨服务回滚，
// 部分成功是合法终态，不自动重试。
type ProvisionResult struct {
	Success  bool            `json:"success"`
	Partial  bool            `json:"partial"`
	User     *models.User    `json:"user,omitempty"`
	Outcomes []ServerOutcome `json:"outcomes"`
	Message  string          `json:"message"`
}

// Accept 接受邀请并执行开通。
// 邀请可用性重新校验（向导开始后可能已过期/用完），所有必要步骤必须已完成。
func (s *ProvisionService) Accept(ctx context.Context, sessionKey, tokenOrPath string) (*ProvisionResult, error) {
	invite, err := s.invites.Validate(tokenOrPath)
	if err != nil {
		return nil, err
	}

	state := s.wizard.Get(sessionKey, invite.ID)
	if err := s.checkSteps(invite, state); err != nil {
		return nil, err
	}

	// 1. 逐台服务器建号（外部副作用，单台失败不中断循环）
	outcomes := s.provisionServers(ctx, invite, state)

	anySuccess := false
	for _, outcome := range outcomes {
		if outcome.Success {
			anySuccess = true
			break
		}
	}

	protocol, externalUsername := s.usageIdentity(state)

	// 2. 全部失败：不落库、不计次，记一条失败使用记录
	if !anySuccess && !(len(invite.Servers) == 0 && state.Draft != nil) {
		message := s.failureMessage(outcomes)
		if err := s.invites.RecordUsage(s.db, invite.ID, false, message, protocol, externalUsername); err != nil {
			log.Printf("record usage failed: %v", err)
		}
		s.wizard.Clear(sessionKey)
		return &ProvisionResult{
			Success:  false,
			Outcomes: outcomes,
			Message:  message,
		}, nil
	}

	// 3. 至少一台成功（或纯本地账号邀请）：单事务落库 + 条件自增用量
	var user *models.User
	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		if invite.CreateLocalAccount && state.Draft != nil {
			created, err := s.createLocalAccount(tx, state.Draft)
			if err != nil {
				return err
			}
			user = created
		}

		expiresAt := s.accessExpiry(invite)
		for _, outcome := range outcomes {
			if !outcome.Success {
				continue
			}
			if err := s.createGrant(tx, invite, state, user, outcome, expiresAt); err != nil {
				return err
			}
		}

		// 并发守护：乐观条件自增，最后一个名额只有一方能拿到
		now := time.Now()
		result := tx.Model(&models.Invite{}).
			Where("id = ? AND (max_uses = 0 OR used_count < max_uses)", invite.ID).
			UpdateColumns(map[string]interface{}{
				"used_count":   gorm.Expr("used_count + 1"),
				"last_used_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConcurrentUseExhausted
		}

		return s.invites.RecordUsage(tx, invite.ID, true, s.successMessage(outcomes), protocol, externalUsername)
	})

	if txErr != nil {
		if errors.Is(txErr, ErrConcurrentUseExhausted) {
			// 身份验证成功但输掉竞争：单独记日志，这是争用而不是集成故障
			log.Printf("⚠️ invite %d: concurrent acceptance exhausted the last use, rolled back", invite.ID)
			if err := s.invites.RecordUsage(s.db, invite.ID, false, "并发接受竞争失败", protocol, externalUsername); err != nil {
				log.Printf("record usage failed: %v", err)
			}
		}
		s.wizard.Clear(sessionKey)
		return nil, txErr
	}

	s.wizard.Clear(sessionKey)

	partial := false
	for _, outcome := range outcomes {
		if !outcome.Success {
			partial = true
			break
		}
	}

	return &ProvisionResult{
		Success:  true,
		Partial:  partial,
		User:     user,
		Outcomes: outcomes,
		Message:  s.successMessage(outcomes),
	}, nil
}

// checkSteps 校验所有必要步骤是否完成
func (s *ProvisionService) checkSteps(invite *models.Invite, state *WizardState) error {
	if state.Conflict != nil && state.Conflict.Kind == ConflictAlreadyLinked {
		return &ConflictError{Record: *state.Conflict}
	}

	if invite.RequireExternalAuth && !state.CompletedSteps[StepOAuth] {
		return ErrStepsIncomplete
	}

	needPin := false
	needDraft := invite.CreateLocalAccount
	for i := range invite.Servers {
		switch invite.Servers[i].Protocol() {
		case ProtocolPin:
			needPin = true
		default:
			needDraft = true
		}
	}

	if needPin {
		if !state.CompletedSteps[StepPin] || state.Identities[ProtocolPin] == nil {
			return ErrStepsIncomplete
		}
	}
	if needDraft && state.Draft == nil {
		return ErrStepsIncomplete
	}
	if len(invite.Servers) == 0 && state.Draft == nil {
		return ErrStepsIncomplete
	}

	return nil
}

// provisionServers 按邀请列出的顺序逐台建号，超时或失败记为该服务器的失败原因
func (s *ProvisionService) provisionServers(ctx context.Context, invite *models.Invite, state *WizardState) []ServerOutcome {
	outcomes := make([]ServerOutcome, 0, len(invite.Servers))

	for i := range invite.Servers {
		server := &invite.Servers[i]
		outcome := ServerOutcome{ServerID: server.ID, ServerName: server.Name}

		adapter, err := adapters.Get(server.Type)
		if err != nil {
			outcome.Reason = err.Error()
			outcomes = append(outcomes, outcome)
			continue
		}

		identity, err := s.identityForServer(state, server)
		if err != nil {
			outcome.Reason = err.Error()
			outcomes = append(outcomes, outcome)
			continue
		}

		available, err := adapter.ListLibraries(ctx, server)
		if err != nil {
			outcome.Reason = err.Error()
			outcomes = append(outcomes, outcome)
			continue
		}
		grant := s.libraries.ResolveGrant(invite, server, available)

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		result, err := adapter.CreateUser(callCtx, server, identity, adapters.CreateUserOptions{
			LibraryIDs:     grant,
			AllowDownloads: invite.AllowDownloads,
		})
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				outcome.Reason = "timeout"
			} else {
				outcome.Reason = err.Error()
			}
			outcomes = append(outcomes, outcome)
			continue
		}

		outcome.Success = true
		outcome.ExternalUserID = result.ExternalUserID
		outcome.grantedLibraries = grant
		state.ServerDone[server.ID] = true
		outcomes = append(outcomes, outcome)
	}

	return outcomes
}

// identityForServer PIN 协议服务器用外部身份证明建号，本地协议服务器用账号草稿建号
func (s *ProvisionService) identityForServer(state *WizardState, server *models.MediaServer) (adapters.Identity, error) {
	if server.Protocol() == ProtocolPin {
		proof := state.Identities[ProtocolPin]
		if proof == nil {
			return adapters.Identity{}, ErrIdentityNotProven
		}
		token := ""
		if raw, ok := proof.Raw["auth_token"].(string); ok {
			token = raw
		}
		return adapters.Identity{
			Username:   proof.Username,
			Email:      proof.Email,
			Token:      token,
			ExternalID: proof.ExternalID,
		}, nil
	}

	if state.Draft == nil {
		return adapters.Identity{}, ErrStepsIncomplete
	}
	return adapters.Identity{
		Username: state.Draft.Username,
		Email:    state.Draft.Email,
		Password: state.Draft.Password(),
	}, nil
}

func (s *ProvisionService) createLocalAccount(tx *gorm.DB, draft *AccountDraft) (*models.User, error) {
	var count int64
	if err := tx.Model(&models.User{}).Where("username = ?", draft.Username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("用户名 %q 已存在", draft.Username)
	}

	user := &models.User{
		Username: draft.Username,
		Password: draft.PasswordHash,
		Email:    draft.Email,
		Role:     "user",
		Status:   "active",
	}
	if err := tx.Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

func (s *ProvisionService) createGrant(tx *gorm.DB, invite *models.Invite, state *WizardState, user *models.User, outcome ServerOutcome, expiresAt *time.Time) error {
	var server *models.MediaServer
	for i := range invite.Servers {
		if invite.Servers[i].ID == outcome.ServerID {
			server = &invite.Servers[i]
			break
		}
	}
	if server == nil {
		return fmt.Errorf("server %d not on invite", outcome.ServerID)
	}

	grant := &models.ServiceAccount{
		ServerID:         server.ID,
		ExternalUserID:   outcome.ExternalUserID,
		Protocol:         server.Protocol(),
		Libraries:        s.grantKeys(invite, server, outcome.grantedLibraries),
		AllowDownloads:   invite.AllowDownloads,
		ExpiresAt:        expiresAt,
		PurgeWhitelisted: invite.PurgeWhitelist,
		BotWhitelisted:   invite.BotWhitelist,
	}
	if user != nil {
		grant.UserID = &user.ID
	}

	if server.Protocol() == ProtocolPin {
		if proof := state.Identities[ProtocolPin]; proof != nil {
			grant.ExternalUsername = proof.Username
			grant.ExternalEmail = proof.Email
		}
	} else if state.Draft != nil {
		grant.ExternalUsername = state.Draft.Username
		grant.ExternalEmail = state.Draft.Email
	}

	return tx.Create(grant).Error
}

// grantKeys 落库时保留该服务器实际授予的规范化键，空授权哨兵原样保留
func (s *ProvisionService) grantKeys(invite *models.Invite, server *models.MediaServer, granted []string) string {
	if strings.TrimSpace(invite.Libraries) == "" {
		return ""
	}
	keys := make([]string, 0, len(granted))
	for _, nativeID := range granted {
		keys = append(keys, CanonicalKey(server, nativeID))
	}
	return strings.Join(keys, ",")
}

// accessExpiry 由邀请的会员时长推导授权到期时间
func (s *ProvisionService) accessExpiry(invite *models.Invite) *time.Time {
	if invite.MembershipDurationDays == nil || *invite.MembershipDurationDays <= 0 {
		return nil
	}
	expiresAt := time.Now().Add(time.Duration(*invite.MembershipDurationDays) * 24 * time.Hour)
	return &expiresAt
}

func (s *ProvisionService) usageIdentity(state *WizardState) (string, string) {
	if proof := state.Identities[ProtocolOAuth]; proof != nil {
		return ProtocolOAuth, proof.Username
	}
	if proof := state.Identities[ProtocolPin]; proof != nil {
		return ProtocolPin, proof.Username
	}
	if state.Draft != nil {
		return "local", state.Draft.Username
	}
	return "", ""
}

func (s *ProvisionService) failureMessage(outcomes []ServerOutcome) string {
	if len(outcomes) == 0 {
		return "没有可开通的服务器"
	}
	reasons := make([]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		reasons = append(reasons, fmt.Sprintf("%s: %s", outcome.ServerName, outcome.Reason))
	}
	return "所有服务器开通失败: " + strings.Join(reasons, "; ")
}

func (s *ProvisionService) successMessage(outcomes []ServerOutcome) string {
	succeeded := make([]string, 0, len(outcomes))
	failed := make([]string, 0)
	for _, outcome := range outcomes {
		if outcome.Success {
			succeeded = append(succeeded, outcome.ServerName)
		} else {
			failed = append(failed, fmt.Sprintf("%s(%s)", outcome.ServerName, outcome.Reason))
		}
	}
	if len(outcomes) == 0 {
		return "本地账号已创建"
	}
	message := "已开通: " + strings.Join(succeeded, ", ")
	if len(failed) > 0 {
		message += "；失败: " + strings.Join(failed, ", ")
	}
	return message
}
