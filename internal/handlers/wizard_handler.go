package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/themaluxis/MUM-sub001/internal/config"
	"github.com/themaluxis/MUM-sub001/internal/models"
	"github.com/themaluxis/MUM-sub001/internal/services"
	"gorm.io/gorm"
)

const wizardCookieName = "wizard_session"

// WizardHandler 邀请接受向导的公开接口
type WizardHandler struct {
	db        *gorm.DB
	invites   *services.InviteService
	wizard    *services.WizardService
	pin       *services.PinAuthService
	oauth     *services.OAuthService
	conflicts *services.ConflictService
	libraries *services.LibraryService
	provision *services.ProvisionService
}

func NewWizardHandler(db *gorm.DB, invites *services.InviteService, wizard *services.WizardService,
	pin *services.PinAuthService, oauth *services.OAuthService, conflicts *services.ConflictService,
	libraries *services.LibraryService, provision *services.ProvisionService) *WizardHandler {
	return &WizardHandler{
		db:        db,
		invites:   invites,
		wizard:    wizard,
		pin:       pin,
		oauth:     oauth,
		conflicts: conflicts,
		libraries: libraries,
		provision: provision,
	}
}

// sessionKey 从 Cookie 取会话键，没有则分配并下发
func (h *WizardHandler) sessionKey(c *gin.Context) string {
	key, err := c.Cookie(wizardCookieName)
	if err != nil || key == "" {
		key = h.wizard.NewSessionKey()
		c.SetCookie(wizardCookieName, key, 1800, "/", "", false, true)
	}
	return key
}

// abortInviteError 邀请校验失败的统一响应
func (h *WizardHandler) abortInviteError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInviteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrInviteExpired),
		errors.Is(err, services.ErrInviteDisabled),
		errors.Is(err, services.ErrInviteMaxUses):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Show 向导入口：校验邀请并返回当前进度
func (h *WizardHandler) Show(c *gin.Context) {
	invite, err := h.invites.Validate(c.Param("code"))
	if err != nil {
		h.abortInviteError(c, err)
		return
	}

	state := h.wizard.Get(h.sessionKey(c), invite.ID)

	needPin := false
	needDraft := invite.CreateLocalAccount
	serverNames := make([]string, 0, len(invite.Servers))
	for i := range invite.Servers {
		serverNames = append(serverNames, invite.Servers[i].Name)
		if invite.Servers[i].Protocol() == services.ProtocolPin {
			needPin = true
		} else {
			needDraft = true
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"invite": gin.H{
			"token":                invite.Token,
			"servers":              serverNames,
			"require_external_auth": invite.RequireExternalAuth,
			"create_local_account":  invite.CreateLocalAccount,
		},
		"steps": gin.H{
			"pin_required":     needPin,
			"oauth_required":   invite.RequireExternalAuth,
			"account_required": needDraft,
			"completed":        state.CompletedSteps,
		},
		"conflict": state.Conflict,
	})
}

// StartPin 发起 PIN 认证，返回外部批准页地址
func (h *WizardHandler) StartPin(c *gin.Context) {
	invite, err := h.invites.Validate(c.Param("code"))
	if err != nil {
		h.abortInviteError(c, err)
		return
	}

	key := h.sessionKey(c)
	state := h.wizard.Get(key, invite.ID)

	authURL, err := h.pin.Start(c.Request.Context(), state)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	h.wizard.Save(key, state)

	c.JSON(http.StatusOK, gin.H{"url": authURL})
}

// PollPin 回跳后轮询 PIN token。重试耗尽返回 expired 状态，前端重新发起
func (h *WizardHandler) PollPin(c *gin.Context) {
	invite, err := h.invites.Validate(c.Param("code"))
	if err != nil {
		h.abortInviteError(c, err)
		return
	}

	key := h.sessionKey(c)
	state := h.wizard.Get(key, invite.ID)

	proof, err := h.pin.Poll(c.Request.Context(), state)
	if err != nil {
		h.wizard.Save(key, state)
		if errors.Is(err, services.ErrIdentityNotProven) {
			c.JSON(http.StatusOK, gin.H{"status": "expired", "message": "PIN 未批准或已失效，请重新发起"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	if !h.acceptProof(c, invite, key, state, proof) {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "proven",
		"username": proof.Username,
		"conflict": state.Conflict,
	})
}

// StartOAuth 发起 OAuth 授权
func (h *WizardHandler) StartOAuth(c *gin.Context) {
	invite, err := h.invites.Validate(c.Param("code"))
	if err != nil {
		h.abortInviteError(c, err)
		return
	}

	key := h.sessionKey(c)
	state := h.wizard.Get(key, invite.ID)

	authURL, err := h.oauth.Start(state, h.callbackURL(invite))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.wizard.Save(key, state)

	c.JSON(http.StatusOK, gin.H{"url": authURL})
}

// OAuthCallback 授权码回调
func (h *WizardHandler) OAuthCallback(c *gin.Context) {
	invite, err := h.invites.Validate(c.Param("code"))
	if err != nil {
		h.abortInviteError(c, err)
		return
	}

	key := h.sessionKey(c)
	state := h.wizard.Get(key, invite.ID)

	proof, err := h.oauth.Callback(c.Request.Context(), state,
		c.Query("code"), c.Query("state"), h.callbackURL(invite), invite.RequireGuildMembership)
	h.wizard.Save(key, state)
	if err != nil {
		var membership *services.MembershipRequiredError
		if errors.As(err, &membership) {
			c.JSON(http.StatusOK, gin.H{
				"status":   "membership_required",
				"message":  membership.Error(),
				"join_url": membership.JoinURL,
			})
			return
		}
		if errors.Is(err, services.ErrInvalidState) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	if !h.acceptProof(c, invite, key, state, proof) {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "proven",
		"username": proof.Username,
		"conflict": state.Conflict,
	})
}

// acceptProof 冲突检查通过后才把身份写入向导状态
func (h *WizardHandler) acceptProof(c *gin.Context, invite *models.Invite, key string, state *services.WizardState, proof *services.IdentityProof) bool {
	record := h.conflicts.Resolve(c.Request.Context(), invite.Servers, proof, invite.CreateLocalAccount)
	state.Conflict = &record

	if record.Kind == services.ConflictAlreadyLinked || record.Kind == services.ConflictNoLinking {
		h.wizard.Save(key, state)
		c.JSON(http.StatusConflict, gin.H{
			"error":    "该身份已有账号，无法通过此邀请重复开通",
			"conflict": record,
		})
		return false
	}

	h.wizard.StoreProof(state, proof)
	h.wizard.Save(key, state)
	return true
}

type accountDraftRequest struct {
	Username string `json:"username" binding:"required,min=2,max=50"`
	Email    string `json:"email" binding:"omitempty,email"`
	Password string `json:"password" binding:"required,min=6"`
}

// SubmitAccount 提交本地账号草稿
func (h *WizardHandler) SubmitAccount(c *gin.Context) {
	invite, err := h.invites.Validate(c.Param("code"))
	if err != nil {
		h.abortInviteError(c, err)
		return
	}

	var req accountDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	username := strings.TrimSpace(req.Username)

	var count int64
	h.db.Model(&models.User{}).Where("username = ?", username).Count(&count)
	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "用户名已存在"})
		return
	}

	key := h.sessionKey(c)
	state := h.wizard.Get(key, invite.ID)

	if err := h.wizard.SetDraft(state, username, strings.TrimSpace(req.Email), req.Password); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法保存账号草稿"})
		return
	}
	h.wizard.Save(key, state)

	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

// Libraries 该邀请可见的库列表（按授权过滤，空授权表示全部）
func (h *WizardHandler) Libraries(c *gin.Context) {
	invite, err := h.invites.Validate(c.Param("code"))
	if err != nil {
		h.abortInviteError(c, err)
		return
	}

	options, _ := h.libraries.Flatten(c.Request.Context(), invite.Servers)

	keys := services.SplitKeys(invite.Libraries)
	if len(keys) > 0 {
		granted := make(map[string]bool, len(keys))
		for _, key := range keys {
			granted[key] = true
		}
		filtered := options[:0]
		for _, option := range options {
			if granted[option.Key] {
				filtered = append(filtered, option)
			}
		}
		options = filtered
	}

	c.JSON(http.StatusOK, gin.H{"libraries": options})
}

// Accept 最终提交：执行开通事务
func (h *WizardHandler) Accept(c *gin.Context) {
	result, err := h.provision.Accept(c.Request.Context(), h.sessionKey(c), c.Param("code"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrConcurrentUseExhausted):
			// 用户提示与"已用完"一致
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrInviteNotFound),
			errors.Is(err, services.ErrInviteExpired),
			errors.Is(err, services.ErrInviteDisabled),
			errors.Is(err, services.ErrInviteMaxUses):
			h.abortInviteError(c, err)
		case errors.Is(err, services.ErrStepsIncomplete):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			var conflict *services.ConflictError
			if errors.As(err, &conflict) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "conflict": conflict.Record})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *WizardHandler) callbackURL(invite *models.Invite) string {
	base := strings.TrimRight(config.AppConfig.AppBaseURL, "/")
	return base + "/invite/" + invite.Token + "/oauth/callback"
}
