package services

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/themaluxis/MUM-sub001/internal/models"
	"gorm.io/gorm"
)

type InviteService struct {
	db *gorm.DB
}

func NewInviteService(db *gorm.DB) *InviteService {
	return &InviteService{db: db}
}

// GenerateInviteToken 生成邀请令牌（格式：XXXX-XXXX-XXXX）
func GenerateInviteToken() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("%s-%s-%s", raw[0:4], raw[4:8], raw[8:12])
}

// Validate 按令牌或自定义路径查找邀请并检查可用性。无副作用，每个向导步骤先调用。
func (s *InviteService) Validate(tokenOrPath string) (*models.Invite, error) {
	lookup := strings.TrimSpace(tokenOrPath)
	if lookup == "" {
		return nil, ErrInviteNotFound
	}

	var invite models.Invite
	err := s.db.Preload("Servers").Where("token = ?", strings.ToUpper(lookup)).First(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = s.db.Preload("Servers").Where("custom_path = ?", lookup).First(&invite).Error
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInviteNotFound
		}
		return nil, err
	}

	if invite.Disabled {
		return nil, ErrInviteDisabled
	}
	if invite.IsExpired() {
		return nil, ErrInviteExpired
	}
	if invite.MaxedOut() {
		return nil, ErrInviteMaxUses
	}

	return &invite, nil
}

// Create 创建邀请并关联服务器
func (s *InviteService) Create(req *models.CreateInviteRequest) (*models.Invite, error) {
	invite := &models.Invite{
		Token:                  GenerateInviteToken(),
		MaxUses:                req.MaxUses,
		ExpiresAt:              req.ExpiresAt,
		Libraries:              strings.Join(req.Libraries, ","),
		MembershipDurationDays: req.MembershipDurationDays,
		RequireExternalAuth:    req.RequireExternalAuth,
		RequireGuildMembership: req.RequireGuildMembership,
		CreateLocalAccount:     req.CreateLocalAccount,
		AllowDownloads:         req.AllowDownloads,
		PurgeWhitelist:         req.PurgeWhitelist,
		BotWhitelist:           req.BotWhitelist,
	}

	if path := strings.TrimSpace(req.CustomPath); path != "" {
		var count int64
		s.db.Model(&models.Invite{}).Where("custom_path = ?", path).Count(&count)
		if count > 0 {
			return nil, fmt.Errorf("自定义路径 %q 已被占用", path)
		}
		invite.CustomPath = &path
	}

	if len(req.ServerIDs) > 0 {
		var servers []models.MediaServer
		if err := s.db.Find(&servers, req.ServerIDs).Error; err != nil {
			return nil, err
		}
		if len(servers) != len(req.ServerIDs) {
			return nil, fmt.Errorf("部分服务器不存在")
		}
		invite.Servers = servers
	}

	if err := s.db.Create(invite).Error; err != nil {
		return nil, err
	}
	return invite, nil
}

func (s *InviteService) List() ([]models.Invite, error) {
	var invites []models.Invite
	if err := s.db.Preload("Servers").Order("created_at desc").Find(&invites).Error; err != nil {
		return nil, err
	}
	return invites, nil
}

func (s *InviteService) GetByID(id uint) (*models.Invite, error) {
	var invite models.Invite
	if err := s.db.Preload("Servers").First(&invite, id).Error; err != nil {
		return nil, err
	}
	return &invite, nil
}

// SetDisabled 启用/禁用邀请
func (s *InviteService) SetDisabled(id uint, disabled bool) error {
	return s.db.Model(&models.Invite{}).Where("id = ?", id).Update("disabled", disabled).Error
}

// Delete 删除邀请，使用记录一并级联删除
func (s *InviteService) Delete(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("invite_id = ?", id).Delete(&models.InviteUsage{}).Error; err != nil {
			return err
		}
		var invite models.Invite
		if err := tx.First(&invite, id).Error; err != nil {
			return err
		}
		if err := tx.Model(&invite).Association("Servers").Clear(); err != nil {
			return err
		}
		return tx.Delete(&invite).Error
	})
}

// Usages 查询某个邀请的使用记录（按时间倒序）
func (s *InviteService) Usages(inviteID uint) ([]models.InviteUsage, error) {
	var usages []models.InviteUsage
	if err := s.db.Where("invite_id = ?", inviteID).Order("created_at desc").Find(&usages).Error; err != nil {
		return nil, err
	}
	return usages, nil
}

// RecordUsage 追加一条使用记录（只插入，不回改）
func (s *InviteService) RecordUsage(db *gorm.DB, inviteID uint, success bool, message, protocol, externalUsername string) error {
	if len(message) > 500 {
		// 按 rune 边界截断，消息含中文时不能切出无效 UTF-8
		cut := 500
		for cut > 0 && !utf8.RuneStart(message[cut]) {
			cut--
		}
		message = message[:cut]
	}
	usage := &models.InviteUsage{
		InviteID:         inviteID,
		Success:          success,
		Message:          message,
		Protocol:         protocol,
		ExternalUsername: externalUsername,
		CreatedAt:        time.Now(),
	}
	return db.Create(usage).Error
}
