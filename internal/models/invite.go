package models

import (
	"time"
)

// Invite 邀请链接模型
type Invite struct {
	ID                     uint          `gorm:"primaryKey" json:"id"`
	Token                  string        `gorm:"uniqueIndex;size:64;not null" json:"token"`
	CustomPath             *string       `gorm:"uniqueIndex;size:100" json:"custom_path,omitempty"`
	MaxUses                int           `gorm:"default:0" json:"max_uses"` // 0 表示不限次数
	UsedCount              int           `gorm:"default:0" json:"used_count"`
	Disabled               bool          `gorm:"default:false" json:"disabled"`
	ExpiresAt              *time.Time    `json:"expires_at"`
	Libraries              string        `gorm:"type:text" json:"libraries"` // 规范化库键列表（逗号分隔），空串表示全部库
	MembershipDurationDays *int          `json:"membership_duration_days"`
	RequireExternalAuth    bool          `gorm:"default:false" json:"require_external_auth"`
	RequireGuildMembership bool          `gorm:"default:false" json:"require_guild_membership"`
	CreateLocalAccount     bool          `gorm:"default:false" json:"create_local_account"`
	AllowDownloads         bool          `gorm:"default:false" json:"allow_downloads"`
	PurgeWhitelist         bool          `gorm:"default:false" json:"purge_whitelist"`
	BotWhitelist           bool          `gorm:"default:false" json:"bot_whitelist"`
	Servers                []MediaServer `gorm:"many2many:invite_servers" json:"servers"`
	LastUsedAt             *time.Time    `json:"last_used_at"`
	CreatedAt              time.Time     `json:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at"`
}

func (Invite) TableName() string {
	return "invites"
}

// IsExpired 是否已过期（统一按 UTC 比较）
func (i *Invite) IsExpired() bool {
	if i.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(i.ExpiresAt.UTC())
}

// MaxedOut 次数是否已用完
func (i *Invite) MaxedOut() bool {
	return i.MaxUses > 0 && i.UsedCount >= i.MaxUses
}

// IsUsable 邀请是否可用
func (i *Invite) IsUsable() bool {
	return !i.Disabled && !i.IsExpired() && !i.MaxedOut()
}

// CreateInviteRequest 创建邀请请求
type CreateInviteRequest struct {
	CustomPath             string     `json:"custom_path"`
	MaxUses                int        `json:"max_uses"`
	ExpiresAt              *time.Time `json:"expires_at"`
	Libraries              []string   `json:"libraries"`
	MembershipDurationDays *int       `json:"membership_duration_days"`
	RequireExternalAuth    bool       `json:"require_external_auth"`
	RequireGuildMembership bool       `json:"require_guild_membership"`
	CreateLocalAccount     bool       `json:"create_local_account"`
	AllowDownloads         bool       `json:"allow_downloads"`
	PurgeWhitelist         bool       `json:"purge_whitelist"`
	BotWhitelist           bool       `json:"bot_whitelist"`
	ServerIDs              []uint     `json:"server_ids" binding:"required,min=0"`
}
