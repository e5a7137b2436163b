package models

import (
	"time"
)

// ServiceAccount 服务账号授权模型：本地账号（可选）与某台媒体服务器上外部账号的关联
type ServiceAccount struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UserID           *uint      `gorm:"index" json:"user_id,omitempty"` // 为空表示独立服务账号
	ServerID         uint       `gorm:"uniqueIndex:idx_server_external;not null" json:"server_id"`
	ExternalUserID   string     `gorm:"uniqueIndex:idx_server_external;size:100;not null" json:"external_user_id"`
	ExternalUsername string     `gorm:"index;size:100" json:"external_username"`
	ExternalEmail    string     `gorm:"size:255" json:"external_email"`
	Protocol         string     `gorm:"size:20" json:"protocol"` // pin, local
	Libraries        string     `gorm:"type:text" json:"libraries"` // 该服务器上的规范化库键（逗号分隔），空串表示全部库
	AllowDownloads   bool       `gorm:"default:false" json:"allow_downloads"`
	ExpiresAt        *time.Time `json:"expires_at"`
	PurgeWhitelisted bool       `gorm:"default:false" json:"purge_whitelisted"`
	BotWhitelisted   bool       `gorm:"default:false" json:"bot_whitelisted"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (ServiceAccount) TableName() string {
	return "service_accounts"
}
