package models

import (
	"time"

	"gorm.io/gorm"
)

// 媒体服务器类型
const (
	ServerTypePlex     = "plex"
	ServerTypeJellyfin = "jellyfin"
	ServerTypeEmby     = "emby"
)

// MediaServer 媒体服务器模型
type MediaServer struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"size:100;uniqueIndex;not null" json:"name"`
	Type      string         `gorm:"size:20;index;not null" json:"type"` // plex, jellyfin, emby
	URL       string         `gorm:"size:500;not null" json:"url"`
	APIKey    string         `gorm:"size:500" json:"-"`
	Verified  bool           `gorm:"default:false" json:"verified"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (MediaServer) TableName() string {
	return "media_servers"
}

// Protocol 服务器所用的身份协议：Plex 走 PIN 外部认证，Jellyfin/Emby 用本地凭据建号
func (s *MediaServer) Protocol() string {
	if s.Type == ServerTypePlex {
		return "pin"
	}
	return "local"
}

// IsValidServerType 检查服务器类型是否有效
func IsValidServerType(serverType string) bool {
	switch serverType {
	case ServerTypePlex, ServerTypeJellyfin, ServerTypeEmby:
		return true
	}
	return false
}

// CreateServerRequest 创建服务器请求
type CreateServerRequest struct {
	Name   string `json:"name" binding:"required"`
	Type   string `json:"type" binding:"required"`
	URL    string `json:"url" binding:"required,url"`
	APIKey string `json:"api_key"`
}
