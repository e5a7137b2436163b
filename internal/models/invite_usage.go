package models

import (
	"time"
)

// InviteUsage 邀请使用记录：每次接受尝试追加一行，只插入不修改
type InviteUsage struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	InviteID         uint      `gorm:"index;not null" json:"invite_id"`
	Invite           Invite    `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Success          bool      `gorm:"default:false" json:"success"`
	Message          string    `gorm:"size:500" json:"message"`
	Protocol         string    `gorm:"size:20" json:"protocol"`
	ExternalUsername string    `gorm:"size:100" json:"external_username"`
	CreatedAt        time.Time `json:"created_at"`
}

func (InviteUsage) TableName() string {
	return "invite_usages"
}
