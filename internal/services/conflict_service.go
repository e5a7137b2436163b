package services

import (
	"context"
	"errors"
	"log"

	"github.com/themaluxis/MUM-sub001/internal/adapters"
	"github.com/themaluxis/MUM-sub001/internal/models"
	"gorm.io/gorm"
)

// ConflictService 身份冲突检查：新验证的外部身份在目标服务器上是否已有服务账号，
// 以及该服务账号是否已绑定本地账号。每个新身份在写入向导状态前执行一次。
type ConflictService struct {
	db *gorm.DB
}

func NewConflictService(db *gorm.DB) *ConflictService {
	return &ConflictService{db: db}
}

// Resolve 对邀请覆盖的、与身份同协议的每台服务器做存在性检查并分类：
//   - 已有账号且已绑定本地账号 → already_linked（阻止复用）
//   - 已有账号、未绑定、且本邀请允许建本地账号 → can_link（提示可绑定）
//   - 已有账号、未绑定、本地账号未启用 → exists_no_linking（仅提示）
//   - 所有服务器都没有 → none
func (s *ConflictService) Resolve(ctx context.Context, servers []models.MediaServer, proof *IdentityProof, localEnabled bool) ConflictRecord {
	for i := range servers {
		server := &servers[i]
		if server.Protocol() != proof.Protocol {
			continue
		}

		adapter, err := adapters.Get(server.Type)
		if err != nil {
			log.Printf("conflict check: %v", err)
			continue
		}

		exists, err := adapter.UsernameExists(ctx, server, proof.Username)
		if err != nil {
			log.Printf("conflict check: server %s: %v", server.Name, err)
			continue
		}
		if !exists && proof.Email != "" {
			exists, err = adapter.UsernameExists(ctx, server, proof.Email)
			if err != nil {
				log.Printf("conflict check: server %s: %v", server.Name, err)
				continue
			}
		}
		if !exists {
			continue
		}

		var account models.ServiceAccount
		lookupErr := s.db.Where("server_id = ? AND (external_user_id = ? OR external_username = ?)",
			server.ID, proof.ExternalID, proof.Username).First(&account).Error
		if lookupErr != nil && !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			// 真正的数据库错误：跳过该服务器，不能当成"存在但未绑定"
			log.Printf("conflict check: server %s: account lookup: %v", server.Name, lookupErr)
			continue
		}

		if lookupErr == nil && account.UserID != nil {
			var user models.User
			linked := ""
			if err := s.db.First(&user, *account.UserID).Error; err == nil {
				linked = user.Username
			}
			return ConflictRecord{
				Kind:           ConflictAlreadyLinked,
				ServerName:     server.Name,
				LinkedUsername: linked,
			}
		}

		if localEnabled {
			return ConflictRecord{Kind: ConflictCanLink, ServerName: server.Name}
		}
		return ConflictRecord{Kind: ConflictNoLinking, ServerName: server.Name}
	}

	return ConflictRecord{Kind: ConflictNone}
}
