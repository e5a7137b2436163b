package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/themaluxis/MUM-sub001/internal/adapters"
	"github.com/themaluxis/MUM-sub001/internal/models"
)

// LibraryService 跨服务器库授权的规范化编解码。
//
// 不同协议的库 ID 冲突性质不同：Plex 的 section key 是小整数，只在单台服务器内唯一；
// Jellyfin/Emby 的库 ID 是 GUID，全局唯一。邀请里保存的是规范化键列表，
// 提交时还原成 每台服务器 -> 原生 ID 的映射。
type LibraryService struct{}

func NewLibraryService() *LibraryService {
	return &LibraryService{}
}

// LibraryOption 向导里展示的一个可选库
type LibraryOption struct {
	Key        string `json:"key"`
	Name       string `json:"name"`
	ServerID   uint   `json:"server_id"`
	ServerName string `json:"server_name"`
}

// CanonicalKey 原生 ID 的规范化键。冲突型 ID 加 [协议]-服务器名 前缀，全局唯一 ID 原样保留。
func CanonicalKey(server *models.MediaServer, nativeID string) string {
	if adapters.HasCollidingLibraryIDs(server.Type) {
		return fmt.Sprintf("[%s]-%s-%s", adapters.ProtocolTag(server.Type), server.Name, nativeID)
	}
	return nativeID
}

// Encode 把 服务器 -> 原生 ID 的选择编码成规范化键列表。
// 选中集合恰好覆盖全部可选库时写入空列表哨兵（表示"所有服务器的全部库"），
// 两种含义绝不混存。
func (s *LibraryService) Encode(selection map[uint][]string, servers []models.MediaServer, available map[uint][]adapters.Library) []string {
	total := 0
	availSets := make(map[uint]map[string]bool, len(available))
	for serverID, libs := range available {
		set := make(map[string]bool, len(libs))
		for _, lib := range libs {
			if !set[lib.ExternalID] {
				set[lib.ExternalID] = true
				total++
			}
		}
		availSets[serverID] = set
	}

	keys := make([]string, 0)
	selected := 0
	for i := range servers {
		server := &servers[i]
		seen := make(map[string]bool)
		for _, nativeID := range selection[server.ID] {
			if seen[nativeID] {
				continue
			}
			seen[nativeID] = true
			if set, ok := availSets[server.ID]; !ok || !set[nativeID] {
				continue // 未知库，忽略
			}
			keys = append(keys, CanonicalKey(server, nativeID))
			selected++
		}
	}

	// 哨兵：当且仅当选中集合等于全部可选集合
	if total > 0 && selected == total {
		return []string{}
	}
	return keys
}

// Decode 规范化键列表还原成 服务器 -> 原生 ID 的映射，与 Encode 严格互逆。
// 空列表哨兵还原为每台服务器的全部当前库（always-all 策略，见 ResolveGrant）。
func (s *LibraryService) Decode(keys []string, servers []models.MediaServer, available map[uint][]adapters.Library) map[uint][]string {
	result := make(map[uint][]string, len(servers))
	for i := range servers {
		server := &servers[i]
		result[server.ID] = s.grantForServer(keys, server, available[server.ID])
	}
	return result
}

// ResolveGrant 计算某台服务器应授予的原生库 ID 列表。
// 空授权（哨兵）按 always-all 策略展开：以服务器当前库集合为准，
// 邀请创建之后新增的库也包含在内。返回 nil 表示全部库。
func (s *LibraryService) ResolveGrant(invite *models.Invite, server *models.MediaServer, available []adapters.Library) []string {
	keys := SplitKeys(invite.Libraries)
	if len(keys) == 0 {
		return nil
	}
	return s.grantForServer(keys, server, available)
}

func (s *LibraryService) grantForServer(keys []string, server *models.MediaServer, available []adapters.Library) []string {
	if len(keys) == 0 {
		native := make([]string, 0, len(available))
		for _, lib := range available {
			native = append(native, lib.ExternalID)
		}
		return native
	}

	availSet := make(map[string]bool, len(available))
	for _, lib := range available {
		availSet[lib.ExternalID] = true
	}

	prefix := fmt.Sprintf("[%s]-%s-", adapters.ProtocolTag(server.Type), server.Name)
	native := make([]string, 0)
	for _, key := range keys {
		if strings.HasPrefix(key, "[") {
			if adapters.HasCollidingLibraryIDs(server.Type) && strings.HasPrefix(key, prefix) {
				native = append(native, strings.TrimPrefix(key, prefix))
			}
			continue
		}
		// 全局唯一 ID：属于列出它的那台服务器
		if availSet[key] {
			native = append(native, key)
		}
	}
	return native
}

// Flatten 把邀请覆盖的所有服务器的库拉平成一个无歧义的可选列表
func (s *LibraryService) Flatten(ctx context.Context, servers []models.MediaServer) ([]LibraryOption, map[uint][]adapters.Library) {
	options := make([]LibraryOption, 0)
	available := make(map[uint][]adapters.Library, len(servers))

	for i := range servers {
		server := &servers[i]
		adapter, err := adapters.Get(server.Type)
		if err != nil {
			log.Printf("flatten libraries: %v", err)
			continue
		}
		libraries, err := adapter.ListLibraries(ctx, server)
		if err != nil {
			log.Printf("flatten libraries: server %s: %v", server.Name, err)
			continue
		}
		available[server.ID] = libraries
		for _, lib := range libraries {
			options = append(options, LibraryOption{
				Key:        CanonicalKey(server, lib.ExternalID),
				Name:       lib.Name,
				ServerID:   server.ID,
				ServerName: server.Name,
			})
		}
	}
	return options, available
}

// SplitKeys 邀请里存储的逗号分隔键列表
func SplitKeys(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return keys
}
