package adapters

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/themaluxis/MUM-sub001/internal/models"
)

const (
	adapterTimeoutEnv     = "ADAPTER_TIMEOUT_SECONDS"
	defaultAdapterTimeout = 10 * time.Second
)

// Library 媒体服务器上的一个库
type Library struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
}

// Identity 建号所需的身份信息。PIN 协议（Plex）用 Email/Token，本地协议用 Username/Password。
type Identity struct {
	Username   string
	Email      string
	Password   string
	Token      string
	ExternalID string
}

// CreateUserOptions 建号选项
type CreateUserOptions struct {
	LibraryIDs     []string // 该服务器上的原生库 ID，空表示全部库
	AllowDownloads bool
}

// CreateUserResult 建号结果
type CreateUserResult struct {
	ExternalUserID string `json:"external_user_id"`
}

// MediaServiceAdapter 媒体服务适配器：每种服务器类型一个实现
type MediaServiceAdapter interface {
	ListLibraries(ctx context.Context, server *models.MediaServer) ([]Library, error)
	UsernameExists(ctx context.Context, server *models.MediaServer, username string) (bool, error)
	CreateUser(ctx context.Context, server *models.MediaServer, identity Identity, opts CreateUserOptions) (*CreateUserResult, error)
}

// AdapterError 单台服务器上的后端失败，调用方按服务器收集而不是中断
type AdapterError struct {
	Server string
	Reason string
	cause  error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s: %s", e.Server, e.Reason)
}

// Unwrap 保留底层错误链，调用方可识别超时等原因
func (e *AdapterError) Unwrap() error {
	return e.cause
}

func newAdapterError(server *models.MediaServer, format string, args ...interface{}) *AdapterError {
	return &AdapterError{Server: server.Name, Reason: fmt.Sprintf(format, args...)}
}

// wrapAdapterError 附加操作描述，同时保留底层错误
func wrapAdapterError(server *models.MediaServer, cause error, op string) *AdapterError {
	return &AdapterError{
		Server: server.Name,
		Reason: fmt.Sprintf("%s: %v", op, cause),
		cause:  cause,
	}
}

// truncateMessage 按 rune 边界截断，避免把多字节字符切成无效 UTF-8
func truncateMessage(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

var registry = map[string]MediaServiceAdapter{}

// Register 注册服务器类型对应的适配器实现（启动期调用）
func Register(serverType string, adapter MediaServiceAdapter) {
	registry[serverType] = adapter
}

// Get 按服务器类型取适配器
func Get(serverType string) (MediaServiceAdapter, error) {
	adapter, ok := registry[serverType]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for server type %q", serverType)
	}
	return adapter, nil
}

// HasCollidingLibraryIDs 该类型的原生库 ID 是否仅在单台服务器内唯一。
// Plex 的 section key 是小整数，跨服务器必然冲突；Jellyfin/Emby 的库 ID 是 GUID。
func HasCollidingLibraryIDs(serverType string) bool {
	return serverType == models.ServerTypePlex
}

// ProtocolTag 规范化库键里使用的协议标记
func ProtocolTag(serverType string) string {
	return serverType
}

func newHTTPClient() *http.Client {
	timeout := defaultAdapterTimeout
	if raw := strings.TrimSpace(os.Getenv(adapterTimeoutEnv)); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			timeout = time.Duration(seconds) * time.Second
		}
	}
	return &http.Client{Timeout: timeout}
}

func baseURL(server *models.MediaServer) string {
	return strings.TrimRight(strings.TrimSpace(server.URL), "/")
}

func init() {
	Register(models.ServerTypePlex, NewPlexAdapter())
	Register(models.ServerTypeJellyfin, NewJellyfinAdapter())
	Register(models.ServerTypeEmby, NewEmbyAdapter())
}
