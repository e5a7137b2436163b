package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/themaluxis/MUM-sub001/internal/models"
)

// JellyfinAdapter Jellyfin 适配器：API Key 管理接口建号，建号后下发库权限策略
type JellyfinAdapter struct {
	httpClient *http.Client
}

func NewJellyfinAdapter() *JellyfinAdapter {
	return &JellyfinAdapter{httpClient: newHTTPClient()}
}

func (a *JellyfinAdapter) applyHeaders(req *http.Request, server *models.MediaServer) {
	req.Header.Set("X-Emby-Token", server.APIKey)
	req.Header.Set("Accept", "application/json")
}

func (a *JellyfinAdapter) ListLibraries(ctx context.Context, server *models.MediaServer) ([]Library, error) {
	url := fmt.Sprintf("%s/Library/VirtualFolders", baseURL(server))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	a.applyHeaders(req, server)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, wrapAdapterError(server, err, "list libraries")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newAdapterError(server, "list libraries: status %d", resp.StatusCode)
	}

	var folders []struct {
		ItemID string `json:"ItemId"`
		Name   string `json:"Name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&folders); err != nil {
		return nil, wrapAdapterError(server, err, "list libraries: decode")
	}

	libraries := make([]Library, 0, len(folders))
	for _, folder := range folders {
		libraries = append(libraries, Library{ExternalID: folder.ItemID, Name: folder.Name})
	}
	return libraries, nil
}

func (a *JellyfinAdapter) UsernameExists(ctx context.Context, server *models.MediaServer, username string) (bool, error) {
	url := fmt.Sprintf("%s/Users", baseURL(server))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	a.applyHeaders(req, server)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false, wrapAdapterError(server, err, "lookup user")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, newAdapterError(server, "lookup user: status %d", resp.StatusCode)
	}

	var users []struct {
		Name string `json:"Name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return false, wrapAdapterError(server, err, "lookup user: decode")
	}

	for _, user := range users {
		if strings.EqualFold(user.Name, username) {
			return true, nil
		}
	}
	return false, nil
}

func (a *JellyfinAdapter) CreateUser(ctx context.Context, server *models.MediaServer, identity Identity, opts CreateUserOptions) (*CreateUserResult, error) {
	payload := map[string]interface{}{
		"Name":     identity.Username,
		"Password": identity.Password,
	}
	body, _ := json.Marshal(payload)

	url := fmt.Sprintf("%s/Users/New", baseURL(server))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	a.applyHeaders(req, server)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, wrapAdapterError(server, err, "create user")
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		message := truncateMessage(strings.TrimSpace(string(raw)), 500)
		return nil, newAdapterError(server, "create user: status %d: %s", resp.StatusCode, message)
	}

	var created struct {
		ID string `json:"Id"`
	}
	if err := json.Unmarshal(raw, &created); err != nil || created.ID == "" {
		return nil, newAdapterError(server, "create user: response missing user id")
	}

	if err := a.applyPolicy(ctx, server, created.ID, opts); err != nil {
		// 账号已经建出来了，策略失败按该服务器失败处理
		return nil, err
	}

	return &CreateUserResult{ExternalUserID: created.ID}, nil
}

// applyPolicy 下发库可见性与下载权限
func (a *JellyfinAdapter) applyPolicy(ctx context.Context, server *models.MediaServer, userID string, opts CreateUserOptions) error {
	policy := map[string]interface{}{
		"EnableAllFolders":          len(opts.LibraryIDs) == 0,
		"EnabledFolders":            opts.LibraryIDs,
		"EnableContentDownloading":  opts.AllowDownloads,
		"EnableSyncTranscoding":     opts.AllowDownloads,
		"AuthenticationProviderId":  "Jellyfin.Server.Implementations.Users.DefaultAuthenticationProvider",
		"PasswordResetProviderId":   "Jellyfin.Server.Implementations.Users.DefaultPasswordResetProvider",
		"EnableUserPreferenceAccess": true,
	}
	body, _ := json.Marshal(policy)

	url := fmt.Sprintf("%s/Users/%s/Policy", baseURL(server), userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	a.applyHeaders(req, server)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return wrapAdapterError(server, err, "apply policy")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return newAdapterError(server, "apply policy: status %d", resp.StatusCode)
	}
	return nil
}
