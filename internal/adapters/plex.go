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

const plexTVBaseURL = "https://plex.tv"

// PlexAdapter Plex 适配器。库列表走服务器本体，建号（共享邀请）走 plex.tv。
type PlexAdapter struct {
	httpClient *http.Client
	accountURL string // plex.tv，测试时可替换
}

func NewPlexAdapter() *PlexAdapter {
	return &PlexAdapter{
		httpClient: newHTTPClient(),
		accountURL: plexTVBaseURL,
	}
}

func (a *PlexAdapter) applyHeaders(req *http.Request, server *models.MediaServer) {
	req.Header.Set("X-Plex-Token", server.APIKey)
	req.Header.Set("Accept", "application/json")
}

func (a *PlexAdapter) ListLibraries(ctx context.Context, server *models.MediaServer) ([]Library, error) {
	url := fmt.Sprintf("%s/library/sections", baseURL(server))
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

	var parsed struct {
		MediaContainer struct {
			Directory []struct {
				Key   string `json:"key"`
				Title string `json:"title"`
			} `json:"Directory"`
		} `json:"MediaContainer"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, wrapAdapterError(server, err, "list libraries: decode")
	}

	libraries := make([]Library, 0, len(parsed.MediaContainer.Directory))
	for _, dir := range parsed.MediaContainer.Directory {
		libraries = append(libraries, Library{ExternalID: dir.Key, Name: dir.Title})
	}
	return libraries, nil
}

// UsernameExists 在已共享的 Plex 用户里查找用户名或邮箱
func (a *PlexAdapter) UsernameExists(ctx context.Context, server *models.MediaServer, username string) (bool, error) {
	url := fmt.Sprintf("%s/api/v2/friends", a.accountURL)
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

	var friends []struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&friends); err != nil {
		return false, wrapAdapterError(server, err, "lookup user: decode")
	}

	for _, friend := range friends {
		if strings.EqualFold(friend.Username, username) || strings.EqualFold(friend.Email, username) {
			return true, nil
		}
	}
	return false, nil
}

// CreateUser 通过 plex.tv 共享接口把身份对应的账号邀请进本服务器
func (a *PlexAdapter) CreateUser(ctx context.Context, server *models.MediaServer, identity Identity, opts CreateUserOptions) (*CreateUserResult, error) {
	machineID, err := a.machineIdentifier(ctx, server)
	if err != nil {
		return nil, err
	}

	invited := identity.Email
	if invited == "" {
		invited = identity.Username
	}

	payload := map[string]interface{}{
		"machineIdentifier": machineID,
		"invitedEmail":      invited,
		"librarySectionIds": opts.LibraryIDs,
		"settings": map[string]interface{}{
			"allowSync": opts.AllowDownloads,
		},
	}
	body, _ := json.Marshal(payload)

	url := fmt.Sprintf("%s/api/v2/shared_servers", a.accountURL)
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

	var parsed struct {
		InvitedID int64 `json:"invitedId"`
		Invited   struct {
			ID int64 `json:"id"`
		} `json:"invited"`
	}
	externalID := identity.ExternalID
	if json.Unmarshal(raw, &parsed) == nil {
		if parsed.Invited.ID > 0 {
			externalID = fmt.Sprintf("%d", parsed.Invited.ID)
		} else if parsed.InvitedID > 0 {
			externalID = fmt.Sprintf("%d", parsed.InvitedID)
		}
	}
	if externalID == "" {
		return nil, newAdapterError(server, "create user: response missing invited id")
	}

	return &CreateUserResult{ExternalUserID: externalID}, nil
}

func (a *PlexAdapter) machineIdentifier(ctx context.Context, server *models.MediaServer) (string, error) {
	url := fmt.Sprintf("%s/identity", baseURL(server))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	a.applyHeaders(req, server)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", wrapAdapterError(server, err, "identity")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", newAdapterError(server, "identity: status %d", resp.StatusCode)
	}

	var parsed struct {
		MediaContainer struct {
			MachineIdentifier string `json:"machineIdentifier"`
		} `json:"MediaContainer"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", wrapAdapterError(server, err, "identity: decode")
	}
	if parsed.MediaContainer.MachineIdentifier == "" {
		return "", newAdapterError(server, "identity: empty machine identifier")
	}
	return parsed.MediaContainer.MachineIdentifier, nil
}
