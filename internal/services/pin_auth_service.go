package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/themaluxis/MUM-sub001/internal/config"
)

const (
	plexAccountBaseURL = "https://plex.tv"
	plexAuthAppURL     = "https://app.plex.tv/auth"
	pinRequestTimeout  = 15 * time.Second
)

// PinAuthService PIN 协议（设备绑定式）身份验证。
// Start 向外部身份提供方申请短时 PIN，用户跳到外部页面批准；
// Poll 在回跳后用有界重试查询 token，取到后拉一次用户档案生成身份证明。
type PinAuthService struct {
	httpClient *http.Client
	baseURL    string
	authURL    string
	product    string
	retry      RetryPolicy
}

func NewPinAuthService(retry RetryPolicy) *PinAuthService {
	product := "MUM"
	if config.AppConfig != nil && config.AppConfig.PlexClientProduct != "" {
		product = config.AppConfig.PlexClientProduct
	}
	return &PinAuthService{
		httpClient: &http.Client{Timeout: pinRequestTimeout},
		baseURL:    plexAccountBaseURL,
		authURL:    plexAuthAppURL,
		product:    product,
		retry:      retry,
	}
}

type pinResponse struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
}

type pinCheckResponse struct {
	AuthToken string `json:"authToken"`
}

type pinProfileResponse struct {
	ID       int64  `json:"id"`
	UUID     string `json:"uuid"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (s *PinAuthService) applyHeaders(req *http.Request, clientID string) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Product", s.product)
	req.Header.Set("X-Plex-Client-Identifier", clientID)
}

// Start 申请新 PIN 并写入向导状态，返回外部批准页地址
func (s *PinAuthService) Start(ctx context.Context, state *WizardState) (string, error) {
	clientID := uuid.NewString()

	endpoint := fmt.Sprintf("%s/api/v2/pins?strong=true", s.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", err
	}
	s.applyHeaders(req, clientID)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create pin: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create pin: status %d", resp.StatusCode)
	}

	var pin pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&pin); err != nil {
		return "", fmt.Errorf("create pin: decode: %w", err)
	}
	if pin.ID == 0 || pin.Code == "" {
		return "", fmt.Errorf("create pin: empty response")
	}

	state.PinID = fmt.Sprintf("%d", pin.ID)
	state.PinCode = pin.Code
	state.PinClientID = clientID

	params := url.Values{}
	params.Set("clientID", clientID)
	params.Set("code", pin.Code)
	params.Set("context[device][product]", s.product)
	return fmt.Sprintf("%s#?%s", s.authURL, params.Encode()), nil
}

// Poll 回跳后查询 PIN 对应的 token。token 缺失表示"尚未批准"，不算错误；
// 重试耗尽仍取不到则清空 PIN 会话（步骤转 EXPIRED），
// 返回 ErrIdentityNotProven，向导会重新发起并拿到新的 pinId。
func (s *PinAuthService) Poll(ctx context.Context, state *WizardState) (*IdentityProof, error) {
	if state.PinID == "" || state.PinClientID == "" {
		return nil, ErrIdentityNotProven
	}

	var token string
	for attempt := 0; attempt < s.retry.Attempts; attempt++ {
		if attempt > 0 {
			if err := s.retry.Wait(ctx); err != nil {
				break
			}
		}
		result, err := s.checkPin(ctx, state)
		if err != nil {
			return nil, err
		}
		if result != "" {
			token = result
			break
		}
	}

	if token == "" {
		state.ResetPin()
		return nil, ErrIdentityNotProven
	}

	proof, err := s.fetchProfile(ctx, token, state.PinClientID)
	if err != nil {
		return nil, err
	}
	state.ResetPin()
	return proof, nil
}

func (s *PinAuthService) checkPin(ctx context.Context, state *WizardState) (string, error) {
	endpoint := fmt.Sprintf("%s/api/v2/pins/%s?code=%s", s.baseURL, state.PinID, url.QueryEscape(state.PinCode))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	s.applyHeaders(req, state.PinClientID)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("check pin: %w", err)
	}
	defer resp.Body.Close()

	// PIN 不存在或已过期：按"未批准"处理，让重试自然耗尽
	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("check pin: status %d", resp.StatusCode)
	}

	var check pinCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&check); err != nil {
		return "", fmt.Errorf("check pin: decode: %w", err)
	}
	return strings.TrimSpace(check.AuthToken), nil
}

// fetchProfile 用拿到的 token 拉一次用户档案，生成身份证明
func (s *PinAuthService) fetchProfile(ctx context.Context, token, clientID string) (*IdentityProof, error) {
	endpoint := fmt.Sprintf("%s/api/v2/user", s.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	s.applyHeaders(req, clientID)
	req.Header.Set("X-Plex-Token", token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch profile: status %d", resp.StatusCode)
	}

	var profile pinProfileResponse
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("fetch profile: decode: %w", err)
	}

	externalID := profile.UUID
	if externalID == "" {
		externalID = fmt.Sprintf("%d", profile.ID)
	}

	return &IdentityProof{
		Protocol:   ProtocolPin,
		ExternalID: externalID,
		Username:   profile.Username,
		Email:      profile.Email,
		Raw: map[string]interface{}{
			"auth_token": token,
		},
	}, nil
}
