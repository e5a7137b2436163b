package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/themaluxis/MUM-sub001/internal/config"
	"github.com/themaluxis/MUM-sub001/internal/models"
	"gorm.io/gorm"
)

const (
	discordAuthorizeURL = "https://discord.com/oauth2/authorize"
	discordAPIBaseURL   = "https://discord.com/api"
	oauthRequestTimeout = 15 * time.Second
	oauthScopes         = "identify email guilds"
)

// OAuthService 授权码协议身份验证（Discord），可选公会成员校验
type OAuthService struct {
	httpClient   *http.Client
	db           *gorm.DB
	authorizeURL string
	apiBaseURL   string
}

func NewOAuthService(db *gorm.DB) *OAuthService {
	return &OAuthService{
		httpClient:   &http.Client{Timeout: oauthRequestTimeout},
		db:           db,
		authorizeURL: discordAuthorizeURL,
		apiBaseURL:   discordAPIBaseURL,
	}
}

type oauthTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

type discordUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type discordGuild struct {
	ID string `json:"id"`
}

// GenerateState 生成随机 state
func (s *OAuthService) GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func (s *OAuthService) clientID() string {
	return models.GetConfigValue(s.db, "discord_oauth_client_id", config.AppConfig.DiscordClientID)
}

func (s *OAuthService) clientSecret() string {
	return models.GetConfigValue(s.db, "discord_oauth_client_secret", config.AppConfig.DiscordClientSecret)
}

func (s *OAuthService) guildID() string {
	return models.GetConfigValue(s.db, "discord_guild_id", config.AppConfig.DiscordGuildID)
}

func (s *OAuthService) joinURL() string {
	return models.GetConfigValue(s.db, "discord_invite_url", config.AppConfig.DiscordInviteURL)
}

// Start 生成 state 随机数写入向导状态，返回授权页地址
func (s *OAuthService) Start(state *WizardState, redirectURI string) (string, error) {
	clientID := s.clientID()
	if clientID == "" {
		return "", errors.New("Discord Client ID 未配置")
	}

	nonce, err := s.GenerateState()
	if err != nil {
		return "", err
	}
	state.OAuthState = nonce

	params := url.Values{}
	params.Set("client_id", clientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("response_type", "code")
	params.Set("scope", oauthScopes)
	params.Set("state", nonce)

	return fmt.Sprintf("%s?%s", s.authorizeURL, params.Encode()), nil
}

// Callback 处理授权回调。state 随机数单次使用：比较前即清除，成败都不复用，防止重放。
// 不匹配返回 ErrInvalidState 且不触碰已验证身份；公会校验未通过返回
// MembershipRequiredError（携带加入链接，属于提示而非硬错误）。
func (s *OAuthService) Callback(ctx context.Context, state *WizardState, code, returnedState, redirectURI string, requireGuild bool) (*IdentityProof, error) {
	stored := state.OAuthState
	state.OAuthState = ""

	if stored == "" || returnedState != stored {
		return nil, ErrInvalidState
	}

	tokenResp, err := s.exchangeCode(ctx, code, redirectURI)
	if err != nil {
		return nil, err
	}

	user, err := s.fetchUser(ctx, tokenResp.AccessToken)
	if err != nil {
		return nil, err
	}

	if requireGuild {
		guildID := s.guildID()
		if guildID != "" {
			member, err := s.isGuildMember(ctx, tokenResp.AccessToken, guildID)
			if err != nil {
				return nil, err
			}
			if !member {
				return nil, &MembershipRequiredError{JoinURL: s.joinURL()}
			}
		}
	}

	return &IdentityProof{
		Protocol:   ProtocolOAuth,
		ExternalID: user.ID,
		Username:   user.Username,
		Email:      user.Email,
		Raw: map[string]interface{}{
			"scope": tokenResp.Scope,
		},
	}, nil
}

// exchangeCode 用授权码换取 Access Token
func (s *OAuthService) exchangeCode(ctx context.Context, code, redirectURI string) (*oauthTokenResponse, error) {
	clientID := s.clientID()
	clientSecret := s.clientSecret()
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("Discord OAuth 配置不完整")
	}

	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", redirectURI)
	data.Set("client_id", clientID)
	data.Set("client_secret", clientSecret)

	endpoint := fmt.Sprintf("%s/oauth2/token", s.apiBaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token exchange failed: %s", string(body))
	}

	var tokenResp oauthTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, err
	}
	if tokenResp.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}

	return &tokenResp, nil
}

// fetchUser 获取用户信息
func (s *OAuthService) fetchUser(ctx context.Context, accessToken string) (*discordUser, error) {
	endpoint := fmt.Sprintf("%s/users/@me", s.apiBaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get user failed: %s", string(body))
	}

	var user discordUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// isGuildMember 用 token 拉公会列表，确认身份属于配置的公会
func (s *OAuthService) isGuildMember(ctx context.Context, accessToken, guildID string) (bool, error) {
	endpoint := fmt.Sprintf("%s/users/@me/guilds", s.apiBaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("list guilds failed: status %d", resp.StatusCode)
	}

	var guilds []discordGuild
	if err := json.NewDecoder(resp.Body).Decode(&guilds); err != nil {
		return false, err
	}

	for _, guild := range guilds {
		if guild.ID == guildID {
			return true, nil
		}
	}
	return false, nil
}
