// Package discord はDiscord OAuthプロバイダーとユーザーリソースAPIの
// クライアントを提供する。
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultAuthorizeURL = "https://discord.com/api/oauth2/authorize"
	defaultTokenURL     = "https://discord.com/api/oauth2/token"
	defaultAPIBaseURL   = "https://discord.com/api"

	// oauthScopes はログイン時に要求するスコープ。
	oauthScopes = "identify email guilds"
)

// Token はDiscordのトークンエンドポイントのレスポンス。
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// User はDiscordのユーザーリソース（users/@me）のレスポンス。
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	GlobalName    string `json:"global_name"`
	Avatar        string `json:"avatar"`
}

// Guild はユーザーのギルドメンバーシップレコード（users/@me/guilds）。
// Permissionsはワイヤ上で文字列にも数値にもなるためjson.Numberで受ける。
type Guild struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Icon        string      `json:"icon"`
	Owner       bool        `json:"owner"`
	Permissions json.Number `json:"permissions"`
}

// APIError はDiscord APIの非成功レスポンスを表す。
// 上流ステータスの伝搬に使用する。
type APIError struct {
	StatusCode int
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("discord api returned status %d: %s", e.StatusCode, e.Body)
}

// ClientConfig はDiscordクライアントの設定。
type ClientConfig struct {
	ClientID     string
	ClientSecret string

	// テスト用にオーバーライド可能なURL
	AuthorizeURL string
	TokenURL     string
	APIBaseURL   string
}

// LatencyRecorder はDiscord API呼び出しのレイテンシを記録するメトリクス収集先。
type LatencyRecorder interface {
	RecordUpstreamLatency(target string, duration time.Duration)
}

// Client はDiscord OAuthフローとユーザーリソースAPIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	config     ClientConfig
	metrics    LatencyRecorder // nil可
}

// NewClient はClientを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, config ClientConfig) *Client {
	if config.AuthorizeURL == "" {
		config.AuthorizeURL = defaultAuthorizeURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultTokenURL
	}
	if config.APIBaseURL == "" {
		config.APIBaseURL = defaultAPIBaseURL
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		config:     config,
	}
}

// WithMetrics はメトリクス収集先を設定する。
func (c *Client) WithMetrics(m LatencyRecorder) *Client {
	c.metrics = m
	return c
}

func (c *Client) observe(start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordUpstreamLatency("discord", time.Since(start))
	}
}

// AuthorizeURL はDiscord OAuthの認可URLを生成する。
func (c *Client) AuthorizeURL(state, redirectURI string) string {
	params := url.Values{
		"client_id":     {c.config.ClientID},
		"redirect_uri":  {redirectURI},
		"response_type": {"code"},
		"scope":         {oauthScopes},
		"state":         {state},
		"prompt":        {"consent"},
	}
	return c.config.AuthorizeURL + "?" + params.Encode()
}

// ExchangeCode は認可コードをトークンに交換する。
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*Token, error) {
	data := url.Values{
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
	}
	return c.postToken(ctx, data)
}

// RefreshToken はリフレッシュトークンで新しいアクセストークンを取得する。
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	data := url.Values{
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return c.postToken(ctx, data)
}

// postToken はトークンエンドポイントへform-encodedでPOSTする。
func (c *Client) postToken(ctx context.Context, data url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.observe(start)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("discord token endpoint returned error",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return &token, nil
}

// FetchUser は現在のユーザーを取得する（GET users/@me）。
func (c *Client) FetchUser(ctx context.Context, tokenType, accessToken string) (*User, error) {
	var user User
	if err := c.getResource(ctx, "/users/@me", tokenType, accessToken, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, fmt.Errorf("empty user id in response")
	}
	return &user, nil
}

// FetchGuilds はユーザーのギルドメンバーシップ一覧を取得する
// （GET users/@me/guilds）。
func (c *Client) FetchGuilds(ctx context.Context, tokenType, accessToken string) ([]Guild, error) {
	var guilds []Guild
	if err := c.getResource(ctx, "/users/@me/guilds", tokenType, accessToken, &guilds); err != nil {
		return nil, err
	}
	return guilds, nil
}

// getResource はベアラースタイルの認可ヘッダー付きでリソースを取得する。
func (c *Client) getResource(ctx context.Context, path, tokenType, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.APIBaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create resource request: %w", err)
	}
	req.Header.Set("Authorization", tokenType+" "+accessToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.observe(start)
	if err != nil {
		return fmt.Errorf("resource request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read resource response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("discord resource endpoint returned error",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse resource response: %w", err)
	}

	return nil
}
