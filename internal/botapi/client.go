// Package botapi はモデレーションBotバックエンドAPIのクライアントを提供する。
// 静的Bearerトークンで認証し、ギルド統計・違反記録・設定の取得更新を行う。
package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// LatencyRecorder は上流呼び出しのレイテンシを記録するメトリクス収集先。
// metrics.Collectorがこれを実装する。
type LatencyRecorder interface {
	RecordUpstreamLatency(target string, duration time.Duration)
}

// Client はBotバックエンドAPIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string // 末尾スラッシュなしに正規化される
	token      string
	metrics    LatencyRecorder // nil可
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL, token string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

// WithMetrics はメトリクス収集先を設定する。
func (c *Client) WithMetrics(m LatencyRecorder) *Client {
	c.metrics = m
	return c
}

func (c *Client) observe(start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordUpstreamLatency("botapi", time.Since(start))
	}
}

// Configured はベースURLとトークンの両方が設定されているかを返す。
// 未設定の場合、Bot在籍判定などのオプション機能は静かに無効化される。
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.token != ""
}

// UpstreamError はBot APIが2xx以外を返した場合のエラー。
// ステータスとボディは呼び出し元でそのまま転送できる。
type UpstreamError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("bot api returned status %d", e.StatusCode)
}

// do はBot APIへのリクエストを実行し、2xxのボディを返す。
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.observe(start)
	if err != nil {
		c.logger.Error("Bot APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("Bot APIがエラーステータスを返しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: data}
	}

	return data, nil
}

// HealthResult はヘルスエンドポイントの応答。ボディがJSONでない場合は
// rawフィールドに生テキストを格納する（応答形式を固定しない上流への耐性）。
type HealthResult struct {
	Upstream string          `json:"upstream"`
	Status   int             `json:"status"`
	Data     json.RawMessage `json:"data"`
}

// Health はBotバックエンドのヘルスチェックを実行する。
// ステータスコードに依らずボディを返す（上流の不調自体も観測対象）。
func (c *Client) Health(ctx context.Context) (*HealthResult, error) {
	reqURL := c.baseURL + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.observe(start)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	data := json.RawMessage(body)
	if !json.Valid(body) {
		raw, _ := json.Marshal(map[string]string{"raw": string(body)})
		data = raw
	}

	return &HealthResult{Upstream: reqURL, Status: resp.StatusCode, Data: data}, nil
}

// ListGuildIDs はBotが在籍しているギルドIDの集合を返す。
func (c *Client) ListGuildIDs(ctx context.Context) (map[string]struct{}, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/guilds", nil, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Guilds []struct {
			ID json.Number `json:"id"`
		} `json:"guilds"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("ギルド一覧のパースに失敗しました: %w", err)
	}

	ids := make(map[string]struct{}, len(payload.Guilds))
	for _, g := range payload.Guilds {
		ids[g.ID.String()] = struct{}{}
	}
	return ids, nil
}

// GuildStats はギルドの統計情報を取得する。応答はそのまま転送される。
func (c *Client) GuildStats(ctx context.Context, guildID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/guilds/"+url.PathEscape(guildID)+"/stats", nil, nil)
}

// GuildInfractions はギルドの違反記録を取得する。qは任意の検索語。
func (c *Client) GuildInfractions(ctx context.Context, guildID string, limit int, q string) (json.RawMessage, error) {
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if q != "" {
		query.Set("q", q)
	}
	return c.do(ctx, http.MethodGet, "/api/guilds/"+url.PathEscape(guildID)+"/infractions", query, nil)
}

// GuildPromotions はギルドの昇格記録を取得する。qは任意の検索語。
func (c *Client) GuildPromotions(ctx context.Context, guildID string, limit int, q string) (json.RawMessage, error) {
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if q != "" {
		query.Set("q", q)
	}
	return c.do(ctx, http.MethodGet, "/api/guilds/"+url.PathEscape(guildID)+"/promotions", query, nil)
}

// InfractionSeries は日次の違反件数時系列を取得する。
func (c *Client) InfractionSeries(ctx context.Context, guildID string, days int) (json.RawMessage, error) {
	query := url.Values{"days": {strconv.Itoa(days)}}
	return c.do(ctx, http.MethodGet, "/api/guilds/"+url.PathEscape(guildID)+"/infractions/series", query, nil)
}

// GuildConfig はギルドのBot設定を取得する。
func (c *Client) GuildConfig(ctx context.Context, guildID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/guilds/"+url.PathEscape(guildID)+"/config", nil, nil)
}

// UpdateGuildConfig はギルドのBot設定の1項目を更新する。
func (c *Client) UpdateGuildConfig(ctx context.Context, guildID, key string, value any) error {
	_, err := c.do(ctx, http.MethodPatch, "/api/guilds/"+url.PathEscape(guildID)+"/config", nil, map[string]any{key: value})
	return err
}

// UserInfractions はユーザー自身の違反記録を取得する。
func (c *Client) UserInfractions(ctx context.Context, userID string, limit int) ([]json.RawMessage, error) {
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	body, err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(userID)+"/infractions", query, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("違反記録のパースに失敗しました: %w", err)
	}
	if payload.Items == nil {
		payload.Items = []json.RawMessage{}
	}
	return payload.Items, nil
}

// SearchChannels はギルド内チャンネルを名前で検索する。
func (c *Client) SearchChannels(ctx context.Context, guildID, q string) (json.RawMessage, error) {
	return c.searchDirectory(ctx, guildID, "channels", q)
}

// SearchRoles はギルド内ロールを名前で検索する。
func (c *Client) SearchRoles(ctx context.Context, guildID, q string) (json.RawMessage, error) {
	return c.searchDirectory(ctx, guildID, "roles", q)
}

func (c *Client) searchDirectory(ctx context.Context, guildID, endpoint, q string) (json.RawMessage, error) {
	var query url.Values
	if q != "" {
		query = url.Values{"q": {q}}
	}
	return c.do(ctx, http.MethodGet, "/api/guilds/"+url.PathEscape(guildID)+"/"+endpoint+"/search", query, nil)
}

// UpdateInfraction は違反記録の理由を書き換える。
// 上流のステータスとボディは呼び出し元にそのまま伝播する。
func (c *Client) UpdateInfraction(ctx context.Context, guildID, infractionID, reason string) (json.RawMessage, error) {
	path := "/api/guilds/" + url.PathEscape(guildID) + "/infractions/" + url.PathEscape(infractionID)
	return c.do(ctx, http.MethodPost, path, nil, map[string]string{"reason": reason})
}
