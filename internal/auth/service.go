// Package auth はDiscord OAuthフローとセッション発行・リフレッシュの
// ビジネスロジックを提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/chirpbot/chirpboard/internal/discord"
	"github.com/chirpbot/chirpboard/internal/session"
)

// OAuthProvider は認証サービスが必要とするOAuthプロバイダーのインターフェース。
// discord.Clientがこれを実装する。
type OAuthProvider interface {
	AuthorizeURL(state, redirectURI string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (*discord.Token, error)
	RefreshToken(ctx context.Context, refreshToken string) (*discord.Token, error)
	FetchUser(ctx context.Context, tokenType, accessToken string) (*discord.User, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	CookieSecret string
	SessionDays  int
	// RefreshWindow はトークン失効前にリフレッシュを開始する猶予時間。
	RefreshWindow time.Duration
	PublicSiteURL string
}

// RefreshMetrics はトークンリフレッシュの結果を記録するメトリクス収集先。
// metrics.Collectorがこれを実装する。
type RefreshMetrics interface {
	RecordTokenRefresh(outcome string)
}

// Service は認証に関するビジネスロジックを提供する。
// リクエスト間で状態を持たず、任意の並列実行に対して安全。
type Service struct {
	oauth   OAuthProvider
	config  ServiceConfig
	metrics RefreshMetrics   // nil可
	now     func() time.Time // テストで差し替え可能なクロック
}

// NewService はServiceを生成する。
func NewService(oauth OAuthProvider, config ServiceConfig) *Service {
	return &Service{
		oauth:  oauth,
		config: config,
		now:    time.Now,
	}
}

// WithClock はクロックを差し替えたServiceを返す。テスト用。
func (s *Service) WithClock(now func() time.Time) *Service {
	return &Service{oauth: s.oauth, config: s.config, metrics: s.metrics, now: now}
}

// WithMetrics はメトリクス収集先を設定したServiceを返す。
func (s *Service) WithMetrics(m RefreshMetrics) *Service {
	return &Service{oauth: s.oauth, config: s.config, metrics: m, now: s.now}
}

// RedirectURI はOAuthコールバックのリダイレクトURIを返す。
func (s *Service) RedirectURI() string {
	return s.config.PublicSiteURL + "/auth/callback"
}

// LoginURL はOAuth認可URLを生成する。
func (s *Service) LoginURL(state string) string {
	return s.oauth.AuthorizeURL(state, s.RedirectURI())
}

// GenerateState はCSRF対策用のランダムなstate値を生成する。
func GenerateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HandleCallback は認可コードを交換し、新しいセッションを発行する。
// セッションの有効期限はここで1回だけ設定し、以後延長しない。
// フィンガープリントは発行時のリクエストメタデータにバインドする。
func (s *Service) HandleCallback(ctx context.Context, code string, meta session.RequestMeta) (*session.Record, string, error) {
	token, err := s.oauth.ExchangeCode(ctx, code, s.RedirectURI())
	if err != nil {
		return nil, "", err
	}

	user, err := s.oauth.FetchUser(ctx, token.TokenType, token.AccessToken)
	if err != nil {
		return nil, "", err
	}

	now := s.now().Unix()
	uaTag, ipTag := session.Fingerprint(meta, s.config.CookieSecret)

	rec := &session.Record{
		Subject:        user.ID,
		Username:       user.Username,
		Discriminator:  user.Discriminator,
		GlobalName:     user.GlobalName,
		Avatar:         user.Avatar,
		TokenType:      token.TokenType,
		AccessToken:    token.AccessToken,
		RefreshToken:   token.RefreshToken,
		Scope:          token.Scope,
		TokenExpiresAt: now + tokenLifetime(token),
		ExpiresAt:      now + int64(s.config.SessionDays)*86400,
		FingerprintUA:  uaTag,
		FingerprintIP:  ipTag,
	}

	value, err := session.Encode(rec, s.config.CookieSecret)
	if err != nil {
		return nil, "", err
	}

	slog.Info("session issued",
		slog.String("subject", user.ID),
		slog.Int64("session_exp", rec.ExpiresAt),
	)

	return rec, value, nil
}

// defaultTokenLifetime は上流がexpires_inを省略した場合のフォールバック（秒）。
const defaultTokenLifetime = 3600

func tokenLifetime(token *discord.Token) int64 {
	if token.ExpiresIn > 0 {
		return token.ExpiresIn
	}
	return defaultTokenLifetime
}
