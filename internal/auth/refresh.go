package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/chirpbot/chirpboard/internal/discord"
	"github.com/chirpbot/chirpboard/internal/session"
)

func (s *Service) recordRefresh(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordTokenRefresh(outcome)
	}
}

// Credential はEnsureFreshの結果。使用すべきアクセストークンと、
// リフレッシュが行われた場合のローテーション済みCookie値を含む。
type Credential struct {
	Record      *session.Record
	AccessToken string
	TokenType   string
	// SetCookie はローテーションされた署名済みCookie値。空ならCookie更新不要。
	SetCookie string
}

// EnsureFresh はセッションのアクセストークンが使用可能であることを保証する。
//
//   - requireTokenがfalseの場合、ネットワーク呼び出しなしでそのまま返す。
//   - トークンが失効ウィンドウ外なら無変更で返す。
//   - リフレッシュが必要ならトークンエンドポイントと同期的に交換し、
//     新しいレコードとローテーション済みCookie値を返す。リフレッシュは
//     それを起動したリクエストにローカルであり、同一ブラウザからの並行
//     リクエスト間で重複排除はしない（last-write-winsを許容する設計）。
//
// セッション自体の有効期限とフィンガープリントはリフレッシュでも変更しない。
func (s *Service) EnsureFresh(ctx context.Context, rec *session.Record, requireToken bool) (*Credential, *session.Error) {
	if !requireToken {
		return &Credential{Record: rec}, nil
	}

	if rec.TokenType == "" || rec.AccessToken == "" || rec.TokenExpiresAt == 0 {
		return nil, session.ErrMissingAccessToken
	}

	now := s.now().Unix()

	// ウィンドウ外ならまだ新鮮（now >= token_exp - window でリフレッシュ）
	if now < rec.TokenExpiresAt-int64(s.config.RefreshWindow.Seconds()) {
		return &Credential{
			Record:      rec,
			AccessToken: rec.AccessToken,
			TokenType:   rec.TokenType,
		}, nil
	}

	// リフレッシュトークンがなければ再認証以外に回復手段はない
	if rec.RefreshToken == "" {
		return nil, session.ErrTokenExpired
	}

	token, err := s.oauth.RefreshToken(ctx, rec.RefreshToken)
	if err != nil {
		s.recordRefresh("failure")
		var apiErr *discord.APIError
		if errors.As(err, &apiErr) {
			return nil, session.NewUpstreamAuthError(apiErr.StatusCode, apiErr.Body)
		}
		return nil, session.NewUpstreamAuthError(0, err.Error())
	}
	s.recordRefresh("success")

	// 変更は常に新しいレコードとして生成する（転送値のin-place書き換え禁止）。
	// sub・フィンガープリント・セッション有効期限は引き継ぐ。
	updated := *rec
	updated.AccessToken = token.AccessToken
	if token.TokenType != "" {
		updated.TokenType = token.TokenType
	}
	if token.RefreshToken != "" {
		updated.RefreshToken = token.RefreshToken
	}
	if token.Scope != "" {
		updated.Scope = token.Scope
	}
	updated.TokenExpiresAt = s.now().Unix() + tokenLifetime(token)

	value, encErr := session.Encode(&updated, s.config.CookieSecret)
	if encErr != nil {
		return nil, session.NewUpstreamAuthError(0, "failed to re-sign session")
	}

	slog.Info("access token refreshed",
		slog.String("subject", rec.Subject),
		slog.Int64("token_exp", updated.TokenExpiresAt),
	)

	return &Credential{
		Record:      &updated,
		AccessToken: updated.AccessToken,
		TokenType:   updated.TokenType,
		SetCookie:   value,
	}, nil
}
