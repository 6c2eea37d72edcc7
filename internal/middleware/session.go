// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chirpbot/chirpboard/internal/auth"
	"github.com/chirpbot/chirpboard/internal/session"
)

// sessionHeaderName はCookieが転送されない環境向けのフォールバックヘッダー。
const sessionHeaderName = "X-Chirp-Session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var credentialContextKey = contextKey("credential")

// TokenRefresher はセッションのアクセストークンの鮮度を保証する。
// auth.Serviceが実装する。
type TokenRefresher interface {
	EnsureFresh(ctx context.Context, rec *session.Record, requireToken bool) (*auth.Credential, *session.Error)
}

// NewSessionMiddleware はセッションCookieを検証し、必要ならアクセストークンを
// リフレッシュするミドルウェアを返す。
//
// 検証済みの認証情報をリクエストコンテキストに注入する。リフレッシュで
// Cookieがローテーションされた場合、ハンドラーが書き込む前にSet-Cookieを
// 発行する。検証・リフレッシュの失敗はエラー分類のステータスで
// 即座に応答し、ハンドラーには到達しない。
//
// requireTokenがfalseのエンドポイント（/auth/me等）はセッション検証のみ行い、
// 上流呼び出しなしで通過する。
func NewSessionMiddleware(validator *session.Validator, refresher TokenRefresher, sessionMaxAge int, requireToken bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validator == nil {
				WriteSessionError(w, session.ErrServerMisconfigured)
				return
			}

			raw := ""
			if cookie, err := r.Cookie(session.CookieName); err == nil {
				raw = cookie.Value
			}
			if raw == "" {
				raw = r.Header.Get(sessionHeaderName)
			}

			meta := session.MetaFromRequest(r)

			rec, verr := validator.Validate(raw, meta)
			if verr != nil {
				WriteSessionError(w, verr)
				return
			}

			cred, ferr := refresher.EnsureFresh(r.Context(), rec, requireToken)
			if ferr != nil {
				WriteSessionError(w, ferr)
				return
			}

			if cred.SetCookie != "" {
				http.SetCookie(w, session.NewSessionCookie(cred.SetCookie, meta, sessionMaxAge))
			}

			ctx := context.WithValue(r.Context(), credentialContextKey, cred)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CredentialFromContext はリクエストコンテキストから認証情報を取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func CredentialFromContext(ctx context.Context) (*auth.Credential, error) {
	cred, ok := ctx.Value(credentialContextKey).(*auth.Credential)
	if !ok || cred == nil {
		return nil, fmt.Errorf("credential not found in context")
	}
	return cred, nil
}

// SubjectFromContext はリクエストコンテキストから認証済みユーザーIDを取得する。
func SubjectFromContext(ctx context.Context) (string, error) {
	cred, err := CredentialFromContext(ctx)
	if err != nil {
		return "", err
	}
	return cred.Record.Subject, nil
}

// ContextWithCredential はコンテキストに認証情報を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithCredential(ctx context.Context, cred *auth.Credential) context.Context {
	return context.WithValue(ctx, credentialContextKey, cred)
}
