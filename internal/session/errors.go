package session

import (
	"fmt"
	"net/http"
)

// エラーコード。APIレスポンスとログの両方で使用する。
const (
	CodeServerMisconfigured = "server_misconfigured"
	CodeUnauthenticated     = "unauthenticated"
	CodeInvalidSession      = "invalid_session"
	CodeSessionExpired      = "session_expired"
	CodeSessionMismatch     = "session_mismatch"
	CodeMissingAccessToken  = "missing_access_token"
	CodeTokenExpired        = "token_expired"
	CodeUpstreamAuthFailure = "upstream_auth_failure"
)

// Error はセッション検証・トークンリフレッシュの失敗を表す型付きエラー。
// HTTPステータスとユーザー向けメッセージを保持する。
// Cookie不正の詳細（base64不正かMAC不一致か）は区別せず、
// オラクルにならないよう一律invalid sessionとして扱う。
type Error struct {
	Code    string
	Message string
	Status  int
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラー。検証の終端状態に対応する。
var (
	// ErrServerMisconfigured はシークレット等の設定欠落を示す。検証前にチェックする。
	ErrServerMisconfigured = &Error{
		Code:    CodeServerMisconfigured,
		Message: "server not configured",
		Status:  http.StatusInternalServerError,
	}

	// ErrUnauthenticated はセッションCookieが存在しないことを示す。
	ErrUnauthenticated = &Error{
		Code:    CodeUnauthenticated,
		Message: "unauthenticated",
		Status:  http.StatusUnauthorized,
	}

	// ErrInvalidSession はCookieの形式不正・署名不一致・ペイロード不正を示す。
	ErrInvalidSession = &Error{
		Code:    CodeInvalidSession,
		Message: "invalid session",
		Status:  http.StatusUnauthorized,
	}

	// ErrSessionExpired はセッション自体の有効期限切れを示す。
	ErrSessionExpired = &Error{
		Code:    CodeSessionExpired,
		Message: "session expired",
		Status:  http.StatusUnauthorized,
	}

	// ErrSessionMismatch はバインド済みフィンガープリントの不一致を示す。
	ErrSessionMismatch = &Error{
		Code:    CodeSessionMismatch,
		Message: "session mismatch",
		Status:  http.StatusUnauthorized,
	}

	// ErrMissingAccessToken はトークン必須のリクエストでトークン情報が
	// セッションに欠けていることを示す。
	ErrMissingAccessToken = &Error{
		Code:    CodeMissingAccessToken,
		Message: "missing access token",
		Status:  http.StatusUnauthorized,
	}

	// ErrTokenExpired はアクセストークンが失効し、リフレッシュトークンも
	// ないため再認証が必要なことを示す。
	ErrTokenExpired = &Error{
		Code:    CodeTokenExpired,
		Message: "token expired",
		Status:  http.StatusUnauthorized,
	}
)

// NewUpstreamAuthError はトークンリフレッシュの上流失敗を表すエラーを生成する。
// 上流のHTTPステータスをそのまま伝搬する。リトライは呼び出し側（ブラウザの
// 再ログイン）の責任であり、サーバー側では行わない。
func NewUpstreamAuthError(status int, detail string) *Error {
	if status < 400 {
		status = http.StatusInternalServerError
	}
	msg := "token refresh failed"
	if detail != "" {
		msg = fmt.Sprintf("token refresh failed: %s", detail)
	}
	return &Error{
		Code:    CodeUpstreamAuthFailure,
		Message: msg,
		Status:  status,
	}
}
