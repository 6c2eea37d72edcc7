package session

import (
	"net/http"
	"strings"
)

const (
	// CookieName はセッションCookieの名前。
	CookieName = "chirp_session"
	// StateCookieName はOAuthリダイレクトのCSRF対策に使うstate Cookieの名前。
	StateCookieName = "chirp_oauth_state"

	// stateCookieMaxAge はstate Cookieの有効期間（秒）。
	stateCookieMaxAge = 600
)

// CookieDomain はCookieのDomain属性を決定する。
// HTTPSかつホストがドット区切りで2ラベル以上の場合のみ、末尾2ラベルに
// スコープした値（apex + サブドメイン1階層の共有を許可）を返す。
// それ以外は空（ホストオンリーCookie）。
func CookieDomain(meta RequestMeta) string {
	if !meta.IsHTTPS() {
		return ""
	}
	hostname := meta.Hostname()
	if hostname == "" {
		return ""
	}
	parts := strings.Split(hostname, ".")
	if len(parts) < 2 {
		return ""
	}
	return "." + strings.Join(parts[len(parts)-2:], ".")
}

// NewSessionCookie は署名済みトランスポート値を保持するセッションCookieを構築する。
// SameSite=StrictとHttpOnlyを常に付与し、SecureとDomainはリクエストの
// 転送プロトコルとホストに応じて決定する。
func NewSessionCookie(value string, meta RequestMeta, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Domain:   CookieDomain(meta),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   meta.IsHTTPS(),
		SameSite: http.SameSiteStrictMode,
	}
}

// NewStateCookie はOAuthフロー開始時のstate Cookieを構築する。
// リダイレクト往復をまたぐためSameSite=Laxにする。
func NewStateCookie(state string, meta RequestMeta) *http.Cookie {
	return &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		Path:     "/",
		Domain:   CookieDomain(meta),
		MaxAge:   stateCookieMaxAge,
		HttpOnly: true,
		Secure:   meta.IsHTTPS(),
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearStateCookie はstate Cookieを削除するCookieを返す。
func ClearStateCookie(meta RequestMeta) *http.Cookie {
	c := NewStateCookie("", meta)
	c.MaxAge = -1
	return c
}

// ClearSessionCookies はセッションCookieを削除するCookie群を返す。
// Domainなしとあり（導出可能な場合）の両方で失効させ、どちらのスコープで
// 設定されたCookieもカバーする。
func ClearSessionCookies(meta RequestMeta) []*http.Cookie {
	noDomain := &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   meta.IsHTTPS(),
		SameSite: http.SameSiteStrictMode,
	}

	domain := CookieDomain(meta)
	if domain == "" {
		return []*http.Cookie{noDomain}
	}

	withDomain := &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   meta.IsHTTPS(),
		SameSite: http.SameSiteStrictMode,
	}

	return []*http.Cookie{noDomain, withDomain}
}
