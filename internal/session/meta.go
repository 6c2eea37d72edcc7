package session

import (
	"net/http"
	"strings"
)

// RequestMeta はセッション検証とCookie属性の決定に必要な
// リクエストメタデータを保持する。
type RequestMeta struct {
	UserAgent string
	// ClientIP はX-Forwarded-Forヘッダーの先頭エントリ。ヘッダーがなければ空。
	ClientIP string
	Host     string
	// Proto はX-Forwarded-Protoヘッダーの値（"https" / "http"）。
	Proto string
}

// MetaFromRequest はHTTPリクエストからRequestMetaを抽出する。
func MetaFromRequest(r *http.Request) RequestMeta {
	meta := RequestMeta{
		UserAgent: r.Header.Get("User-Agent"),
		Host:      r.Host,
		Proto:     r.Header.Get("X-Forwarded-Proto"),
	}

	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		meta.ClientIP = strings.TrimSpace(first)
	}

	return meta
}

// IsHTTPS はリクエストがHTTPS経由で転送されてきたかどうかを返す。
func (m RequestMeta) IsHTTPS() bool {
	return m.Proto == "https"
}

// Hostname はポート番号を除いたホスト名を返す。
func (m RequestMeta) Hostname() string {
	host, _, _ := strings.Cut(m.Host, ":")
	return host
}
