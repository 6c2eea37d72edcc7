package session

import "strings"

// fingerprintHexLen はフィンガープリントタグのhex文字数（8バイト相当）。
const fingerprintHexLen = 16

// Fingerprint はリクエストメタデータから短い非可逆トークンのペアを導出する。
// uaTagはUser-Agent文字列、ipTagはクライアントIPの粗いプレフィックスを
// 鍵付きハッシュして切り詰めたもの。同一入力・同一シークレットに対して決定的。
// IPが取得できない場合、ipTagは空になる（そのディメンションのバインドはスキップ）。
func Fingerprint(meta RequestMeta, secret string) (uaTag, ipTag string) {
	uaTag = tag(meta.UserAgent, secret)

	if prefix := ipPrefix(meta.ClientIP); prefix != "" {
		ipTag = tag(prefix, secret)
	}

	return uaTag, ipTag
}

// ipPrefix はクライアントIPから粗いネットワークプレフィックスを取り出す。
// IPv4は先頭2オクテット、IPv6は先頭2グループ。/16近傍にバインドすることで
// モバイル回線やキャリアNATによるIP変動を許容しつつ、別ネットワークからの
// セッション窃取は検出できる。
func ipPrefix(ip string) string {
	if ip == "" {
		return ""
	}
	if strings.Contains(ip, ".") {
		parts := strings.Split(ip, ".")
		if len(parts) < 2 {
			return ""
		}
		return parts[0] + "." + parts[1]
	}
	if strings.Contains(ip, ":") {
		parts := strings.Split(ip, ":")
		if len(parts) < 2 {
			return ""
		}
		return parts[0] + ":" + parts[1]
	}
	return ""
}

// tag は入力をHMACして先頭16hex文字に切り詰める。
func tag(input, secret string) string {
	return Sign([]byte(input), secret)[:fingerprintHexLen]
}
