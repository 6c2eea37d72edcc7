package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Encode はレコードをJSONシリアライズし、HMAC-SHA256署名を付与した
// トランスポート値（base64url(payload) + "." + hex(signature)）を返す。
// 署名は実際に転送されるシリアライズ済みバイト列そのものに対して計算する。
func Encode(rec *Record, secret string) (string, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to serialize session record: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(payload) + "." + Sign(payload, secret), nil
}

// Sign はペイロードバイト列のHMAC-SHA256署名をhexエンコードして返す。
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Decode はトランスポート値をペイロードバイト列と署名hexに分解する。
// 検証は転送されたバイト列そのものに対して行うため、再シリアライズはしない。
// セパレータ欠落やbase64不正はエラーを返す。
func Decode(value string) (payload []byte, sigHex string, err error) {
	// 署名hexにドットは含まれないため、最後のドットで分割する
	idx := strings.LastIndex(value, ".")
	if idx <= 0 || idx == len(value)-1 {
		return nil, "", fmt.Errorf("malformed session token: missing separator")
	}

	payload, err = base64URLDecode(value[:idx])
	if err != nil {
		return nil, "", fmt.Errorf("malformed session token: %w", err)
	}

	return payload, value[idx+1:], nil
}

// Verify は署名を再計算し、定数時間比較で一致を確認する。
func Verify(payload []byte, sigHex, secret string) bool {
	given, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), given)
}

// base64URLDecode はパディングの有無どちらのbase64url入力も受け付ける。
// エンコードは常にパディングなしで行うが、経路上で付与された場合も許容する。
func base64URLDecode(s string) ([]byte, error) {
	if strings.ContainsRune(s, '=') {
		return base64.URLEncoding.DecodeString(s)
	}
	return base64.RawURLEncoding.DecodeString(s)
}
