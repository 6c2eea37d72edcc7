// Package session は自己完結型の署名付きCookieセッションを提供する。
// サーバー側にセッションストアを持たず、HMAC署名されたJSONペイロードを
// クライアント保持のCookieとして運用する。
package session

import "encoding/json"

// Record はCookieに格納されるセッションレコードを表す。
// 一度Cookieへシリアライズしたレコードはイミュータブルとして扱い、
// 変更（トークンリフレッシュ等）は必ず新しいレコードと新しいCookieを生成する。
type Record struct {
	// Subject はDiscordユーザーID。認証の主体を示す。
	Subject string `json:"sub"`

	// 表示用フィールド（非権威的）
	Username      string `json:"username,omitempty"`
	Discriminator string `json:"discriminator,omitempty"`
	GlobalName    string `json:"global_name,omitempty"`
	Avatar        string `json:"avatar,omitempty"`

	// OAuth認証情報
	TokenType    string `json:"token_type,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`

	// TokenExpiresAt はアクセストークンが無効になるepoch秒。
	TokenExpiresAt int64 `json:"token_exp,omitempty"`

	// ExpiresAt はセッション自体の有効期限（epoch秒）。
	// ログイン時に1回だけ設定し、リフレッシュでも延長しない。
	ExpiresAt int64 `json:"exp"`

	// 発行時にバインドされたフィンガープリント（空の場合はバインドなし）
	FingerprintUA string `json:"fp_ua,omitempty"`
	FingerprintIP string `json:"fp_ip,omitempty"`
}

// decodeRecord はペイロードバイト列をRecordへ厳格にデコードする。
// 必須フィールド（sub, exp）が欠けている場合は失敗する（fail closed）。
func decodeRecord(payload []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, err
	}
	if rec.Subject == "" {
		return nil, errMissingField("sub")
	}
	if rec.ExpiresAt == 0 {
		return nil, errMissingField("exp")
	}
	return &rec, nil
}

type missingFieldError string

func (e missingFieldError) Error() string {
	return "session payload missing required field: " + string(e)
}

func errMissingField(name string) error {
	return missingFieldError(name)
}
