package session

import "time"

// Validator はCookie値からセッションレコードを検証・復元する。
// リクエストごとの純粋な計算であり、リクエスト間で状態を持たない。
type Validator struct {
	secret string
	now    func() time.Time // テストで差し替え可能なクロック
}

// NewValidator はValidatorを生成する。
func NewValidator(secret string) *Validator {
	return &Validator{
		secret: secret,
		now:    time.Now,
	}
}

// WithClock はクロックを差し替えたValidatorを返す。テスト用。
func (v *Validator) WithClock(now func() time.Time) *Validator {
	return &Validator{secret: v.secret, now: now}
}

// Validate はCookie値を検証し、認証済みセッションレコードか型付き拒否を返す。
// 状態機械の終端状態:
//
//	Cookieなし          → ErrUnauthenticated
//	形式不正・署名不一致 → ErrInvalidSession
//	セッション期限切れ   → ErrSessionExpired
//	フィンガープリント相違 → ErrSessionMismatch
//	有効                → Record
//
// nowはリクエストごとに1回だけ評価する（epoch秒、整数粒度）。
func (v *Validator) Validate(raw string, meta RequestMeta) (*Record, *Error) {
	if raw == "" {
		return nil, ErrUnauthenticated
	}

	payload, sigHex, err := Decode(raw)
	if err != nil {
		return nil, ErrInvalidSession
	}

	// 署名は転送されたバイト列そのものに対して検証する
	if !Verify(payload, sigHex, v.secret) {
		return nil, ErrInvalidSession
	}

	rec, err := decodeRecord(payload)
	if err != nil {
		return nil, ErrInvalidSession
	}

	now := v.now().Unix()

	// exp == now はまだ有効（厳密に now > exp で失効）
	if now > rec.ExpiresAt {
		return nil, ErrSessionExpired
	}

	// バインド済みフィンガープリントの照合。
	// 格納値か再計算値のどちらかが空ならそのディメンションはスキップする
	// （欠落は許容、不一致は拒否）。
	uaTag, ipTag := Fingerprint(meta, v.secret)
	if rec.FingerprintUA != "" && uaTag != "" && rec.FingerprintUA != uaTag {
		return nil, ErrSessionMismatch
	}
	if rec.FingerprintIP != "" && ipTag != "" && rec.FingerprintIP != ipTag {
		return nil, ErrSessionMismatch
	}

	return rec, nil
}
