package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	Rate            rate.Limit    // 認証済みユーザーごとのレート（req/sec）
	Burst           int           // バーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig は1分あたりperMinuteリクエストのレート制限設定を返す。
func DefaultRateLimiterConfig(perMinute int) RateLimiterConfig {
	return RateLimiterConfig{
		Rate:            rate.Limit(float64(perMinute) / 60.0),
		Burst:           perMinute,
		CleanupInterval: 5 * time.Minute,
	}
}

// subjectLimiter はユーザーごとのレートリミッターとアクセス時刻を保持する。
type subjectLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter は認証済みユーザーごとのレート制限を管理する。
// キーはセッションのsubject（DiscordユーザーID）。
type RateLimiter struct {
	config RateLimiterConfig

	mu       sync.RWMutex
	limiters map[string]*subjectLimiter

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:   config,
		limiters: make(map[string]*subjectLimiter),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Middleware は認証済みユーザーごとのレート制限ミドルウェアを返す。
// リクエストコンテキストに認証情報が必要（SessionMiddlewareの後に配置）。
func (rl *RateLimiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := SubjectFromContext(r.Context())
			if err != nil {
				WriteError(w, http.StatusUnauthorized, "unauthenticated")
				return
			}

			limiter := rl.getOrCreateLimiter(subject)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.Rate)
				slog.Warn("rate limit exceeded",
					slog.String("subject", subject),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LimiterCount は現在管理されているリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) LimiterCount() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters)
}

// getOrCreateLimiter はユーザーのリミッターを取得または作成する。
func (rl *RateLimiter) getOrCreateLimiter(subject string) *rate.Limiter {
	rl.mu.RLock()
	sl, exists := rl.limiters[subject]
	rl.mu.RUnlock()

	if exists {
		rl.mu.Lock()
		sl.lastAccess = time.Now()
		rl.mu.Unlock()
		return sl.limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// ダブルチェック
	if sl, exists := rl.limiters[subject]; exists {
		sl.lastAccess = time.Now()
		return sl.limiter
	}

	limiter := rate.NewLimiter(rl.config.Rate, rl.config.Burst)
	rl.limiters[subject] = &subjectLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()

	rl.mu.Lock()
	for subject, sl := range rl.limiters {
		if now.Sub(sl.lastAccess) > ttl {
			delete(rl.limiters, subject)
		}
	}
	rl.mu.Unlock()
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteError(w, http.StatusTooManyRequests, "too many requests")
}
