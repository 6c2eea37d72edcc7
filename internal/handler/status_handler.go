package handler

import (
	"net/http"

	"github.com/chirpbot/chirpboard/internal/botapi"
	"github.com/chirpbot/chirpboard/internal/cache"
	"github.com/chirpbot/chirpboard/internal/metrics"
)

// healthCacheKey はUpstreamキャッシュ上のヘルス結果のキー。
const healthCacheKey = "bot_health"

// StatusHandler はBotバックエンドのヘルス状態を返すHTTPハンドラー。
// 上流への呼び出しはUpstreamキャッシュで遮蔽される。
type StatusHandler struct {
	health    *cache.Upstream[*botapi.HealthResult]
	collector metrics.MetricsCollector
}

// NewStatusHandler はStatusHandlerを生成する。
// healthがnilの場合（Bot API未設定）は常に設定エラーを返す。
func NewStatusHandler(health *cache.Upstream[*botapi.HealthResult], collector metrics.MetricsCollector) *StatusHandler {
	return &StatusHandler{health: health, collector: collector}
}

// Health はBotバックエンドのヘルス状態を返す。認証不要。
//
// 取得失敗時は期限切れキャッシュがあればstaleフラグ付きで応答する。
// 上流の不調自体も観測対象であるため、取得に成功した限りHTTPとしては
// 200で応答し、上流のステータスはペイロードに含める。
// GET /health
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":    false,
			"error": "BOT_API_BASE_URL not set",
		})
		return
	}

	res := h.health.Get(r.Context(), healthCacheKey)

	switch {
	case res.Err != nil && res.Stale:
		h.collector.RecordHealthCacheStale()
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":       true,
			"upstream": res.Payload.Upstream,
			"status":   res.Payload.Status,
			"data":     res.Payload.Data,
			"stale":    true,
			"age_ms":   res.Age.Milliseconds(),
			"error":    res.Err.Error(),
		})
	case res.Err != nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":    false,
			"error": res.Err.Error(),
		})
	case res.FromCache:
		h.collector.RecordHealthCacheHit()
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":       true,
			"upstream": res.Payload.Upstream,
			"status":   res.Payload.Status,
			"data":     res.Payload.Data,
			"cached":   true,
			"age_ms":   res.Age.Milliseconds(),
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":       true,
			"upstream": res.Payload.Upstream,
			"status":   res.Payload.Status,
			"data":     res.Payload.Data,
			"cached":   false,
		})
	}
}
