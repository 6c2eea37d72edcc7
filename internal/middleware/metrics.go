package middleware

import "net/http"

// HTTPStatusRecorder はレスポンスのステータスコードを記録するメトリクス収集先。
// metrics.Collectorがこれを実装する。
type HTTPStatusRecorder interface {
	RecordHTTPStatus(statusCode int)
}

// NewMetricsMiddleware はレスポンスのステータスコードをメトリクスとして
// 記録するミドルウェアを返す。collectorがnilの場合は何もしない。
func NewMetricsMiddleware(collector HTTPStatusRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if collector == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			next.ServeHTTP(rec, r)
			collector.RecordHTTPStatus(rec.statusCode)
		})
	}
}
