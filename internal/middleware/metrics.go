package middleware

import (
	"net/http"

	"github.com/hitoshi/catfacts/internal/metrics"
)

// NewMetricsMiddleware はレスポンスのステータスコードを集計するミドルウェアを返す。
func NewMetricsMiddleware(collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := wrapStatus(w, r)
			next.ServeHTTP(ww, r)
			collector.RecordHTTPStatus(writtenStatus(ww))
		})
	}
}
