package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"futurehouse-gateway/internal/observability/metrics"
	"futurehouse-gateway/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// statusRecorder 捕获响应状态码，供访问日志与指标使用。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 为单个处理函数套上请求 ID、鉴权、访问日志与指标采集。
// /health 作为存活探针不做鉴权。
func (s *Server) instrument(name string, handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		if s.authToken != "" && name != "health" && !s.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error":   true,
				"status":  "error",
				"message": "缺少或无效的访问令牌",
			})
			return
		}

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		handler(recorder, r)
		elapsed := time.Since(start)

		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, elapsed)
		logger.Named("api").Info("http_request",
			slog.String("request_id", requestID),
			slog.String("handler", name),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", recorder.status),
			slog.Duration("elapsed", elapsed),
		)
	})
}

// authorized 校验 Authorization: Bearer 头，常量时间比较避免时序侧信道。
func (s *Server) authorized(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1
}
