package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/admi-n/snitch/src/config"
	"github.com/admi-n/snitch/src/internal/ai"
	"github.com/admi-n/snitch/src/internal/discovery"
	"github.com/admi-n/snitch/src/internal/handler"
	"github.com/admi-n/snitch/src/internal/jobs"
	"github.com/admi-n/snitch/src/internal/ledger"
	"github.com/admi-n/snitch/src/internal/report"
	"github.com/admi-n/snitch/src/internal/store"
)

// errMissingAPIKeyMessage 没有 provider 信息时的缺少密钥提示
const errMissingAPIKeyMessage = "Missing LLM API key"

// statusFor 把错误映射为 HTTP 状态码和对外消息
func statusFor(err error) (int, string) {
	var (
		stepErr *handler.StepError
		keyErr  *config.APIKeyError
	)
	switch {
	case errors.Is(err, discovery.ErrMissingInput),
		errors.Is(err, ai.ErrMissingInput),
		errors.Is(err, handler.ErrMissingReport),
		errors.Is(err, handler.ErrInvalidSubmitter),
		errors.Is(err, store.ErrMissingContract),
		errors.Is(err, jobs.ErrMissingInput),
		errors.Is(err, report.ErrInvalidCID),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &keyErr):
		return http.StatusInternalServerError, keyErr.Message()
	case errors.Is(err, config.ErrMissingAPIKey):
		return http.StatusInternalServerError, errMissingAPIKeyMessage
	case errors.Is(err, ai.ErrInputTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, report.ErrNoScore):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, discovery.ErrContractNotFound),
		errors.Is(err, report.ErrNotFound),
		errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, report.ErrFetchUnsupported):
		return http.StatusNotImplemented, err.Error()
	case errors.Is(err, jobs.ErrQueueFull),
		errors.Is(err, ledger.ErrDisabled):
		return http.StatusServiceUnavailable, err.Error()
	case errors.As(err, &stepErr):
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// errBadRequest 请求体无法解析
var errBadRequest = errors.New("invalid request body")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError 输出 {"error": msg}，5xx 记录错误日志
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("❌ 请求失败", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
