package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/grantflow/types"
)

// maxBodyBytes 请求体上限，文档以内联文本提交
const maxBodyBytes = 8 << 20

// StatusClientClosedRequest 客户端在响应前断开
const StatusClientClosedRequest = 499

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Kind       types.ErrorKind `json:"kind"`
	Message    string          `json:"message"`
	Dependency string          `json:"dependency,omitempty"`
	Retryable  bool            `json:"retryable,omitempty"`
	HTTPStatus int             `json:"-"`
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	// 头已写出，编码失败无法再改状态码
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入 200 成功响应
func WriteSuccess(w http.ResponseWriter, r *http.Request, data any) {
	WriteData(w, r, http.StatusOK, data)
}

// WriteData writes a success envelope with an explicit status.
func WriteData(w http.ResponseWriter, r *http.Request, status int, data any) {
	WriteJSON(w, status, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
		RequestID: requestIDOf(r),
	})
}

// WriteError 把任意错误转成统一错误响应。未分类的错误按 internal 处理，且不回显原始消息
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	info := errorInfo(err)

	if logger != nil {
		fields := []zap.Field{
			zap.String("kind", string(info.Kind)),
			zap.Int("status", info.HTTPStatus),
			zap.String("request_id", requestIDOf(r)),
			zap.Error(err),
		}
		if info.HTTPStatus >= http.StatusInternalServerError {
			logger.Error("API error", fields...)
		} else {
			logger.Info("API request rejected", fields...)
		}
	}

	WriteJSON(w, info.HTTPStatus, Response{
		Success:   false,
		Error:     info,
		Timestamp: time.Now().UTC(),
		RequestID: requestIDOf(r),
	})
}

func errorInfo(err error) *ErrorInfo {
	e, ok := types.AsError(err)
	if !ok {
		kind := types.KindOf(err)
		e = types.NewError(kind, string(kind))
	}
	status := e.HTTPStatus
	if status == 0 {
		status = HTTPStatusFor(e.Kind)
	}
	return &ErrorInfo{
		Kind:       e.Kind,
		Message:    e.Message,
		Dependency: e.Dependency,
		Retryable:  e.Retryable,
		HTTPStatus: status,
	}
}

// =============================================================================
// 🔄 错误类型到 HTTP 状态码映射
// =============================================================================

// HTTPStatusFor maps an error kind to its response status.
func HTTPStatusFor(kind types.ErrorKind) int {
	switch kind {
	// 4xx 调用方错误
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindAuthorization:
		return http.StatusForbidden
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindCancelled:
		return StatusClientClosedRequest

	// 5xx 依赖或服务端错误
	case types.KindTransient, types.KindCircuitOpen:
		return http.StatusServiceUnavailable
	case types.KindUpstreamFailure:
		return http.StatusBadGateway
	case types.KindBudgetExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 严格解码 JSON 请求体：拒绝未知字段、多余内容与超限请求体。
// 失败时已写出错误响应
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		err := types.NewValidationError("request body is empty")
		WriteError(w, r, err, logger)
		return err
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var apiErr *types.Error
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			apiErr = types.NewValidationError("request body too large").
				WithCause(err).
				WithHTTPStatus(http.StatusRequestEntityTooLarge)
		case errors.Is(err, io.EOF):
			apiErr = types.NewValidationError("request body is empty")
		default:
			apiErr = types.NewValidationError("invalid JSON body").WithCause(err)
		}
		WriteError(w, r, apiErr, logger)
		return apiErr
	}
	if decoder.More() {
		apiErr := types.NewValidationError("request body must contain a single JSON object")
		WriteError(w, r, apiErr, logger)
		return apiErr
	}
	return nil
}

// ValidateContentType 要求 application/json
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		apiErr := types.NewValidationError("Content-Type must be application/json").
			WithHTTPStatus(http.StatusUnsupportedMediaType)
		WriteError(w, r, apiErr, logger)
		return false
	}
	return true
}

func requestIDOf(r *http.Request) string {
	if r == nil {
		return ""
	}
	id, _ := types.RequestID(r.Context())
	return id
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码和响应大小
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode   int
	Written      bool
	BytesWritten int64
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	if rw, ok := w.(*ResponseWriter); ok {
		return rw
	}
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 只记录第一次写入的状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.BytesWritten += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *ResponseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
