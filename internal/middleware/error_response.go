package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hitoshi/usermigrator/internal/model"
)

// ミドルウェアが返すエラーコード
const (
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeAPIDisabled       = "API_DISABLED"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// StatusForAPIError はAPIエラーコードに対応するHTTPステータスを返す。
func StatusForAPIError(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidLegacyUser:
		return http.StatusBadRequest
	case model.ErrCodeInvalidCredentials, ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeLegacyUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeIntegrityViolation:
		return http.StatusConflict
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeAPIDisabled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteAPIError はエラーコードから決まるステータスで統一エラーレスポンスを書き込む。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	WriteErrorResponse(w, StatusForAPIError(apiErr), apiErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、利用者には一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteAPIError(w, &model.APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="usermigrator"`)
	WriteAPIError(w, &model.APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "管理トークンが無効です。",
		Category: "auth",
		Action:   "Authorizationヘッダーに正しいBearerトークンを指定してください。",
	})
}

func writeAPIDisabled(w http.ResponseWriter) {
	WriteAPIError(w, &model.APIError{
		Code:     ErrCodeAPIDisabled,
		Message:  "管理APIは無効化されています。",
		Category: "system",
		Action:   "ADMIN_TOKENを設定してサービスを再起動してください。",
	})
}

func writeRateLimitExceeded(w http.ResponseWriter, retryAfterSec int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteAPIError(w, &model.APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
	})
}
