// internal/api/error_codes.go
package api

import (
	"errors"
	"net/http"

	apperrors "github.com/Corphon/CompanionStories/internal/errors"
)

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// 内容相关错误
	ErrorContentValidationFailed = "CONTENT_VALIDATION_FAILED"

	// 导航相关错误
	ErrorCharacterNotFound = "CHARACTER_NOT_FOUND"
	ErrorEventNotFound     = "EVENT_NOT_FOUND"
	ErrorChoiceInvalid     = "CHOICE_INVALID"
	ErrorNotInitialized    = "NOT_INITIALIZED"

	// 存储相关错误
	ErrorStateNotPersisted  = "STATE_NOT_PERSISTED"
	ErrorDualChoiceNotFound = "DUAL_CHOICE_NOT_FOUND"
	ErrorMilestoneNotFound  = "MILESTONE_NOT_FOUND"
)

// statusForError 应用错误类型到HTTP状态码的映射
func statusForError(err error) (int, string) {
	var appError *apperrors.AppError
	if !errors.As(err, &appError) {
		return http.StatusInternalServerError, ErrorInternalError
	}

	code := appError.Code
	if code == "" {
		code = ErrorInternalError
	}

	switch {
	case apperrors.IsNotFoundError(err):
		return http.StatusNotFound, code
	case apperrors.IsType(err, apperrors.ErrorTypeNotInitialized), apperrors.IsContentLoadError(err):
		return http.StatusServiceUnavailable, code
	case apperrors.IsMisuseError(err), apperrors.IsType(err, apperrors.ErrorTypeNotAnEnding):
		return http.StatusConflict, code
	case apperrors.IsContentValidationError(err), apperrors.IsType(err, apperrors.ErrorTypeContentShape):
		return http.StatusUnprocessableEntity, code
	case apperrors.IsNavigationError(err):
		return http.StatusBadRequest, code
	default:
		return http.StatusInternalServerError, code
	}
}
