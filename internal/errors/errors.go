// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	// 通用错误类型
	ErrorTypeError ErrorType = "processing_error"

	// 内容加载与校验
	ErrorTypeContentLoad       ErrorType = "content_load"
	ErrorTypeContentShape      ErrorType = "content_shape"
	ErrorTypeContentValidation ErrorType = "content_validation"

	// 引擎误用（编程错误）
	ErrorTypeNotInitialized     ErrorType = "not_initialized"
	ErrorTypeAlreadyInitialized ErrorType = "already_initialized"
	ErrorTypeNoCurrentEvent     ErrorType = "no_current_event"

	// 导航误用（对用户可恢复）
	ErrorTypeCharacterNotFound  ErrorType = "character_not_found"
	ErrorTypeEventNotFound      ErrorType = "event_not_found"
	ErrorTypeEmptyStory         ErrorType = "empty_story"
	ErrorTypeInvalidChoiceIndex ErrorType = "invalid_choice_index"
	ErrorTypeNoChoicesAvailable ErrorType = "no_choices_available"
	ErrorTypeNotAnEnding        ErrorType = "not_an_ending"

	// 通过校验但仍然损坏的内容
	ErrorTypeNextEventNotFound ErrorType = "next_event_not_found"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string   // 用户友好的错误代码
	Details []string // 聚合的明细（例如内容校验错误列表）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewContentLoadError 内容源不可达或JSON格式错误，调用方可重试
func NewContentLoadError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeContentLoad, message, originalError)
}

// NewContentShapeError 内容结构类型错误（例如不是数组）
func NewContentShapeError(message string) *AppError {
	return NewAppError(ErrorTypeContentShape, message, nil)
}

// NewContentValidationError 聚合的内容完整性错误，明细原样保留
func NewContentValidationError(details []string) *AppError {
	err := NewAppError(ErrorTypeContentValidation,
		fmt.Sprintf("内容校验失败，共 %d 处错误", len(details)), nil)
	err.Details = append([]string(nil), details...)
	return err
}

// NewNotInitializedError 引擎尚未初始化
func NewNotInitializedError() *AppError {
	return NewAppError(ErrorTypeNotInitialized, "故事引擎尚未初始化", nil)
}

// NewAlreadyInitializedError 引擎重复初始化
func NewAlreadyInitializedError() *AppError {
	return NewAppError(ErrorTypeAlreadyInitialized, "故事引擎已初始化", nil)
}

// NewNoCurrentEventError 当前没有所在事件
func NewNoCurrentEventError() *AppError {
	return NewAppError(ErrorTypeNoCurrentEvent, "当前没有进行中的事件", nil)
}

// NewCharacterNotFoundError 角色不存在
func NewCharacterNotFoundError(characterID string) *AppError {
	return NewAppError(ErrorTypeCharacterNotFound, fmt.Sprintf("角色不存在: %s", characterID), nil)
}

// NewEventNotFoundError 事件不存在
func NewEventNotFoundError(characterID, eventID string) *AppError {
	return NewAppError(ErrorTypeEventNotFound,
		fmt.Sprintf("事件不存在: %s (角色 %s)", eventID, characterID), nil)
}

// NewEmptyStoryError 角色没有任何事件
func NewEmptyStoryError(characterID string) *AppError {
	return NewAppError(ErrorTypeEmptyStory, fmt.Sprintf("角色没有故事事件: %s", characterID), nil)
}

// NewInvalidChoiceIndexError 选项索引越界
func NewInvalidChoiceIndexError(index, count int) *AppError {
	return NewAppError(ErrorTypeInvalidChoiceIndex,
		fmt.Sprintf("无效的选项索引: %d (共 %d 个选项)", index, count), nil)
}

// NewNoChoicesAvailableError 当前事件没有选项
func NewNoChoicesAvailableError(eventID string) *AppError {
	return NewAppError(ErrorTypeNoChoicesAvailable, fmt.Sprintf("当前事件没有可用选项: %s", eventID), nil)
}

// NewNotAnEndingError 当前事件不是结局
func NewNotAnEndingError(eventID string) *AppError {
	return NewAppError(ErrorTypeNotAnEnding, fmt.Sprintf("当前事件不是结局: %s", eventID), nil)
}

// NewNextEventNotFoundError 选项指向的事件不存在
func NewNextEventNotFoundError(characterID, next string) *AppError {
	return NewAppError(ErrorTypeNextEventNotFound,
		fmt.Sprintf("下一个事件不存在: %s (角色 %s)", next, characterID), nil)
}

// TypeOf 返回错误链中第一个 AppError 的类型
func TypeOf(err error) (ErrorType, bool) {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type, true
	}
	return "", false
}

// IsType 检查错误链中是否包含指定类型的 AppError
func IsType(err error, errType ErrorType) bool {
	t, ok := TypeOf(err)
	return ok && t == errType
}

// IsNotFoundError 检查是否为未找到错误（含角色、事件）
func IsNotFoundError(err error) bool {
	t, ok := TypeOf(err)
	if !ok {
		return false
	}
	return t == ErrorTypeCharacterNotFound || t == ErrorTypeEventNotFound
}

// IsContentLoadError 检查是否为内容加载错误
func IsContentLoadError(err error) bool {
	return IsType(err, ErrorTypeContentLoad)
}

// IsContentValidationError 检查是否为内容校验错误
func IsContentValidationError(err error) bool {
	return IsType(err, ErrorTypeContentValidation)
}

// ValidationDetails 取出内容校验错误明细
func ValidationDetails(err error) []string {
	var appError *AppError
	if errors.As(err, &appError) && appError.Type == ErrorTypeContentValidation {
		return appError.Details
	}
	return nil
}

// IsNavigationError 导航误用，可作为“无法执行”提示给用户
func IsNavigationError(err error) bool {
	t, ok := TypeOf(err)
	if !ok {
		return false
	}
	switch t {
	case ErrorTypeCharacterNotFound, ErrorTypeEventNotFound, ErrorTypeEmptyStory,
		ErrorTypeInvalidChoiceIndex, ErrorTypeNoChoicesAvailable, ErrorTypeNotAnEnding:
		return true
	}
	return false
}

// IsMisuseError 引擎误用（编程错误）
func IsMisuseError(err error) bool {
	t, ok := TypeOf(err)
	if !ok {
		return false
	}
	return t == ErrorTypeNotInitialized || t == ErrorTypeAlreadyInitialized || t == ErrorTypeNoCurrentEvent
}

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeContentLoad:
		return "CONTENT_LOAD_FAILED"
	case ErrorTypeContentShape:
		return "CONTENT_SHAPE_INVALID"
	case ErrorTypeContentValidation:
		return "CONTENT_VALIDATION_FAILED"
	case ErrorTypeNotInitialized:
		return "NOT_INITIALIZED"
	case ErrorTypeAlreadyInitialized:
		return "ALREADY_INITIALIZED"
	case ErrorTypeNoCurrentEvent:
		return "NO_CURRENT_EVENT"
	case ErrorTypeCharacterNotFound:
		return "CHARACTER_NOT_FOUND"
	case ErrorTypeEventNotFound:
		return "EVENT_NOT_FOUND"
	case ErrorTypeEmptyStory:
		return "EMPTY_STORY"
	case ErrorTypeInvalidChoiceIndex:
		return "CHOICE_INVALID"
	case ErrorTypeNoChoicesAvailable:
		return "NO_CHOICES"
	case ErrorTypeNotAnEnding:
		return "NOT_AN_ENDING"
	case ErrorTypeNextEventNotFound:
		return "NEXT_EVENT_NOT_FOUND"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError 包装现有错误
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		// 如果已经是 AppError，只更新消息
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError.Err,
			Code:    appError.Code,
			Details: appError.Details,
		}
	}

	// 否则创建新的 AppError
	return NewAppError(errType, message, err)
}
