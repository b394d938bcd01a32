// Package errors defines the bot's error taxonomy and the central error handler.
package errors

import (
	"fmt"
	"sort"
	"strings"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error codes.
const (
	CodeValidation   = "E100"
	CodeAuth         = "E110"
	CodeSubscription = "E120"
	CodeDatabase     = "E200"
	CodeExternalAPI  = "E300"
	CodeNotFound     = "E310"
	CodeState        = "E400"
	CodeRateLimit    = "E500"
)

type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	// Fields carries per-field validation messages keyed by the JSON field name.
	Fields map[string]string
	cause  error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:        CodeValidation,
		Message:     msg,
		UserMessage: fmt.Sprintf("Неверный формат данных. %s", msg),
		Severity:    SeverityLow,
	}
}

// NewFieldsError reports form validation failures. Fields maps the field name to its message.
func NewFieldsError(fields map[string]string) *AppError {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	return &AppError{
		Code:        CodeValidation,
		Message:     "validation failed: " + strings.Join(names, ", "),
		UserMessage: "Проверьте заполнение формы",
		Severity:    SeverityLow,
		Fields:      fields,
	}
}

// NewAuthError means the backend rejected the token. The session must be cleared.
func NewAuthError(cause error) *AppError {
	return &AppError{
		Code:        CodeAuth,
		Message:     "authentication required",
		UserMessage: "Сессия истекла. Нажмите /start, чтобы войти снова",
		Severity:    SeverityLow,
		cause:       cause,
	}
}

func NewSubscriptionError() *AppError {
	return &AppError{
		Code:        CodeSubscription,
		Message:     "subscription inactive",
		UserMessage: "Подписка не активна. Оформите подписку, чтобы открыть библиотеку",
		Severity:    SeverityLow,
	}
}

func NewDatabaseError(cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Code:        CodeDatabase,
		Message:     fmt.Sprintf("Database error: %s", underlyingMsg),
		UserMessage: "Временная проблема, попробуйте позже",
		Severity:    SeverityHigh,
		Retryable:   true,
		cause:       cause,
	}
}

func NewExternalAPIError(apiName string, cause error) *AppError {
	msg := fmt.Sprintf("External API error: %s", apiName)
	if cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, cause.Error())
	}

	return &AppError{
		Code:        CodeExternalAPI,
		Message:     msg,
		UserMessage: "Сервис временно недоступен",
		Severity:    SeverityMedium,
		Retryable:   true,
		cause:       cause,
	}
}

func NewNotFoundError(what string) *AppError {
	return &AppError{
		Code:        CodeNotFound,
		Message:     fmt.Sprintf("%s not found", what),
		UserMessage: "Ничего не найдено",
		Severity:    SeverityLow,
	}
}

func NewStateError(msg string) *AppError {
	return &AppError{
		Code:        CodeState,
		Message:     msg,
		UserMessage: "Операция невозможна в текущем состоянии",
		Severity:    SeverityMedium,
	}
}

func NewRateLimitError(retryAfter int) *AppError {
	return &AppError{
		Code:        CodeRateLimit,
		Message:     fmt.Sprintf("Rate limit exceeded: retry after %d seconds", retryAfter),
		UserMessage: fmt.Sprintf("Слишком много запросов. Попробуйте через %d секунд", retryAfter),
		Severity:    SeverityLow,
	}
}

// HasCode reports whether err wraps an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if As(err, &appErr) && appErr != nil {
		return appErr.Code == code
	}
	return false
}
