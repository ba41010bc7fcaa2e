package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/release-engineering/retasc/internal/orchestrator"
	"github.com/release-engineering/retasc/internal/repo"
)

// ErrorCode — машиночитаемый код ошибки в теле ответа.
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeUnavailable   ErrorCode = "UNAVAILABLE"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// errorCodes сопоставляет HTTP-статус коду ошибки.
var errorCodes = map[int]ErrorCode{
	http.StatusBadRequest:          ErrCodeBadRequest,
	http.StatusNotFound:            ErrCodeNotFound,
	http.StatusConflict:            ErrCodeConflict,
	http.StatusServiceUnavailable:  ErrCodeUnavailable,
	http.StatusInternalServerError: ErrCodeInternalError,
}

// ErrorResponse — тело ответа с ошибкой: {"error": {...}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — код и текст ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DataResponse — тело ответа с одним объектом: {"data": ...}.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — тело ответа со списком и числом элементов.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

// JSON пишет v с заданным статусом.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Success — 200 с объектом.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Accepted — 202: прогон запущен и выполняется в фоне.
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, DataResponse{Data: data})
}

// List — 200 со списком.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error пишет ошибку; код берётся по статусу.
func Error(w http.ResponseWriter, status int, message string) {
	code, ok := errorCodes[status]
	if !ok {
		code = ErrCodeInternalError
	}
	JSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// BadRequest — 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// InternalError логирует err и отвечает 500 без подробностей.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal server error")
}

// HandleRunError отвечает на ошибку запуска или чтения истории.
// Возвращает false, если err == nil и ответ ещё не записан.
func HandleRunError(w http.ResponseWriter, logger *slog.Logger, err error, notFoundMsg string) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, repo.ErrNotFound):
		Error(w, http.StatusNotFound, notFoundMsg)
	case errors.Is(err, orchestrator.ErrRunInProgress):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrNotLeader):
		Error(w, http.StatusServiceUnavailable, err.Error())
	default:
		InternalError(w, logger, err)
	}
	return true
}
