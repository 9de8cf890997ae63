package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/TimurManjosov/contentship/internal/rules"
)

// ErrorCode is a machine-readable error code.
type ErrorCode string

const (
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
	ErrCodeBadRequest      ErrorCode = "BAD_REQUEST"
	ErrCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden       ErrorCode = "FORBIDDEN"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrCodeRequestTooLarge ErrorCode = "REQUEST_TOO_LARGE"

	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidJSON       ErrorCode = "INVALID_JSON"
	ErrCodeInvalidID         ErrorCode = "INVALID_ID"
	ErrCodeInvalidExpression ErrorCode = "INVALID_EXPRESSION"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error     string            `json:"error"`   // HTTP status text
	Message   string            `json:"message"` // human-readable description
	Code      ErrorCode         `json:"code"`
	Fields    map[string]string `json:"fields,omitempty"` // field path -> problem
	RequestID string            `json:"request_id,omitempty"`
}

func NewErrorResponse(statusCode int, code ErrorCode, message string) *ErrorResponse {
	return &ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    code,
	}
}

func (e *ErrorResponse) WithFields(fields map[string]string) *ErrorResponse {
	e.Fields = fields
	return e
}

func (e *ErrorResponse) WithRequestID(requestID string) *ErrorResponse {
	e.RequestID = requestID
	return e
}

// writeErrorResponse adds the chi request id when one is set.
func writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errResp *ErrorResponse) {
	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		errResp.RequestID = reqID
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errResp)
}

func ValidationError(w http.ResponseWriter, r *http.Request, message string, fields map[string]string) {
	writeErrorResponse(w, r, http.StatusBadRequest,
		NewErrorResponse(http.StatusBadRequest, ErrCodeValidation, message).WithFields(fields))
}

func BadRequestError(w http.ResponseWriter, r *http.Request, code ErrorCode, message string) {
	writeErrorResponse(w, r, http.StatusBadRequest, NewErrorResponse(http.StatusBadRequest, code, message))
}

func UnauthorizedError(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusUnauthorized, NewErrorResponse(http.StatusUnauthorized, ErrCodeUnauthorized, message))
}

func ForbiddenError(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusForbidden, NewErrorResponse(http.StatusForbidden, ErrCodeForbidden, message))
}

func InternalError(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusInternalServerError, NewErrorResponse(http.StatusInternalServerError, ErrCodeInternal, message))
}

func NotFoundError(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusNotFound, NewErrorResponse(http.StatusNotFound, ErrCodeNotFound, message))
}

func RequestTooLargeError(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusRequestEntityTooLarge,
		NewErrorResponse(http.StatusRequestEntityTooLarge, ErrCodeRequestTooLarge, message))
}

func RateLimitedError(w http.ResponseWriter, r *http.Request) {
	writeErrorResponse(w, r, http.StatusTooManyRequests,
		NewErrorResponse(http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded, retry later"))
}

// fieldsOf flattens a validation error into the fields map of the
// response. Errors without a field path are reported under "definition".
func fieldsOf(err error) map[string]string {
	var fe *rules.FieldError
	if errors.As(err, &fe) {
		return map[string]string{fe.Field: fe.Err.Error()}
	}
	return map[string]string{"definition": err.Error()}
}

// isValidationErr reports whether err came from definition or condition
// validation rather than from the store.
func isValidationErr(err error) bool {
	for _, sentinel := range []error{
		rules.ErrInvalidDefinition, rules.ErrInvalidCondition, rules.ErrInvalidOperator,
		rules.ErrInvalidValueType, rules.ErrInvalidExpression,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
