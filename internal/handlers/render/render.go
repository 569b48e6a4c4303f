package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/authcore/internal/apperrors"
)

const (
	ValidationErrorType = "validation_failed"
	DecodingErrorType   = "decoding_failed"
	ServiceErrorType    = "service_error"
)

type Struct any

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    apperrors.Kind    `json:"code"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Message for API clients. Internal details never leak here
var messages = map[apperrors.Kind]string{
	apperrors.KindValidation:         "Request validation failed",
	apperrors.KindMissingIdentifier:  "Username or email is required",
	apperrors.KindAccountExists:      "Account with this username or email already exists",
	apperrors.KindAccountNotFound:    "Account not found",
	apperrors.KindInvalidCredentials: "Invalid credentials",
	apperrors.KindUnauthorized:       "Unauthorized",
	apperrors.KindMissingToken:       "Refresh token is required",
	apperrors.KindInvalidToken:       "Refresh token is invalid or expired",
	apperrors.KindStaleToken:         "Refresh token is used or revoked",
	apperrors.KindInternal:           "Internal server error",
}

var statuses = map[apperrors.Kind]int{
	apperrors.KindValidation:         http.StatusBadRequest,
	apperrors.KindMissingIdentifier:  http.StatusBadRequest,
	apperrors.KindAccountExists:      http.StatusConflict,
	apperrors.KindAccountNotFound:    http.StatusNotFound,
	apperrors.KindInvalidCredentials: http.StatusUnauthorized,
	apperrors.KindUnauthorized:       http.StatusUnauthorized,
	apperrors.KindMissingToken:       http.StatusUnauthorized,
	apperrors.KindInvalidToken:       http.StatusUnauthorized,
	apperrors.KindStaleToken:         http.StatusUnauthorized,
	apperrors.KindInternal:           http.StatusInternalServerError,
}

// HTTP status code for the error
func Status(err error) int {
	return statuses[apperrors.KindOf(err)]
}

func JSON(w http.ResponseWriter, data any) {
	JSONWithStatus(w, data, http.StatusOK)
}

// Render ServiceError
func ServiceError(w http.ResponseWriter, kind apperrors.Kind, message string, code int) {
	response := ErrorResponse{
		Error:   ServiceErrorType,
		Code:    kind,
		Message: message,
	}

	JSONWithStatus(w, response, code)
}

// Render any error returned by services
// Unknown errors are rendered as internal failures
func Error(w http.ResponseWriter, err error) {
	kind := apperrors.KindOf(err)
	ServiceError(w, kind, messages[kind], statuses[kind])
}

// Render json DecodeError
func DecodeError(w http.ResponseWriter, err error) {
	response := ErrorResponse{
		Error: DecodingErrorType,
		Code:  apperrors.KindValidation,
	}
	code := http.StatusBadRequest

	var typeErr *json.UnmarshalTypeError
	var sizeErr *http.MaxBytesError

	switch {
	case errors.As(err, &sizeErr):
		response.Message = fmt.Sprintf("Request body is too large (limit %d bytes)", sizeErr.Limit)
		code = http.StatusRequestEntityTooLarge
	case errors.As(err, &typeErr):
		response.Message = fmt.Sprintf("Invalid data type for field '%s'", typeErr.Field)
	default:
		response.Message = fmt.Sprintf("Failed to parse JSON: %s", err.Error())
	}

	JSONWithStatus(w, response, code)
}

// Render ValidationErrors
func ValidationErrors(w http.ResponseWriter, errs validator.ValidationErrors) {
	response := ErrorResponse{
		Error:   ValidationErrorType,
		Code:    apperrors.KindValidation,
		Message: messages[apperrors.KindValidation],
		Fields:  make(map[string]string, len(errs)),
	}

	for _, fieldError := range errs {
		var message string
		switch fieldError.Tag() {
		case "required":
			message = "This field is required"
		case "min":
			message = fmt.Sprintf("Value is too short (minimum %s)", fieldError.Param())
		case "max":
			message = fmt.Sprintf("Value is too long (maximum %s)", fieldError.Param())
		case "email":
			message = "Value is not a valid email"
		case "username":
			message = "Only latin letters, digits, '.', '_' and '-' are allowed"
		default:
			message = "Invalid value"
		}

		response.Fields[fieldError.Field()] = message
	}

	JSONWithStatus(w, response, http.StatusBadRequest)
}

// BindAndValidate decodes JSON request body into type T and validates it using struct tags.
// Error responses are written already if error returned
func BindAndValidate[T Struct](w http.ResponseWriter, r *http.Request) (T, error) {
	var value T

	err := json.NewDecoder(r.Body).Decode(&value)
	if err != nil {
		DecodeError(w, err)
		return value, err
	}

	err = validate.Struct(value)
	if err != nil {
		var errs validator.ValidationErrors
		if !errors.As(err, &errs) {
			Error(w, err)
			return value, err
		}
		ValidationErrors(w, errs)
		return value, err
	}

	return value, nil
}

// JSONWithStatus sends data as json and enforces status code
func JSONWithStatus(w http.ResponseWriter, data any, code int) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)

	if err := enc.Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}
