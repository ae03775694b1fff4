package service

import "net/http"

// Code classifies a service failure for transport mapping.
type Code string

const (
	CodeNotFound             Code = "NOT_FOUND"
	CodeAuthRequired         Code = "AUTH_REQUIRED"
	CodeAuthUnknown          Code = "AUTH_UNKNOWN"
	CodeForbidden            Code = "FORBIDDEN"
	CodeBadRequest           Code = "BAD_REQUEST"
	CodeDuplicateEndorsement Code = "DUPLICATE_ENDORSEMENT"
	CodeCryptoFailure        Code = "CRYPTO_FAILURE"
	CodeStorageFailure       Code = "STORAGE_FAILURE"
)

// Error is a classified service failure. Message is safe to return to
// callers; Err carries the cause for logs.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the code to a transport status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAuthRequired, CodeAuthUnknown:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeDuplicateEndorsement:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errNotFound(msg string, err error) *Error {
	return &Error{Code: CodeNotFound, Message: msg, Err: err}
}

func errBadRequest(msg string, err error) *Error {
	return &Error{Code: CodeBadRequest, Message: msg, Err: err}
}

func errForbidden(err error) *Error {
	return &Error{Code: CodeForbidden, Message: "forbidden", Err: err}
}

func errStorage(msg string, err error) *Error {
	return &Error{Code: CodeStorageFailure, Message: msg, Err: err}
}

func errCrypto(msg string, err error) *Error {
	return &Error{Code: CodeCryptoFailure, Message: msg, Err: err}
}
