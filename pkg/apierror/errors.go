// Package apierror defines the error taxonomy shared by the issuer's operations.
// Every error returned across the service boundary carries one of the codes
// below so that callers can branch on it with errors.Is.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes. These are API-level codes, not HTTP status codes.
const (
	// CodeNotAuthenticated indicates an anonymous caller on an identity-bound operation.
	CodeNotAuthenticated = "NOT_AUTHENTICATED"

	// CodeNotAuthorized indicates an authenticated caller lacking rights (e.g. non-owner).
	CodeNotAuthorized = "NOT_AUTHORIZED"

	// CodeAlreadyExists indicates a uniqueness violation.
	CodeAlreadyExists = "ALREADY_EXISTS"

	// CodeNotFound indicates a missing group, member or user.
	CodeNotFound = "NOT_FOUND"

	// CodeInvalidIDAlias indicates alias verification failed against all trusted issuers.
	CodeInvalidIDAlias = "INVALID_ID_ALIAS"

	// CodeUnsupportedCredentialSpec indicates an unknown type or malformed arguments.
	CodeUnsupportedCredentialSpec = "UNSUPPORTED_CREDENTIAL_SPEC"

	// CodeUnauthorizedSubject indicates a verified identity whose claim does not authorize the request.
	CodeUnauthorizedSubject = "UNAUTHORIZED_SUBJECT"

	// CodeSignatureNotFound indicates an expired or never-prepared signature.
	// The client recovers by preparing the credential again.
	CodeSignatureNotFound = "SIGNATURE_NOT_FOUND"

	// CodeInvalidArgument indicates a malformed request body or configuration.
	CodeInvalidArgument = "INVALID_ARGUMENT"

	// CodeInternal indicates encoding, decoding or invariant failures.
	CodeInternal = "INTERNAL"
)

// Credential verification codes, returned by offline credential checks.
const (
	// CodeCredentialMalformed indicates the token or one of its segments cannot be decoded.
	CodeCredentialMalformed = "CREDENTIAL_MALFORMED"

	// CodeCredentialKeyMismatch indicates the header key is not the expected issuer key.
	CodeCredentialKeyMismatch = "CREDENTIAL_KEY_MISMATCH"

	// CodeCredentialSignatureInvalid indicates the certified signature does not verify.
	CodeCredentialSignatureInvalid = "CREDENTIAL_SIGNATURE_INVALID"

	// CodeCredentialRootMismatch indicates the certificate does not carry the published root.
	CodeCredentialRootMismatch = "CREDENTIAL_ROOT_MISMATCH"

	// CodeCredentialExpired indicates current time >= exp.
	CodeCredentialExpired = "CREDENTIAL_EXPIRED"

	// CodeCredentialNotYetValid indicates current time < nbf.
	CodeCredentialNotYetValid = "CREDENTIAL_NOT_YET_VALID"

	// CodeCredentialClaimsInvalid indicates required claims are missing or do not match.
	CodeCredentialClaimsInvalid = "CREDENTIAL_CLAIMS_INVALID"
)

// Error is an issuer error with a taxonomy code.
type Error struct {
	// Code is one of the Code* constants.
	Code string

	// Message is a human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New creates a new Error with the given code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a new Error that wraps an underlying error.
func Wrap(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is checks. Only the code is compared.
var (
	ErrNotAuthenticated          = New(CodeNotAuthenticated, "anonymous caller not permitted")
	ErrNotAuthorized             = New(CodeNotAuthorized, "caller is not authorized")
	ErrAlreadyExists             = New(CodeAlreadyExists, "already exists")
	ErrNotFound                  = New(CodeNotFound, "not found")
	ErrInvalidIDAlias            = New(CodeInvalidIDAlias, "id alias could not be verified")
	ErrUnsupportedCredentialSpec = New(CodeUnsupportedCredentialSpec, "credential spec is not supported")
	ErrUnauthorizedSubject       = New(CodeUnauthorizedSubject, "subject is not authorized")
	ErrSignatureNotFound         = New(CodeSignatureNotFound, "signature not prepared or expired")
	ErrInvalidArgument           = New(CodeInvalidArgument, "invalid argument")
	ErrInternal                  = New(CodeInternal, "internal error")
)

// NotAuthenticated returns a NOT_AUTHENTICATED error.
func NotAuthenticated(format string, args ...any) *Error {
	return New(CodeNotAuthenticated, fmt.Sprintf(format, args...))
}

// NotAuthorized returns a NOT_AUTHORIZED error.
func NotAuthorized(format string, args ...any) *Error {
	return New(CodeNotAuthorized, fmt.Sprintf(format, args...))
}

// AlreadyExists returns an ALREADY_EXISTS error.
func AlreadyExists(format string, args ...any) *Error {
	return New(CodeAlreadyExists, fmt.Sprintf(format, args...))
}

// NotFound returns a NOT_FOUND error.
func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, fmt.Sprintf(format, args...))
}

// UnsupportedSpec returns an UNSUPPORTED_CREDENTIAL_SPEC error.
func UnsupportedSpec(format string, args ...any) *Error {
	return New(CodeUnsupportedCredentialSpec, fmt.Sprintf(format, args...))
}

// UnauthorizedSubject returns an UNAUTHORIZED_SUBJECT error.
func UnauthorizedSubject(format string, args ...any) *Error {
	return New(CodeUnauthorizedSubject, fmt.Sprintf(format, args...))
}

// InvalidArgument returns an INVALID_ARGUMENT error.
func InvalidArgument(format string, args ...any) *Error {
	return New(CodeInvalidArgument, fmt.Sprintf(format, args...))
}

// Internal wraps cause as an INTERNAL error.
func Internal(message string, cause error) *Error {
	return Wrap(CodeInternal, message, cause)
}

// AsError checks if err is an Error and returns it if so.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// GetErrorCode extracts the code from an Error. Errors without a code are INTERNAL.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if apiErr, ok := AsError(err); ok {
		return apiErr.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error code to the HTTP status used by the API.
func HTTPStatus(code string) int {
	switch code {
	case CodeNotAuthenticated, CodeInvalidIDAlias:
		return http.StatusUnauthorized
	case CodeNotAuthorized, CodeUnauthorizedSubject:
		return http.StatusForbidden
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeNotFound, CodeSignatureNotFound:
		return http.StatusNotFound
	case CodeUnsupportedCredentialSpec, CodeInvalidArgument,
		CodeCredentialMalformed, CodeCredentialClaimsInvalid:
		return http.StatusBadRequest
	case CodeCredentialKeyMismatch, CodeCredentialSignatureInvalid, CodeCredentialRootMismatch,
		CodeCredentialExpired, CodeCredentialNotYetValid:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// FromCode rebuilds an Error from a code and message received over the wire.
func FromCode(code, message string) *Error {
	if code == "" {
		code = CodeInternal
	}
	return New(code, message)
}
