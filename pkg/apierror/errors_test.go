package apierror_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/capiscio/meta-issuer/pkg/apierror"
	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := apierror.NotFound("group: %s", "Verified Age")

	assert.ErrorIs(t, err, apierror.ErrNotFound)
	assert.NotErrorIs(t, err, apierror.ErrAlreadyExists)
	assert.Equal(t, "NOT_FOUND: group: Verified Age", err.Error())
}

func TestWrappedCauseIsReachable(t *testing.T) {
	cause := errors.New("disk on fire")
	err := fmt.Errorf("loading: %w", apierror.Internal("decode group record", cause))

	assert.ErrorIs(t, err, apierror.ErrInternal)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, apierror.CodeInternal, apierror.GetErrorCode(err))
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, "", apierror.GetErrorCode(nil))
	assert.Equal(t, apierror.CodeInternal, apierror.GetErrorCode(errors.New("plain")))
	assert.Equal(t, apierror.CodeSignatureNotFound, apierror.GetErrorCode(apierror.ErrSignatureNotFound))
}

func TestHTTPStatus(t *testing.T) {
	tests := map[string]int{
		apierror.CodeNotAuthenticated:          http.StatusUnauthorized,
		apierror.CodeNotAuthorized:             http.StatusForbidden,
		apierror.CodeAlreadyExists:             http.StatusConflict,
		apierror.CodeNotFound:                  http.StatusNotFound,
		apierror.CodeInvalidIDAlias:            http.StatusUnauthorized,
		apierror.CodeUnsupportedCredentialSpec: http.StatusBadRequest,
		apierror.CodeUnauthorizedSubject:       http.StatusForbidden,
		apierror.CodeSignatureNotFound:         http.StatusNotFound,
		apierror.CodeInvalidArgument:           http.StatusBadRequest,
		apierror.CodeInternal:                  http.StatusInternalServerError,
		apierror.CodeCredentialMalformed:       http.StatusBadRequest,
		apierror.CodeCredentialClaimsInvalid:   http.StatusBadRequest,
		apierror.CodeCredentialKeyMismatch:     http.StatusUnauthorized,
		apierror.CodeCredentialExpired:         http.StatusUnauthorized,
		apierror.CodeCredentialRootMismatch:    http.StatusUnauthorized,
		"SOMETHING_ELSE":                       http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, apierror.HTTPStatus(code), code)
	}
}

func TestFromCode(t *testing.T) {
	err := apierror.FromCode("", "boom")
	assert.ErrorIs(t, err, apierror.ErrInternal)

	err = apierror.FromCode(apierror.CodeUnauthorizedSubject, "nope")
	assert.ErrorIs(t, err, apierror.ErrUnauthorizedSubject)
}
