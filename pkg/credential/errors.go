package credential

import "github.com/capiscio/meta-issuer/pkg/apierror"

// Sentinels for errors.Is. They share the issuer's error type, so callers
// can also branch on apierror.GetErrorCode.
var (
	ErrMalformed        = apierror.New(apierror.CodeCredentialMalformed, "credential structure is invalid")
	ErrKeyMismatch      = apierror.New(apierror.CodeCredentialKeyMismatch, "credential key is not the issuer key")
	ErrSignatureInvalid = apierror.New(apierror.CodeCredentialSignatureInvalid, "certified signature verification failed")
	ErrRootMismatch     = apierror.New(apierror.CodeCredentialRootMismatch, "credential is not certified by the published root")
	ErrExpired          = apierror.New(apierror.CodeCredentialExpired, "credential has expired")
	ErrNotYetValid      = apierror.New(apierror.CodeCredentialNotYetValid, "credential is not yet valid")
	ErrClaimsInvalid    = apierror.New(apierror.CodeCredentialClaimsInvalid, "credential claims missing or invalid")
)
