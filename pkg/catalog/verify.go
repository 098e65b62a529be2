package catalog

import (
	"fmt"

	"github.com/capiscio/meta-issuer/pkg/apierror"
	"github.com/capiscio/meta-issuer/pkg/principal"
)

// VerifySpec validates a plain spec (without the owner argument) against the catalog.
// Errors are UNSUPPORTED_CREDENTIAL_SPEC.
func VerifySpec(spec Spec) error {
	d, ok := byType[spec.CredentialType]
	if !ok {
		return apierror.UnsupportedSpec("credential %s is not supported", spec.CredentialType)
	}
	if got, want := len(spec.Arguments), len(d.Required); got != want {
		if got == 0 {
			return apierror.UnsupportedSpec("credential spec has wrong number of arguments, expected %d, got none", want)
		}
		return apierror.UnsupportedSpec("credential spec has wrong number of arguments, expected %d, got %d", want, got)
	}
	for _, p := range d.Required {
		var err error
		switch p.Kind {
		case KindString:
			_, err = spec.StringArg(p.Name)
		case KindInt:
			_, err = spec.IntArg(p.Name)
		default:
			err = fmt.Errorf("unknown kind %s for %s-argument", p.Kind, p.Name)
		}
		if err != nil {
			return apierror.UnsupportedSpec("%s: %v", spec.CredentialType, err)
		}
	}
	return nil
}

// SplitOwner removes the owner pseudo-argument from spec and parses it as an identity.
// The returned spec is a copy; spec itself is not modified.
func SplitOwner(spec Spec) (Spec, principal.ID, error) {
	raw, err := spec.StringArg(OwnerArgument)
	if err != nil {
		return Spec{}, principal.Anonymous, apierror.UnsupportedSpec("%v", err)
	}
	owner, err := principal.Parse(raw)
	if err != nil {
		return Spec{}, principal.Anonymous, apierror.UnsupportedSpec("bad owner %s: %v", raw, err)
	}
	plain := Spec{CredentialType: spec.CredentialType, Arguments: spec.Arguments.Clone()}
	delete(plain.Arguments, OwnerArgument)
	if len(plain.Arguments) == 0 {
		plain.Arguments = nil
	}
	return plain, owner, nil
}

// VerifyAndSplit extracts the owner argument and validates the remaining plain spec.
func VerifyAndSplit(spec Spec) (Spec, principal.ID, error) {
	plain, owner, err := SplitOwner(spec)
	if err != nil {
		return Spec{}, principal.Anonymous, err
	}
	if err := VerifySpec(plain); err != nil {
		return Spec{}, principal.Anonymous, err
	}
	return plain, owner, nil
}

// Resolve determines the group owner a request refers to. The owner may be
// passed explicitly, embedded as the owner argument, or both, in which case
// they must agree. The returned plain spec has been validated.
func Resolve(spec Spec, owner principal.ID) (Spec, principal.ID, error) {
	if _, embedded := spec.Arguments[OwnerArgument]; embedded {
		plain, embeddedOwner, err := VerifyAndSplit(spec)
		if err != nil {
			return Spec{}, principal.Anonymous, err
		}
		if !owner.IsAnonymous() && owner != embeddedOwner {
			return Spec{}, principal.Anonymous, apierror.UnsupportedSpec("owner %s does not match owner argument %s", owner, embeddedOwner)
		}
		return plain, embeddedOwner, nil
	}
	if owner.IsAnonymous() {
		return Spec{}, principal.Anonymous, apierror.UnsupportedSpec("credential spec has no owner")
	}
	if err := VerifySpec(spec); err != nil {
		return Spec{}, principal.Anonymous, err
	}
	return spec, owner, nil
}
