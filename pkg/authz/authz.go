// Package authz decides whether a verified identity holds an authorized claim
// for a requested credential spec. It is the only place trust decisions are made.
package authz

import (
	"context"
	"fmt"

	"github.com/capiscio/meta-issuer/pkg/apierror"
	"github.com/capiscio/meta-issuer/pkg/catalog"
	"github.com/capiscio/meta-issuer/pkg/groups"
	"github.com/capiscio/meta-issuer/pkg/principal"
)

// MemberReader looks up a member record. *groups.Registry implements it.
type MemberReader interface {
	Member(ctx context.Context, key groups.Key, id principal.ID) (groups.Member, bool, error)
}

// VerifyPrincipalOwnsCredential returns nil only if subject is an Accepted
// member of the group that vouches for spec's type under owner, and the stored
// claim satisfies spec under the type's comparison policy. spec must be plain
// (no owner argument) and already validated.
func VerifyPrincipalOwnsCredential(ctx context.Context, reader MemberReader, subject principal.ID, spec catalog.Spec, owner principal.ID) error {
	d, ok := catalog.Lookup(spec.CredentialType)
	if !ok {
		return apierror.UnsupportedSpec("credential %s is not supported", spec.CredentialType)
	}

	m, found, err := reader.Member(ctx, groups.Key{Name: d.GroupName, Owner: owner}, subject)
	if err != nil {
		return err
	}
	if !found {
		return noCredential(subject, spec, owner)
	}

	stored := catalog.Spec{CredentialType: spec.CredentialType, Arguments: m.Arguments}
	if err := satisfies(d.Policy, spec, stored); err != nil {
		return err
	}

	if m.Status != groups.Accepted {
		return noCredential(subject, spec, owner)
	}
	return nil
}

func satisfies(p catalog.Policy, requested, stored catalog.Spec) error {
	switch p.Kind {
	case catalog.Equality:
		if !requested.Equal(stored) {
			return apierror.UnauthorizedSubject("user data doesn't match the requested spec: got %s, stored %s",
				describe(requested), describe(stored))
		}
		return nil
	case catalog.NumericAtLeast:
		want, err := requested.IntArg(p.Arg)
		if err != nil {
			return apierror.UnauthorizedSubject("%v", err)
		}
		have, err := stored.IntArg(p.Arg)
		if err != nil {
			return apierror.UnauthorizedSubject("%v", err)
		}
		if want > have {
			return apierror.UnauthorizedSubject("stored %s %d does not satisfy requested %d", p.Arg, have, want)
		}
		return nil
	default:
		return apierror.UnauthorizedSubject("no comparison policy %s", p.Kind)
	}
}

func noCredential(subject principal.ID, spec catalog.Spec, owner principal.ID) error {
	return apierror.UnauthorizedSubject("user %s has no credential [%s] from issuer %s", subject, spec.CredentialType, owner)
}

func describe(s catalog.Spec) string {
	out := s.CredentialType + "{"
	for i, k := range s.Arguments.Keys() {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s: %s", k, s.Arguments[k])
	}
	return out + "}"
}
