package catalog

import (
	"strings"

	"github.com/capiscio/meta-issuer/pkg/principal"
)

// ConsentInfo is the human-readable text a holder approves before a credential is issued.
type ConsentInfo struct {
	ConsentMessage string `json:"consent_message"`
	Language       string `json:"language"`
}

// ConsentMessage renders the English consent text for a spec:
//
//	# "VerifiedAge"
//	ageAtLeast: 18
func ConsentMessage(spec Spec, owner principal.ID) (ConsentInfo, error) {
	plain, _, err := Resolve(spec, owner)
	if err != nil {
		return ConsentInfo{}, err
	}

	var b strings.Builder
	b.WriteString(`# "`)
	b.WriteString(plain.CredentialType)
	b.WriteString("\"\n")
	for _, k := range plain.Arguments.Keys() {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(plain.Arguments[k].String())
		b.WriteString("\n")
	}
	return ConsentInfo{ConsentMessage: b.String(), Language: "en"}, nil
}
