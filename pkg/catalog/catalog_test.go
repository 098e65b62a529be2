package catalog_test

import (
	"encoding/json"
	"testing"

	"github.com/capiscio/meta-issuer/pkg/apierror"
	"github.com/capiscio/meta-issuer/pkg/catalog"
	"github.com/capiscio/meta-issuer/pkg/principal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner = "did:web:issuer.example.com"

func TestArgumentValueJSON(t *testing.T) {
	args := catalog.Arguments{
		"ageAtLeast":  catalog.IntValue(18),
		"countryName": catalog.StringValue("Switzerland"),
	}
	data, err := json.Marshal(args)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ageAtLeast":{"Int":18},"countryName":{"String":"Switzerland"}}`, string(data))

	var decoded catalog.Arguments
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, catalog.ArgumentsEqual(args, decoded))
}

func TestArgumentValueJSONRejectsMalformed(t *testing.T) {
	for _, in := range []string{`{}`, `{"String":"a","Int":1}`, `{"Float":1.5}`, `{"Int":"x"}`} {
		var v catalog.ArgumentValue
		assert.Error(t, json.Unmarshal([]byte(in), &v), in)
	}
}

func TestCompare(t *testing.T) {
	s := catalog.StringValue("zzz")
	i := catalog.IntValue(-5)
	assert.Negative(t, catalog.Compare(s, i), "strings sort before ints")
	assert.Positive(t, catalog.Compare(i, s))
	assert.Negative(t, catalog.Compare(catalog.IntValue(1), catalog.IntValue(2)))
	assert.Zero(t, catalog.Compare(catalog.StringValue("a"), catalog.StringValue("a")))
	assert.Positive(t, catalog.Compare(catalog.StringValue("b"), catalog.StringValue("a")))
}

func TestArgumentsEqualTreatsNilAsEmpty(t *testing.T) {
	assert.True(t, catalog.ArgumentsEqual(nil, catalog.Arguments{}))
	assert.False(t, catalog.ArgumentsEqual(nil, catalog.Arguments{"a": catalog.IntValue(1)}))
	assert.False(t, catalog.ArgumentsEqual(
		catalog.Arguments{"a": catalog.IntValue(1)},
		catalog.Arguments{"a": catalog.StringValue("1")},
	))
}

func TestLookup(t *testing.T) {
	d, ok := catalog.Lookup(catalog.TypeVerifiedAge)
	require.True(t, ok)
	assert.Equal(t, "Verified Age", d.GroupName)
	assert.Equal(t, catalog.Policy{Kind: catalog.NumericAtLeast, Arg: "ageAtLeast"}, d.Policy)

	name, ok := catalog.GroupName(catalog.TypeVerifiedEmployment)
	require.True(t, ok)
	assert.Equal(t, "Verified Employment", name)

	d, ok = catalog.ForGroupName("Verified Humanity")
	require.True(t, ok)
	assert.Equal(t, catalog.TypeVerifiedHumanity, d.Type)
	assert.Empty(t, d.Required)

	_, ok = catalog.Lookup("VerifiedWizard")
	assert.False(t, ok)
	_, ok = catalog.ForGroupName("Book Club")
	assert.False(t, ok)
}

func TestGroupTypes(t *testing.T) {
	types := catalog.GroupTypes()
	require.Len(t, types, 4)
	for _, gt := range types {
		assert.NoError(t, catalog.VerifySpec(gt.CredentialSpec), gt.GroupName)
	}

	// Callers get copies.
	types[0].CredentialSpec.Arguments["countryName"] = catalog.StringValue("mutated")
	assert.Equal(t, catalog.StringValue("<country>"), catalog.GroupTypes()[0].CredentialSpec.Arguments["countryName"])
}

func TestVerifySpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    catalog.Spec
		wantErr bool
	}{
		{
			name: "age ok",
			spec: catalog.Spec{CredentialType: catalog.TypeVerifiedAge, Arguments: catalog.Arguments{"ageAtLeast": catalog.IntValue(18)}},
		},
		{
			name: "residence ok",
			spec: catalog.Spec{CredentialType: catalog.TypeVerifiedResidence, Arguments: catalog.Arguments{"countryName": catalog.StringValue("CH")}},
		},
		{
			name: "humanity without arguments",
			spec: catalog.Spec{CredentialType: catalog.TypeVerifiedHumanity},
		},
		{
			name:    "unknown type",
			spec:    catalog.Spec{CredentialType: "VerifiedWizard"},
			wantErr: true,
		},
		{
			name:    "age with wrong variant",
			spec:    catalog.Spec{CredentialType: catalog.TypeVerifiedAge, Arguments: catalog.Arguments{"ageAtLeast": catalog.StringValue("18")}},
			wantErr: true,
		},
		{
			name:    "age without arguments",
			spec:    catalog.Spec{CredentialType: catalog.TypeVerifiedAge},
			wantErr: true,
		},
		{
			name: "employment with extra argument",
			spec: catalog.Spec{CredentialType: catalog.TypeVerifiedEmployment, Arguments: catalog.Arguments{
				"employerName": catalog.StringValue("Acme"),
				"title":        catalog.StringValue("CEO"),
			}},
			wantErr: true,
		},
		{
			name:    "employment with misnamed argument",
			spec:    catalog.Spec{CredentialType: catalog.TypeVerifiedEmployment, Arguments: catalog.Arguments{"employer": catalog.StringValue("Acme")}},
			wantErr: true,
		},
		{
			name:    "humanity with an argument",
			spec:    catalog.Spec{CredentialType: catalog.TypeVerifiedHumanity, Arguments: catalog.Arguments{"x": catalog.IntValue(1)}},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := catalog.VerifySpec(tc.spec)
			if tc.wantErr {
				assert.ErrorIs(t, err, apierror.ErrUnsupportedCredentialSpec)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestUnknownTypeErrorNamesType(t *testing.T) {
	err := catalog.VerifySpec(catalog.Spec{CredentialType: "VerifiedWizard"})
	assert.ErrorContains(t, err, "VerifiedWizard")
}

func TestSplitOwner(t *testing.T) {
	spec := catalog.Spec{CredentialType: catalog.TypeVerifiedAge, Arguments: catalog.Arguments{
		"ageAtLeast": catalog.IntValue(18),
		"owner":      catalog.StringValue(owner),
	}}

	plain, got, err := catalog.SplitOwner(spec)
	require.NoError(t, err)
	assert.Equal(t, principal.ID(owner), got)
	assert.Equal(t, catalog.Arguments{"ageAtLeast": catalog.IntValue(18)}, plain.Arguments)
	assert.Contains(t, spec.Arguments, "owner", "input spec is not modified")

	_, _, err = catalog.SplitOwner(catalog.Spec{CredentialType: catalog.TypeVerifiedHumanity})
	assert.ErrorIs(t, err, apierror.ErrUnsupportedCredentialSpec)

	_, _, err = catalog.SplitOwner(catalog.Spec{CredentialType: catalog.TypeVerifiedHumanity, Arguments: catalog.Arguments{
		"owner": catalog.IntValue(3),
	}})
	assert.ErrorIs(t, err, apierror.ErrUnsupportedCredentialSpec)

	_, _, err = catalog.SplitOwner(catalog.Spec{CredentialType: catalog.TypeVerifiedHumanity, Arguments: catalog.Arguments{
		"owner": catalog.StringValue("not-a-did"),
	}})
	assert.ErrorContains(t, err, "bad owner")
}

func TestVerifyAndSplitHumanity(t *testing.T) {
	plain, got, err := catalog.VerifyAndSplit(catalog.Spec{CredentialType: catalog.TypeVerifiedHumanity, Arguments: catalog.Arguments{
		"owner": catalog.StringValue(owner),
	}})
	require.NoError(t, err)
	assert.Equal(t, principal.ID(owner), got)
	assert.Nil(t, plain.Arguments)
}

func TestResolve(t *testing.T) {
	age := catalog.Arguments{"ageAtLeast": catalog.IntValue(18)}
	embedded := catalog.Spec{CredentialType: catalog.TypeVerifiedAge, Arguments: catalog.Arguments{
		"ageAtLeast": catalog.IntValue(18),
		"owner":      catalog.StringValue(owner),
	}}
	explicit := catalog.Spec{CredentialType: catalog.TypeVerifiedAge, Arguments: age}

	t.Run("explicit owner", func(t *testing.T) {
		plain, got, err := catalog.Resolve(explicit, owner)
		require.NoError(t, err)
		assert.Equal(t, principal.ID(owner), got)
		assert.Equal(t, age, plain.Arguments)
	})

	t.Run("embedded owner", func(t *testing.T) {
		plain, got, err := catalog.Resolve(embedded, principal.Anonymous)
		require.NoError(t, err)
		assert.Equal(t, principal.ID(owner), got)
		assert.Equal(t, age, plain.Arguments)
	})

	t.Run("both agree", func(t *testing.T) {
		_, got, err := catalog.Resolve(embedded, owner)
		require.NoError(t, err)
		assert.Equal(t, principal.ID(owner), got)
	})

	t.Run("both disagree", func(t *testing.T) {
		_, _, err := catalog.Resolve(embedded, "did:web:other.example.com")
		assert.ErrorIs(t, err, apierror.ErrUnsupportedCredentialSpec)
	})

	t.Run("no owner", func(t *testing.T) {
		_, _, err := catalog.Resolve(explicit, principal.Anonymous)
		assert.ErrorIs(t, err, apierror.ErrUnsupportedCredentialSpec)
	})

	t.Run("invalid plain spec", func(t *testing.T) {
		_, _, err := catalog.Resolve(catalog.Spec{CredentialType: catalog.TypeVerifiedAge}, owner)
		assert.ErrorIs(t, err, apierror.ErrUnsupportedCredentialSpec)
	})
}

func TestConsentMessage(t *testing.T) {
	info, err := catalog.ConsentMessage(catalog.Spec{
		CredentialType: catalog.TypeVerifiedEmployment,
		Arguments: catalog.Arguments{
			"employerName": catalog.StringValue("Acme"),
			"owner":        catalog.StringValue(owner),
		},
	}, principal.Anonymous)
	require.NoError(t, err)
	assert.Equal(t, "en", info.Language)
	assert.Equal(t, "# \"VerifiedEmployment\"\nemployerName: 'Acme'\n", info.ConsentMessage)

	info, err = catalog.ConsentMessage(catalog.Spec{
		CredentialType: catalog.TypeVerifiedAge,
		Arguments:      catalog.Arguments{"ageAtLeast": catalog.IntValue(18)},
	}, owner)
	require.NoError(t, err)
	assert.Equal(t, "# \"VerifiedAge\"\nageAtLeast: 18\n", info.ConsentMessage)

	_, err = catalog.ConsentMessage(catalog.Spec{CredentialType: "VerifiedWizard"}, owner)
	assert.ErrorIs(t, err, apierror.ErrUnsupportedCredentialSpec)
}
