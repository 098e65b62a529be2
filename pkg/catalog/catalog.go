// Package catalog is the closed registry of supported credential types.
//
// Each type carries its required argument shape and the comparison policy the
// authorization engine applies between a requested spec and a stored claim.
// Adding a type is a single edit to the descriptors table.
package catalog

// Credential type names.
const (
	TypeVerifiedResidence  = "VerifiedResidence"
	TypeVerifiedAge        = "VerifiedAge"
	TypeVerifiedEmployment = "VerifiedEmployment"
	TypeVerifiedHumanity   = "VerifiedHumanity"
)

// OwnerArgument is the routing pseudo-argument naming the group owner.
// It is never counted toward a type's required arguments.
const OwnerArgument = "owner"

// PolicyKind selects how a requested spec is compared against a stored claim.
type PolicyKind int

const (
	// Equality requires the stored and requested arguments to be identical.
	Equality PolicyKind = iota
	// NumericAtLeast authorizes a request whose integer argument is at most the stored one.
	NumericAtLeast
)

func (k PolicyKind) String() string {
	switch k {
	case Equality:
		return "Equality"
	case NumericAtLeast:
		return "NumericAtLeast"
	default:
		return "unknown"
	}
}

// Policy is a comparison policy. Arg names the compared argument for NumericAtLeast.
type Policy struct {
	Kind PolicyKind
	Arg  string
}

// Param is a required argument.
type Param struct {
	Name string
	Kind Kind
}

// Descriptor is a static catalog entry.
type Descriptor struct {
	Type      string
	GroupName string
	Required  []Param
	Policy    Policy

	// Template is an example argument set shown to clients choosing a group type.
	Template Arguments
}

var descriptors = []Descriptor{
	{
		Type:      TypeVerifiedResidence,
		GroupName: "Verified Residence",
		Required:  []Param{{Name: "countryName", Kind: KindString}},
		Policy:    Policy{Kind: Equality},
		Template:  Arguments{"countryName": StringValue("<country>")},
	},
	{
		Type:      TypeVerifiedAge,
		GroupName: "Verified Age",
		Required:  []Param{{Name: "ageAtLeast", Kind: KindInt}},
		Policy:    Policy{Kind: NumericAtLeast, Arg: "ageAtLeast"},
		Template:  Arguments{"ageAtLeast": IntValue(18)},
	},
	{
		Type:      TypeVerifiedEmployment,
		GroupName: "Verified Employment",
		Required:  []Param{{Name: "employerName", Kind: KindString}},
		Policy:    Policy{Kind: Equality},
		Template:  Arguments{"employerName": StringValue("<employer>")},
	},
	{
		Type:      TypeVerifiedHumanity,
		GroupName: "Verified Humanity",
		Policy:    Policy{Kind: Equality},
	},
}

var (
	byType      = make(map[string]*Descriptor, len(descriptors))
	byGroupName = make(map[string]*Descriptor, len(descriptors))
)

func init() {
	for i := range descriptors {
		d := &descriptors[i]
		byType[d.Type] = d
		byGroupName[d.GroupName] = d
	}
}

// Lookup returns the descriptor for a credential type.
func Lookup(credentialType string) (Descriptor, bool) {
	d, ok := byType[credentialType]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// ForGroupName returns the descriptor whose group carries name.
// Groups with other names are not tied to a credential type.
func ForGroupName(name string) (Descriptor, bool) {
	d, ok := byGroupName[name]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// GroupName maps a credential type to the name of the group that vouches for it.
func GroupName(credentialType string) (string, bool) {
	d, ok := byType[credentialType]
	if !ok {
		return "", false
	}
	return d.GroupName, true
}

// GroupType pairs a group name with a template spec of its credential type.
type GroupType struct {
	GroupName      string `json:"group_name"`
	CredentialSpec Spec   `json:"credential_spec"`
}

// GroupTypes lists every supported group type in catalog order.
func GroupTypes() []GroupType {
	out := make([]GroupType, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, GroupType{
			GroupName:      d.GroupName,
			CredentialSpec: Spec{CredentialType: d.Type, Arguments: d.Template.Clone()},
		})
	}
	return out
}
