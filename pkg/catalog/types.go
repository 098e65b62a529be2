package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Kind is the variant of an ArgumentValue.
type Kind int

const (
	// KindString marks a string-valued argument.
	KindString Kind = iota
	// KindInt marks a 32-bit integer argument.
	KindInt
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindInt:
		return "Int"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// ArgumentValue is a tagged union of String or Int.
// The zero value is the empty string.
type ArgumentValue struct {
	kind Kind
	str  string
	num  int32
}

// StringValue returns a String argument.
func StringValue(s string) ArgumentValue {
	return ArgumentValue{kind: KindString, str: s}
}

// IntValue returns an Int argument.
func IntValue(n int32) ArgumentValue {
	return ArgumentValue{kind: KindInt, num: n}
}

// Kind returns the variant.
func (v ArgumentValue) Kind() Kind { return v.kind }

// AsString returns the string payload and whether v is a String.
func (v ArgumentValue) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

// AsInt returns the integer payload and whether v is an Int.
func (v ArgumentValue) AsInt() (int32, bool) {
	return v.num, v.kind == KindInt
}

// String renders the value for human-readable text such as consent messages.
func (v ArgumentValue) String() string {
	if v.kind == KindInt {
		return strconv.FormatInt(int64(v.num), 10)
	}
	return "'" + v.str + "'"
}

// Compare orders values structurally: every String sorts before every Int,
// then values of the same variant compare by payload.
func Compare(a, b ArgumentValue) int {
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}
	if a.kind == KindInt {
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		}
		return 0
	}
	return strings.Compare(a.str, b.str)
}

type wireValue struct {
	String *string `json:"String,omitempty"`
	Int    *int32  `json:"Int,omitempty"`
}

// MarshalJSON encodes as {"String":"x"} or {"Int":18}.
func (v ArgumentValue) MarshalJSON() ([]byte, error) {
	var w wireValue
	if v.kind == KindInt {
		w.Int = &v.num
	} else {
		w.String = &v.str
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes exactly one of the String or Int variants.
func (v *ArgumentValue) UnmarshalJSON(data []byte) error {
	var w wireValue
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("argument value: %w", err)
	}
	switch {
	case w.String != nil && w.Int != nil:
		return errors.New("argument value: both String and Int set")
	case w.String != nil:
		*v = StringValue(*w.String)
	case w.Int != nil:
		*v = IntValue(*w.Int)
	default:
		return errors.New("argument value: neither String nor Int set")
	}
	return nil
}

// Arguments maps argument names to values.
type Arguments map[string]ArgumentValue

// Keys returns the argument names in sorted order.
func (a Arguments) Keys() []string {
	return slices.Sorted(maps.Keys(a))
}

// Clone returns a copy of a. A nil map stays nil.
func (a Arguments) Clone() Arguments {
	return maps.Clone(a)
}

// ArgumentsEqual reports whether both maps hold the same entries.
// A nil map equals an empty one.
func ArgumentsEqual(a, b Arguments) bool {
	return maps.Equal(a, b)
}

// Spec describes what is being claimed or requested: a credential type and its arguments.
type Spec struct {
	CredentialType string    `json:"credential_type"`
	Arguments      Arguments `json:"arguments,omitempty"`
}

// Equal reports whether both specs have the same type and arguments.
func (s Spec) Equal(other Spec) bool {
	return s.CredentialType == other.CredentialType && ArgumentsEqual(s.Arguments, other.Arguments)
}

// IntArg extracts the named Int argument.
func (s Spec) IntArg(name string) (int32, error) {
	v, err := s.arg(name)
	if err != nil {
		return 0, err
	}
	n, ok := v.AsInt()
	if !ok {
		return 0, fmt.Errorf("credential spec has an unexpected value for %s-argument", name)
	}
	return n, nil
}

// StringArg extracts the named String argument.
func (s Spec) StringArg(name string) (string, error) {
	v, err := s.arg(name)
	if err != nil {
		return "", err
	}
	str, ok := v.AsString()
	if !ok {
		return "", fmt.Errorf("credential spec has an unexpected value for %s-argument", name)
	}
	return str, nil
}

func (s Spec) arg(name string) (ArgumentValue, error) {
	if len(s.Arguments) == 0 {
		return ArgumentValue{}, errors.New("credential spec has no arguments")
	}
	v, ok := s.Arguments[name]
	if !ok {
		return ArgumentValue{}, fmt.Errorf("credential spec has no %s-argument", name)
	}
	return v, nil
}
