package elements

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/drpcorg/mirror/state"
)

// ParseLayout reads a layout written as kind letters, e.g. "iist2".
func ParseLayout(s string) ([]Kind, error) {
	layout := make([]Kind, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch k := Kind(s[i]); k {
		case KindInt, KindBool, KindString, KindTank, KindFlags8, KindFlags16, KindFlags32:
			layout = append(layout, k)
		default:
			return nil, fmt.Errorf("elements: unknown kind %q at %d", s[i], i)
		}
	}
	return layout, nil
}

// TypeSpec is a group type given as "tag=name:layout", e.g. "3=boiler:t2".
type TypeSpec struct {
	Tag    state.TypeTag
	Name   string
	Layout []Kind
}

func ParseTypeSpec(s string) (spec TypeSpec, err error) {
	tag, rest, ok := strings.Cut(s, "=")
	if !ok {
		return spec, fmt.Errorf("elements: type spec %q lacks '='", s)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(tag), 10, 32)
	if err != nil {
		return spec, fmt.Errorf("elements: type spec %q: %w", s, err)
	}
	name, layout, ok := strings.Cut(rest, ":")
	if !ok || name == "" {
		return spec, fmt.Errorf("elements: type spec %q lacks a name", s)
	}
	spec.Tag, spec.Name = state.TypeTag(n), name
	spec.Layout, err = ParseLayout(layout)
	return spec, err
}

func (spec TypeSpec) Factory() state.Factory {
	return GroupFactory(spec.Layout...)
}

// Format renders an element value for humans.
func Format(e state.Element) string {
	switch v := e.(type) {
	case *Int:
		return strconv.FormatInt(v.Value, 10)
	case *Bool:
		return strconv.FormatBool(v.Value)
	case *String:
		return strconv.Quote(v.Value)
	case *Flags:
		return fmt.Sprintf("%0*b", int(v.bits), v.value)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprintf("%T", e)
}
