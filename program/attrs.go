package program

import (
	"slices"

	"github.com/gomlx/exceptions"
	"golang.org/x/exp/maps"
)

// Operation attributes form a closed set of value types: bool, int,
// float64, string and the slices []int, []float64 and []string. The closed
// set is what guarantees attributes survive serialization unchanged.

// SetAttr sets the attribute name to value. Slice values are copied. It
// panics if the value's type is outside the supported attribute types. It
// returns op to allow chaining.
func (op *OpDesc) SetAttr(name string, value any) *OpDesc {
	switch v := value.(type) {
	case bool, int, float64, string:
		op.attrs[name] = value
	case []int:
		op.attrs[name] = slices.Clone(v)
	case []float64:
		op.attrs[name] = slices.Clone(v)
	case []string:
		op.attrs[name] = slices.Clone(v)
	default:
		exceptions.Panicf("op %q: attribute %q set to unsupported type %T", op.opType, name, value)
	}
	return op
}

// HasAttr reports whether op carries the attribute name.
func (op *OpDesc) HasAttr(name string) bool {
	_, found := op.attrs[name]
	return found
}

// AttrNames returns the names of the attributes set on op, sorted.
func (op *OpDesc) AttrNames() []string {
	names := maps.Keys(op.attrs)
	slices.Sort(names)
	return names
}

// Attrs returns a copy of the attribute map, for enumeration and display.
func (op *OpDesc) Attrs() map[string]any { return maps.Clone(op.attrs) }

// Attr returns the value of the attribute name on op as type T. A missing
// attribute or a value of a different type is a contract violation and
// panics.
func Attr[T any](op *OpDesc, name string) T {
	value, found := op.attrs[name]
	if !found {
		exceptions.Panicf("op %q has no attribute %q", op.opType, name)
	}
	typed, ok := value.(T)
	if !ok {
		exceptions.Panicf("op %q: attribute %q holds a %T, accessed as %T", op.opType, name, value, typed)
	}
	return typed
}

// AttrOr returns the value of the attribute name on op as type T, or
// defaultValue if the attribute is not set. Like Attr, a set attribute of
// a different type panics.
func AttrOr[T any](op *OpDesc, name string, defaultValue T) T {
	if !op.HasAttr(name) {
		return defaultValue
	}
	return Attr[T](op, name)
}
