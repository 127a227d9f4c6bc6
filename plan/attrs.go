package plan

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/execplan/types"
)

// Graph-level attributes attach typed bookkeeping to a graph under
// well-known keys. The accessor contract is narrow: reading a key that is
// absent, or under a type other than the one it was set with, is a contract
// violation and panics.

// Well-known graph attribute keys.
const (
	// AttrVars (type GraphVars) indexes every named variable node per
	// device.
	AttrVars = "vars"

	// AttrDepVars (type GraphDepVars) holds the graph's dependency-only
	// variable nodes.
	AttrDepVars = "dep_vars"

	// AttrPrograms (type []*program.ProgramDesc) lists sub-programs attached
	// to the graph: descriptors whose operations are not (or not yet)
	// materialized as nodes.
	AttrPrograms = "programs"

	// AttrFusedVars (type FusedVars) names the variables an earlier pass
	// fused into a single buffer.
	AttrFusedVars = "fused_vars"
)

// VarTable maps a variable name to its version nodes, oldest first.
type VarTable map[string][]*VarNode

// GraphVars is the value under AttrVars: one VarTable per device.
type GraphVars []VarTable

// GraphDepVars is the value under AttrDepVars.
type GraphDepVars = types.Set[*VarNode]

// FusedVars is the value under AttrFusedVars.
type FusedVars = types.Set[string]

// SetAttr sets the graph attribute key to value, replacing any previous
// value.
func SetAttr[T any](g *Graph, key string, value T) {
	g.attrs[key] = value
}

// GetAttr returns the graph attribute key, which must have been set with
// type T: a missing key or a mismatched type panics.
func GetAttr[T any](g *Graph, key string) T {
	value, found := g.attrs[key]
	if !found {
		exceptions.Panicf("graph has no attribute %q", key)
	}
	typed, ok := value.(T)
	if !ok {
		exceptions.Panicf("graph attribute %q holds a %T, accessed as %T", key, value, typed)
	}
	return typed
}

// HasAttr reports whether the graph carries the attribute key.
func (g *Graph) HasAttr(key string) bool {
	_, found := g.attrs[key]
	return found
}

// EraseAttr removes the attribute key from the graph. Erasing a key that is
// not set is a contract violation and panics.
func (g *Graph) EraseAttr(key string) {
	if _, found := g.attrs[key]; !found {
		exceptions.Panicf("graph has no attribute %q to erase", key)
	}
	delete(g.attrs, key)
}

// CopyAttrIfExists copies the attribute key from src to dst when src carries
// it, and is a no-op otherwise. The value must have been set with type T.
func CopyAttrIfExists[T any](src, dst *Graph, key string) {
	if !src.HasAttr(key) {
		return
	}
	SetAttr(dst, key, GetAttr[T](src, key))
}
