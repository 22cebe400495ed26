package analyzer

import (
	"go/token"
	"go/types"

	"golang.org/x/tools/go/ssa"
)

// unwrapSSAValue strips Phi nodes (if all edges agree) to find the
// underlying value.
func unwrapSSAValue(v ssa.Value) ssa.Value {
	return unwrapSSAValueVisited(v, make(map[*ssa.Phi]bool))
}

func unwrapSSAValueVisited(v ssa.Value, visited map[*ssa.Phi]bool) ssa.Value {
	for {
		phi, ok := v.(*ssa.Phi)
		if !ok {
			return v
		}
		resolved := resolvePhiIfUniform(phi, visited)
		if resolved == nil {
			return v
		}
		v = resolved
	}
}

// resolvePhiIfUniform returns the single unique value if all phi edges
// agree, or nil if they diverge. The visited set prevents infinite
// recursion on phi cycles in loops.
func resolvePhiIfUniform(phi *ssa.Phi, visited map[*ssa.Phi]bool) ssa.Value {
	if visited[phi] {
		return nil
	}
	visited[phi] = true

	var unique ssa.Value
	for _, edge := range phi.Edges {
		edge = unwrapSSAValueVisited(edge, visited)
		if unique == nil {
			unique = edge
		} else if unique != edge {
			return nil
		}
	}
	return unique
}

// canonicalizeBase returns a canonical SSA value for use as a lock or
// guard identity base. It follows through UnOp dereferences (token.MUL)
// in addition to Phi nodes, because when a closure captures a variable
// the SSA builder lifts it to a heap-allocated cell: each use becomes a
// separate load from the cell, producing distinct SSA values for the
// same logical variable. Following the deref to the underlying Alloc
// makes two loads from the same cell resolve to the same canonical value.
func canonicalizeBase(v ssa.Value) ssa.Value {
	v = unwrapSSAValue(v)
	seen := make(map[ssa.Value]bool)
	for {
		if seen[v] {
			return v
		}
		seen[v] = true
		unop, ok := v.(*ssa.UnOp)
		if !ok || unop.Op != token.MUL {
			return v
		}
		v = unwrapSSAValue(unop.X)
	}
}

// underlyingNamed returns the *types.Named a pointer or value type
// resolves to, or nil.
func underlyingNamed(t types.Type) *types.Named {
	switch u := t.(type) {
	case *types.Pointer:
		return underlyingNamed(u.Elem())
	case *types.Named:
		return u
	default:
		return nil
	}
}

// resolveFieldAccess extracts the struct base, field index and named
// struct type from a FieldAddr instruction. The Lock Collector does not
// call it: a lock held in a struct field is not a LockInstance (see
// DESIGN.md Open Question 6).
func resolveFieldAccess(v ssa.Value) (base ssa.Value, fieldIdx int, structType *types.Named, ok bool) {
	fa, isFA := v.(*ssa.FieldAddr)
	if !isFA {
		return nil, 0, nil, false
	}
	ptrType, isPtrType := fa.X.Type().Underlying().(*types.Pointer)
	if !isPtrType {
		return nil, 0, nil, false
	}
	named, isNamed := ptrType.Elem().(*types.Named)
	if !isNamed {
		return nil, 0, nil, false
	}
	return canonicalizeBase(fa.X), fa.Field, named, true
}

// releaseMethodNames are the method names treated as releasing a lock
// guard (DESIGN.md Open Question 1): Go has no Drop terminator, so a
// guard's release is modeled as a call to one of these methods on a
// value of LockGuardType.
var releaseMethodNames = map[string]bool{
	"Unlock":  true,
	"Release": true,
	"Drop":    true,
	"Close":   true,
}

func isReleaseCall(methodName string) bool {
	return releaseMethodNames[methodName]
}

// calleeOf returns the statically known callee of a Call/Go common, or
// nil if the call is an interface/closure dispatch with no static
// target. Indirect calls are dropped per failure kind 2 (DESIGN.md Open
// Question 7); the TODO below is carried verbatim from the original.
func calleeOf(call ssa.CallInstruction) *ssa.Function {
	// TODO: resolve dynamic dispatch through a call-graph approximation
	// instead of dropping the edge outright.
	return call.Common().StaticCallee()
}
