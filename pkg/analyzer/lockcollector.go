package analyzer

import (
	"go/ast"
	"go/types"

	"golang.org/x/tools/go/ssa"
)

// LockInstance identifies a single named lock: a package-level variable
// of a //irq:lock-annotated type.
type LockInstance struct {
	Global *ssa.Global
}

func (li LockInstance) String() string { return li.Global.String() }

// LockGuardInstance identifies a single SSA value, local to one
// function, holding a lock guard.
type LockGuardInstance struct {
	Func  *ssa.Function
	Local ssa.Value
}

// LocalLockMap maps a function's lock-guard-carrying SSA values to the
// LockInstance they guard.
type LocalLockMap map[ssa.Value]LockInstance

// GlobalLockMap is the LocalLockMap for every function in the package.
type GlobalLockMap map[*ssa.Function]LocalLockMap

// ProgramLockInfo is the Lock Collector's output, consumed by every
// later stage.
type ProgramLockInfo struct {
	LockTypes      map[*types.Named]bool
	LockGuardTypes map[*types.Named]bool
	LockInstances  []LockInstance
	LockGuards     []LockGuardInstance
	Lockmap        GlobalLockMap
}

// collectLockInfo runs the Lock Collector stage: resolve annotated lock
// and lock-guard types, find every package-level lock instance, then
// build the per-function dataflow closure from lock-guard-carrying
// locals back to the LockInstance they guard.
//
// Grounded on lock_collector.rs's LockGuardInstanceCollector /
// LockTypeCollector / LockInstanceCollector / LockMapBuilder four-stage
// pipeline.
func (ctx *passContext) collectLockInfo() *ProgramLockInfo {
	info := &ProgramLockInfo{
		LockTypes:      ctx.resolveAnnotatedTypes(ctx.annotations.lockTypes),
		LockGuardTypes: ctx.resolveAnnotatedTypes(ctx.annotations.lockGuardTypes),
		Lockmap:        make(GlobalLockMap),
	}
	ctx.importLockTypeFacts(info.LockTypes, info.LockGuardTypes)

	// 1. Lock-guard instances: every SSA value, in every function, whose
	// type is a //irq:lockguard type.
	for _, fn := range ctx.srcFuncs {
		for _, guardLocal := range collectLockGuardLocals(fn, info.LockGuardTypes) {
			info.LockGuards = append(info.LockGuards, LockGuardInstance{Func: fn, Local: guardLocal})
		}
	}

	// 2. Lock instances: package-level globals whose type is a //irq:lock
	// type. Nested-in-composite locks are not field-sensitive (DESIGN.md
	// Open Question 6): a global whose type merely contains a lock type as
	// a struct field is not itself treated as a LockInstance.
	for _, g := range ctx.packageLockGlobals(info.LockTypes) {
		info.LockInstances = append(info.LockInstances, LockInstance{Global: g})
	}

	// 3. Build the per-function LockMap by dataflow closure.
	for _, fn := range ctx.srcFuncs {
		local := buildFunctionLockMap(fn, info.LockInstances, info.LockGuards)
		if len(local) > 0 {
			ctx.setLockMapFor(info, fn, local)
		}
	}

	return info
}

func (ctx *passContext) setLockMapFor(info *ProgramLockInfo, fn *ssa.Function, m LocalLockMap) {
	info.Lockmap[fn] = m
}

// resolveAnnotatedTypes maps parsed //irq:lock/lockguard TypeSpec
// directives to their *types.Named, via the pass's TypesInfo.
func (ctx *passContext) resolveAnnotatedTypes(parsed map[*ast.TypeSpec]string) map[*types.Named]bool {
	out := make(map[*types.Named]bool)
	for ts := range parsed {
		obj, ok := ctx.pass.TypesInfo.Defs[ts.Name]
		if !ok || obj == nil {
			continue
		}
		tn, ok := obj.(*types.TypeName)
		if !ok {
			continue
		}
		named, ok := tn.Type().(*types.Named)
		if !ok {
			continue
		}
		out[named] = true
	}
	return out
}

// packageLockGlobals returns every *ssa.Global in the package whose
// element type is one of lockTypes.
func (ctx *passContext) packageLockGlobals(lockTypes map[*types.Named]bool) []*ssa.Global {
	var out []*ssa.Global
	for _, member := range ctx.ssaPkg.Members {
		g, ok := member.(*ssa.Global)
		if !ok {
			continue
		}
		ptr, ok := g.Type().(*types.Pointer)
		if !ok {
			continue
		}
		if named := underlyingNamed(ptr.Elem()); named != nil && lockTypes[named] {
			out = append(out, g)
		}
	}
	return out
}

// collectLockGuardLocals finds every SSA value produced in fn whose type
// (after stripping any pointer levels) is one of guardTypes.
func collectLockGuardLocals(fn *ssa.Function, guardTypes map[*types.Named]bool) []ssa.Value {
	var out []ssa.Value
	seen := make(map[ssa.Value]bool)
	add := func(v ssa.Value) {
		if v == nil || seen[v] {
			return
		}
		if named := underlyingNamed(v.Type()); named != nil && guardTypes[named] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, p := range fn.Params {
		add(p)
	}
	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			if v, ok := instr.(ssa.Value); ok {
				add(v)
			}
		}
	}
	for _, anon := range fn.AnonFuncs {
		out = append(out, collectLockGuardLocals(anon, guardTypes)...)
	}
	return out
}

// buildFunctionLockMap runs the LockMapBuilder dataflow closure for a
// single function: a local->local dataflow edge map is built by walking
// calls and wrapping instructions, then squashed against the set of
// known LockInstances, then filtered down to lock-guard locals only.
//
// Guard dataflow through arbitrary helper returns beyond one hop of
// "first argument" is not followed (DESIGN.md Open Question 5), matching
// lock_collector.rs's own fallback behavior.
func buildFunctionLockMap(fn *ssa.Function, instances []LockInstance, guards []LockGuardInstance) LocalLockMap {
	dataflow := make(map[ssa.Value]ssa.Value)
	lockmap := make(LocalLockMap)

	instanceByGlobal := make(map[*ssa.Global]LockInstance, len(instances))
	for _, li := range instances {
		instanceByGlobal[li.Global] = li
	}
	isGuardLocal := make(map[ssa.Value]bool)
	for _, g := range guards {
		if g.Func == fn {
			isGuardLocal[g.Local] = true
		}
	}

	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			switch v := instr.(type) {
			case *ssa.Call:
				args := v.Common().Args
				if len(args) > 0 {
					dataflow[v] = canonicalizeBase(args[0])
				}
			case *ssa.ChangeType:
				dataflow[v] = canonicalizeBase(v.X)
			case *ssa.Convert:
				dataflow[v] = canonicalizeBase(v.X)
			case *ssa.MakeInterface:
				dataflow[v] = canonicalizeBase(v.X)
			case *ssa.UnOp:
				dataflow[v] = canonicalizeBase(v.X)
			case *ssa.FieldAddr:
				dataflow[v] = canonicalizeBase(v.X)
			}

			v, ok := instr.(ssa.Value)
			if !ok {
				continue
			}
			for _, operand := range instr.Operands(nil) {
				if operand == nil || *operand == nil {
					continue
				}
				if g, ok := (*operand).(*ssa.Global); ok {
					if li, ok := instanceByGlobal[g]; ok {
						lockmap[v] = li
					}
				}
			}
		}
	}

	// Closure: follow the dataflow chain from every local to see whether
	// it ultimately resolves to a known LockInstance.
	for local := range dataflow {
		if _, ok := lockmap[local]; ok {
			continue
		}
		current := local
		visited := make(map[ssa.Value]bool)
		for {
			if visited[current] {
				break
			}
			visited[current] = true
			if li, ok := lockmap[current]; ok {
				lockmap[local] = li
				break
			}
			upstream, ok := dataflow[current]
			if !ok {
				break
			}
			current = upstream
		}
	}

	// Filter down to lock-guard locals only.
	for local := range lockmap {
		if !isGuardLocal[local] {
			delete(lockmap, local)
		}
	}

	return lockmap
}
