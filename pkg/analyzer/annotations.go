package analyzer

import (
	"go/ast"
	"go/token"
	"strconv"
	"strings"

	"golang.org/x/tools/go/ssa"
)

// Four annotation forms recognized under the //irq: namespace. Parsing is
// token-based: a malformed directive warns once and is dropped, it never
// fails the pass.
const (
	dirLockType      = "lock"
	dirLockGuardType = "lockguard"
	dirIrqAPI        = "irqapi"
	dirIsrEntry      = "isr"
)

// intrApiKind mirrors the interrupt API classification: Enable or Disable.
type intrApiKind int

const (
	intrEnable intrApiKind = iota
	intrDisable
)

// annotations holds the parsed directive set for one package.
type annotations struct {
	lockTypes      map[*ast.TypeSpec]string // TypeSpec -> display name
	lockGuardTypes map[*ast.TypeSpec]string
	irqAPIs        map[*ssa.Function]intrApiKind
	isrEntries     map[*ssa.Function]bool
}

func newAnnotations() *annotations {
	return &annotations{
		lockTypes:      make(map[*ast.TypeSpec]string),
		lockGuardTypes: make(map[*ast.TypeSpec]string),
		irqAPIs:        make(map[*ssa.Function]intrApiKind),
		isrEntries:     make(map[*ssa.Function]bool),
	}
}

// parseAnnotations scans every comment group in the package's AST files
// and attaches directives to the type or function declaration they
// immediately precede.
func (ctx *passContext) parseAnnotations() {
	ann := newAnnotations()
	fset := ctx.pass.Fset

	for _, file := range ctx.pass.Files {
		typeSpecs := collectTypeSpecs(file)
		funcDecls := collectFuncDecls(file)

		for _, cg := range file.Comments {
			for _, c := range cg.List {
				text := strings.TrimSpace(strings.TrimPrefix(c.Text, "//"))
				if !strings.HasPrefix(text, "irq:") {
					continue
				}
				directive := strings.TrimPrefix(text, "irq:")
				ctx.applyDirective(ann, fset, directive, c.Pos(), typeSpecs, funcDecls)
			}
		}
	}

	ctx.annotations = ann
}

// applyDirective dispatches a single //irq:... comment to the right
// directive handler, attaching it to the nearest following declaration.
func (ctx *passContext) applyDirective(
	ann *annotations,
	fset *token.FileSet,
	directive string,
	pos token.Pos,
	typeSpecs []*ast.TypeSpec,
	funcDecls []*ast.FuncDecl,
) {
	fields := strings.Fields(directive)
	if len(fields) == 0 {
		ctx.pass.Reportf(pos, "malformed //irq: directive: empty")
		return
	}
	kind, args := fields[0], fields[1:]

	switch kind {
	case dirLockType, dirLockGuardType:
		ts := nearestTypeSpec(fset, typeSpecs, pos)
		if ts == nil {
			ctx.pass.Reportf(pos, "//irq:%s must precede a type declaration", kind)
			return
		}
		name, ok := parseNameArg(args)
		if !ok {
			name = ts.Name.Name
		}
		if kind == dirLockType {
			ann.lockTypes[ts] = name
		} else {
			ann.lockGuardTypes[ts] = name
		}

	case dirIrqAPI:
		fd := nearestFuncDecl(fset, funcDecls, pos)
		if fd == nil {
			ctx.pass.Reportf(pos, "//irq:irqapi must precede a function declaration")
			return
		}
		fn := ctx.astFuncToSSA(fd)
		if fn == nil {
			return
		}
		kindArg, ok := parseTypeArg(args)
		if !ok {
			ctx.pass.Reportf(pos, "malformed //irq:irqapi directive: missing Type=enable|disable")
			return
		}
		ann.irqAPIs[fn] = kindArg

	case dirIsrEntry:
		fd := nearestFuncDecl(fset, funcDecls, pos)
		if fd == nil {
			ctx.pass.Reportf(pos, "//irq:isr must precede a function declaration")
			return
		}
		if fn := ctx.astFuncToSSA(fd); fn != nil {
			ann.isrEntries[fn] = true
		}

	default:
		ctx.pass.Reportf(pos, "unrecognized //irq: directive %q", kind)
	}
}

func collectTypeSpecs(file *ast.File) []*ast.TypeSpec {
	var out []*ast.TypeSpec
	for _, decl := range file.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.TYPE {
			continue
		}
		for _, spec := range gd.Specs {
			if ts, ok := spec.(*ast.TypeSpec); ok {
				out = append(out, ts)
			}
		}
	}
	return out
}

func collectFuncDecls(file *ast.File) []*ast.FuncDecl {
	var out []*ast.FuncDecl
	for _, decl := range file.Decls {
		if fd, ok := decl.(*ast.FuncDecl); ok {
			out = append(out, fd)
		}
	}
	return out
}

// nearestTypeSpec finds the first type declaration on or after the
// comment's line, however many lines later it starts.
func nearestTypeSpec(fset *token.FileSet, specs []*ast.TypeSpec, pos token.Pos) *ast.TypeSpec {
	line := fset.Position(pos).Line
	var best *ast.TypeSpec
	bestLine := 0
	for _, ts := range specs {
		tsLine := fset.Position(ts.Pos()).Line
		if tsLine >= line && (best == nil || tsLine < bestLine) {
			best, bestLine = ts, tsLine
		}
	}
	return best
}

// nearestFuncDecl finds the function declaration on, or immediately
// after, the comment's line — or the enclosing function if the comment
// sits inside a body.
func nearestFuncDecl(fset *token.FileSet, decls []*ast.FuncDecl, pos token.Pos) *ast.FuncDecl {
	line := fset.Position(pos).Line
	var best *ast.FuncDecl
	for _, fd := range decls {
		fdLine := fset.Position(fd.Pos()).Line
		if fdLine >= line && fdLine <= line+1 {
			return fd
		}
		if fd.Body != nil && pos >= fd.Pos() && pos <= fd.Body.End() {
			best = fd
		}
	}
	return best
}

// astFuncToSSA maps an AST FuncDecl to its SSA function by position matching.
func (ctx *passContext) astFuncToSSA(fd *ast.FuncDecl) *ssa.Function {
	for _, fn := range ctx.srcFuncs {
		if fn.Pos() == fd.Name.Pos() {
			return fn
		}
	}
	return nil
}

// parseNameArg looks for a Name="..." token among directive arguments.
func parseNameArg(args []string) (string, bool) {
	for _, a := range args {
		if v, ok := parseKV(a, "Name"); ok {
			unq, err := strconv.Unquote(v)
			if err != nil {
				return v, true
			}
			return unq, true
		}
	}
	return "", false
}

// parseTypeArg looks for a Type=Enable|Disable token.
func parseTypeArg(args []string) (intrApiKind, bool) {
	for _, a := range args {
		v, ok := parseKV(a, "Type")
		if !ok {
			continue
		}
		switch strings.ToLower(v) {
		case "enable":
			return intrEnable, true
		case "disable":
			return intrDisable, true
		}
	}
	return 0, false
}

func parseKV(tok, key string) (string, bool) {
	prefix := key + "="
	if !strings.HasPrefix(tok, prefix) {
		return "", false
	}
	return strings.TrimPrefix(tok, prefix), true
}

// isLockTypeNamed returns true and the display name if ts is annotated
// //irq:lock.
func (a *annotations) isLockTypeNamed(ts *ast.TypeSpec) (string, bool) {
	name, ok := a.lockTypes[ts]
	return name, ok
}

func (a *annotations) isLockGuardTypeNamed(ts *ast.TypeSpec) (string, bool) {
	name, ok := a.lockGuardTypes[ts]
	return name, ok
}
