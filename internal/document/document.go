// Package document implements the document analyzer (C3, spec.md §4.3): it
// turns a parsed operation plus a concrete object type into an ordered,
// fragment-inlined, directive-evaluated list of fields ready for the read
// and write traversals (C5/C4) to walk. Grounded on the teacher's
// collectFields/collectFieldsImpl (internal/executor/fields.go), generalized
// from "collect for execution" to "collect for cache traversal": the same
// grouping and fragment-inlining logic, plus @defer/@_optional/@_required
// handling the teacher's executor never needed.
package document

import (
	"sync"
	"sync/atomic"

	"github.com/graphcache/graphcache/internal/language"
	"github.com/graphcache/graphcache/internal/schema"
)

// FieldNode is one response-key group of a collected selection (spec.md §3
// "the selection is analyzed field-by-field"). Multiple AST field nodes can
// land in one FieldNode when a query repeats the same response key through
// separate fragments; ASTs[0] is used for read arguments, and SubSelection
// merges every AST's nested selection set for the recursive walk.
type FieldNode struct {
	ResponseName string
	Name         string
	ASTs         []*language.Field
	Args         map[string]any

	// Optional/Required mirror the closest @_optional/@_required on this
	// field or, failing that, on an enclosing fragment (SPEC_FULL.md §2.1,
	// schema/builtin.go). Defer/DeferLabel are inherited
	// from the nearest enclosing @defer'd fragment, if any.
	Optional   bool
	Required   bool
	Defer      bool
	DeferLabel string
}

// SubSelection concatenates every AST's nested selection set, in AST order.
func (f *FieldNode) SubSelection() language.SelectionSet {
	if len(f.ASTs) == 1 {
		return f.ASTs[0].SelectionSet
	}
	var merged language.SelectionSet
	for _, ast := range f.ASTs {
		merged = append(merged, ast.SelectionSet...)
	}
	return merged
}

// fieldDef is the slice of *schema.Field information CollectFields needs:
// just enough to resolve argument defaults, kept separate from *schema.Field
// so resolveArguments doesn't need to import schema's full Field shape.
type fieldDef struct {
	argDefaults map[string]any
}

func newFieldDef(f *schema.Field) *fieldDef {
	if f == nil {
		return nil
	}
	return &fieldDef{argDefaults: ArgDefaults(f)}
}

// ArgDefaults maps f's argument names to their schema default values. The
// read/write traversals reuse it alongside internal/keying.FieldKey to prune
// default-valued arguments back out of an already-defaulted Args map.
func ArgDefaults(f *schema.Field) map[string]any {
	if f == nil {
		return nil
	}
	defaults := make(map[string]any, len(f.Arguments))
	for _, a := range f.Arguments {
		defaults[a.Name] = a.DefaultValue
	}
	return defaults
}

// LookupField finds objectType's field definition by name, or nil.
func LookupField(objectType *schema.Type, name string) *schema.Field {
	return lookupField(objectType, name)
}

// Analyzer caches per-document fragment lookups and assigns each distinct
// document a stable version number (SPEC_FULL.md §3.1 "document identity +
// version counter"): the read traversal's reference-reuse cache (C5) keys a
// previously-built result subtree by (document version, object identity) so
// two operations sharing one parsed document, over an unchanged store
// region, can hand back the exact same Go value instead of rebuilding it.
type Analyzer struct {
	fragmentIdx sync.Map // *language.QueryDocument -> map[string]*language.FragmentDefinition
	versions    sync.Map // *language.QueryDocument -> uint64
	nextVersion atomic.Uint64
}

func New() *Analyzer {
	return &Analyzer{}
}

// Version returns a stable identifier for doc, assigning a fresh one on
// first sight. Two calls with the same pointer always return the same
// value, since a parsed document never mutates after ParseQuery returns it.
func (a *Analyzer) Version(doc *language.QueryDocument) uint64 {
	if v, ok := a.versions.Load(doc); ok {
		return v.(uint64)
	}
	v := a.nextVersion.Add(1)
	actual, _ := a.versions.LoadOrStore(doc, v)
	return actual.(uint64)
}

func (a *Analyzer) fragmentsOf(doc *language.QueryDocument) map[string]*language.FragmentDefinition {
	if idx, ok := a.fragmentIdx.Load(doc); ok {
		return idx.(map[string]*language.FragmentDefinition)
	}
	idx := make(map[string]*language.FragmentDefinition, len(doc.Fragments))
	for _, f := range doc.Fragments {
		if f != nil {
			idx[f.Name] = f
		}
	}
	actual, _ := a.fragmentIdx.LoadOrStore(doc, idx)
	return actual.(map[string]*language.FragmentDefinition)
}

// deferScope threads the active @defer label, if any, down through nested
// fragment/inline-fragment collection.
type deferScope struct {
	active bool
	label  string
}

// optionalState is the effective @_optional/@_required state inherited
// through nested fragments (spec.md §4.3 "optionality propagates inward").
type optionalState int

const (
	optionalUnset optionalState = iota
	optionalYes
	requiredYes
)

// optionalScope threads the closest enclosing @_optional/@_required down
// through nested fragment/inline-fragment collection; a @_required closer to
// the field always wins over an @_optional further out.
type optionalScope struct {
	state optionalState
}

// optionalScopeFor narrows parent by whatever @_optional/@_required
// directives appear directly on this selection, with @_required taking
// precedence over @_optional at the same level.
func optionalScopeFor(directives language.DirectiveList, parent optionalScope) optionalScope {
	if directives.ForName("_required") != nil {
		return optionalScope{state: requiredYes}
	}
	if directives.ForName("_optional") != nil {
		return optionalScope{state: optionalYes}
	}
	return parent
}

// CollectFields walks selectionSet against objectType, inlining fragments,
// evaluating @skip/@include/@defer/@_optional/@_required, and grouping
// fields by response name, in selection order (spec.md §4.3).
func (a *Analyzer) CollectFields(
	doc *language.QueryDocument,
	objectType *schema.Type,
	selectionSet language.SelectionSet,
	variables map[string]any,
) []*FieldNode {
	index := make(map[string]int)
	var nodes []*FieldNode

	visited := make(map[string]bool)
	a.collect(doc, objectType, selectionSet, variables, deferScope{}, optionalScope{}, index, &nodes, visited)
	return nodes
}

func (a *Analyzer) collect(
	doc *language.QueryDocument,
	objectType *schema.Type,
	selectionSet language.SelectionSet,
	variables map[string]any,
	defer_ deferScope,
	opt optionalScope,
	index map[string]int,
	nodes *[]*FieldNode,
	visitedFragments map[string]bool,
) {
	for _, selection := range selectionSet {
		switch sel := selection.(type) {
		case *language.Field:
			if !shouldInclude(sel.Directives, variables) {
				continue
			}
			responseName := sel.Alias
			if responseName == "" {
				responseName = sel.Name
			}
			if idx, ok := index[responseName]; ok {
				(*nodes)[idx].ASTs = append((*nodes)[idx].ASTs, sel)
				continue
			}

			fdef := newFieldDef(lookupField(objectType, sel.Name))
			fieldScope := optionalScopeFor(sel.Directives, opt)
			node := &FieldNode{
				ResponseName: responseName,
				Name:         sel.Name,
				ASTs:         []*language.Field{sel},
				Args:         resolveArguments(sel.Arguments, variables, fdef),
				Optional:     fieldScope.state == optionalYes,
				Required:     fieldScope.state == requiredYes,
				Defer:        defer_.active,
				DeferLabel:   defer_.label,
			}
			index[responseName] = len(*nodes)
			*nodes = append(*nodes, node)

		case *language.InlineFragment:
			if !shouldInclude(sel.Directives, variables) {
				continue
			}
			if sel.TypeCondition != "" && !typeApplies(objectType, sel.TypeCondition) {
				continue
			}
			scope := deferScopeFor(sel.Directives, variables, defer_)
			optScope := optionalScopeFor(sel.Directives, opt)
			a.collect(doc, objectType, sel.SelectionSet, variables, scope, optScope, index, nodes, visitedFragments)

		case *language.FragmentSpread:
			if !shouldInclude(sel.Directives, variables) {
				continue
			}
			if visitedFragments[sel.Name] {
				continue
			}
			visitedFragments[sel.Name] = true

			fragmentDef := a.fragmentsOf(doc)[sel.Name]
			if fragmentDef == nil {
				continue
			}
			if fragmentDef.TypeCondition != "" && !typeApplies(objectType, fragmentDef.TypeCondition) {
				continue
			}
			if !shouldInclude(fragmentDef.Directives, variables) {
				continue
			}
			scope := deferScopeFor(sel.Directives, variables, defer_)
			optScope := optionalScopeFor(sel.Directives, opt)
			optScope = optionalScopeFor(fragmentDef.Directives, optScope)
			a.collect(doc, objectType, fragmentDef.SelectionSet, variables, scope, optScope, index, nodes, visitedFragments)
		}
	}
}

// typeApplies reports whether objectType satisfies typeCondition, either by
// direct name match or because objectType declares it as an implemented
// interface (spec.md §4.3 abstract-type handling; unions are satisfied only
// by exact name match since a concrete object never lists possible types).
func typeApplies(objectType *schema.Type, typeCondition string) bool {
	if objectType == nil {
		return true
	}
	if objectType.Name == typeCondition {
		return true
	}
	for _, iface := range objectType.Interfaces {
		if iface == typeCondition {
			return true
		}
	}
	return false
}

func lookupField(objectType *schema.Type, name string) *schema.Field {
	if objectType == nil {
		return nil
	}
	for _, f := range objectType.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func shouldInclude(directives language.DirectiveList, variables map[string]any) bool {
	if skip := directives.ForName("skip"); skip != nil {
		if v, ok := boolArg(skip, "if", variables); ok && v {
			return false
		}
	}
	if include := directives.ForName("include"); include != nil {
		if v, ok := boolArg(include, "if", variables); ok && !v {
			return false
		}
	}
	return true
}

func deferScopeFor(directives language.DirectiveList, variables map[string]any, parent deferScope) deferScope {
	d := directives.ForName("defer")
	if d == nil {
		return parent
	}
	if v, ok := boolArg(d, "if", variables); ok && !v {
		return parent
	}
	label := ""
	for _, arg := range d.Arguments {
		if arg.Name == "label" {
			if s, ok := valueFromAST(arg.Value, variables).(string); ok {
				label = s
			}
		}
	}
	return deferScope{active: true, label: label}
}

func boolArg(directive *language.Directive, argName string, variables map[string]any) (bool, bool) {
	for _, arg := range directive.Arguments {
		if arg.Name == argName {
			v, ok := valueFromAST(arg.Value, variables).(bool)
			return v, ok
		}
	}
	return false, false
}
