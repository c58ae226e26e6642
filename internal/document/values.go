package document

import (
	"strconv"
	"strings"

	"github.com/graphcache/graphcache/internal/language"
)

// valueFromAST converts an AST value node into a plain Go value, resolving
// variables against variables. Ported from the teacher's
// astValueToGo/valueFromASTWithVars (internal/executor/values.go): the cache
// only ever needs the resolved value, never the typed/coerced one, since
// FieldKey canonicalization (internal/keying) works on plain Go values.
func valueFromAST(value *language.Value, variables map[string]any) any {
	if value == nil {
		return nil
	}
	if value.Kind == language.Variable {
		name := value.Raw
		if v, ok := variables[name]; ok {
			return v
		}
		if v, ok := variables[strings.TrimPrefix(name, "$")]; ok {
			return v
		}
		return nil
	}
	switch value.Kind {
	case language.IntValue:
		iv, _ := strconv.Atoi(value.Raw)
		return iv
	case language.FloatValue:
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return fv
	case language.StringValue, language.BlockValue:
		return value.Raw
	case language.BooleanValue:
		return value.Raw == "true"
	case language.NullValue:
		return nil
	case language.EnumValue:
		return value.Raw
	case language.ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			out[i] = valueFromAST(c.Value, variables)
		}
		return out
	case language.ObjectValue:
		m := make(map[string]any)
		for _, f := range value.Children {
			m[f.Name] = valueFromAST(f.Value, variables)
		}
		return m
	default:
		return nil
	}
}

// resolveArguments evaluates a field's argument list against variables,
// falling back to each argument's schema default when the query omits it
// and a schema is available (fieldDef may be nil when no schema was
// configured, in which case only explicit arguments are resolved).
func resolveArguments(args language.ArgumentList, variables map[string]any, fieldDef *fieldDef) map[string]any {
	resolved := make(map[string]any, len(args))
	for _, arg := range args {
		resolved[arg.Name] = valueFromAST(arg.Value, variables)
	}
	if fieldDef == nil {
		return resolved
	}
	for name, defaultValue := range fieldDef.argDefaults {
		if _, ok := resolved[name]; !ok && defaultValue != nil {
			resolved[name] = defaultValue
		}
	}
	return resolved
}
