package schema

// builtinScalars is the set of scalar names that never need a Type entry
// loaded from an introspection descriptor: they are always leaf, always
// nullable unless wrapped in NonNull by the field/argument that uses them.
var builtinScalars = map[string]bool{
	"String":  true,
	"Int":     true,
	"Float":   true,
	"Boolean": true,
	"ID":      true,
}

// IsBuiltinScalar reports whether name is one of the five built-in scalars.
func IsBuiltinScalar(name string) bool { return builtinScalars[name] }

var includeDirective = &Directive{
	Name:        "include",
	Description: "Directs the traversal to include this field or fragment only when the `if` argument is true.",
	Arguments: []*InputValue{
		{Name: "if", Type: NonNullType(NamedType("Boolean"))},
	},
	Locations: []string{"FIELD", "FRAGMENT_SPREAD", "INLINE_FRAGMENT"},
}

var skipDirective = &Directive{
	Name:        "skip",
	Description: "Directs the traversal to skip this field or fragment when the `if` argument is true.",
	Arguments: []*InputValue{
		{Name: "if", Type: NonNullType(NamedType("Boolean"))},
	},
	Locations: []string{"FIELD", "FRAGMENT_SPREAD", "INLINE_FRAGMENT"},
}

var deferDirective = &Directive{
	Name:        "defer",
	Description: "Marks a fragment as deferrable; the traversal writes whatever patches arrive without invalidating fields the patch omits.",
	Arguments: []*InputValue{
		{Name: "label", Type: NamedType("String")},
		{Name: "if", Type: NamedType("Boolean")},
	},
	Locations: []string{"FRAGMENT_SPREAD", "INLINE_FRAGMENT"},
}

var optionalDirective = &Directive{
	Name:        "_optional",
	Description: "Tolerates a missing value for the annotated field, yielding null instead of marking the selection a miss.",
	Locations:   []string{"FIELD"},
}

var requiredDirective = &Directive{
	Name:        "_required",
	Description: "Forces the enclosing selection to null when the annotated field is missing, overriding an ancestor @_optional.",
	Locations:   []string{"FIELD"},
}

// BuiltinDirectives returns the cache's built-in directive definitions,
// keyed by name.
func BuiltinDirectives() map[string]*Directive {
	return map[string]*Directive{
		"include":   includeDirective,
		"skip":      skipDirective,
		"defer":     deferDirective,
		"_optional": optionalDirective,
		"_required": requiredDirective,
	}
}
