package schema

import "encoding/json"

// Load decodes a minified GraphQL introspection descriptor (the JSON shape
// produced by the standard IntrospectionQuery, already stripped of
// descriptions and other fields the cache never reads) into a *Schema.
//
// Downloading or running the introspection query against a server is out of
// scope; callers hand Load an already-fetched descriptor.
func Load(data []byte) (*Schema, error) {
	var doc introspectionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return buildFromIntrospection(&doc.Schema), nil
}

type introspectionDoc struct {
	Schema introspectionSchema `json:"__schema"`
}

type introspectionSchema struct {
	QueryType        *introspectionNamed `json:"queryType"`
	MutationType     *introspectionNamed `json:"mutationType"`
	SubscriptionType *introspectionNamed `json:"subscriptionType"`
	Types            []introspectionType `json:"types"`
}

type introspectionNamed struct {
	Name string `json:"name"`
}

type introspectionType struct {
	Kind          string                `json:"kind"`
	Name          string                `json:"name"`
	Fields        []introspectionField  `json:"fields"`
	InputFields   []introspectionInput  `json:"inputFields"`
	Interfaces    []introspectionNamed  `json:"interfaces"`
	PossibleTypes []introspectionNamed  `json:"possibleTypes"`
	EnumValues    []introspectionEnum   `json:"enumValues"`
}

type introspectionField struct {
	Name string             `json:"name"`
	Args []introspectionInput `json:"args"`
	Type introspectionTypeRef `json:"type"`
}

type introspectionInput struct {
	Name         string               `json:"name"`
	Type         introspectionTypeRef `json:"type"`
	DefaultValue any                  `json:"defaultValue"`
}

type introspectionEnum struct {
	Name string `json:"name"`
}

type introspectionTypeRef struct {
	Kind   string                 `json:"kind"`
	Name   string                 `json:"name"`
	OfType *introspectionTypeRef  `json:"ofType"`
}

func buildFromIntrospection(doc *introspectionSchema) *Schema {
	s := &Schema{Types: make(map[string]*Type)}
	if doc.QueryType != nil {
		s.QueryType = doc.QueryType.Name
	}
	if doc.MutationType != nil {
		s.MutationType = doc.MutationType.Name
	}
	if doc.SubscriptionType != nil {
		s.SubscriptionType = doc.SubscriptionType.Name
	}
	for _, t := range doc.Types {
		s.Types[t.Name] = buildType(t)
	}
	return s
}

func buildType(t introspectionType) *Type {
	out := &Type{
		Name: t.Name,
		Kind: TypeKind(t.Kind),
	}
	for _, f := range t.Fields {
		out.Fields = append(out.Fields, buildField(f))
	}
	for _, in := range t.InputFields {
		out.InputFields = append(out.InputFields, buildInputValue(in))
	}
	for _, iface := range t.Interfaces {
		out.Interfaces = append(out.Interfaces, iface.Name)
	}
	for _, pt := range t.PossibleTypes {
		out.PossibleTypes = append(out.PossibleTypes, pt.Name)
	}
	for _, ev := range t.EnumValues {
		out.EnumValues = append(out.EnumValues, &EnumValue{Name: ev.Name})
	}
	return out
}

func buildField(f introspectionField) *Field {
	out := &Field{Name: f.Name, Type: buildTypeRef(&f.Type)}
	for _, a := range f.Args {
		out.Arguments = append(out.Arguments, buildInputValue(a))
	}
	return out
}

func buildInputValue(in introspectionInput) *InputValue {
	return &InputValue{
		Name:         in.Name,
		Type:         buildTypeRef(&in.Type),
		DefaultValue: in.DefaultValue,
	}
}

func buildTypeRef(t *introspectionTypeRef) *TypeRef {
	if t == nil {
		return nil
	}
	switch TypeRefKind(t.Kind) {
	case TypeRefKindNonNull:
		return &TypeRef{Kind: TypeRefKindNonNull, OfType: buildTypeRef(t.OfType)}
	case TypeRefKindList:
		return &TypeRef{Kind: TypeRefKindList, OfType: buildTypeRef(t.OfType)}
	default:
		return &TypeRef{Kind: TypeRefKindNamed, Named: t.Name}
	}
}

// IsFieldNullable reports whether typename.fieldName is declared nullable by
// the schema. Unknown types/fields are treated as nullable (the cache can
// only narrow nullability when it actually has schema information; §4.3/§9
// of the design say the schema acts as a baseline the query can narrow with
// @_required but never widen with @_optional).
func (s *Schema) IsFieldNullable(typename, fieldName string) bool {
	if s == nil {
		return true
	}
	t := s.Types[typename]
	if t == nil {
		return true
	}
	for _, f := range t.Fields {
		if f.Name == fieldName {
			return !IsNonNull(f.Type)
		}
	}
	return true
}
