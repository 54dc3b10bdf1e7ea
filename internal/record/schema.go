package record

import "sort"

// FieldType is the declared type of one metadata field.
type FieldType string

const (
	TypeInt        FieldType = "int"
	TypeFloat      FieldType = "float"
	TypeString     FieldType = "string"
	TypeBool       FieldType = "bool"
	TypeStringList FieldType = "string_list"
	TypeFloatList  FieldType = "float_list"
)

// Field is one declared metadata column.
type Field struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// Schema describes one dataset: fixed vector dimensionality, the ordered
// metadata fields observed so far, and the set of relation names. It only
// ever widens during an export and is frozen once the source is drained.
type Schema struct {
	Dimensionality int      `json:"dimensionality"`
	Fields         []Field  `json:"metadata_fields"`
	RelationNames  []string `json:"relation_names"`
}

// FieldType returns the declared type of a field, if declared.
func (s Schema) FieldType(name string) (FieldType, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Type, true
		}
	}
	return "", false
}

// HasRelation reports whether the relation name is declared.
func (s Schema) HasRelation(name string) bool {
	for _, n := range s.RelationNames {
		if n == name {
			return true
		}
	}
	return false
}

// AddField appends a field declaration. Callers must have checked that the
// name is not yet declared; widening policy lives in the reconciler.
func (s *Schema) AddField(name string, t FieldType) {
	s.Fields = append(s.Fields, Field{Name: name, Type: t})
}

// SetFieldType re-declares an existing field. Used only for the permitted
// int-to-float promotion.
func (s *Schema) SetFieldType(name string, t FieldType) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			s.Fields[i].Type = t
			return
		}
	}
}

// AddRelation declares a relation name, keeping the set sorted.
func (s *Schema) AddRelation(name string) {
	if s.HasRelation(name) {
		return
	}
	s.RelationNames = append(s.RelationNames, name)
	sort.Strings(s.RelationNames)
}

// Clone returns an independent copy.
func (s Schema) Clone() Schema {
	out := Schema{Dimensionality: s.Dimensionality}
	out.Fields = append([]Field(nil), s.Fields...)
	out.RelationNames = append([]string(nil), s.RelationNames...)
	return out
}

// AssignableTo reports whether a value of type t may be stored in a field
// declared as declared. Ints fit float fields; nothing else coerces.
func (t FieldType) AssignableTo(declared FieldType) bool {
	if t == declared {
		return true
	}
	return t == TypeInt && declared == TypeFloat
}

// TypeOf classifies a runtime metadata value. The second return is false
// for types no vendor mapping should produce.
func TypeOf(v any) (FieldType, bool) {
	switch val := v.(type) {
	case int, int32, int64:
		return TypeInt, true
	case float32, float64:
		return TypeFloat, true
	case string:
		return TypeString, true
	case bool:
		return TypeBool, true
	case []string:
		return TypeStringList, true
	case []float64, []float32:
		return TypeFloatList, true
	case []any:
		// JSON decoding yields []any; classify by the first element.
		if len(val) == 0 {
			return TypeStringList, true
		}
		switch val[0].(type) {
		case string:
			return TypeStringList, true
		case float64, int, int64:
			return TypeFloatList, true
		}
		return "", false
	}
	return "", false
}
