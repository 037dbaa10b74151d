// Package schema describes the fixed shape of a titles record: the ordered,
// typed list of required fields that every input file must expose and that
// every table (primary, clean, staging) is built from.
//
// The field list is a compile-time constant. Nothing in the pipeline derives
// column names from input data; SQL builders read them from here only.
package schema

// Type is the logical type of a field.
type Type string

const (
	TypeText    Type = "text"
	TypeInteger Type = "integer"
)

// Field is a single required field of the contract.
type Field struct {
	Name string
	Type Type
	Key  bool
}

// Contract is an ordered set of required fields with exactly one key field.
type Contract struct {
	Name   string
	Fields []Field
}

// Field names used by the pipeline logic directly.
const (
	FieldShowID      = "show_id"
	FieldCountry     = "country"
	FieldReleaseYear = "release_year"
)

// Titles is the contract for the titles dataset. Order matters: it is the
// column order of the staging area and of every generated statement.
var Titles = Contract{
	Name: "titles",
	Fields: []Field{
		{Name: FieldShowID, Type: TypeText, Key: true},
		{Name: "type", Type: TypeText},
		{Name: "title", Type: TypeText},
		{Name: "director", Type: TypeText},
		{Name: "cast", Type: TypeText},
		{Name: FieldCountry, Type: TypeText},
		{Name: "date_added", Type: TypeText},
		{Name: FieldReleaseYear, Type: TypeInteger},
		{Name: "rating", Type: TypeText},
		{Name: "duration", Type: TypeText},
		{Name: "listed_in", Type: TypeText},
		{Name: "description", Type: TypeText},
	},
}

// Columns returns the field names in contract order. The returned slice is a
// copy.
func (c Contract) Columns() []string {
	out := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		out[i] = f.Name
	}
	return out
}

// Key returns the key field. A contract without a key field is a programming
// error.
func (c Contract) Key() Field {
	for _, f := range c.Fields {
		if f.Key {
			return f
		}
	}
	panic("schema: contract " + c.Name + " has no key field")
}

// NonKey returns the non-key fields in contract order.
func (c Contract) NonKey() []Field {
	out := make([]Field, 0, len(c.Fields)-1)
	for _, f := range c.Fields {
		if !f.Key {
			out = append(out, f)
		}
	}
	return out
}

// Index returns the position of name in the contract, or -1.
func (c Contract) Index(name string) int {
	for i, f := range c.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}
