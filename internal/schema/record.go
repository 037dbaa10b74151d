package schema

// Record is one titles row after normalization. Text fields are never nil;
// missing cells become "". ReleaseYear is nil when the source cell is empty.
type Record struct {
	ShowID      string
	Type        string
	Title       string
	Director    string
	Cast        string
	Country     string
	DateAdded   string
	ReleaseYear *int
	Rating      string
	Duration    string
	ListedIn    string
	Description string
}

// Values returns the record's values in Titles contract order, ready for a
// bulk copy. A nil ReleaseYear is returned as an untyped nil (SQL NULL).
func (r Record) Values() []any {
	var year any
	if r.ReleaseYear != nil {
		year = int64(*r.ReleaseYear)
	}
	return []any{
		r.ShowID,
		r.Type,
		r.Title,
		r.Director,
		r.Cast,
		r.Country,
		r.DateAdded,
		year,
		r.Rating,
		r.Duration,
		r.ListedIn,
		r.Description,
	}
}

// SetText assigns a text field by contract name. It reports false for unknown
// names and for non-text fields.
func (r *Record) SetText(name, v string) bool {
	switch name {
	case FieldShowID:
		r.ShowID = v
	case "type":
		r.Type = v
	case "title":
		r.Title = v
	case "director":
		r.Director = v
	case "cast":
		r.Cast = v
	case FieldCountry:
		r.Country = v
	case "date_added":
		r.DateAdded = v
	case "rating":
		r.Rating = v
	case "duration":
		r.Duration = v
	case "listed_in":
		r.ListedIn = v
	case "description":
		r.Description = v
	default:
		return false
	}
	return true
}
