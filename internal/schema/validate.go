package schema

import (
	"fmt"
	"strings"
)

// Result is the outcome of checking a header against a contract.
type Result struct {
	// Missing lists absent required fields in contract order.
	Missing []string
	// Extra lists header names the contract does not know. They are ignored
	// by the reader and reported for diagnostics only.
	Extra []string
}

// OK reports whether every required field is present.
func (r Result) OK() bool { return len(r.Missing) == 0 }

// MissingColumnsError names every required field absent from the source.
type MissingColumnsError struct {
	Contract string
	Missing  []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing columns in %s input: [%s]", e.Contract, strings.Join(e.Missing, ", "))
}

// Check compares the observed header names with the contract. It is a pure
// function of its inputs and looks at names only, never at rows.
func (c Contract) Check(header []string) Result {
	seen := make(map[string]struct{}, len(header))
	for _, h := range header {
		seen[h] = struct{}{}
	}

	var res Result
	for _, f := range c.Fields {
		if _, ok := seen[f.Name]; !ok {
			res.Missing = append(res.Missing, f.Name)
		}
	}
	for _, h := range header {
		if c.Index(h) < 0 {
			res.Extra = append(res.Extra, h)
		}
	}
	return res
}

// Validate returns a *MissingColumnsError when the header lacks any required
// field, nil otherwise.
func (c Contract) Validate(header []string) error {
	res := c.Check(header)
	if res.OK() {
		return nil
	}
	return &MissingColumnsError{Contract: c.Name, Missing: res.Missing}
}
