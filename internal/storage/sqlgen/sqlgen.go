// Package sqlgen builds every DDL and DML statement the pipeline runs, per
// SQL dialect, from the fixed schema.Contract. Table names only ever come
// from validated configuration and are always quoted; no identifier is
// derived from input data.
package sqlgen

import (
	"fmt"
	"regexp"
	"strings"

	"elt/internal/schema"
)

// Dialect selects quoting, types and upsert syntax.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
	MySQL
	MSSQL
)

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	case MySQL:
		return "mysql"
	case MSSQL:
		return "mssql"
	}
	return fmt.Sprintf("dialect(%d)", int(d))
}

// RowNumColumn is the trailing staging column holding the 1-based source line
// of each record. It orders duplicate keys for last-write-wins and is never
// copied out of staging.
const RowNumColumn = "__rownum"

const rnColumn = "__rn"

// maxIdentLen is the smallest identifier limit across the dialects
// (Postgres, 63 bytes).
const maxIdentLen = 63

var tableNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// CheckTableName accepts "table" or "schema.table" made of ASCII letters,
// digits and underscores, each part not starting with a digit.
func CheckTableName(name string) error {
	if !tableNameRE.MatchString(name) {
		return fmt.Errorf("invalid table name %q: want [schema.]table of letters, digits, underscores", name)
	}
	for _, part := range strings.Split(name, ".") {
		if len(part) > maxIdentLen {
			return fmt.Errorf("invalid table name %q: %q exceeds %d characters", name, part, maxIdentLen)
		}
	}
	return nil
}

// Builder generates statements for one dialect and one pair of target
// tables.
type Builder struct {
	d        Dialect
	contract schema.Contract
	key      string
	primary  string
	clean    string
}

// New validates both table names and returns a Builder over schema.Titles.
func New(d Dialect, primary, clean string) (*Builder, error) {
	return NewWithContract(d, schema.Titles, primary, clean)
}

// NewWithContract is New for an arbitrary contract.
func NewWithContract(d Dialect, c schema.Contract, primary, clean string) (*Builder, error) {
	if err := CheckTableName(primary); err != nil {
		return nil, err
	}
	if err := CheckTableName(clean); err != nil {
		return nil, err
	}
	return &Builder{d: d, contract: c, key: c.Key().Name, primary: primary, clean: clean}, nil
}

// Dialect returns the builder's dialect.
func (b *Builder) Dialect() Dialect { return b.d }

// PrimaryTable and CleanTable return the configured, unquoted names.
func (b *Builder) PrimaryTable() string { return b.primary }
func (b *Builder) CleanTable() string   { return b.clean }

// Columns returns the contract columns in order.
func (b *Builder) Columns() []string { return b.contract.Columns() }

// StagingColumns returns the contract columns followed by RowNumColumn.
func (b *Builder) StagingColumns() []string {
	return append(b.contract.Columns(), RowNumColumn)
}

// Ident quotes a single identifier for the dialect.
func (b *Builder) Ident(s string) string {
	switch b.d {
	case MySQL:
		return "`" + strings.ReplaceAll(s, "`", "``") + "`"
	case MSSQL:
		return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
	default:
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
}

// Table quotes a possibly schema-qualified name part by part.
func (b *Builder) Table(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = b.Ident(p)
	}
	return strings.Join(parts, ".")
}

// StagingName returns the run-scoped staging table name for runID:
// <primary>_staging_<runid>, unqualified (temporary tables live in the
// session's own schema), prefixed with # on MSSQL.
func (b *Builder) StagingName(runID string) string {
	run := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return -1
	}, runID)

	base := b.primary
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		base = base[i+1:]
	}
	const infix = "_staging_"
	if room := maxIdentLen - len(infix) - len(run); len(base) > room {
		if room < 1 {
			room = 1
		}
		base = base[:room]
	}
	name := base + infix + run
	if len(name) > maxIdentLen {
		name = name[:maxIdentLen]
	}
	if b.d == MSSQL {
		return "#" + name
	}
	return name
}

func (b *Builder) columnType(f schema.Field) string {
	switch b.d {
	case MySQL:
		switch {
		case f.Key:
			return "VARCHAR(255)"
		case f.Type == schema.TypeInteger:
			return "INT"
		}
		return "TEXT"
	case MSSQL:
		switch {
		case f.Key:
			return "NVARCHAR(450)"
		case f.Type == schema.TypeInteger:
			return "INT"
		}
		return "NVARCHAR(MAX)"
	default:
		if f.Type == schema.TypeInteger {
			return "INTEGER"
		}
		return "TEXT"
	}
}

func (b *Builder) bigint() string {
	if b.d == SQLite {
		return "INTEGER"
	}
	return "BIGINT"
}

// columnDefs renders the column list of a table body.
func (b *Builder) columnDefs(keyed bool) string {
	defs := make([]string, 0, len(b.contract.Fields)+2)
	for _, f := range b.contract.Fields {
		def := b.Ident(f.Name) + " " + b.columnType(f)
		if f.Key && keyed {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if keyed {
		defs = append(defs, "PRIMARY KEY ("+b.Ident(b.key)+")")
	} else {
		defs = append(defs, b.Ident(RowNumColumn)+" "+b.bigint())
	}
	return strings.Join(defs, ",\n  ")
}

func (b *Builder) createKeyed(table string) string {
	body := "(\n  " + b.columnDefs(true) + "\n)"
	if b.d == MSSQL {
		return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\nCREATE TABLE %s %s", table, b.Table(table), body)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s %s", b.Table(table), body)
}

// CreatePrimary creates the primary table, keyed on the contract key, if it
// does not exist.
func (b *Builder) CreatePrimary() string { return b.createKeyed(b.primary) }

// CreateClean creates the clean table if it does not exist. It carries the
// same key constraint as the primary table.
func (b *Builder) CreateClean() string { return b.createKeyed(b.clean) }

// CreateStaging creates the temporary staging table. It has no key
// constraint: duplicate keys within one batch are legal and resolved at
// merge time.
func (b *Builder) CreateStaging(name string) string {
	body := "(\n  " + b.columnDefs(false) + "\n)"
	switch b.d {
	case Postgres:
		return fmt.Sprintf("CREATE TEMP TABLE %s %s ON COMMIT DROP", b.Ident(name), body)
	case MySQL:
		return fmt.Sprintf("CREATE TEMPORARY TABLE %s %s", b.Ident(name), body)
	case MSSQL:
		return fmt.Sprintf("CREATE TABLE %s %s", b.Ident(name), body)
	default:
		return fmt.Sprintf("CREATE TEMP TABLE %s %s", b.Ident(name), body)
	}
}

// DropStaging drops the staging table if it still exists.
func (b *Builder) DropStaging(name string) string {
	if b.d == MySQL {
		return "DROP TEMPORARY TABLE IF EXISTS " + b.Ident(name)
	}
	return "DROP TABLE IF EXISTS " + b.Ident(name)
}

// Placeholder returns the n-th (1-based) bind parameter marker.
func (b *Builder) Placeholder(n int) string {
	switch b.d {
	case Postgres:
		return fmt.Sprintf("$%d", n)
	case MSSQL:
		return fmt.Sprintf("@p%d", n)
	default:
		return "?"
	}
}

// InsertStaging is a single-row INSERT into staging, used where the driver
// has no bulk path.
func (b *Builder) InsertStaging(name string) string {
	cols := b.StagingColumns()
	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = b.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		b.Ident(name), b.identList(cols, ""), strings.Join(ph, ", "))
}

// LoadDataLocal is the MySQL LOAD DATA statement reading tab-separated rows
// from a registered reader handler.
func (b *Builder) LoadDataLocal(handler, staging string) string {
	return fmt.Sprintf("LOAD DATA LOCAL INFILE 'Reader::%s' INTO TABLE %s CHARACTER SET utf8mb4 (%s)",
		handler, b.Ident(staging), b.identList(b.StagingColumns(), ""))
}

func (b *Builder) identList(cols []string, prefix string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = prefix + b.Ident(c)
	}
	return strings.Join(q, ", ")
}

// latestStaged selects one row per key from staging: the one with the
// highest RowNumColumn, i.e. the last occurrence in the source.
func (b *Builder) latestStaged(staging string) string {
	cols := b.identList(b.Columns(), "")
	return fmt.Sprintf(
		"SELECT %s FROM (SELECT %s, ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s DESC) AS %s FROM %s) AS r WHERE %s = 1",
		cols, cols, b.Ident(b.key), b.Ident(RowNumColumn), b.Ident(rnColumn), b.Ident(staging), b.Ident(rnColumn),
	)
}

// Merge upserts staging into the primary table: every staged key is inserted
// or has all non-key fields overwritten; duplicates resolve last-write-wins.
func (b *Builder) Merge(staging string) string {
	nonKey := b.contract.NonKey()
	cols := b.identList(b.Columns(), "")
	target := b.Table(b.primary)

	switch b.d {
	case MSSQL:
		sets := make([]string, len(nonKey))
		vals := make([]string, 0, len(b.contract.Fields))
		for i, f := range nonKey {
			sets[i] = fmt.Sprintf("t.%s = s.%s", b.Ident(f.Name), b.Ident(f.Name))
		}
		for _, c := range b.Columns() {
			vals = append(vals, "s."+b.Ident(c))
		}
		return fmt.Sprintf(
			"MERGE INTO %s WITH (HOLDLOCK) AS t\nUSING (%s) AS s\nON t.%s = s.%s\nWHEN MATCHED THEN UPDATE SET %s\nWHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);",
			target, b.latestStaged(staging), b.Ident(b.key), b.Ident(b.key),
			strings.Join(sets, ", "), cols, strings.Join(vals, ", "),
		)

	case MySQL:
		sets := make([]string, len(nonKey))
		for i, f := range nonKey {
			sets[i] = fmt.Sprintf("%s = s.%s", b.Ident(f.Name), b.Ident(f.Name))
		}
		return fmt.Sprintf(
			"INSERT INTO %s (%s)\nSELECT %s FROM (%s) AS s\nON DUPLICATE KEY UPDATE %s",
			target, cols, b.identList(b.Columns(), "s."), b.latestStaged(staging), strings.Join(sets, ", "),
		)

	default:
		sets := make([]string, len(nonKey))
		for i, f := range nonKey {
			sets[i] = fmt.Sprintf("%s = excluded.%s", b.Ident(f.Name), b.Ident(f.Name))
		}
		// The WHERE inside latestStaged also disambiguates ON CONFLICT for
		// SQLite's parser.
		return fmt.Sprintf(
			"INSERT INTO %s (%s)\n%s\nON CONFLICT (%s) DO UPDATE SET %s",
			target, cols, b.latestStaged(staging), b.Ident(b.key), strings.Join(sets, ", "),
		)
	}
}

// CountDistinctKeys counts the distinct keys in staging; it is the number of
// primary rows a merge touches.
func (b *Builder) CountDistinctKeys(staging string) string {
	return fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM %s", b.Ident(b.key), b.Ident(staging))
}

// DeleteClean empties the clean table. DELETE rather than TRUNCATE keeps the
// old contents visible to concurrent readers until the rebuild commits.
func (b *Builder) DeleteClean() string {
	return "DELETE FROM " + b.Table(b.clean)
}

// PopulateClean copies primary rows with a non-empty country into the clean
// table, one row per key. The ORDER BY over every non-key column makes the
// surviving row deterministic should the primary table ever hold duplicates.
func (b *Builder) PopulateClean() string {
	cols := b.identList(b.Columns(), "")
	order := make([]string, 0, len(b.contract.Fields))
	for _, f := range b.contract.NonKey() {
		order = append(order, b.Ident(f.Name))
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s)\nSELECT %s FROM (SELECT %s, ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) AS %s FROM %s WHERE COALESCE(%s, '') <> '') AS d WHERE %s = 1",
		b.Table(b.clean), cols, cols, cols, b.Ident(b.key), strings.Join(order, ", "),
		b.Ident(rnColumn), b.Table(b.primary), b.Ident(schema.FieldCountry), b.Ident(rnColumn),
	)
}

// Count counts the rows of table (a configured name, not staging).
func (b *Builder) Count(table string) string {
	return "SELECT COUNT(*) FROM " + b.Table(table)
}
