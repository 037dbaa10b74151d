// Package mysql implements the storage backend for MySQL 8+. Staging is a
// session TEMPORARY table filled with LOAD DATA LOCAL INFILE streaming from a
// registered reader handler; the merge is INSERT ... SELECT ... ON DUPLICATE
// KEY UPDATE.
//
// Temporary tables are bound to the MySQL session and are not removed by a
// rollback, so every transaction runs on a pinned connection and drops its
// staging table before the connection returns to the pool.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"elt/internal/storage"
	"elt/internal/storage/sqldb"
	"elt/internal/storage/sqlgen"
)

// Kind is the storage kind this package registers.
const Kind = "mysql"

// Config holds MySQL backend configuration.
type Config struct {
	// DSN uses the go-sql-driver format, e.g. "user:pass@tcp(host:3306)/db".
	DSN          string
	PrimaryTable string
	CleanTable   string
}

// Open parses the DSN, connects and returns a Store. The server must have
// local_infile enabled.
func Open(ctx context.Context, cfg Config) (*sqldb.Store, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mysql dsn: %w", err)
	}
	b, err := sqlgen.New(sqlgen.MySQL, cfg.PrimaryTable, cfg.CleanTable)
	if err != nil {
		return nil, fmt.Errorf("mysql: %w", err)
	}
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("mysql: connector: %w", err)
	}
	st := sqldb.NewStore(sql.OpenDB(connector), newDriver(b))
	if err := st.Ping(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func newDriver(b *sqlgen.Builder) sqldb.Driver {
	return sqldb.Driver{
		Name:     Kind,
		Builder:  b,
		CopyIn:   copyIn,
		Classify: classify,
		PinConn:  true,
	}
}

var errLoadDone = errors.New("mysql: load statement finished")

// copyIn pipes src as tab-separated text into LOAD DATA LOCAL INFILE.
func copyIn(ctx context.Context, tx *sql.Tx, b *sqlgen.Builder, staging string, src storage.RowSource) (int64, error) {
	pr, pw := io.Pipe()
	handler := "elt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	mysql.RegisterReaderHandler(handler, func() io.Reader { return pr })
	defer mysql.DeregisterReaderHandler(handler)

	type result struct {
		n   int64
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := encodeTSV(pw, src)
		pw.CloseWithError(err)
		done <- result{n, err}
	}()

	res, execErr := tx.ExecContext(ctx, b.LoadDataLocal(handler, staging))
	pr.CloseWithError(errLoadDone)
	w := <-done

	switch {
	case w.err != nil && !errors.Is(w.err, errLoadDone):
		return w.n, w.err
	case execErr != nil:
		return 0, execErr
	case w.err != nil:
		return w.n, fmt.Errorf("mysql: server stopped reading after %d rows", w.n)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return w.n, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// encodeTSV writes every row of src in LOAD DATA's default format: fields
// separated by tab, rows by newline, backslash escapes, \N for NULL.
func encodeTSV(w io.Writer, src storage.RowSource) (int64, error) {
	var (
		n   int64
		buf strings.Builder
	)
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return n, err
		}
		buf.Reset()
		for i, v := range vals {
			if i > 0 {
				buf.WriteByte('\t')
			}
			writeField(&buf, v)
		}
		buf.WriteByte('\n')
		if _, err := io.WriteString(w, buf.String()); err != nil {
			return n, err
		}
		n++
	}
	return n, src.Err()
}

var tsvEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\t", `\t`,
	"\n", `\n`,
	"\r", `\r`,
	"\x00", `\0`,
)

func writeField(buf *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		buf.WriteString(`\N`)
	case string:
		tsvEscaper.WriteString(buf, x)
	default:
		fmt.Fprint(buf, x)
	}
}

// classify maps MySQL server error numbers.
func classify(backend, op string, err error) error {
	if errors.Is(err, mysql.ErrInvalidConn) {
		return &storage.ConnectivityError{Backend: backend, Op: op, Err: err}
	}
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return nil
	}
	switch me.Number {
	case 1062, 1452, 1048, 1451:
		// duplicate entry, FK child/parent, column cannot be null
		return &storage.IntegrityError{Backend: backend, Op: op, Err: err}
	case 1205, 1213, 1040, 1053:
		// lock wait timeout, deadlock, too many connections, server shutdown
		return &storage.ConnectivityError{Backend: backend, Op: op, Err: err}
	}
	return nil
}

// newStore is a test hook that points to Open by default.
var newStore = Open

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		st, err := newStore(ctx, Config{
			DSN:          cfg.DSN,
			PrimaryTable: cfg.PrimaryTable,
			CleanTable:   cfg.CleanTable,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	})
}
