// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it causes the init
// functions of each backend to register their factories, making the
// following storage kinds available at runtime:
//
//   - "postgres" (elt/internal/storage/postgres)
//   - "sqlite"   (elt/internal/storage/sqlite)
//   - "mssql"    (elt/internal/storage/mssql)
//   - "mysql"    (elt/internal/storage/mysql)
//
// A binary that needs only a subset can import the backends directly
// instead.
package all

import (
	_ "elt/internal/storage/mssql"
	_ "elt/internal/storage/mysql"
	_ "elt/internal/storage/postgres"
	_ "elt/internal/storage/sqlite"
)
