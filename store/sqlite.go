package store

import (
	"database/sql"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens an embedded SQLite-backed *bun.DB at dsn. Use
// "file::memory:?cache=shared" for an in-process, in-memory database
// suitable for tests. The caller must still call InitDB before use.
func OpenSQLite(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxOpenConns(1) // avoid SQLITE_BUSY from concurrent writers
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}
