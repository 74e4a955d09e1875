// Package database provides the SQLite connection used to persist the
// device registry.
//
// Open applies connection pragmas (busy timeout, foreign keys and optional
// WAL) through the go-sqlite3 DSN and limits the pool to one connection.
//
// Schema changes are versioned files named
// YYYYMMDD_HHMMSS_description.up.sql with a matching .down.sql, registered
// from an fs.FS by the migrations package:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Each migration runs in its own transaction and is recorded in the
// schema_migrations table.
package database
