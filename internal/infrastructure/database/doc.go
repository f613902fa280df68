// Package database provides SQLite connectivity and schema migrations for
// LinkPulse.
//
// The store holds users, links, clicks and the audit trail. Connections use
// WAL mode and a busy timeout; foreign keys are always on. Migrations are
// embedded by the migrations package and applied at startup:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Repositories that prefer struct scanning use db.Sqlx(), which shares the
// same single-writer pool.
package database
