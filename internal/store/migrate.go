package store

import (
	"database/sql"
	"embed"
	"errors"
	"io"
	"os"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/boxlite/boxlite/internal/berrors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// applyMigrations walks the embedded migration set using
// golang-migrate's source.Driver (iofs) for parsing/ordering, and applies
// each "up" migration in order inside its own transaction, tracking the
// applied version in schema_migrations. golang-migrate's own database/sql
// execution engine assumes a registered database driver implementing
// database.Driver; no such driver exists upstream for modernc.org/sqlite
// (the only published one wraps the cgo mattn/go-sqlite3 driver), so this
// function reuses migrate's source-reading half only and drives execution
// directly against *sql.DB, keeping the pure-Go sqlite stack intact.
func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return berrors.Wrap(berrors.Storage, "creating schema_migrations table", err)
	}

	driver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return berrors.Wrap(berrors.Storage, "opening embedded migrations", err)
	}
	defer driver.Close()

	version, err := driver.First()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return berrors.Wrap(berrors.Storage, "reading first migration version", err)
	}

	for {
		var applied bool
		if err := db.QueryRow(`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)`, version).Scan(&applied); err != nil {
			return berrors.Wrap(berrors.Storage, "checking migration version", err)
		}
		if !applied {
			if err := applyOne(db, driver, version); err != nil {
				return err
			}
		}

		next, err := driver.Next(version)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				break
			}
			return berrors.Wrap(berrors.Storage, "finding next migration", err)
		}
		version = next
	}
	return nil
}

func applyOne(db *sql.DB, driver source.Driver, version uint) error {
	r, _, err := driver.ReadUp(version)
	if err != nil {
		return berrors.Wrap(berrors.Storage, "reading migration body", err)
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		return berrors.Wrap(berrors.Storage, "reading migration contents", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return berrors.Wrap(berrors.Storage, "starting migration transaction", err)
	}
	if _, err := tx.Exec(string(body)); err != nil {
		_ = tx.Rollback()
		return berrors.Wrap(berrors.Storage, "applying migration", err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations(version) VALUES (?)`, version); err != nil {
		_ = tx.Rollback()
		return berrors.Wrap(berrors.Storage, "recording migration version", err)
	}
	return commitMigration(tx)
}

func commitMigration(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return berrors.Wrap(berrors.Storage, "committing migration", err)
	}
	return nil
}
