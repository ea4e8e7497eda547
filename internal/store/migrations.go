package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"autorec/internal/midi"
)

// latestSchemaVersion is the highest migration id this build understands.
// Opening a database whose migrations table reports a higher id fails with
// ErrSchemaTooNew.
const latestSchemaVersion = 2

// ErrMigration wraps a failure during schema migration. The pre-migration
// backup, if one was taken, is left intact for manual recovery.
type ErrMigration struct {
	Version int
	Err     error
}

func (e *ErrMigration) Error() string {
	return fmt.Sprintf("store: migration to version %d failed: %v", e.Version, e.Err)
}

func (e *ErrMigration) Unwrap() error { return e.Err }

// migrate brings dbPath's schema up to latestSchemaVersion, applying each
// migration in its own transaction and recording it in the migrations
// ledger. dir is the data directory the database lives in, needed by the v0
// migration to ingest legacy *.mid files.
func migrate(ctx context.Context, db *sql.DB, dbPath, dir string, log *zap.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY NOT NULL,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("store: create migrations table: %w", err)
	}

	for {
		current, hasVersion, err := currentVersion(ctx, db)
		if err != nil {
			return fmt.Errorf("store: read schema version: %w", err)
		}
		if hasVersion && current > latestSchemaVersion {
			return ErrSchemaTooNew
		}
		if hasVersion && current == latestSchemaVersion {
			return nil
		}

		newVersion := 0
		if hasVersion {
			newVersion = current + 1
		}

		if hasVersion {
			if err := backupBeforeMigration(dbPath, current); err != nil {
				return &ErrMigration{Version: newVersion, Err: err}
			}
		}

		if err := applyMigration(ctx, db, newVersion, dir); err != nil {
			return &ErrMigration{Version: newVersion, Err: err}
		}

		log.Info("applied schema migration", zap.Int("version", newVersion))
	}
}

func currentVersion(ctx context.Context, db *sql.DB) (version int, ok bool, err error) {
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(id) FROM migrations`).Scan(&v); err != nil {
		return 0, false, err
	}
	if !v.Valid {
		return 0, false, nil
	}
	return int(v.Int64), true, nil
}

func backupBeforeMigration(dbPath string, current int) error {
	backupPath := fmt.Sprintf("%s.v%d", dbPath, current)
	if _, err := os.Stat(backupPath); err == nil {
		return fmt.Errorf("store: backup %s already exists, aborting migration", backupPath)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("store: stat backup path: %w", err)
	}
	return copyFile(dbPath, backupPath)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func applyMigration(ctx context.Context, db *sql.DB, version int, dir string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	switch version {
	case 0:
		if err := migrateInit(ctx, tx, dir); err != nil {
			return err
		}
	case 1:
		if err := migrateInlineMIDI(ctx, tx, dir); err != nil {
			return err
		}
	case 2:
		if err := migrateFixLength(ctx, tx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("store: no such migration: %d", version)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO migrations (id, applied_at) VALUES (?, ?)`,
		version, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}

	return tx.Commit()
}

// migrateInit is migration v0: create the legacy recordings table and
// ingest every *.mid file already sitting in the data directory.
func migrateInit(ctx context.Context, tx *sql.Tx, dir string) error {
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE recordings (
			id         INTEGER PRIMARY KEY NOT NULL,
			created_at TEXT NOT NULL,
			filename   TEXT NOT NULL,
			name       TEXT NOT NULL DEFAULT ''
		)`); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read data directory: %w", err)
	}

	var filenames []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".mid") {
			filenames = append(filenames, e.Name())
		}
	}
	sort.Strings(filenames)

	for _, filename := range filenames {
		stem := strings.TrimSuffix(filename, ".mid")
		createdAt, err := time.ParseInLocation("20060102-150405", stem, time.Local)
		if err != nil {
			createdAt = time.Now()
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO recordings (filename, created_at) VALUES (?, ?)`,
			filename, createdAt.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("ingest %s: %w", filename, err)
		}
	}

	return nil
}

// migrateInlineMIDI is migration v1: move MIDI payloads from loose files on
// disk into the database as compressed blobs, and stamp each with the
// canonical tempo the legacy files omitted.
func migrateInlineMIDI(ctx context.Context, tx *sql.Tx, dir string) error {
	if _, err := tx.ExecContext(ctx, `ALTER TABLE recordings ADD COLUMN midi BLOB`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE recordings ADD COLUMN length_seconds REAL NOT NULL DEFAULT 0`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE recordings ADD COLUMN note_count INTEGER NOT NULL DEFAULT 0`); err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, `SELECT id, filename FROM recordings`)
	if err != nil {
		return err
	}
	type row struct {
		id       int64
		filename string
	}
	var legacy []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.filename); err != nil {
			rows.Close()
			return err
		}
		legacy = append(legacy, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, r := range legacy {
		raw, err := os.ReadFile(filepath.Join(dir, r.filename))
		if err != nil {
			return fmt.Errorf("read legacy file %s: %w", r.filename, err)
		}

		withTempo, err := prependTempo(raw)
		if err != nil {
			return fmt.Errorf("re-serialize legacy file %s: %w", r.filename, err)
		}

		decoded, err := midi.DecodeSMF(withTempo)
		if err != nil {
			return fmt.Errorf("decode legacy file %s: %w", r.filename, err)
		}

		compressed, err := compress(withTempo)
		if err != nil {
			return fmt.Errorf("compress legacy file %s: %w", r.filename, err)
		}

		// Store the length the way the pre-v2 formula computed it (120/96
		// times the canonical value). Migration v2 rescales every row by
		// 96/120, which brings these rows to the canonical ticks/192 along
		// with rows written by older builds.
		legacyLength := decoded.LengthSeconds * 120.0 / 96.0

		if _, err := tx.ExecContext(ctx,
			`UPDATE recordings SET midi = ?, length_seconds = ?, note_count = ? WHERE id = ?`,
			compressed, legacyLength, decoded.NoteCount, r.id); err != nil {
			return fmt.Errorf("update legacy row %s: %w", r.filename, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `ALTER TABLE recordings DROP COLUMN filename`); err != nil {
		return err
	}

	return nil
}

// migrateFixLength is migration v2: a prior version of the length formula
// used the wrong PPQ/BPM ratio; rescale every stored value to correct it.
func migrateFixLength(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `UPDATE recordings SET length_seconds = length_seconds * 96.0 / 120.0`)
	return err
}
