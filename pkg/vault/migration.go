package vault

import (
	"database/sql"
	"errors"
	"fmt"
)

const (
	// schemaVersion1 is the original layout without categories.
	schemaVersion1 = 1
	// schemaVersion2 adds the plaintext category column and its index.
	schemaVersion2 = 2

	currentSchemaVersion = schemaVersion2
)

// migrateSchema creates missing tables and brings an older database up to
// the current layout. Each migration is idempotent, so a fresh database
// created with the current shape passes through them unchanged.
func migrateSchema(db *sql.DB) error {
	if err := createSchema(db); err != nil {
		return err
	}

	version, err := getSchemaVersion(db)
	if err != nil {
		return err
	}
	if version < schemaVersion2 {
		if err := migrateToV2(db); err != nil {
			return fmt.Errorf("vault: migration to v2: %w", err)
		}
	}
	return nil
}

// createSchema creates the current tables when absent. Existing tables are
// left as they are; migrations patch their layout afterwards.
func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			name_hash TEXT UNIQUE NOT NULL,
			encrypted_name BLOB NOT NULL,
			encrypted_value BLOB NOT NULL,
			encrypted_notes BLOB,
			category TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("vault: create items table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			migrated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("vault: create schema_version table: %w", err)
	}
	return nil
}

// getSchemaVersion returns the recorded schema version. Databases without a
// version row predate versioning and count as version 1.
func getSchemaVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return schemaVersion1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("vault: get schema version: %w", err)
	}
	return version, nil
}

// migrateToV2 adds the category column and its index. The column check
// makes the migration a no-op on databases that already carry it.
func migrateToV2(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	columns, err := getTableColumns(tx, "items")
	if err != nil {
		return fmt.Errorf("get table columns: %w", err)
	}
	if !columns["category"] {
		if _, err := tx.Exec("ALTER TABLE items ADD COLUMN category TEXT"); err != nil {
			return fmt.Errorf("add category column: %w", err)
		}
	}

	// Outside the column guard: fresh databases carry the column from the
	// start but still need the index.
	if _, err := tx.Exec("CREATE INDEX IF NOT EXISTS idx_items_category ON items(category)"); err != nil {
		return fmt.Errorf("create category index: %w", err)
	}

	if _, err := tx.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion2); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return tx.Commit()
}

// getTableColumns returns the set of column names for a table.
func getTableColumns(tx *sql.Tx, table string) (map[string]bool, error) {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, ctype      string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		columns[name] = true
	}
	return columns, rows.Err()
}
