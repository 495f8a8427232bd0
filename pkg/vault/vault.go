// Package vault stores encrypted items in a local SQLite database.
//
// Every sensitive column holds an envelope sealed through the session, and
// the item id is the envelope's associated data: a ciphertext copied into
// another row fails authentication instead of decrypting. Items are located
// by a hash of their name, so lookups never need decryption; the category
// is kept in plaintext to allow filtered listings of a locked-at-rest
// database schema without exposing names, values, or notes.
package vault

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/knagatomi/lockgate/pkg/audit"

	_ "modernc.org/sqlite"
)

const (
	// DBFileName is the SQLite database file under the vault directory.
	DBFileName = "items.db"

	// MaxNameLength caps item names in bytes.
	MaxNameLength = 256

	// MaxValueSize caps a single item value at 1 MiB.
	MaxValueSize = 1024 * 1024

	// MaxNotesSize caps the notes field at 10 KiB.
	MaxNotesSize = 10 * 1024

	// MaxCategoryLength caps the plaintext category label.
	MaxCategoryLength = 64

	// MinDiskSpaceBytes is the free-space floor required before a write.
	MinDiskSpaceBytes = 10 * 1024 * 1024

	fileMode = 0600
	dirMode  = 0700
)

var (
	// ErrItemNotFound is returned when no item has the given name.
	ErrItemNotFound = errors.New("vault: item not found")

	// ErrInvalidName is returned for empty or oversized item names.
	ErrInvalidName = errors.New("vault: invalid item name")

	// ErrValueTooLarge is returned for values over MaxValueSize.
	ErrValueTooLarge = errors.New("vault: value too large")

	// ErrNotesTooLarge is returned for notes over MaxNotesSize.
	ErrNotesTooLarge = errors.New("vault: notes too large")

	// ErrInvalidCategory is returned for category labels outside
	// [A-Za-z0-9_-] or over MaxCategoryLength. Categories are stored in
	// plaintext, so the charset is kept strict.
	ErrInvalidCategory = errors.New("vault: invalid category")

	// ErrInsufficientDisk is returned when a write would drop free space
	// below MinDiskSpaceBytes.
	ErrInsufficientDisk = errors.New("vault: insufficient disk space")
)

var categoryRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Cipher is the session-held encryption surface items pass through. It is
// satisfied by the session controller; the vault itself never sees a key.
type Cipher interface {
	EncryptForStorage(plaintext, aad []byte) ([]byte, error)
	DecryptFromStorage(blob, aad []byte) ([]byte, error)
}

// Item is one stored entry. Value and Notes are populated by Get and left
// empty by listings, which do not decrypt them; HasNotes flags their
// presence without decryption.
type Item struct {
	ID        string
	Name      string
	Value     []byte
	Category  string
	Notes     string
	HasNotes  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Meta carries the optional item fields for Put.
type Meta struct {
	Category string
	Notes    string
}

// Config assembles a Vault. Path and Cipher are required.
type Config struct {
	Path   string
	Cipher Cipher
	Audit  *audit.Logger    // nil disables audit events
	Now    func() time.Time // nil -> time.Now
	Logger *zerolog.Logger  // nil -> no-op
}

// Vault is the item store. Safe for concurrent use.
type Vault struct {
	path   string
	db     *sql.DB
	cipher Cipher
	audit  *audit.Logger
	now    func() time.Time
	log    zerolog.Logger

	mu sync.RWMutex
}

// Open creates the vault directory and database if needed, applies any
// pending schema migrations, and returns the store.
func Open(cfg Config) (*Vault, error) {
	if cfg.Path == "" {
		return nil, errors.New("vault: path is required")
	}
	if cfg.Cipher == nil {
		return nil, errors.New("vault: cipher is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	if err := os.MkdirAll(cfg.Path, dirMode); err != nil {
		return nil, fmt.Errorf("vault: create directory: %w", err)
	}

	dsn := "file:" + filepath.Join(cfg.Path, DBFileName) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("vault: open database: %w", err)
	}
	if err := migrateSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	v := &Vault{
		path:   cfg.Path,
		db:     db,
		cipher: cfg.Cipher,
		audit:  cfg.Audit,
		now:    cfg.Now,
		log:    logger,
	}
	v.warnOnLoosePermissions()
	return v, nil
}

// Close releases the database handle.
func (v *Vault) Close() error {
	return v.db.Close()
}

// Path returns the vault directory.
func (v *Vault) Path() string {
	return v.path
}

// Put stores value under name, creating the item or replacing an existing
// one. The item id and creation time survive replacement.
func (v *Vault) Put(name string, value []byte, meta Meta) (*Item, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if len(value) > MaxValueSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrValueTooLarge, len(value), MaxValueSize)
	}
	if err := validateMeta(meta); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.hasSpaceFor(len(name) + len(value) + len(meta.Notes)); err != nil {
		return nil, err
	}

	now := v.now()
	item := &Item{
		Name:      name,
		Category:  meta.Category,
		Notes:     meta.Notes,
		HasNotes:  meta.Notes != "",
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Resolve the item id first: envelopes are bound to it, so a replaced
	// item must be resealed under its original id.
	existing := false
	var createdAt int64
	err := v.db.QueryRow("SELECT id, created_at FROM items WHERE name_hash = ?", hashName(name)).
		Scan(&item.ID, &createdAt)
	switch {
	case err == nil:
		existing = true
		item.CreatedAt = time.Unix(createdAt, 0)
	case errors.Is(err, sql.ErrNoRows):
		item.ID = uuid.NewString()
	default:
		return nil, fmt.Errorf("vault: look up item: %w", err)
	}

	aad := []byte(item.ID)
	encName, err := v.cipher.EncryptForStorage([]byte(name), aad)
	if err != nil {
		return nil, fmt.Errorf("vault: encrypt name: %w", err)
	}
	encValue, err := v.cipher.EncryptForStorage(value, aad)
	if err != nil {
		return nil, fmt.Errorf("vault: encrypt value: %w", err)
	}
	var encNotes []byte
	if meta.Notes != "" {
		encNotes, err = v.cipher.EncryptForStorage([]byte(meta.Notes), aad)
		if err != nil {
			return nil, fmt.Errorf("vault: encrypt notes: %w", err)
		}
	}

	tx, err := v.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("vault: begin transaction: %w", err)
	}
	defer tx.Rollback()

	if existing {
		_, err = tx.Exec(`
			UPDATE items
			SET encrypted_name = ?, encrypted_value = ?, encrypted_notes = ?, category = ?, updated_at = ?
			WHERE id = ?`,
			encName, encValue, encNotes, nullableCategory(meta.Category), now.Unix(), item.ID)
	} else {
		_, err = tx.Exec(`
			INSERT INTO items (id, name_hash, encrypted_name, encrypted_value, encrypted_notes, category, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, hashName(name), encName, encValue, encNotes, nullableCategory(meta.Category),
			item.CreatedAt.Unix(), now.Unix())
	}
	if err != nil {
		return nil, fmt.Errorf("vault: save item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("vault: commit transaction: %w", err)
	}

	v.auditItem(audit.OpItemPut, item.ID)
	v.log.Debug().Str("id", item.ID).Bool("replaced", existing).Msg("item stored")
	return item, nil
}

// Get returns the full item stored under name, including its decrypted
// value and notes.
func (v *Vault) Get(name string) (*Item, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	var (
		item               Item
		encValue, encNotes []byte
		category           sql.NullString
		createdAt, updated int64
	)
	err := v.db.QueryRow(`
		SELECT id, encrypted_value, encrypted_notes, category, created_at, updated_at
		FROM items WHERE name_hash = ?`, hashName(name)).
		Scan(&item.ID, &encValue, &encNotes, &category, &createdAt, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("vault: read item: %w", err)
	}

	aad := []byte(item.ID)
	value, err := v.cipher.DecryptFromStorage(encValue, aad)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypt value: %w", err)
	}
	if len(encNotes) > 0 {
		notes, err := v.cipher.DecryptFromStorage(encNotes, aad)
		if err != nil {
			return nil, fmt.Errorf("vault: decrypt notes: %w", err)
		}
		item.Notes = string(notes)
		item.HasNotes = true
	}

	item.Name = name
	item.Value = value
	item.Category = category.String
	item.CreatedAt = time.Unix(createdAt, 0)
	item.UpdatedAt = time.Unix(updated, 0)
	return &item, nil
}

// Stat returns an item's metadata without decrypting its value or notes.
func (v *Vault) Stat(name string) (*Item, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	var (
		item               Item
		category           sql.NullString
		createdAt, updated int64
	)
	err := v.db.QueryRow(`
		SELECT id, category, encrypted_notes IS NOT NULL AND length(encrypted_notes) > 0, created_at, updated_at
		FROM items WHERE name_hash = ?`, hashName(name)).
		Scan(&item.ID, &category, &item.HasNotes, &createdAt, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("vault: stat item: %w", err)
	}

	item.Name = name
	item.Category = category.String
	item.CreatedAt = time.Unix(createdAt, 0)
	item.UpdatedAt = time.Unix(updated, 0)
	return &item, nil
}

// List returns every item's metadata ordered by creation time. Names are
// decrypted; values and notes are not.
func (v *Vault) List() ([]*Item, error) {
	return v.list(`
		SELECT id, encrypted_name, category, encrypted_notes IS NOT NULL AND length(encrypted_notes) > 0, created_at, updated_at
		FROM items ORDER BY created_at, id`)
}

// ListByCategory returns the items carrying the given plaintext category.
func (v *Vault) ListByCategory(category string) ([]*Item, error) {
	if err := validateMeta(Meta{Category: category}); err != nil {
		return nil, err
	}
	return v.list(`
		SELECT id, encrypted_name, category, encrypted_notes IS NOT NULL AND length(encrypted_notes) > 0, created_at, updated_at
		FROM items WHERE category = ? ORDER BY created_at, id`,
		category)
}

func (v *Vault) list(query string, args ...any) ([]*Item, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	rows, err := v.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("vault: query items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		var (
			item               Item
			encName            []byte
			category           sql.NullString
			createdAt, updated int64
		)
		if err := rows.Scan(&item.ID, &encName, &category, &item.HasNotes, &createdAt, &updated); err != nil {
			return nil, fmt.Errorf("vault: scan item: %w", err)
		}
		name, err := v.cipher.DecryptFromStorage(encName, []byte(item.ID))
		if err != nil {
			return nil, fmt.Errorf("vault: decrypt name: %w", err)
		}
		item.Name = string(name)
		item.Category = category.String
		item.CreatedAt = time.Unix(createdAt, 0)
		item.UpdatedAt = time.Unix(updated, 0)
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vault: iterate items: %w", err)
	}
	return items, nil
}

// Delete removes the item stored under name.
func (v *Vault) Delete(name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	var id string
	err := v.db.QueryRow("SELECT id FROM items WHERE name_hash = ?", hashName(name)).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrItemNotFound
		}
		return fmt.Errorf("vault: look up item: %w", err)
	}

	result, err := v.db.Exec("DELETE FROM items WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("vault: delete item: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrItemNotFound
	}

	v.auditItem(audit.OpItemDelete, id)
	v.log.Debug().Str("id", id).Msg("item deleted")
	return nil
}

// Count returns the number of stored items.
func (v *Vault) Count() (int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var n int
	if err := v.db.QueryRow("SELECT COUNT(*) FROM items").Scan(&n); err != nil {
		return 0, fmt.Errorf("vault: count items: %w", err)
	}
	return n, nil
}

// SpaceInfo reports filesystem capacity for the vault directory.
type SpaceInfo struct {
	Available uint64
	Total     uint64
}

// DiskSpace probes the filesystem holding the vault.
func (v *Vault) DiskSpace() (SpaceInfo, error) {
	return diskSpace(v.path)
}

// hashName computes the SHA-256 lookup hash of an item name.
func hashName(name string) string {
	h := sha256.Sum256([]byte(name))
	return hex.EncodeToString(h[:])
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidName, len(name), MaxNameLength)
	}
	return nil
}

func validateMeta(meta Meta) error {
	if meta.Category != "" {
		if len(meta.Category) > MaxCategoryLength {
			return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidCategory, len(meta.Category), MaxCategoryLength)
		}
		if !categoryRegex.MatchString(meta.Category) {
			return fmt.Errorf("%w: %q must match [a-zA-Z0-9_-]", ErrInvalidCategory, meta.Category)
		}
	}
	if len(meta.Notes) > MaxNotesSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrNotesTooLarge, len(meta.Notes), MaxNotesSize)
	}
	return nil
}

func nullableCategory(category string) sql.NullString {
	return sql.NullString{String: category, Valid: category != ""}
}

// hasSpaceFor refuses a write when free space would drop below the floor.
// A failed space probe is logged and ignored rather than blocking writes.
func (v *Vault) hasSpaceFor(n int) error {
	space, err := v.DiskSpace()
	if err != nil {
		v.log.Debug().Err(err).Msg("disk space probe failed")
		return nil
	}
	if space.Available < MinDiskSpaceBytes+uint64(n) {
		return fmt.Errorf("%w: %d bytes available", ErrInsufficientDisk, space.Available)
	}
	return nil
}

// warnOnLoosePermissions flags a database file readable by other users.
func (v *Vault) warnOnLoosePermissions() {
	info, err := os.Stat(filepath.Join(v.path, DBFileName))
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		v.log.Warn().Str("file", DBFileName).Str("mode", fmt.Sprintf("%04o", perm)).
			Msg("database file has loose permissions, expected 0600")
	}
}

// auditItem records one item event, dropping it when the audit chain key
// is not armed.
func (v *Vault) auditItem(op, id string) {
	if v.audit == nil {
		return
	}
	if err := v.audit.SuccessItem(op, id); err != nil && !errors.Is(err, audit.ErrNoKey) {
		v.log.Warn().Err(err).Str("op", op).Msg("audit record failed")
	}
}
