package vault

import (
	"fmt"

	"github.com/knagatomi/lockgate/pkg/envelope"
	"github.com/knagatomi/lockgate/pkg/kdf"
)

// Rekey re-encrypts every stored envelope from oldCipher to newCipher and
// returns the number of items rotated. The whole pass runs in a single
// transaction: a failure on any row rolls back all of them, leaving the
// database fully on the old key.
//
// Timestamps are untouched; rotation is not an edit.
func (v *Vault) Rekey(oldCipher, newCipher *envelope.Cipher) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	tx, err := v.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("vault: begin rekey transaction: %w", err)
	}
	defer tx.Rollback()

	type row struct {
		id                 string
		name, value, notes []byte
	}

	// Drain the cursor before writing back on the same transaction.
	rows, err := tx.Query("SELECT id, encrypted_name, encrypted_value, encrypted_notes FROM items ORDER BY created_at, id")
	if err != nil {
		return 0, fmt.Errorf("vault: read items for rekey: %w", err)
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.name, &r.value, &r.notes); err != nil {
			rows.Close()
			return 0, fmt.Errorf("vault: scan item for rekey: %w", err)
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("vault: iterate items for rekey: %w", err)
	}
	rows.Close()

	for _, r := range all {
		aad := []byte(r.id)
		name, err := reseal(r.name, aad, oldCipher, newCipher)
		if err != nil {
			return 0, fmt.Errorf("vault: rekey item %s name: %w", r.id, err)
		}
		value, err := reseal(r.value, aad, oldCipher, newCipher)
		if err != nil {
			return 0, fmt.Errorf("vault: rekey item %s value: %w", r.id, err)
		}
		var notes []byte
		if len(r.notes) > 0 {
			notes, err = reseal(r.notes, aad, oldCipher, newCipher)
			if err != nil {
				return 0, fmt.Errorf("vault: rekey item %s notes: %w", r.id, err)
			}
		}
		if _, err := tx.Exec(
			"UPDATE items SET encrypted_name = ?, encrypted_value = ?, encrypted_notes = ? WHERE id = ?",
			name, value, notes, r.id); err != nil {
			return 0, fmt.Errorf("vault: update item %s: %w", r.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("vault: commit rekey transaction: %w", err)
	}

	v.log.Info().Int("items", len(all)).Msg("envelopes rotated")
	return len(all), nil
}

// reseal opens one envelope under the old cipher and seals the plaintext
// under the new one, wiping the plaintext in between.
func reseal(blob, aad []byte, oldCipher, newCipher *envelope.Cipher) ([]byte, error) {
	var env envelope.Envelope
	if err := env.UnmarshalBinary(blob); err != nil {
		return nil, err
	}
	plaintext, err := oldCipher.Open(&env, aad)
	if err != nil {
		return nil, err
	}
	defer kdf.Wipe(plaintext)

	resealed, err := newCipher.Seal(plaintext, aad)
	if err != nil {
		return nil, err
	}
	return resealed.MarshalBinary()
}
