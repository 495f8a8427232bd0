package backup

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/knagatomi/lockgate/pkg/envelope"
	"github.com/knagatomi/lockgate/pkg/kdf"
	"github.com/knagatomi/lockgate/pkg/vault"
)

const (
	// FormatVersion is the backup format version this package writes.
	FormatVersion = 1

	// magic identifies a lockgate backup file. Exactly 8 bytes.
	magic = "LGBACKUP"

	// maxHeaderLen caps the declared header length. A real header is a few
	// hundred bytes; anything near the cap is a corrupt or hostile file.
	maxHeaderLen = 1 << 20
)

// Header is the plaintext preamble of a backup file. It carries everything
// needed to re-derive the encryption key; the serialized header bytes are
// bound to the sealed payload as associated data, so any edit to them makes
// the payload fail to open.
type Header struct {
	Version   int            `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	ItemCount int            `json:"item_count"`
	Suite     envelope.Suite `json:"suite"`
	KDF       kdf.Params     `json:"kdf"`
	Salt      []byte         `json:"salt"`
}

// writeHeader writes magic, a length-prefixed JSON header, and returns the
// exact header bytes for use as associated data.
func writeHeader(w io.Writer, h *Header) ([]byte, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("backup: encode header: %w", err)
	}
	if _, err := io.WriteString(w, magic); err != nil {
		return nil, fmt.Errorf("backup: write magic: %w", err)
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	if _, err := w.Write(length[:]); err != nil {
		return nil, fmt.Errorf("backup: write header length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("backup: write header: %w", err)
	}
	return data, nil
}

// readHeader reads magic and the length-prefixed JSON header. It returns the
// parsed header together with its exact serialized bytes.
func readHeader(r io.Reader) (*Header, []byte, error) {
	var m [len(magic)]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return nil, nil, readErr(err)
	}
	if string(m[:]) != magic {
		return nil, nil, ErrInvalidMagic
	}

	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, nil, readErr(err)
	}
	n := binary.BigEndian.Uint32(length[:])
	if n > maxHeaderLen {
		return nil, nil, ErrHeaderTooLarge
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, nil, readErr(err)
	}
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, nil, fmt.Errorf("backup: decode header: %w", err)
	}
	if h.Version != FormatVersion {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return &h, data, nil
}

func readErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncated
	}
	return fmt.Errorf("backup: read: %w", err)
}

// payloadItem is the serialized form of one vault item inside the sealed
// payload. Timestamps are archival; the vault assigns fresh ones on restore.
type payloadItem struct {
	Name      string    `cbor:"name"`
	Value     []byte    `cbor:"value"`
	Category  string    `cbor:"category,omitempty"`
	Notes     string    `cbor:"notes,omitempty"`
	CreatedAt time.Time `cbor:"created_at"`
	UpdatedAt time.Time `cbor:"updated_at"`
}

func encodePayload(items []*vault.Item) ([]byte, error) {
	payload := make([]payloadItem, len(items))
	for i, it := range items {
		payload[i] = payloadItem{
			Name:      it.Name,
			Value:     it.Value,
			Category:  it.Category,
			Notes:     it.Notes,
			CreatedAt: it.CreatedAt,
			UpdatedAt: it.UpdatedAt,
		}
	}
	data, err := cbor.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("backup: encode payload: %w", err)
	}
	return data, nil
}

func decodePayload(data []byte) ([]*vault.Item, error) {
	var payload []payloadItem
	if err := cbor.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("backup: decode payload: %w", err)
	}
	items := make([]*vault.Item, len(payload))
	for i, p := range payload {
		items[i] = &vault.Item{
			Name:      p.Name,
			Value:     p.Value,
			Category:  p.Category,
			Notes:     p.Notes,
			HasNotes:  p.Notes != "",
			CreatedAt: p.CreatedAt,
			UpdatedAt: p.UpdatedAt,
		}
	}
	return items, nil
}
