// Package audit records security events in a tamper-evident log.
//
// Events form an HMAC chain: each record carries a sequence number, the
// previous record's HMAC, and its own HMAC over a canonical serialization
// of its fields. The chain key is derived from the session key, so the log
// can only be extended or rewritten by someone who can already unlock the
// app. Records are appended to per-month JSONL files under the audit
// directory.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Operations recorded by the subsystem.
const (
	OpSessionUnlock          = "session.unlock"
	OpSessionUnlockBiometric = "session.unlock_biometric"
	OpSessionLock            = "session.lock"
	OpSessionAutoLock        = "session.autolock"
	OpCredentialSetup        = "credential.setup"
	OpCredentialChange       = "credential.change"
	OpBiometricEnable        = "biometric.enable"
	OpBiometricDisable       = "biometric.disable"
	OpItemPut                = "item.put"
	OpItemDelete             = "item.delete"
	OpRekeyComplete          = "rekey.complete"
)

// Result values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// genesisHash anchors the first record of a chain.
const genesisHash = "genesis"

// ErrNoKey is returned when recording or verifying before SetKey. The log
// is only writable while the session key is available.
var ErrNoKey = errors.New("audit: hmac key not set")

// Event is one audit record. Item ids are stored as HMACs, never
// plaintext, so the log leaks nothing about vault contents.
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"`
	Timestamp string `json:"ts"`
	Operation string `json:"op"`
	Item      string `json:"item,omitempty"`
	Result    string `json:"result"`
	Error     string `json:"error,omitempty"`
	Chain     Chain  `json:"chain"`
}

// Chain holds the tamper-detection fields.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// Logger appends events to the chain. Safe for concurrent use.
type Logger struct {
	dir string
	now func() time.Time

	mu       sync.Mutex
	key      []byte
	sequence int64
	prevHash string
}

// NewLogger returns a Logger writing under dir. No events can be recorded
// until SetKey installs the chain key.
func NewLogger(dir string) *Logger {
	return &Logger{
		dir:      dir,
		now:      time.Now,
		prevHash: genesisHash,
	}
}

// SetKey installs the chain HMAC key and loads persisted chain state so a
// new process continues the existing chain. The caller derives the key
// from the session key; the logger owns the copy it keeps.
func (l *Logger) SetKey(key []byte) error {
	if len(key) == 0 {
		return ErrNoKey
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.key = append([]byte(nil), key...)
	if err := l.loadState(); err != nil {
		// First run or unreadable meta: start a fresh chain segment.
		l.sequence = 0
		l.prevHash = genesisHash
	}
	return nil
}

// Clear wipes the chain key. Recording stops until the next SetKey.
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.key {
		l.key[i] = 0
	}
	l.key = nil
}

// Enabled reports whether a chain key is installed.
func (l *Logger) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.key != nil
}

// Record appends one event to the chain. itemID, if non-empty, is stored
// as an HMAC. errMsg is recorded verbatim for ResultError events.
func (l *Logger) Record(op, result, itemID, errMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.key == nil {
		return ErrNoKey
	}
	if err := os.MkdirAll(l.dir, 0700); err != nil {
		return fmt.Errorf("audit: create directory: %w", err)
	}

	event := Event{
		Version:   1,
		ID:        uuid.NewString(),
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		Operation: op,
		Result:    result,
		Error:     errMsg,
	}
	if itemID != "" {
		event.Item = l.tag(itemID)
	}

	l.sequence++
	event.Chain.Sequence = l.sequence
	event.Chain.PrevHash = l.prevHash
	event.Chain.HMAC = l.sign(&event)
	l.prevHash = event.Chain.HMAC

	if err := l.append(&event); err != nil {
		l.sequence--
		l.prevHash = event.Chain.PrevHash
		return err
	}
	return l.saveState()
}

// Success records a successful operation with no item.
func (l *Logger) Success(op string) error {
	return l.Record(op, ResultSuccess, "", "")
}

// SuccessItem records a successful operation on one item.
func (l *Logger) SuccessItem(op, itemID string) error {
	return l.Record(op, ResultSuccess, itemID, "")
}

// Failure records a failed operation.
func (l *Logger) Failure(op, errMsg string) error {
	return l.Record(op, ResultError, "", errMsg)
}

// tag HMAC-blinds an item id for storage in the log.
func (l *Logger) tag(itemID string) string {
	mac := hmac.New(sha256.New, l.key)
	mac.Write([]byte(itemID))
	return hex.EncodeToString(mac.Sum(nil))
}

// sign computes the record HMAC over the canonical field serialization.
// The HMAC field itself is excluded.
func (l *Logger) sign(event *Event) string {
	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%d|%s",
		event.Version,
		event.ID,
		event.Timestamp,
		event.Operation,
		event.Item,
		event.Result,
		event.Error,
		event.Chain.Sequence,
		event.Chain.PrevHash,
	)
	mac := hmac.New(sha256.New, l.key)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func (l *Logger) append(event *Event) error {
	name := l.now().UTC().Format("2006-01") + ".jsonl"
	path := filepath.Join(l.dir, name)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: encode event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: write event: %w", err)
	}
	return nil
}

type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

func (l *Logger) loadState() error {
	data, err := os.ReadFile(filepath.Join(l.dir, "chain.meta"))
	if err != nil {
		return err
	}
	var state chainState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	l.sequence = state.Sequence
	l.prevHash = state.PrevHash
	return nil
}

func (l *Logger) saveState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: encode chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.dir, "chain.meta"), data, 0600); err != nil {
		return fmt.Errorf("audit: save chain state: %w", err)
	}
	return nil
}

// Report summarizes a chain verification pass.
type Report struct {
	Valid    bool     `json:"valid"`
	Records  int      `json:"records"`
	Problems []string `json:"problems,omitempty"`
}

// Verify replays every log file in chronological order and checks sequence
// continuity, chain linkage, and each record's HMAC.
func (l *Logger) Verify() (*Report, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.key == nil {
		return nil, ErrNoKey
	}

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	report := &Report{Valid: true}
	expectedPrev := genesisHash
	expectedSeq := int64(1)

	for _, event := range events {
		report.Records++

		if event.Chain.Sequence != expectedSeq {
			report.Valid = false
			report.Problems = append(report.Problems, fmt.Sprintf(
				"record %s: sequence %d, expected %d", event.ID, event.Chain.Sequence, expectedSeq))
		}
		if event.Chain.PrevHash != expectedPrev {
			report.Valid = false
			report.Problems = append(report.Problems, fmt.Sprintf(
				"record %s: chain broken", event.ID))
		}
		if l.sign(&event) != event.Chain.HMAC {
			report.Valid = false
			report.Problems = append(report.Problems, fmt.Sprintf(
				"record %s: hmac mismatch, possible tampering", event.ID))
		}

		expectedPrev = event.Chain.HMAC
		expectedSeq = event.Chain.Sequence + 1
	}

	return report, nil
}

// List returns the most recent events, newest last, up to limit. A limit
// of zero or less returns everything.
func (l *Logger) List(limit int) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// readAll loads every event across the monthly files in chronological
// order. The YYYY-MM naming makes lexical order chronological.
func (l *Logger) readAll() ([]Event, error) {
	files, err := filepath.Glob(filepath.Join(l.dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: list log files: %w", err)
	}
	sort.Strings(files)

	var events []Event
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: read %s: %w", filepath.Base(file), err)
		}
		for _, line := range splitLines(data) {
			if len(line) == 0 {
				continue
			}
			var event Event
			if err := json.Unmarshal(line, &event); err != nil {
				return nil, fmt.Errorf("audit: corrupt record in %s: %w", filepath.Base(file), err)
			}
			events = append(events, event)
		}
	}
	return events, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
