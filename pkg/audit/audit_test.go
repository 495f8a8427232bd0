package audit

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	dir := t.TempDir()
	logger := NewLogger(dir)
	if err := logger.SetKey(testKey); err != nil {
		t.Fatalf("SetKey() error = %v", err)
	}
	return logger, dir
}

// TestRecordAndVerify checks that a sequence of records forms a valid
// chain.
func TestRecordAndVerify(t *testing.T) {
	logger, _ := newTestLogger(t)

	if err := logger.Success(OpSessionUnlock); err != nil {
		t.Fatalf("Success() error = %v", err)
	}
	if err := logger.SuccessItem(OpItemPut, "item-1"); err != nil {
		t.Fatalf("SuccessItem() error = %v", err)
	}
	if err := logger.Failure(OpSessionUnlock, "incorrect passphrase"); err != nil {
		t.Fatalf("Failure() error = %v", err)
	}

	report, err := logger.Verify()
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !report.Valid {
		t.Errorf("Verify() valid = false, problems = %v", report.Problems)
	}
	if report.Records != 3 {
		t.Errorf("Verify() records = %d, want 3", report.Records)
	}
}

// TestRecordWithoutKey checks that recording fails closed before SetKey.
func TestRecordWithoutKey(t *testing.T) {
	logger := NewLogger(t.TempDir())

	if err := logger.Success(OpSessionLock); !errors.Is(err, ErrNoKey) {
		t.Errorf("Record() error = %v, want ErrNoKey", err)
	}
	if _, err := logger.Verify(); !errors.Is(err, ErrNoKey) {
		t.Errorf("Verify() error = %v, want ErrNoKey", err)
	}
}

// TestTamperDetection checks that editing a stored record invalidates the
// chain.
func TestTamperDetection(t *testing.T) {
	logger, dir := newTestLogger(t)

	for i := 0; i < 3; i++ {
		if err := logger.Success(OpSessionUnlock); err != nil {
			t.Fatalf("Success() error = %v", err)
		}
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one log file, got %v (err %v)", files, err)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	tampered := strings.Replace(string(data), OpSessionUnlock, OpSessionLock, 1)
	if tampered == string(data) {
		t.Fatal("tampering substitution had no effect")
	}
	if err := os.WriteFile(files[0], []byte(tampered), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	report, err := logger.Verify()
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if report.Valid {
		t.Error("Verify() valid = true after tampering")
	}
	if len(report.Problems) == 0 {
		t.Error("Verify() reported no problems after tampering")
	}
}

// TestChainContinuesAcrossReopen checks that a new Logger over the same
// directory extends the existing chain instead of restarting it.
func TestChainContinuesAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	first := NewLogger(dir)
	if err := first.SetKey(testKey); err != nil {
		t.Fatalf("SetKey() error = %v", err)
	}
	if err := first.Success(OpCredentialSetup); err != nil {
		t.Fatalf("Success() error = %v", err)
	}
	if err := first.Success(OpSessionUnlock); err != nil {
		t.Fatalf("Success() error = %v", err)
	}

	second := NewLogger(dir)
	if err := second.SetKey(testKey); err != nil {
		t.Fatalf("SetKey() error = %v", err)
	}
	if err := second.Success(OpSessionLock); err != nil {
		t.Fatalf("Success() error = %v", err)
	}

	report, err := second.Verify()
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !report.Valid {
		t.Errorf("Verify() valid = false across reopen, problems = %v", report.Problems)
	}
	if report.Records != 3 {
		t.Errorf("Verify() records = %d, want 3", report.Records)
	}
}

// TestListReturnsRecent checks the tail semantics of List.
func TestListReturnsRecent(t *testing.T) {
	logger, _ := newTestLogger(t)

	ops := []string{OpSessionUnlock, OpItemPut, OpItemDelete, OpSessionLock}
	for _, op := range ops {
		if err := logger.Success(op); err != nil {
			t.Fatalf("Success(%s) error = %v", op, err)
		}
	}

	events, err := logger.List(2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("List(2) returned %d events", len(events))
	}
	if events[0].Operation != OpItemDelete || events[1].Operation != OpSessionLock {
		t.Errorf("List(2) = [%s %s], want tail of the log",
			events[0].Operation, events[1].Operation)
	}

	all, err := logger.List(0)
	if err != nil {
		t.Fatalf("List(0) error = %v", err)
	}
	if len(all) != len(ops) {
		t.Errorf("List(0) returned %d events, want %d", len(all), len(ops))
	}
}

// TestItemIDsNotStoredPlaintext checks that item ids appear in the log
// only as HMACs.
func TestItemIDsNotStoredPlaintext(t *testing.T) {
	logger, dir := newTestLogger(t)

	const itemID = "9f1c2e34-secret-item"
	if err := logger.SuccessItem(OpItemPut, itemID); err != nil {
		t.Fatalf("SuccessItem() error = %v", err)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		if strings.Contains(string(data), itemID) {
			t.Errorf("%s contains plaintext item id", filepath.Base(file))
		}
	}

	events, err := logger.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if events[0].Item == "" || events[0].Item == itemID {
		t.Errorf("event item = %q, want HMAC tag", events[0].Item)
	}
}

// TestClearDisablesRecording checks that wiping the key stops the log.
func TestClearDisablesRecording(t *testing.T) {
	logger, _ := newTestLogger(t)

	if err := logger.Success(OpSessionUnlock); err != nil {
		t.Fatalf("Success() error = %v", err)
	}
	logger.Clear()
	if logger.Enabled() {
		t.Error("Enabled() = true after Clear()")
	}
	if err := logger.Success(OpSessionLock); !errors.Is(err, ErrNoKey) {
		t.Errorf("Record() after Clear() error = %v, want ErrNoKey", err)
	}
}
