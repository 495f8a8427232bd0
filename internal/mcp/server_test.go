package mcp

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/knagatomi/lockgate/pkg/credential"
	"github.com/knagatomi/lockgate/pkg/kdf"
	"github.com/knagatomi/lockgate/pkg/securestore"
	"github.com/knagatomi/lockgate/pkg/session"
	"github.com/knagatomi/lockgate/pkg/vault"
)

const testPassphrase = "correct-horse-battery"

var testParams = kdf.Params{Time: 1, MemoryKiB: kdf.MinMemoryKiB, Threads: 1}

type testEnv struct {
	srv   *Server
	ctrl  *session.Controller
	vault *vault.Vault
}

// newTestEnv builds an unlocked session over an in-memory store, a vault in
// a temp directory, and a server with a generous rate limit.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := securestore.NewMemStore()
	creds, err := credential.NewManager(credential.Config{Store: store, Params: testParams})
	if err != nil {
		t.Fatalf("credential.NewManager() error = %v", err)
	}
	ctrl, err := session.NewController(session.Config{Credential: creds, Store: store})
	if err != nil {
		t.Fatalf("session.NewController() error = %v", err)
	}
	if err := ctrl.SetupPassphrase(testPassphrase); err != nil {
		t.Fatalf("SetupPassphrase() error = %v", err)
	}

	v, err := vault.Open(vault.Config{Path: t.TempDir(), Cipher: ctrl})
	if err != nil {
		t.Fatalf("vault.Open() error = %v", err)
	}
	t.Cleanup(func() { v.Close() })
	ctrl.SetRekeyer(v)

	srv, err := NewServer(Options{Session: ctrl, Vault: v, RatePerSec: 1000, Burst: 1000})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return &testEnv{srv: srv, ctrl: ctrl, vault: v}
}

func seedItems(t *testing.T, v *vault.Vault) {
	t.Helper()
	puts := []struct {
		name, category, notes string
	}{
		{"github-token", "tokens", "rotate quarterly"},
		{"db-password", "databases", ""},
		{"api-key", "tokens", ""},
	}
	for _, p := range puts {
		if _, err := v.Put(p.name, []byte("secret"), vault.Meta{Category: p.category, Notes: p.notes}); err != nil {
			t.Fatalf("Put(%q) error = %v", p.name, err)
		}
	}
}

// TestVaultStatus reports an unlocked, populated vault.
func TestVaultStatus(t *testing.T) {
	env := newTestEnv(t)
	seedItems(t, env.vault)

	_, out, err := env.srv.handleVaultStatus(context.Background(), nil, VaultStatusInput{})
	if err != nil {
		t.Fatalf("vault_status error = %v", err)
	}
	if !out.SetUp || !out.Unlocked || out.LockedOut {
		t.Errorf("vault_status = %+v, want set up, unlocked, not locked out", out)
	}
	if out.Items != 3 {
		t.Errorf("vault_status items = %d, want 3", out.Items)
	}
	if out.Suite == "" {
		t.Error("vault_status returned empty cipher suite")
	}
}

// TestVaultStatusLocked still answers after the session locks.
func TestVaultStatusLocked(t *testing.T) {
	env := newTestEnv(t)
	seedItems(t, env.vault)
	env.ctrl.Lock()

	_, out, err := env.srv.handleVaultStatus(context.Background(), nil, VaultStatusInput{})
	if err != nil {
		t.Fatalf("vault_status error = %v", err)
	}
	if !out.SetUp || out.Unlocked {
		t.Errorf("vault_status = %+v, want set up but locked", out)
	}
	if out.Items != 3 {
		t.Errorf("vault_status items = %d, want 3 while locked", out.Items)
	}
}

// TestItemList returns metadata and never values.
func TestItemList(t *testing.T) {
	env := newTestEnv(t)
	seedItems(t, env.vault)

	_, out, err := env.srv.handleItemList(context.Background(), nil, ItemListInput{})
	if err != nil {
		t.Fatalf("item_list error = %v", err)
	}
	if len(out.Items) != 3 {
		t.Fatalf("item_list returned %d items, want 3", len(out.Items))
	}
	byName := make(map[string]ItemInfo, len(out.Items))
	for _, item := range out.Items {
		byName[item.Name] = item
		if item.CreatedAt == "" || item.UpdatedAt == "" {
			t.Errorf("item %q missing timestamps", item.Name)
		}
	}
	if !byName["github-token"].HasNotes {
		t.Error("github-token HasNotes = false, want true")
	}
	if byName["db-password"].HasNotes {
		t.Error("db-password HasNotes = true, want false")
	}
}

// TestItemListByCategory filters server-side.
func TestItemListByCategory(t *testing.T) {
	env := newTestEnv(t)
	seedItems(t, env.vault)

	_, out, err := env.srv.handleItemList(context.Background(), nil, ItemListInput{Category: "tokens"})
	if err != nil {
		t.Fatalf("item_list error = %v", err)
	}
	if len(out.Items) != 2 {
		t.Fatalf("item_list(tokens) returned %d items, want 2", len(out.Items))
	}
	for _, item := range out.Items {
		if item.Category != "tokens" {
			t.Errorf("item %q category = %q, want tokens", item.Name, item.Category)
		}
	}
}

// TestItemListWhileLocked refuses with a hint instead of leaking rows.
func TestItemListWhileLocked(t *testing.T) {
	env := newTestEnv(t)
	seedItems(t, env.vault)
	env.ctrl.Lock()

	_, _, err := env.srv.handleItemList(context.Background(), nil, ItemListInput{})
	if err == nil {
		t.Fatal("item_list succeeded while locked")
	}
	if !strings.Contains(err.Error(), PassphraseEnv) {
		t.Errorf("item_list error = %v, want a %s hint", err, PassphraseEnv)
	}
}

// TestItemExists probes metadata without decryption.
func TestItemExists(t *testing.T) {
	env := newTestEnv(t)
	seedItems(t, env.vault)

	_, out, err := env.srv.handleItemExists(context.Background(), nil, ItemExistsInput{Name: "github-token"})
	if err != nil {
		t.Fatalf("item_exists error = %v", err)
	}
	if !out.Exists || out.Category != "tokens" || !out.HasNotes {
		t.Errorf("item_exists = %+v, want exists in tokens with notes", out)
	}

	_, out, err = env.srv.handleItemExists(context.Background(), nil, ItemExistsInput{Name: "nothing-here"})
	if err != nil {
		t.Fatalf("item_exists error = %v", err)
	}
	if out.Exists {
		t.Errorf("item_exists(nothing-here) = %+v, want exists=false", out)
	}

	if _, _, err := env.srv.handleItemExists(context.Background(), nil, ItemExistsInput{}); err == nil {
		t.Error("item_exists accepted an empty name")
	}
}

// TestNewServerUnlocksFromEnv reads the passphrase once and scrubs it.
func TestNewServerUnlocksFromEnv(t *testing.T) {
	store := securestore.NewMemStore()
	creds, err := credential.NewManager(credential.Config{Store: store, Params: testParams})
	if err != nil {
		t.Fatalf("credential.NewManager() error = %v", err)
	}
	ctrl, err := session.NewController(session.Config{Credential: creds, Store: store})
	if err != nil {
		t.Fatalf("session.NewController() error = %v", err)
	}
	if err := ctrl.SetupPassphrase(testPassphrase); err != nil {
		t.Fatalf("SetupPassphrase() error = %v", err)
	}
	ctrl.Lock()

	v, err := vault.Open(vault.Config{Path: t.TempDir(), Cipher: ctrl})
	if err != nil {
		t.Fatalf("vault.Open() error = %v", err)
	}
	defer v.Close()

	t.Setenv(PassphraseEnv, testPassphrase)
	if _, err := NewServer(Options{Session: ctrl, Vault: v}); err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if ctrl.Status() != session.StatusUnlocked {
		t.Errorf("Status() = %v, want StatusUnlocked", ctrl.Status())
	}
	if os.Getenv(PassphraseEnv) != "" {
		t.Error("passphrase still present in the environment")
	}
}

// TestNewServerRequiresPassphrase fails fast when locked with no env.
func TestNewServerRequiresPassphrase(t *testing.T) {
	store := securestore.NewMemStore()
	creds, err := credential.NewManager(credential.Config{Store: store, Params: testParams})
	if err != nil {
		t.Fatalf("credential.NewManager() error = %v", err)
	}
	ctrl, err := session.NewController(session.Config{Credential: creds, Store: store})
	if err != nil {
		t.Fatalf("session.NewController() error = %v", err)
	}
	if err := ctrl.SetupPassphrase(testPassphrase); err != nil {
		t.Fatalf("SetupPassphrase() error = %v", err)
	}
	ctrl.Lock()

	v, err := vault.Open(vault.Config{Path: t.TempDir(), Cipher: ctrl})
	if err != nil {
		t.Fatalf("vault.Open() error = %v", err)
	}
	defer v.Close()

	t.Setenv(PassphraseEnv, "")
	if _, err := NewServer(Options{Session: ctrl, Vault: v}); err == nil {
		t.Error("NewServer() succeeded with a locked session and no passphrase")
	}
}

// TestNewServerRejectsWrongEnvPassphrase surfaces the verification error.
func TestNewServerRejectsWrongEnvPassphrase(t *testing.T) {
	store := securestore.NewMemStore()
	creds, err := credential.NewManager(credential.Config{Store: store, Params: testParams})
	if err != nil {
		t.Fatalf("credential.NewManager() error = %v", err)
	}
	ctrl, err := session.NewController(session.Config{Credential: creds, Store: store})
	if err != nil {
		t.Fatalf("session.NewController() error = %v", err)
	}
	if err := ctrl.SetupPassphrase(testPassphrase); err != nil {
		t.Fatalf("SetupPassphrase() error = %v", err)
	}
	ctrl.Lock()

	v, err := vault.Open(vault.Config{Path: t.TempDir(), Cipher: ctrl})
	if err != nil {
		t.Fatalf("vault.Open() error = %v", err)
	}
	defer v.Close()

	t.Setenv(PassphraseEnv, "wrong-horse")
	_, err = NewServer(Options{Session: ctrl, Vault: v})
	if !errors.Is(err, credential.ErrIncorrect) {
		t.Errorf("NewServer() error = %v, want ErrIncorrect", err)
	}
}
