package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/panyam/storefront/client"
)

func TestFSCredentialStore_GetSet(t *testing.T) {
	// Use temp directory
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "credentials.json")

	store, err := NewFSCredentialStore(path, "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}
	view, err := store.ForServer("http://localhost:8080")
	if err != nil {
		t.Fatalf("ForServer() error = %v", err)
	}

	// Initially empty
	v, err := view.Get(client.KeyAccessToken)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if v != "" {
		t.Errorf("expected empty value, got %q", v)
	}

	view.Set(client.KeyAccessToken, "test-token")
	view.Set(client.KeyRefreshToken, "refresh-token")

	if v, _ := view.Get(client.KeyAccessToken); v != "test-token" {
		t.Errorf("AccessToken = %v, want test-token", v)
	}
	if v, _ := view.Get(client.KeyRefreshToken); v != "refresh-token" {
		t.Errorf("RefreshToken = %v, want refresh-token", v)
	}
}

func TestFSCredentialStore_URLNormalization(t *testing.T) {
	store, err := NewFSCredentialStore(filepath.Join(t.TempDir(), "credentials.json"), "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}

	// Set with full URL
	full, _ := store.ForServer("http://localhost:8080/api/v1")
	full.Set(client.KeyAccessToken, "token")

	// Should find with normalized URL
	bare, _ := store.ForServer("http://localhost:8080")
	if v, _ := bare.Get(client.KeyAccessToken); v != "token" {
		t.Error("expected to find value with normalized URL")
	}
	if bare.Server() != "http://localhost:8080" {
		t.Errorf("Server() = %q", bare.Server())
	}

	// Different host is a different namespace
	other, _ := store.ForServer("http://localhost:9090")
	if v, _ := other.Get(client.KeyAccessToken); v != "" {
		t.Error("values leaked across servers")
	}
}

func TestFSCredentialStore_RemoveAndRemoveServer(t *testing.T) {
	store, err := NewFSCredentialStore(filepath.Join(t.TempDir(), "credentials.json"), "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}

	a, _ := store.ForServer("http://localhost:8080")
	b, _ := store.ForServer("http://localhost:9090")
	a.Set(client.KeyAccessToken, "a")
	a.Set(client.KeyRefreshToken, "a")
	b.Set(client.KeyAccessToken, "b")

	if err := a.Remove(client.SessionKeys...); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if v, _ := a.Get(client.KeyAccessToken); v != "" {
		t.Error("value should be removed")
	}

	servers, _ := store.ListServers()
	if len(servers) != 1 || servers[0] != "http://localhost:9090" {
		t.Errorf("servers = %v", servers)
	}

	if err := store.RemoveServer("http://localhost:9090/anything"); err != nil {
		t.Fatalf("RemoveServer() error = %v", err)
	}
	if servers, _ := store.ListServers(); len(servers) != 0 {
		t.Errorf("servers = %v, want none", servers)
	}
}

func TestFSCredentialStore_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")

	// Create store and add values
	store1, err := NewFSCredentialStore(path, "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}
	view1, _ := store1.ForServer("http://localhost:8080")
	view1.Set(client.KeyAccessToken, "persisted-token")
	view1.Set(client.KeyRefreshToken, "refresh-token")

	// Nothing is written before Save
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("credentials file written before Save")
	}

	if err := view1.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Create new store from same file
	store2, err := NewFSCredentialStore(path, "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}
	view2, _ := store2.ForServer("http://localhost:8080")

	if v, _ := view2.Get(client.KeyAccessToken); v != "persisted-token" {
		t.Errorf("AccessToken = %v, want persisted-token", v)
	}
	if v, _ := view2.Get(client.KeyRefreshToken); v != "refresh-token" {
		t.Errorf("RefreshToken = %v, want refresh-token", v)
	}
}

func TestFSCredentialStore_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	store, err := NewFSCredentialStore(path, "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}
	view, _ := store.ForServer("http://localhost:8080")
	view.Set(client.KeyAccessToken, "token")
	view.Save()

	// Check file permissions (should be 0600)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		t.Errorf("file permissions = %o, want 0600", mode)
	}
}

func TestFSCredentialStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	os.WriteFile(path, []byte("{not json"), 0600)

	_, err := NewFSCredentialStore(path, "")

	var storeErr *client.StoreError
	if err == nil {
		t.Fatal("expected an error for a corrupt file")
	}
	if !errors.As(err, &storeErr) || storeErr.Operation != "load" {
		t.Errorf("err = %v, want a load StoreError", err)
	}
}

func TestFSCredentialStore_SessionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store, _ := NewFSCredentialStore(path, "")
	view, _ := store.ForServer("http://localhost:8080")

	session := client.NewSession(view)
	err := session.SetCredentials(
		client.CredentialPair{AccessToken: "a1", RefreshToken: "r1"},
		&client.SessionAttributes{DisplayName: "Ada", TenantID: "t1", Role: "OWNER"},
	)
	if err != nil {
		t.Fatalf("SetCredentials() error = %v", err)
	}

	// A fresh process sees the same session
	reloaded, _ := NewFSCredentialStore(path, "")
	view2, _ := reloaded.ForServer("http://localhost:8080")
	restored := client.NewSession(view2)

	if !restored.IsAuthenticated() || restored.AccessToken() != "a1" {
		t.Fatal("session was not restored from disk")
	}
	if a := restored.Attributes(); a == nil || a.Role != client.RoleOwner {
		t.Errorf("Attributes() = %+v", a)
	}

	restored.ClearCredentials()
	again, _ := NewFSCredentialStore(path, "")
	view3, _ := again.ForServer("http://localhost:8080")
	if client.NewSession(view3).IsAuthenticated() {
		t.Error("cleared session should not be restored")
	}
}

func TestFSCredentialStore_DefaultPath(t *testing.T) {
	// Test with empty path - should use default
	store, err := NewFSCredentialStore("", "testapp")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}

	path := store.Path()
	if path == "" {
		t.Error("path should not be empty")
	}

	// Should contain app name in path
	if filepath.Base(filepath.Dir(path)) != "testapp" {
		t.Logf("path = %s (app name dir may vary by platform)", path)
	}
}
