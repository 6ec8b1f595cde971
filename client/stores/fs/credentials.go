// Package fs provides a file system-based credential store for the storefront client.
package fs

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/panyam/storefront/client"
)

// FSCredentialStore stores session values for one or more backends as a JSON
// file on the filesystem. Use ForServer to get the client.CredentialStore for
// a particular backend.
type FSCredentialStore struct {
	mu       sync.RWMutex
	path     string
	servers  map[string]map[string]string
	modified bool
}

// credentialFile is the JSON structure stored on disk
type credentialFile struct {
	Servers map[string]map[string]string `json:"servers"`
}

// NewFSCredentialStore creates a new FS-based credential store.
// If path is empty, defaults to ~/.config/<appName>/credentials.json
func NewFSCredentialStore(path string, appName string) (*FSCredentialStore, error) {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("could not determine config directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
		if appName == "" {
			appName = "storefront"
		}
		path = filepath.Join(configDir, appName, "credentials.json")
	}

	store := &FSCredentialStore{
		path:    path,
		servers: make(map[string]map[string]string),
	}

	// Load existing values if file exists
	if err := store.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return store, nil
}

// load reads values from disk
func (s *FSCredentialStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var file credentialFile
	if err := json.Unmarshal(data, &file); err != nil {
		return &client.StoreError{Operation: "load", Cause: fmt.Errorf("failed to parse credentials file: %w", err)}
	}

	s.servers = file.Servers
	if s.servers == nil {
		s.servers = make(map[string]map[string]string)
	}

	return nil
}

// normalizeURL normalizes a server URL for use as a key
func normalizeURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}

	if u.Scheme == "" {
		u.Scheme = "https"
	}

	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}

// ForServer returns the credential store for one backend. URLs that differ
// only in path share the same values.
func (s *FSCredentialStore) ForServer(serverURL string) (*ServerStore, error) {
	key, err := normalizeURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &ServerStore{parent: s, server: key}, nil
}

// ListServers returns all server URLs with stored values
func (s *FSCredentialStore) ListServers() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	servers := make([]string, 0, len(s.servers))
	for k := range s.servers {
		servers = append(servers, k)
	}
	sort.Strings(servers)

	return servers, nil
}

// RemoveServer forgets everything stored for a server URL
func (s *FSCredentialStore) RemoveServer(serverURL string) error {
	key, err := normalizeURL(serverURL)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.servers[key]; ok {
		delete(s.servers, key)
		s.modified = true
	}
	return nil
}

// Save persists values to disk
func (s *FSCredentialStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.modified {
		return nil
	}

	// Ensure directory exists with restricted permissions
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return &client.StoreError{Operation: "save", Cause: fmt.Errorf("failed to create config directory: %w", err)}
	}

	file := credentialFile{Servers: s.servers}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return &client.StoreError{Operation: "save", Cause: fmt.Errorf("failed to serialize credentials: %w", err)}
	}

	// Write with restricted permissions (owner read/write only)
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return &client.StoreError{Operation: "save", Cause: fmt.Errorf("failed to write credentials: %w", err)}
	}

	s.modified = false
	return nil
}

// Path returns the path to the credentials file
func (s *FSCredentialStore) Path() string {
	return s.path
}

// ServerStore is the client.CredentialStore for a single backend. Writes are
// kept in memory until Save.
type ServerStore struct {
	parent *FSCredentialStore
	server string
}

var _ client.CredentialStore = (*ServerStore)(nil)

// Server returns the normalized server key
func (v *ServerStore) Server() string {
	return v.server
}

func (v *ServerStore) Get(key string) (string, error) {
	v.parent.mu.RLock()
	defer v.parent.mu.RUnlock()
	return v.parent.servers[v.server][key], nil
}

func (v *ServerStore) Set(key, value string) error {
	v.parent.mu.Lock()
	defer v.parent.mu.Unlock()

	values, ok := v.parent.servers[v.server]
	if !ok {
		values = make(map[string]string)
		v.parent.servers[v.server] = values
	}
	if values[key] != value {
		values[key] = value
		v.parent.modified = true
	}
	return nil
}

func (v *ServerStore) Remove(keys ...string) error {
	v.parent.mu.Lock()
	defer v.parent.mu.Unlock()

	values, ok := v.parent.servers[v.server]
	if !ok {
		return nil
	}
	for _, k := range keys {
		if _, ok := values[k]; ok {
			delete(values, k)
			v.parent.modified = true
		}
	}
	if len(values) == 0 {
		delete(v.parent.servers, v.server)
	}
	return nil
}

func (v *ServerStore) Save() error {
	return v.parent.Save()
}
