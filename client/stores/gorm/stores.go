//go:build !wasm
// +build !wasm

package gorm

import (
	"fmt"
	"net/url"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/panyam/storefront/client"
)

// AutoMigrate runs database migrations for the credential table
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&CredentialEntryModel{})
}

// Namespace normalizes a backend URL to scheme://host
func Namespace(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}

// CredentialStore implements client.CredentialStore using GORM. Values are read
// once at construction; writes are buffered and applied in one transaction on Save.
type CredentialStore struct {
	mu        sync.Mutex
	db        *gorm.DB
	namespace string
	values    map[string]string
	pending   map[string]*string // nil means delete
}

var _ client.CredentialStore = (*CredentialStore)(nil)

func NewCredentialStore(db *gorm.DB, namespace string) (*CredentialStore, error) {
	s := &CredentialStore{
		db:        db,
		namespace: namespace,
		values:    make(map[string]string),
		pending:   make(map[string]*string),
	}

	var rows []CredentialEntryModel
	if err := db.Where("namespace = ?", namespace).Find(&rows).Error; err != nil {
		return nil, &client.StoreError{Operation: "load", Cause: err}
	}
	for _, row := range rows {
		s.values[row.Key] = row.Value
	}
	return s, nil
}

// Namespace returns the namespace this store reads and writes
func (s *CredentialStore) Namespace() string {
	return s.namespace
}

func (s *CredentialStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key], nil
}

func (s *CredentialStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.pending[key] = &value
	return nil
}

func (s *CredentialStore) Remove(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
		s.pending[k] = nil
	}
	return nil
}

// Save applies buffered changes. On failure the changes stay buffered and the
// next Save retries them.
func (s *CredentialStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var upserts []CredentialEntryModel
		var deletes []string
		for k, v := range s.pending {
			if v == nil {
				deletes = append(deletes, k)
				continue
			}
			upserts = append(upserts, CredentialEntryModel{Namespace: s.namespace, Key: k, Value: *v})
		}

		if len(deletes) > 0 {
			if err := tx.Where("namespace = ? AND entry_key IN ?", s.namespace, deletes).
				Delete(&CredentialEntryModel{}).Error; err != nil {
				return err
			}
		}
		if len(upserts) > 0 {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&upserts).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &client.StoreError{Operation: "save", Cause: err}
	}

	s.pending = make(map[string]*string)
	return nil
}
