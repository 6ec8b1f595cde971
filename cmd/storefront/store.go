package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/panyam/storefront/client"
	fsstore "github.com/panyam/storefront/client/stores/fs"
	gormstore "github.com/panyam/storefront/client/stores/gorm"
)

const appName = "storefront"

var errUnknownStore = errors.New("unknown credential store")

// openStore opens the credential store selected by cfg, scoped to baseURL.
// The returned close func may be nil.
func openStore(cfg *client.Config, baseURL string) (client.CredentialStore, func() error, error) {
	switch cfg.Store {
	case "memory":
		return client.NewMemoryStore(), nil, nil

	case "file", "":
		files, err := fsstore.NewFSCredentialStore(cfg.CredentialsPath, appName)
		if err != nil {
			return nil, nil, err
		}
		store, err := files.ForServer(baseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil

	case "sqlite":
		path := cfg.CredentialsPath
		if path == "" {
			dir, err := os.UserConfigDir()
			if err != nil {
				return nil, nil, fmt.Errorf("failed to get config dir: %w", err)
			}
			path = filepath.Join(dir, appName, "credentials.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, nil, fmt.Errorf("failed to create directory: %w", err)
		}

		db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
		namespace, err := gormstore.Namespace(baseURL)
		if err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
		store, err := gormstore.NewCredentialStore(db, namespace)
		if err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
		return store, sqlDB.Close, nil
	}
	return nil, nil, fmt.Errorf("%w %q (want file, sqlite or memory)", errUnknownStore, cfg.Store)
}
