//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-based client.CredentialStore.
// It supports any database that GORM supports (PostgreSQL, MySQL, SQLite, etc.)
// and suits deployments where several processes on one machine share a session,
// such as a point-of-sale terminal and its sync agent.
//
// # Database Schema
//
// The package auto-migrates a single table:
//   - credential_entries: one row per (namespace, key), where the namespace is
//     the normalized backend URL
//
// # Usage
//
//	db, _ := gorm.Open(sqlite.Open(path), &gorm.Config{})
//	gormstore.AutoMigrate(db)
//	store, _ := gormstore.NewCredentialStore(db, "https://api.example.com")
//	session := client.NewSession(store)
package gorm
