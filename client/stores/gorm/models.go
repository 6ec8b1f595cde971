//go:build !wasm
// +build !wasm

package gorm

import "time"

// CredentialEntryModel is the GORM model for one persisted session value
type CredentialEntryModel struct {
	Namespace string    `gorm:"primaryKey;size:255"`
	Key       string    `gorm:"primaryKey;column:entry_key;size:64"`
	Value     string    `gorm:"type:text"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (CredentialEntryModel) TableName() string {
	return "credential_entries"
}
