package models

import "gorm.io/gorm"

// Credential holds login material for one external service (e.g. facebook).
// Secret is sealed with secretbox; the plaintext never touches the database.
type Credential struct {
	gorm.Model
	Service  string `gorm:"uniqueIndex"`
	Username string
	Secret   []byte
}
