package creds

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/nacl/secretbox"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/adscout/adscout/config"
	"github.com/adscout/adscout/lib/models"
)

var (
	ErrNoKey     = errors.New("CREDENTIALS_KEY is not configured")
	ErrBadCipher = errors.New("stored secret failed to decrypt")
)

// Credentials is decrypted login material for one external service.
type Credentials struct {
	Username string
	Secret   string
}

// Info is the listable view of a stored credential; secrets are never listed.
type Info struct {
	Service   string    `json:"service"`
	Username  string    `json:"username"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps per-service credentials sealed at rest with secretbox. The key
// is derived from the configured passphrase; without one the store still
// answers Get with absence so the executor can proceed unauthenticated.
type Store struct {
	log *zap.Logger
	db  *gorm.DB
	key *[32]byte
}

func NewStore(log *zap.Logger, cfg *config.Config, db *gorm.DB) *Store {
	s := &Store{log: log, db: db}
	if cfg.CredentialsKey != "" {
		key := sha256.Sum256([]byte(cfg.CredentialsKey))
		s.key = &key
	} else {
		log.Sugar().Info("CREDENTIALS_KEY not set, credential storage is disabled")
	}
	return s
}

// Put seals and upserts the credentials for a service.
func (s *Store) Put(ctx context.Context, service, username, secret string) error {
	if s.key == nil {
		return ErrNoKey
	}

	sealed, err := s.seal(secret)
	if err != nil {
		return err
	}

	cred := models.Credential{
		Service:  strings.ToLower(strings.TrimSpace(service)),
		Username: username,
		Secret:   sealed,
	}
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "service"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "secret", "updated_at"}),
	}).Create(&cred)
	if tx.Error != nil {
		return tx.Error
	}

	s.log.Sugar().Infof("Credentials stored for %s (%s)", cred.Service, username)
	return nil
}

// Get returns the credentials for a service, or (nil, nil) when none are
// stored — absence is not an error.
func (s *Store) Get(ctx context.Context, service string) (*Credentials, error) {
	var cred models.Credential
	err := s.db.WithContext(ctx).
		Where("service = ?", strings.ToLower(strings.TrimSpace(service))).
		First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	if s.key == nil {
		return nil, ErrNoKey
	}
	secret, err := s.open(cred.Secret)
	if err != nil {
		return nil, err
	}
	return &Credentials{Username: cred.Username, Secret: secret}, nil
}

// Delete removes stored credentials. Deleting an unknown service is a no-op.
func (s *Store) Delete(ctx context.Context, service string) error {
	tx := s.db.WithContext(ctx).
		Unscoped().
		Where("service = ?", strings.ToLower(strings.TrimSpace(service))).
		Delete(&models.Credential{})
	return tx.Error
}

// List returns the stored services and usernames.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	var rows []models.Credential
	if err := s.db.WithContext(ctx).Order("service asc").Find(&rows).Error; err != nil {
		return nil, err
	}

	infos := make([]Info, len(rows))
	for i, row := range rows {
		infos[i] = Info{Service: row.Service, Username: row.Username, UpdatedAt: row.UpdatedAt}
	}
	return infos, nil
}

func (s *Store) seal(secret string) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], []byte(secret), &nonce, s.key), nil
}

func (s *Store) open(sealed []byte) (string, error) {
	if len(sealed) < 24 {
		return "", ErrBadCipher
	}

	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, s.key)
	if !ok {
		return "", ErrBadCipher
	}
	return string(plain), nil
}
