// Package credentials stores per-connection secrets for the twx CLI in
// ~/.twx/credentials.yaml, encrypted at rest with AES-GCM. A secret is
// the bearer token of an adt connection or the password of a neo4j one.
//
// Encryption key storage uses the system keyring:
//   - macOS: Keychain
//   - Windows: Credential Manager
//   - Linux: Secret Service (libsecret)
//
// For CI and test environments, set TWX_ENCRYPTION_KEY to a 64-character
// hex string (32 bytes).
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/konnektr-io/twx-cli/config"
)

const DefaultCredentialsFile = "credentials.yaml"

// Common errors.
var (
	// ErrNoCredentials is returned when a connection has no stored secret.
	ErrNoCredentials = errors.New("no credentials stored")
	// ErrExpiredToken is returned when the stored token has expired.
	ErrExpiredToken = errors.New("stored token has expired")
	// ErrEncryptionFailed is returned when encryption or decryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
)

// Secret is the stored credential of one connection.
type Secret struct {
	// Token is the bearer token or password (encrypted at rest).
	Token string `yaml:"token"`
	// ExpiresAt is the token expiration time, zero for non-expiring
	// secrets such as database passwords.
	ExpiresAt time.Time `yaml:"expires_at,omitempty"`
	// LastUpdated is when the secret was last written.
	LastUpdated time.Time `yaml:"last_updated"`
}

// credentialsFile is the on-disk shape: one secret per connection name.
type credentialsFile struct {
	Secrets map[string]Secret `yaml:"secrets"`
}

// Store manages secret storage operations.
type Store struct {
	credentialsDir string
	encryptionKey  []byte
	keyProvider    KeyProvider
}

// NewStore creates a credential store using the default key provider:
// the TWX_ENCRYPTION_KEY environment variable when set, otherwise the
// system keyring.
func NewStore() (*Store, error) {
	keyProvider, err := GetDefaultKeyProvider()
	if err != nil {
		return nil, fmt.Errorf("initializing key provider: %w", err)
	}
	return NewStoreWithKeyProvider(keyProvider)
}

// NewStoreWithKeyProvider creates a credential store with an explicit key
// provider, used by tests.
func NewStoreWithKeyProvider(keyProvider KeyProvider) (*Store, error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return nil, fmt.Errorf("getting config directory: %w", err)
	}

	key, err := keyProvider.GetKey()
	if err != nil {
		return nil, fmt.Errorf("getting encryption key: %w", err)
	}

	return &Store{
		credentialsDir: dir,
		encryptionKey:  key,
		keyProvider:    keyProvider,
	}, nil
}

// Path returns the credentials file location.
func (s *Store) Path() string {
	return filepath.Join(s.credentialsDir, DefaultCredentialsFile)
}

// Set stores the secret for a connection, replacing any existing one.
func (s *Store) Set(connection string, secret Secret) error {
	if connection == "" {
		return fmt.Errorf("connection name is required")
	}
	file, err := s.load()
	if err != nil {
		return err
	}

	secret.LastUpdated = time.Now()
	file.Secrets[connection] = secret
	return s.save(file)
}

// Get returns the decrypted secret of a connection. Expired tokens return
// ErrExpiredToken so callers can prompt for re-authentication.
func (s *Store) Get(connection string) (*Secret, error) {
	// The environment override serves CI and scripting without a keyring.
	if token := os.Getenv("TWX_TOKEN"); token != "" {
		return &Secret{Token: token}, nil
	}

	file, err := s.load()
	if err != nil {
		return nil, err
	}
	secret, ok := file.Secrets[connection]
	if !ok {
		return nil, fmt.Errorf("connection %q: %w", connection, ErrNoCredentials)
	}
	if !secret.ExpiresAt.IsZero() && time.Now().After(secret.ExpiresAt) {
		return nil, fmt.Errorf("connection %q: %w", connection, ErrExpiredToken)
	}
	return &secret, nil
}

// Delete removes the secret of a connection. Deleting a missing secret is
// not an error.
func (s *Store) Delete(connection string) error {
	file, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := file.Secrets[connection]; !ok {
		return nil
	}
	delete(file.Secrets, connection)
	return s.save(file)
}

// List returns the connection names with stored secrets, sorted.
func (s *Store) List() ([]string, error) {
	file, err := s.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(file.Secrets))
	for name := range file.Secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// load reads and decrypts the credentials file. A missing file yields an
// empty store.
func (s *Store) load() (*credentialsFile, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return &credentialsFile{Secrets: map[string]Secret{}}, nil
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var file credentialsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	if file.Secrets == nil {
		file.Secrets = map[string]Secret{}
	}

	for name, secret := range file.Secrets {
		if secret.Token == "" {
			continue
		}
		decrypted, err := s.decrypt(secret.Token)
		if err != nil {
			return nil, fmt.Errorf("decrypting secret for %q: %w", name, err)
		}
		secret.Token = decrypted
		file.Secrets[name] = secret
	}
	return &file, nil
}

// save encrypts and writes the credentials file with restrictive
// permissions.
func (s *Store) save(file *credentialsFile) error {
	if err := os.MkdirAll(s.credentialsDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	storage := credentialsFile{Secrets: make(map[string]Secret, len(file.Secrets))}
	for name, secret := range file.Secrets {
		if secret.Token != "" {
			encrypted, err := s.encrypt(secret.Token)
			if err != nil {
				return fmt.Errorf("encrypting secret for %q: %w", name, err)
			}
			secret.Token = encrypted
		}
		storage.Secrets[name] = secret
	}

	data, err := yaml.Marshal(&storage)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}
	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	return nil
}

// encrypt encrypts a string using AES-GCM.
func (s *Store) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts an AES-GCM encrypted string.
func (s *Store) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding base64: %v", ErrEncryptionFailed, err)
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrEncryptionFailed)
	}
	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed: %v", ErrEncryptionFailed, err)
	}
	return string(plaintext), nil
}

// MaskToken returns a masked token with the first and last few characters
// visible, for display.
func MaskToken(token string) string {
	if len(token) <= 20 {
		return strings.Repeat("*", len(token))
	}
	return token[:8] + "..." + token[len(token)-8:]
}

// FormatExpiry formats an expiry time for display.
func FormatExpiry(expiresAt time.Time) string {
	if expiresAt.IsZero() {
		return "never"
	}
	remaining := time.Until(expiresAt)
	if remaining < 0 {
		return "expired"
	}
	if remaining < time.Hour {
		return fmt.Sprintf("%d minutes", int(remaining.Minutes()))
	}
	if remaining < 24*time.Hour {
		return fmt.Sprintf("%d hours", int(remaining.Hours()))
	}
	return fmt.Sprintf("%d days", int(remaining.Hours()/24))
}
