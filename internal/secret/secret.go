// Package secret keeps console passwords in the platform keyring, keyed by
// profile name.
package secret

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/99designs/keyring"
)

const serviceName = "dcon"

var ErrNotFound = errors.New("no password stored for profile")

// Store reads and writes console passwords.
type Store struct {
	ring keyring.Keyring
}

// New wraps an opened keyring.
func New(ring keyring.Keyring) *Store { return &Store{ring: ring} }

// Open opens the platform keyring. On Linux without a desktop keyring the
// passwords go to an encrypted file in dir, unlocked with prompt.
func Open(dir string, prompt keyring.PromptFunc) (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:                    serviceName,
		AllowedBackends:                backends(),
		KeychainTrustApplication:       true,
		KeychainAccessibleWhenUnlocked: true,
		FileDir:                        filepath.Join(dir, "keyring"),
		FilePasswordFunc:               prompt,
		PassPrefix:                     serviceName,
		WinCredPrefix:                  serviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return New(ring), nil
}

func backends() []keyring.BackendType {
	switch runtime.GOOS {
	case "darwin":
		return []keyring.BackendType{keyring.KeychainBackend, keyring.PassBackend}
	case "windows":
		return []keyring.BackendType{keyring.WinCredBackend}
	default:
		return []keyring.BackendType{
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		}
	}
}

func key(profile string) string { return "director/" + profile }

// Set stores the password of profile.
func (s *Store) Set(profile, password string) error {
	err := s.ring.Set(keyring.Item{
		Key:         key(profile),
		Data:        []byte(password),
		Label:       "dcon console password (" + profile + ")",
		Description: "Bareos director console password",
	})
	if err != nil {
		return fmt.Errorf("storing password for %q: %w", profile, err)
	}
	return nil
}

// Get returns the password of profile.
func (s *Store) Get(profile string) (string, error) {
	item, err := s.ring.Get(key(profile))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%w %q", ErrNotFound, profile)
	}
	if err != nil {
		return "", fmt.Errorf("reading password for %q: %w", profile, err)
	}
	return string(item.Data), nil
}

// Delete removes the password of profile. Deleting a missing password is
// not an error.
func (s *Store) Delete(profile string) error {
	err := s.ring.Remove(key(profile))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting password for %q: %w", profile, err)
	}
	return nil
}
