// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package authtoken

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// GenerateSecret returns MinSecretSize random bytes.
func GenerateSecret() ([]byte, error) {
	secret := make([]byte, MinSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("authtoken: generating secret: %w", err)
	}
	return secret, nil
}

// LoadSecret reads a hex-encoded secret. The file must not be
// readable by group or others.
func LoadSecret(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("authtoken: reading secret: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("authtoken: secret %s has mode %v, want 0600", path, info.Mode().Perm())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("authtoken: reading secret: %w", err)
	}
	secret, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("authtoken: decoding secret %s: %w", path, err)
	}
	if len(secret) < MinSecretSize {
		return nil, fmt.Errorf("authtoken: secret %s: %w", path, ErrSecretTooShort)
	}
	return secret, nil
}

// LoadOrCreateSecret loads the secret at path, generating and writing
// a new one when the file does not exist. Returns the secret and
// whether it was newly created.
func LoadOrCreateSecret(path string) ([]byte, bool, error) {
	secret, err := LoadSecret(path)
	if err == nil {
		return secret, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	secret, err = GenerateSecret()
	if err != nil {
		return nil, false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, false, fmt.Errorf("authtoken: creating secret directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, false, fmt.Errorf("authtoken: writing secret: %w", err)
	}
	if _, err := file.WriteString(hex.EncodeToString(secret) + "\n"); err != nil {
		file.Close()
		return nil, false, fmt.Errorf("authtoken: writing secret: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, false, fmt.Errorf("authtoken: writing secret: %w", err)
	}
	return secret, true, nil
}
