// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

package outbox

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// FileTokens reads the bearer token from a file that an external
// authenticator keeps current. The token is cached after the first
// read; Refresh re-reads the file, which is how a rotated credential
// gets picked up after a 401.
type FileTokens struct {
	path string

	mu     sync.Mutex
	cached string
	loaded bool
}

// NewFileTokens builds a token store over the given file path. An empty
// path yields a store that always reports no credential, which makes
// the flush loop a silent no-op.
func NewFileTokens(path string) *FileTokens {
	return &FileTokens{path: path}
}

// Token returns the cached credential, reading the file on first use.
// A missing file is not an error; it means no credential yet.
func (f *FileTokens) Token(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loaded {
		return f.cached, nil
	}
	return f.readLocked()
}

// Refresh re-reads the token file.
func (f *FileTokens) Refresh(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readLocked()
}

func (f *FileTokens) readLocked() (string, error) {
	f.loaded = true
	if f.path == "" {
		f.cached = ""
		return "", nil
	}
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		f.cached = ""
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	f.cached = strings.TrimSpace(string(raw))
	return f.cached, nil
}
