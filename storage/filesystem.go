// Package storage implements the removable-storage contract
// (hwcontracts.Storage) against a plain directory, the same directory-based
// USB simulation technique the original prototype uses, plus an in-memory
// Fake for orchestrator tests that must not sleep or touch a real
// filesystem.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/anchoragelabs/airgap-signer-core/signerr"
)

// pollInterval is how often Filesystem.WaitInsert checks for RequiredFiles.
const pollInterval = 200 * time.Millisecond

// Filesystem is a removable volume simulated as a directory: WaitInsert
// polls for a caller-supplied set of marker files, mirroring how a real
// removable volume "arrives" once its expected contents are fully written.
type Filesystem struct {
	dir           string
	requiredFiles []string
	readWrite     bool
}

// NewFilesystem returns a Filesystem rooted at dir. requiredFiles names the
// files WaitInsert waits for before considering the volume present — for
// the signing-cycle volume that's payload.bin, interpreter.wasm, sign.cbor;
// for the private/public provisioning volumes it is empty (their contents
// are optional or device-written).
func NewFilesystem(dir string, requiredFiles []string) *Filesystem {
	return &Filesystem{dir: dir, requiredFiles: requiredFiles}
}

func (f *Filesystem) allPresent() bool {
	for _, name := range f.requiredFiles {
		if _, err := os.Stat(filepath.Join(f.dir, name)); err != nil {
			return false
		}
	}
	return true
}

// WaitInsert blocks until every required file exists, or ctx is cancelled.
func (f *Filesystem) WaitInsert(ctx context.Context) error {
	if f.allPresent() {
		return nil
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if f.allPresent() {
				return nil
			}
		}
	}
}

// MountReadOnly is a no-op for a directory simulation; readWrite tracks
// mode only to make MountReadWrite/Write sequencing meaningful for tests.
func (f *Filesystem) MountReadOnly() error {
	f.readWrite = false
	return nil
}

func (f *Filesystem) Read(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	if err != nil {
		return nil, signerr.Wrap(signerr.KindStorageIo, fmt.Errorf("reading %s: %w", name, err))
	}
	return data, nil
}

func (f *Filesystem) Unmount() error {
	return nil
}

func (f *Filesystem) MountReadWrite() error {
	f.readWrite = true
	return nil
}

func (f *Filesystem) Write(name string, data []byte) error {
	if !f.readWrite {
		return signerr.New(signerr.KindStorageIo, "write attempted while mounted read-only")
	}
	if err := os.WriteFile(filepath.Join(f.dir, name), data, 0o600); err != nil {
		return signerr.Wrap(signerr.KindStorageIo, fmt.Errorf("writing %s: %w", name, err))
	}
	return nil
}
