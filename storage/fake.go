package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/anchoragelabs/airgap-signer-core/signerr"
)

// Fake is an in-memory hwcontracts.Storage for orchestrator tests: no
// sleeping, no filesystem, and an explicit Insert to simulate a volume
// arriving instead of polling for marker files.
type Fake struct {
	mu        sync.Mutex
	files     map[string][]byte
	inserted  chan struct{}
	readWrite bool
}

// NewFake returns an empty Fake with no volume inserted yet.
func NewFake() *Fake {
	return &Fake{
		files:    make(map[string][]byte),
		inserted: make(chan struct{}),
	}
}

// Insert populates files and signals WaitInsert to return. It must be
// called at most once per Fake; call NewFake again to simulate re-insertion.
func (f *Fake) Insert(files map[string][]byte) {
	f.mu.Lock()
	for name, data := range files {
		f.files[name] = data
	}
	f.mu.Unlock()
	close(f.inserted)
}

func (f *Fake) WaitInsert(ctx context.Context) error {
	select {
	case <-f.inserted:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fake) MountReadOnly() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readWrite = false
	return nil
}

func (f *Fake) Read(name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[name]
	if !ok {
		return nil, signerr.New(signerr.KindStorageIo, fmt.Sprintf("no such file %q", name))
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (f *Fake) Unmount() error { return nil }

func (f *Fake) MountReadWrite() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readWrite = true
	return nil
}

func (f *Fake) Write(name string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.readWrite {
		return signerr.New(signerr.KindStorageIo, "write attempted while mounted read-only")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.files[name] = buf
	return nil
}

// WrittenFile is a test helper returning what was written under name, or
// (nil, false) if nothing was.
func (f *Fake) WrittenFile(name string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[name]
	return data, ok
}
