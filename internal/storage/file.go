package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/and161185/pharm-admin/internal/crypto/clientcrypto"
	"github.com/and161185/pharm-admin/internal/errs"
)

// slotsAAD binds sealed files to this format version.
var slotsAAD = []byte("pharm-admin/slots/v1")

// File keeps all slots in one JSON document, optionally sealed with a passphrase.
type File struct {
	path       string
	passphrase []byte

	mu   sync.Mutex
	salt []byte
	key  []byte
}

var _ Storage = (*File)(nil)

// NewFile constructs a file-backed storage; an empty passphrase stores plain JSON.
func NewFile(path, passphrase string) *File {
	f := &File{path: path}
	if passphrase != "" {
		f.passphrase = []byte(passphrase)
	}
	return f
}

// Path returns the location of the slot file.
func (f *File) Path() string { return f.path }

func (f *File) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	slots, err := f.load()
	if err != nil {
		return "", err
	}
	v, ok := slots[key]
	if !ok {
		return "", errs.ErrNotFound
	}
	return v, nil
}

// Set overwrites the slot; a corrupt file is replaced rather than repaired.
func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	slots, err := f.load()
	if errors.Is(err, errs.ErrCorrupt) {
		slots = map[string]string{}
	} else if err != nil {
		return err
	}
	slots[key] = value
	return f.save(slots)
}

func (f *File) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	slots, err := f.load()
	if errors.Is(err, errs.ErrCorrupt) {
		// nothing in it can be trusted; clearing means dropping the file
		if rmErr := os.Remove(f.path); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("%w: %v", errs.ErrStorage, rmErr)
		}
		return nil
	}
	if err != nil {
		return err
	}
	if _, ok := slots[key]; !ok {
		return nil
	}
	delete(slots, key)
	return f.save(slots)
}

func (f *File) load() (map[string]string, error) {
	b, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", errs.ErrStorage, f.path, err)
	}
	if f.passphrase != nil {
		b, err = f.open(b)
		if err != nil {
			return nil, fmt.Errorf("%w: open sealed slots: %v", errs.ErrCorrupt, err)
		}
	}
	slots := map[string]string{}
	if err := json.Unmarshal(b, &slots); err != nil {
		return nil, fmt.Errorf("%w: parse slots: %v", errs.ErrCorrupt, err)
	}
	return slots, nil
}

func (f *File) save(slots map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	data, err := json.MarshalIndent(slots, "", "  ")
	if err != nil {
		return err
	}
	if f.passphrase != nil {
		if data, err = f.seal(data); err != nil {
			return fmt.Errorf("%w: seal slots: %v", errs.ErrStorage, err)
		}
	}

	// write to temp file first, then rename over the old one
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("%w: write temp file: %v", errs.ErrStorage, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: rename temp file: %v", errs.ErrStorage, err)
	}
	return nil
}

func (f *File) open(blob []byte) ([]byte, error) {
	salt, err := clientcrypto.SaltOf(blob)
	if err != nil {
		return nil, err
	}
	return clientcrypto.Open(f.keyFor(salt), blob, slotsAAD)
}

func (f *File) seal(plain []byte) ([]byte, error) {
	if f.salt == nil {
		salt, err := clientcrypto.Rand(clientcrypto.SaltLen)
		if err != nil {
			return nil, err
		}
		f.keyFor(salt)
	}
	return clientcrypto.Seal(f.key, f.salt, plain, slotsAAD)
}

// keyFor returns the key for salt, deriving it at most once per salt.
func (f *File) keyFor(salt []byte) []byte {
	if f.salt != nil && bytes.Equal(f.salt, salt) {
		return f.key
	}
	f.salt = append([]byte(nil), salt...)
	f.key = clientcrypto.DeriveKey(f.passphrase, f.salt)
	return f.key
}
