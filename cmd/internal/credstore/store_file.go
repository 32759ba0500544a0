package credstore

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	fileFormatVersion = 1

	sealSaltBytes  = 16
	sealNonceBytes = 24
	sealKeyBytes   = 32

	// argon2id parameters for deriving the sealing key from the passphrase.
	sealArgonTime    = 1
	sealArgonMemory  = 64 * 1024
	sealArgonThreads = 4
)

// FileStore persists credentials as a JSON object in a single 0600 file.
// With a passphrase the object is sealed with secretbox under an argon2id-derived key.
type FileStore struct {
	path       string
	passphrase []byte

	mu sync.Mutex
}

// FileOption configures FileStore.
type FileOption func(*FileStore)

// WithPassphrase enables sealing. An empty passphrase keeps the file in plain JSON.
func WithPassphrase(pass string) FileOption {
	return func(s *FileStore) {
		if pass == "" {
			return
		}
		s.passphrase = []byte(pass)
	}
}

// NewFileStore returns a store rooted at path. The file is created lazily on first Set.
func NewFileStore(path string, opts ...FileOption) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty file path", ErrConfig)
	}
	s := &FileStore{path: filepath.Clean(path)}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// sealedFile is the on-disk envelope when a passphrase is configured.
type sealedFile struct {
	V     int    `json:"v"`
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	Box   []byte `json:"box"`
}

func (s *FileStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	vals, err := s.load()
	if err != nil {
		return "", err
	}
	v, ok := vals[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *FileStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	vals, err := s.loadForWrite()
	if err != nil {
		return err
	}
	vals[key] = value
	return s.save(vals)
}

func (s *FileStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	vals, err := s.load()
	if errors.Is(err, ErrSealed) || errors.Is(err, ErrCorrupt) {
		// An unreadable file holds nothing recoverable; clearing a key clears it all.
		return s.discard()
	}
	if err != nil {
		return err
	}
	if _, ok := vals[key]; !ok {
		return nil
	}
	delete(vals, key)
	return s.save(vals)
}

// loadForWrite is load, except that an undecodable or foreign-sealed file starts over empty.
func (s *FileStore) loadForWrite() (map[string]string, error) {
	vals, err := s.load()
	if errors.Is(err, ErrSealed) || errors.Is(err, ErrCorrupt) {
		return map[string]string{}, nil
	}
	return vals, err
}

func (s *FileStore) discard() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("credstore: remove %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) load() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credstore: read %s: %w", s.path, err)
	}

	plain := raw
	if s.passphrase != nil {
		plain, err = s.open(raw)
		if err != nil {
			return nil, err
		}
	}

	vals := map[string]string{}
	if len(plain) == 0 {
		return vals, nil
	}
	if err := json.Unmarshal(plain, &vals); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	return vals, nil
}

func (s *FileStore) save(vals map[string]string) error {
	out, err := json.Marshal(vals)
	if err != nil {
		return err
	}
	if s.passphrase != nil {
		out, err = s.seal(out)
		if err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("credstore: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".credstore-*")
	if err != nil {
		return fmt.Errorf("credstore: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

func (s *FileStore) deriveKey(salt []byte) *[sealKeyBytes]byte {
	var key [sealKeyBytes]byte
	copy(key[:], argon2.IDKey(s.passphrase, salt, sealArgonTime, sealArgonMemory, sealArgonThreads, sealKeyBytes))
	return &key
}

func (s *FileStore) seal(plain []byte) ([]byte, error) {
	sf := sealedFile{
		V:     fileFormatVersion,
		Salt:  make([]byte, sealSaltBytes),
		Nonce: make([]byte, sealNonceBytes),
	}
	if _, err := rand.Read(sf.Salt); err != nil {
		return nil, err
	}
	if _, err := rand.Read(sf.Nonce); err != nil {
		return nil, err
	}

	var nonce [sealNonceBytes]byte
	copy(nonce[:], sf.Nonce)
	sf.Box = secretbox.Seal(nil, plain, &nonce, s.deriveKey(sf.Salt))
	return json.Marshal(sf)
}

func (s *FileStore) open(raw []byte) ([]byte, error) {
	var sf sealedFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealed, err)
	}
	if sf.V != fileFormatVersion || len(sf.Salt) != sealSaltBytes || len(sf.Nonce) != sealNonceBytes {
		return nil, fmt.Errorf("%w: unsupported envelope", ErrSealed)
	}

	var nonce [sealNonceBytes]byte
	copy(nonce[:], sf.Nonce)
	plain, ok := secretbox.Open(nil, sf.Box, &nonce, s.deriveKey(sf.Salt))
	if !ok {
		return nil, ErrSealed
	}
	return plain, nil
}
