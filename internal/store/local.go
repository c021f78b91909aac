// Package store persists API keys and the selected provider under the
// llmfill home directory, encrypted with a local age identity.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"filippo.io/age"
	"gopkg.in/yaml.v3"

	"github.com/ogulcanaydogan/llm-table-fill/pkg/types"
)

const (
	credentialsFile = "credentials.age"
	identityFile    = "identity.txt"

	selectedProviderKey = "selected_provider"
	// MinKeyLength is exclusive: keys must be longer to be persisted.
	MinKeyLength = 10
)

// KV is the key-value boundary the CLI uses; tests may substitute a map.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

type Store struct {
	mu  sync.Mutex
	dir string
	id  *age.X25519Identity
}

var _ KV = (*Store)(nil)

// EnsureDefaultDir creates the home directory with owner-only access.
func EnsureDefaultDir(home string) (string, error) {
	if err := os.MkdirAll(home, 0o700); err != nil {
		return "", fmt.Errorf("create local store: %w", err)
	}
	return home, nil
}

// Open loads the identity under dir, generating one on first use.
func Open(dir string) (*Store, error) {
	if _, err := EnsureDefaultDir(dir); err != nil {
		return nil, err
	}
	id, err := loadIdentity(filepath.Join(dir, identityFile))
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir, id: id}, nil
}

func loadIdentity(path string) (*age.X25519Identity, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		id, err := age.GenerateX25519Identity()
		if err != nil {
			return nil, fmt.Errorf("generate identity: %w", err)
		}
		if err := writeFileAtomic(path, []byte(id.String()+"\n"), 0o600); err != nil {
			return nil, fmt.Errorf("write identity: %w", err)
		}
		return id, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read identity %s: %w", path, err)
	}
	id, err := age.ParseX25519Identity(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("parse identity %s: %w", path, err)
	}
	return id, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return err
	}
	values[key] = value
	return s.save(values)
}

func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return s.save(values)
}

// Keys lists stored keys in sorted order.
func (s *Store) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(values))
	for k := range values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) load() (map[string]string, error) {
	f, err := os.Open(filepath.Join(s.dir, credentialsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open credentials: %w", err)
	}
	defer f.Close()

	r, err := age.Decrypt(f, s.id)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials: %w", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	values := map[string]string{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return values, nil
}

func (s *Store) save(values map[string]string) error {
	plain, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.id.Recipient())
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.dir, credentialsFile), buf.Bytes(), 0o600)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// APIKeyName is the storage key for a provider's API key.
func APIKeyName(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider)) + "_api_key"
}

func APIKey(kv KV, provider string) (string, error) {
	v, _, err := kv.Get(APIKeyName(provider))
	return v, err
}

// SaveAPIKey stores key for provider when it is longer than MinKeyLength and
// clears it when key is empty. Shorter keys are ignored and reported as not
// saved.
func SaveAPIKey(kv KV, provider, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, kv.Delete(APIKeyName(provider))
	}
	if len(key) <= MinKeyLength {
		return false, nil
	}
	if err := kv.Set(APIKeyName(provider), key); err != nil {
		return false, err
	}
	return true, nil
}

func ClearAPIKey(kv KV, provider string) error {
	return kv.Delete(APIKeyName(provider))
}

// SelectedProvider returns the stored provider, defaulting to openrouter.
func SelectedProvider(kv KV) (string, error) {
	v, ok, err := kv.Get(selectedProviderKey)
	if err != nil {
		return "", err
	}
	if !ok || strings.TrimSpace(v) == "" {
		return types.ProviderOpenRouter, nil
	}
	return v, nil
}

func SelectProvider(kv KV, provider string) error {
	return kv.Set(selectedProviderKey, strings.ToLower(strings.TrimSpace(provider)))
}
