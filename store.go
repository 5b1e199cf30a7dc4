package qzlogin

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// CookieStore persists one account's cookie set as a TOML file so a
// restarted process can resume the session without a fresh login.
type CookieStore struct {
	path string
}

// NewCookieStore creates a store backed by the given file path.
func NewCookieStore(path string) *CookieStore {
	return &CookieStore{path: path}
}

// Path returns the backing file path.
func (cs *CookieStore) Path() string {
	return cs.path
}

type cookieRecord struct {
	Uin     int64             `toml:"uin"`
	SavedAt time.Time         `toml:"saved_at"`
	Cookies map[string]string `toml:"cookies"`
}

// Save writes the cookie set atomically (write temp file, then rename).
func (cs *CookieStore) Save(uin int64, cookies map[string]string) error {
	if cs == nil || cs.path == "" {
		return fmt.Errorf("cookie store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(cs.path), 0755); err != nil {
		return fmt.Errorf("failed to create cookie dir: %w", err)
	}

	rec := cookieRecord{Uin: uin, SavedAt: time.Now(), Cookies: cookies}
	tmp, err := os.CreateTemp(filepath.Dir(cs.path), ".cookies-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp cookie file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(rec); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode cookies: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp cookie file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return fmt.Errorf("failed to restrict cookie file mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), cs.path); err != nil {
		return fmt.Errorf("failed to replace cookie file: %w", err)
	}
	return nil
}

// Load reads the cookie set saved for uin. A file belonging to a
// different account is rejected rather than silently reused.
func (cs *CookieStore) Load(uin int64) (map[string]string, time.Time, error) {
	if cs == nil || cs.path == "" {
		return nil, time.Time{}, fmt.Errorf("cookie store path is empty")
	}
	data, err := os.ReadFile(cs.path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read cookie file: %w", err)
	}
	var rec cookieRecord
	if err := toml.Unmarshal(data, &rec); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to decode cookie file: %w", err)
	}
	if rec.Uin != uin {
		return nil, time.Time{}, fmt.Errorf("cookie file belongs to uin %d, not %d", rec.Uin, uin)
	}
	return rec.Cookies, rec.SavedAt, nil
}
