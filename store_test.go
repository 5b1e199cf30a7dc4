package qzlogin_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fdkevin0/qzlogin"
)

func TestCookieStoreRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.toml")
	store := qzlogin.NewCookieStore(path)

	cookies := map[string]string{
		"p_skey": "abc-def",
		"uin":    "o0123456789",
	}
	before := time.Now().Add(-time.Second)
	if err := store.Save(123456789, cookies); err != nil {
		t.Fatalf("save cookies: %v", err)
	}

	loaded, savedAt, err := store.Load(123456789)
	if err != nil {
		t.Fatalf("load cookies: %v", err)
	}
	if loaded["p_skey"] != "abc-def" || loaded["uin"] != "o0123456789" {
		t.Fatalf("unexpected cookies: %+v", loaded)
	}
	if savedAt.Before(before) {
		t.Fatalf("saved_at not recorded: %v", savedAt)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat cookie file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("cookie file mode should be 0600, got %v", info.Mode().Perm())
	}
}

func TestCookieStoreRejectsOtherUin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.toml")
	store := qzlogin.NewCookieStore(path)
	if err := store.Save(111, map[string]string{"p_skey": "x"}); err != nil {
		t.Fatalf("save cookies: %v", err)
	}
	if _, _, err := store.Load(222); err == nil {
		t.Fatal("expected error for foreign uin")
	} else if !strings.Contains(err.Error(), "belongs to") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCookieStoreLoadMissingFile(t *testing.T) {
	store := qzlogin.NewCookieStore(filepath.Join(t.TempDir(), "absent.toml"))
	if _, _, err := store.Load(1); err == nil {
		t.Fatal("expected error for missing file")
	}
}
