package tokenstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func readContents(t *testing.T, path string) fileContents {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read token file: %v", err)
	}
	var contents fileContents
	if err := json.Unmarshal(data, &contents); err != nil {
		t.Fatalf("Failed to parse token file: %v", err)
	}
	return contents
}

func TestFileStore_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")

	const goroutines = 10
	var wg sync.WaitGroup

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			fs := NewFileStore(path, fmt.Sprintf("profile-%d", id))
			err := fs.Set(map[string]string{
				AccessTokenKey:  fmt.Sprintf("access-token-%d", id),
				RefreshTokenKey: fmt.Sprintf("refresh-token-%d", id),
			})
			if err != nil {
				t.Errorf("Goroutine %d: Failed to save tokens: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	contents := readContents(t, path)
	if len(contents.Profiles) != goroutines {
		t.Errorf("Expected %d profiles, got %d", goroutines, len(contents.Profiles))
	}
	for i := 0; i < goroutines; i++ {
		profile := fmt.Sprintf("profile-%d", i)
		want := fmt.Sprintf("access-token-%d", i)
		if got := contents.Profiles[profile][AccessTokenKey]; got != want {
			t.Errorf("Profile %s: expected access token %s, got %s", profile, want, got)
		}
	}

	if _, err := os.Stat(path + ".lock"); !os.IsNotExist(err) {
		t.Errorf("Lock file still exists after all saves completed")
	}
}

func TestFileStore_PreservesOtherProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")

	first := NewFileStore(path, "staging")
	second := NewFileStore(path, "production")

	if err := first.Set(map[string]string{AccessTokenKey: "token-1"}); err != nil {
		t.Fatalf("Failed to save first profile: %v", err)
	}
	if err := second.Set(map[string]string{AccessTokenKey: "token-2"}); err != nil {
		t.Fatalf("Failed to save second profile: %v", err)
	}
	if err := second.Delete(AccessTokenKey, RefreshTokenKey); err != nil {
		t.Fatalf("Failed to delete second profile: %v", err)
	}

	got, err := first.Get(AccessTokenKey)
	if err != nil || got != "token-1" {
		t.Errorf("First profile token = %q, %v; want token-1", got, err)
	}
	got, err = second.Get(AccessTokenKey)
	if err != nil || got != "" {
		t.Errorf("Second profile token = %q, %v; want empty", got, err)
	}

	contents := readContents(t, path)
	if _, ok := contents.Profiles["production"]; ok {
		t.Errorf("Emptied profile was not removed from the file")
	}
}

func TestFileStore_MissingFile(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "absent.json"), "default")

	got, err := fs.Get(RefreshTokenKey)
	if err != nil {
		t.Fatalf("Get on missing file returned error: %v", err)
	}
	if got != "" {
		t.Errorf("Get on missing file = %q, want empty", got)
	}
}

func TestFileStore_CorruptFileIsReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("Failed to seed corrupt file: %v", err)
	}

	fs := NewFileStore(path, "default")
	if _, err := fs.Get(AccessTokenKey); err == nil {
		t.Errorf("Expected parse error for corrupt file")
	}
	if err := fs.Set(map[string]string{AccessTokenKey: "fresh"}); err != nil {
		t.Fatalf("Set over corrupt file failed: %v", err)
	}
	if got, _ := fs.Get(AccessTokenKey); got != "fresh" {
		t.Errorf("Get after rewrite = %q, want fresh", got)
	}
}

func TestMemoryStore(t *testing.T) {
	var m MemoryStore

	if err := m.Set(map[string]string{AccessTokenKey: "a", RefreshTokenKey: "r"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got, _ := m.Get(AccessTokenKey); got != "a" {
		t.Errorf("Get = %q, want a", got)
	}
	if err := m.Delete(AccessTokenKey, RefreshTokenKey); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got, _ := m.Get(RefreshTokenKey); got != "" {
		t.Errorf("Get after delete = %q, want empty", got)
	}
}

func BenchmarkFileStore_Set(b *testing.B) {
	fs := NewFileStore(filepath.Join(b.TempDir(), "tokens.json"), "bench")
	values := map[string]string{AccessTokenKey: "access", RefreshTokenKey: "refresh"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := fs.Set(values); err != nil {
			b.Fatalf("Failed to save tokens: %v", err)
		}
	}
}
