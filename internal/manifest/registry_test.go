package manifest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRegistrySnapshotLookups(t *testing.T) {
	m, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatal(err)
	}
	r := NewRegistry(m, nil)

	if p, ok := r.Provider("openai"); !ok || p.ID != "openai" {
		t.Errorf("Provider = (%v, %v)", p, ok)
	}
	if _, ok := r.Provider("nope"); ok {
		t.Error("unknown provider resolved")
	}
	if mdl, ok := r.Model("gpt-4o"); !ok || mdl.Provider != "openai" {
		t.Errorf("Model = (%v, %v)", mdl, ok)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	writeFile(t, path, validYAML)

	r, err := NewRegistryFromFile(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	reloaded := make(chan *Manifest, 1)
	r.OnChange(func(m *Manifest) {
		select {
		case reloaded <- m:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Watch(ctx); err != nil {
		t.Fatal(err)
	}

	writeFile(t, path, validYAML+"  gpt-5-preview:\n    provider: openai\n")

	select {
	case m := <-reloaded:
		if _, ok := m.Models["gpt-5-preview"]; !ok {
			t.Error("reloaded manifest missing the new model")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}

	if _, ok := r.Model("gpt-5-preview"); !ok {
		t.Error("snapshot not swapped after reload")
	}
}

func TestWatchKeepsSnapshotOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	writeFile(t, path, validYAML)

	r, err := NewRegistryFromFile(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Watch(ctx); err != nil {
		t.Fatal(err)
	}

	before := len(r.Manifest().Models)
	writeFile(t, path, strings.Replace(validYAML, "provider: openai", "provider: ghost", 2))
	time.Sleep(400 * time.Millisecond)

	if got := len(r.Manifest().Models); got != before {
		t.Errorf("snapshot changed after invalid reload: %d -> %d", before, got)
	}
	if _, ok := r.Provider("openai"); !ok {
		t.Error("last-known-good snapshot lost")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "absent.yaml") {
		t.Fatalf("err = %v, want a message naming the file", err)
	}
}
