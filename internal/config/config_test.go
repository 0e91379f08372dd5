package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mitchellh/mapstructure"
)

func TestCacheBase_XDGSet(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/custom/cache")
	got := cacheBase()
	want := filepath.Join("/custom/cache", "traitdex")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCacheBase_HomeDir(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "")
	got := cacheBase()
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home dir")
	}
	want := filepath.Join(home, ".cache", "traitdex")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCacheBase_TmpFallback(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "")
	t.Setenv("HOME", "")
	got := cacheBase()
	// Should use os.TempDir() when HOME is unset
	if !strings.Contains(got, "traitdex") {
		t.Errorf("expected traitdex in path, got %q", got)
	}
}

func TestExportConfigHook(t *testing.T) {
	decode := func(t *testing.T, input map[string]interface{}) Config {
		t.Helper()
		var cfg Config
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook: stringToExportConfigHookFunc(),
			Result:     &cfg,
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := decoder.Decode(input); err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	t.Run("string_shorthand", func(t *testing.T) {
		cfg := decode(t, map[string]interface{}{"export": "/tmp/implementors.json"})
		if cfg.Export.Path != "/tmp/implementors.json" {
			t.Errorf("got %q", cfg.Export.Path)
		}
	})

	t.Run("full_table", func(t *testing.T) {
		cfg := decode(t, map[string]interface{}{
			"export": map[string]interface{}{"path": "/tmp/out.json", "pretty": true},
		})
		if cfg.Export.Path != "/tmp/out.json" || !cfg.Export.Pretty {
			t.Errorf("got %+v", cfg.Export)
		}
	})
}
