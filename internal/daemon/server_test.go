package daemon

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/traitdex/traitdex/internal/cas"
	"github.com/traitdex/traitdex/internal/config"
	"github.com/traitdex/traitdex/internal/db"
	"github.com/traitdex/traitdex/internal/docs"
	"github.com/traitdex/traitdex/internal/registry"
	"github.com/traitdex/traitdex/internal/rpc"
)

func testServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if cfg == nil {
		cfg = &config.Config{}
	}
	return NewServer(cfg, database, filepath.Join(t.TempDir(), "daemon.sock"))
}

func indexTestCrate(t *testing.T, s *Server, name, version string, impls []docs.Implementor) *db.Crate {
	t.Helper()
	crate, err := s.db.UpsertCrate(name, version)
	if err != nil {
		t.Fatalf("upserting %s: %v", name, err)
	}
	if err := s.indexImplementors(crate, impls, func(string) {}); err != nil {
		t.Fatalf("indexing %s: %v", name, err)
	}
	if err := s.db.MarkCrateProcessed(crate.ID); err != nil {
		t.Fatalf("marking %s processed: %v", name, err)
	}
	return crate
}

func TestAssembleTable(t *testing.T) {
	s := testServer(t, nil)

	indexTestCrate(t, s, "serde", "1.0.0", []docs.Implementor{
		{TraitPath: "core::clone::Clone", ForType: "Serializer"},
		{TraitPath: "core::fmt::Debug", ForType: "Serializer"},
	})
	indexTestCrate(t, s, "rand", "0.8.0", []docs.Implementor{
		{TraitPath: "core::default::Default", ForType: "ThreadRng"},
	})

	table, err := s.assembleTable(nil)
	if err != nil {
		t.Fatalf("assembling table: %v", err)
	}

	if len(table) != 2 {
		t.Fatalf("expected 2 crates, got %d", len(table))
	}
	if len(table["serde"]) != 2 {
		t.Errorf("expected 2 serde snippets, got %d", len(table["serde"]))
	}
	if len(table["rand"]) != 1 {
		t.Errorf("expected 1 rand snippet, got %d", len(table["rand"]))
	}

	want := "<code>impl core::clone::Clone for Serializer</code>"
	if table["serde"][0] != want {
		t.Errorf("first serde snippet = %q, want %q", table["serde"][0], want)
	}
}

func TestAssembleTable_Filter(t *testing.T) {
	s := testServer(t, nil)

	indexTestCrate(t, s, "serde", "1.0.0", []docs.Implementor{
		{TraitPath: "core::clone::Clone", ForType: "Serializer"},
	})
	indexTestCrate(t, s, "rand", "0.8.0", []docs.Implementor{
		{TraitPath: "core::default::Default", ForType: "ThreadRng"},
	})

	table, err := s.assembleTable([]string{"rand"})
	if err != nil {
		t.Fatalf("assembling table: %v", err)
	}

	if len(table) != 1 {
		t.Fatalf("expected 1 crate, got %d", len(table))
	}
	if _, ok := table["rand"]; !ok {
		t.Error("expected rand in filtered table")
	}
}

func TestAssembleTable_UnprocessedExcluded(t *testing.T) {
	s := testServer(t, nil)

	if _, err := s.db.UpsertCrate("broken", "0.1.0"); err != nil {
		t.Fatalf("upserting: %v", err)
	}

	table, err := s.assembleTable(nil)
	if err != nil {
		t.Fatalf("assembling table: %v", err)
	}
	if len(table) != 0 {
		t.Errorf("expected empty table, got %d crates", len(table))
	}
}

func TestPublishSnapshot_ParksWithoutConsumer(t *testing.T) {
	s := testServer(t, nil)

	indexTestCrate(t, s, "serde", "1.0.0", []docs.Implementor{
		{TraitPath: "core::clone::Clone", ForType: "Serializer"},
	})

	s.publishSnapshot(nil)

	if s.reg.Bound() {
		t.Fatal("no consumer should be bound")
	}
	pending, ok := s.reg.Pending()
	if !ok {
		t.Fatal("expected a parked snapshot")
	}
	if len(pending["serde"]) != 1 {
		t.Errorf("expected 1 serde snippet in pending snapshot, got %d", len(pending["serde"]))
	}
}

func TestPublishSnapshot_DeliveredToExportWriter(t *testing.T) {
	exportPath := filepath.Join(t.TempDir(), "implementors.json")
	s := testServer(t, &config.Config{
		Export: config.ExportConfig{Path: exportPath},
	})

	if !s.reg.Bound() {
		t.Fatal("export writer should be bound at startup")
	}

	indexTestCrate(t, s, "serde", "1.0.0", []docs.Implementor{
		{TraitPath: "core::clone::Clone", ForType: "Serializer"},
	})
	s.publishSnapshot(nil)

	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}
	var got registry.Table
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshaling export: %v", err)
	}
	if len(got["serde"]) != 1 {
		t.Errorf("expected 1 serde snippet in artifact, got %d", len(got["serde"]))
	}

	if _, ok := s.reg.Pending(); ok {
		t.Error("nothing should be parked when a consumer is bound")
	}
}

func TestIndexImplementors_Reindex(t *testing.T) {
	s := testServer(t, nil)

	crate := indexTestCrate(t, s, "serde", "1.0.0", []docs.Implementor{
		{TraitPath: "core::clone::Clone", ForType: "Serializer"},
		{TraitPath: "core::fmt::Debug", ForType: "Serializer"},
	})

	// Indexing again replaces the old rows instead of appending.
	err := s.indexImplementors(crate, []docs.Implementor{
		{TraitPath: "core::default::Default", ForType: "Deserializer"},
	}, func(string) {})
	if err != nil {
		t.Fatalf("reindexing: %v", err)
	}

	impls, err := s.db.ListImplementors(crate.ID)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(impls) != 1 {
		t.Fatalf("expected 1 implementor after reindex, got %d", len(impls))
	}
	if impls[0].TraitPath != "core::default::Default" {
		t.Errorf("trait = %q, want core::default::Default", impls[0].TraitPath)
	}

	snippet, err := cas.Read(impls[0].SnippetHash)
	if err != nil {
		t.Fatalf("reading snippet: %v", err)
	}
	if snippet != "<code>impl core::default::Default for Deserializer</code>" {
		t.Errorf("unexpected snippet: %q", snippet)
	}
}

func TestVersionCache(t *testing.T) {
	s := testServer(t, nil)

	if _, ok := s.getCachedVersion("serde"); ok {
		t.Fatal("cache should start empty")
	}

	s.setCachedVersion("serde", "1.0.219", false)
	entry, ok := s.getCachedVersion("serde")
	if !ok || entry.version != "1.0.219" || entry.notFound {
		t.Fatalf("unexpected entry: %+v ok=%v", entry, ok)
	}

	s.setCachedVersion("nonexistent-crate", "", true)
	entry, ok = s.getCachedVersion("nonexistent-crate")
	if !ok || !entry.notFound {
		t.Fatalf("expected cached not-found, got %+v ok=%v", entry, ok)
	}

	s.clearVersionCache()
	if _, ok := s.getCachedVersion("serde"); ok {
		t.Error("cache should be empty after clear")
	}
}

const cachedCrateJSON = `{
  "root": 0,
  "crate_version": "0.1.0",
  "format_version": 37,
  "index": {
    "1": {"id": 1, "crate_id": 0, "name": null, "docs": null, "inner": {"impl": {
      "is_unsafe": false,
      "generics": {"params": []},
      "trait": {"path": "Clone", "id": 10, "args": null},
      "for": {"resolved_path": {"path": "Widget", "id": 20, "args": null}},
      "is_negative": false, "is_synthetic": false, "blanket_impl": null
    }}}
  },
  "paths": {
    "10": {"crate_id": 2, "path": ["core", "clone", "Clone"], "kind": "trait"},
    "20": {"crate_id": 0, "path": ["widgets", "Widget"], "kind": "struct"}
  },
  "external_crates": {"2": {"name": "core", "html_root_url": ""}}
}`

func TestAddCrateWork_UsesDiskCache(t *testing.T) {
	s := testServer(t, nil)

	if err := docs.SaveCrateCache([]byte(cachedCrateJSON), "widgets", "0.1.0"); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}

	var progress []string
	result := s.addCrateWork("widgets", "0.1.0", func(msg string) {
		progress = append(progress, msg)
	})
	if result.Error != "" {
		t.Fatalf("addCrateWork: %s", result.Error)
	}
	if result.Implementors != 1 {
		t.Errorf("implementors = %d, want 1", result.Implementors)
	}

	crate, err := s.db.GetCrate("widgets", "0.1.0")
	if err != nil {
		t.Fatal(err)
	}
	if crate == nil || crate.ProcessedAt == nil {
		t.Fatal("crate not indexed from cached payload")
	}

	// A pinned version with a cached payload never goes to the network.
	for _, msg := range progress {
		if strings.Contains(msg, "fetching rustdoc") {
			t.Errorf("fetched despite cache hit: %q", msg)
		}
	}
	sawLoad := false
	for _, msg := range progress {
		if strings.Contains(msg, "loading cached rustdoc") {
			sawLoad = true
		}
	}
	if !sawLoad {
		t.Error("expected a cache-load progress message")
	}
}

func TestHandleExport_WriterStaysBound(t *testing.T) {
	s := testServer(t, nil)

	indexTestCrate(t, s, "serde", "1.0.0", []docs.Implementor{
		{TraitPath: "core::clone::Clone", ForType: "Serializer"},
	})

	exportPath := filepath.Join(t.TempDir(), "implementors.json")
	req := httptest.NewRequest("POST", "/export", strings.NewReader(`{"path":"`+exportPath+`"}`))
	rec := httptest.NewRecorder()
	s.handleExport(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp rpc.ExportResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Crates != 1 || resp.Path != exportPath {
		t.Errorf("unexpected response: %+v", resp)
	}

	// The writer stays bound: later snapshots land in the same artifact.
	indexTestCrate(t, s, "rand", "0.8.0", []docs.Implementor{
		{TraitPath: "core::default::Default", ForType: "ThreadRng"},
	})
	s.publishSnapshot(nil)

	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	var table registry.Table
	if err := json.Unmarshal(data, &table); err != nil {
		t.Fatalf("unmarshaling artifact: %v", err)
	}
	if len(table) != 2 {
		t.Errorf("artifact has %d crates after second publish, want 2", len(table))
	}
}

func TestHandleExport_WriteError(t *testing.T) {
	s := testServer(t, nil)

	// Parent path is a regular file, so the artifact write must fail.
	parent := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(parent, nil, 0644); err != nil {
		t.Fatal(err)
	}
	exportPath := filepath.Join(parent, "implementors.json")

	req := httptest.NewRequest("POST", "/export", strings.NewReader(`{"path":"`+exportPath+`"}`))
	rec := httptest.NewRecorder()
	s.handleExport(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500: %s", rec.Code, rec.Body.String())
	}
}
