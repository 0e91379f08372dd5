package docs

import (
	"encoding/json"
	"testing"
)

const fixtureJSON = `{
  "root": 0,
  "crate_version": "1.0.0",
  "format_version": 37,
  "index": {
    "1": {"id": 1, "crate_id": 0, "name": null, "docs": "Cloning is cheap.", "inner": {"impl": {
      "is_unsafe": false,
      "generics": {"params": [{"name": "D", "kind": {"type": {}}}]},
      "trait": {"path": "Clone", "id": 10, "args": {"angle_bracketed": {"args": []}}},
      "for": {"resolved_path": {"path": "Database", "id": 20, "args": {"angle_bracketed": {"args": [{"type": {"generic": "D"}}]}}}},
      "is_negative": false, "is_synthetic": false, "blanket_impl": null
    }}},
    "2": {"id": 2, "crate_id": 0, "name": null, "docs": null, "inner": {"impl": {
      "is_unsafe": false,
      "generics": {"params": []},
      "trait": null,
      "for": {"resolved_path": {"path": "Database", "id": 20, "args": null}},
      "is_negative": false, "is_synthetic": false, "blanket_impl": null
    }}},
    "3": {"id": 3, "crate_id": 0, "name": null, "docs": null, "inner": {"impl": {
      "is_unsafe": false,
      "generics": {"params": [{"name": "D", "kind": {"type": {}}}]},
      "trait": {"path": "Send", "id": 11, "args": null},
      "for": {"resolved_path": {"path": "Database", "id": 20, "args": {"angle_bracketed": {"args": [{"type": {"generic": "D"}}]}}}},
      "is_negative": false, "is_synthetic": true, "blanket_impl": null
    }}},
    "4": {"id": 4, "crate_id": 0, "name": "Database", "docs": "A database.", "inner": {"struct": {}}},
    "5": {"id": 5, "crate_id": 1, "name": null, "docs": null, "inner": {"impl": {
      "trait": {"path": "Debug", "id": 12, "args": null},
      "for": {"generic": "T"}
    }}}
  },
  "paths": {
    "10": {"crate_id": 2, "path": ["core", "clone", "Clone"], "kind": "trait"},
    "11": {"crate_id": 2, "path": ["core", "marker", "Send"], "kind": "trait"},
    "20": {"crate_id": 0, "path": ["mylib", "Database"], "kind": "struct"}
  },
  "external_crates": {
    "2": {"name": "core", "html_root_url": ""}
  }
}`

func TestParseImplementors(t *testing.T) {
	crate, impls, err := ParseImplementors([]byte(fixtureJSON), "mylib")
	if err != nil {
		t.Fatal(err)
	}
	if crate.CrateVersion == nil || *crate.CrateVersion != "1.0.0" {
		t.Errorf("crate version not parsed")
	}

	// Inherent impl (item 2) and foreign impl (item 5, crate_id != 0) are skipped.
	if len(impls) != 2 {
		t.Fatalf("got %d implementors, want 2: %+v", len(impls), impls)
	}

	// Sorted by trait path: core::clone::Clone before core::marker::Send.
	clone, send := impls[0], impls[1]
	if clone.TraitPath != "core::clone::Clone" {
		t.Errorf("trait path = %q", clone.TraitPath)
	}
	if clone.TraitCrate != "core" {
		t.Errorf("trait crate = %q", clone.TraitCrate)
	}
	if clone.ForType != "Database<D>" {
		t.Errorf("for type = %q", clone.ForType)
	}
	if clone.Generics != "<D>" {
		t.Errorf("generics = %q", clone.Generics)
	}
	if clone.Docs != "Cloning is cheap." {
		t.Errorf("docs = %q", clone.Docs)
	}
	if clone.Synthetic {
		t.Error("Clone impl flagged synthetic")
	}

	if send.TraitPath != "core::marker::Send" {
		t.Errorf("trait path = %q", send.TraitPath)
	}
	if !send.Synthetic {
		t.Error("auto trait impl not flagged synthetic")
	}
}

func TestParseImplementors_DeterministicOrder(t *testing.T) {
	_, first, err := ParseImplementors([]byte(fixtureJSON), "mylib")
	if err != nil {
		t.Fatal(err)
	}
	for range 5 {
		_, again, err := ParseImplementors([]byte(fixtureJSON), "mylib")
		if err != nil {
			t.Fatal(err)
		}
		for i := range first {
			if again[i] != first[i] {
				t.Fatalf("order changed between runs: %+v vs %+v", again[i], first[i])
			}
		}
	}
}

func TestParseImplementors_BadJSON(t *testing.T) {
	if _, _, err := ParseImplementors([]byte("{not json"), "x"); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestRenderType(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"generic", `{"generic": "T"}`, "T"},
		{"primitive", `{"primitive": "u8"}`, "u8"},
		{"resolved_plain", `{"resolved_path": {"path": "String", "id": 1, "args": null}}`, "String"},
		{"resolved_args", `{"resolved_path": {"path": "Vec", "id": 1, "args": {"angle_bracketed": {"args": [{"type": {"primitive": "u8"}}]}}}}`, "Vec<u8>"},
		{"nested_args", `{"resolved_path": {"path": "HashMap", "id": 1, "args": {"angle_bracketed": {"args": [{"type": {"resolved_path": {"path": "String", "id": 2}}}, {"type": {"generic": "V"}}]}}}}`, "HashMap<String, V>"},
		{"ref", `{"borrowed_ref": {"lifetime": null, "is_mutable": false, "type": {"primitive": "str"}}}`, "&str"},
		{"mut_ref_lifetime", `{"borrowed_ref": {"lifetime": "'a", "is_mutable": true, "type": {"generic": "T"}}}`, "&'a mut T"},
		{"raw_pointer", `{"raw_pointer": {"is_mutable": true, "type": {"primitive": "u8"}}}`, "*mut u8"},
		{"slice", `{"slice": {"primitive": "u8"}}`, "[u8]"},
		{"array", `{"array": {"type": {"primitive": "u8"}, "len": "32"}}`, "[u8; 32]"},
		{"tuple", `{"tuple": [{"generic": "A"}, {"generic": "B"}]}`, "(A, B)"},
		{"unit", `{"tuple": []}`, "()"},
		{"qualified", `{"qualified_path": {"name": "Output", "self_type": {"generic": "T"}, "trait": {"path": "Iterator", "id": 1}}}`, "<T as Iterator>::Output"},
		{"dyn", `{"dyn_trait": {"traits": [{"trait": {"path": "Error", "id": 1}}], "lifetime": "'static"}}`, "dyn Error + 'static"},
		{"fn_pointer", `{"function_pointer": {"sig": {"inputs": [["x", {"primitive": "u8"}]], "output": {"primitive": "bool"}}}}`, "fn(u8) -> bool"},
		{"infer", `{"infer": null}`, "_"},
		{"unknown", `{"some_future_kind": {}}`, "_"},
		{"empty", ``, "_"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := renderType(json.RawMessage(tc.in))
			if got != tc.want {
				t.Errorf("renderType(%s) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestRenderPathArgs_Parenthesized(t *testing.T) {
	raw := json.RawMessage(`{"parenthesized": {"inputs": [{"generic": "A"}], "output": {"generic": "B"}}}`)
	if got := renderPathArgs(raw); got != "(A) -> B" {
		t.Errorf("got %q", got)
	}
}

func TestExternalCrateName(t *testing.T) {
	crate := &RustdocCrate{
		ExternalCrates: map[string]ExternalCrate{
			"1": {Name: "tracing_core", HTMLRootURL: "https://docs.rs/tracing-core/0.1.36/x86_64-unknown-linux-gnu/"},
			"2": {Name: "core", HTMLRootURL: ""},
		},
	}
	if got := crate.ExternalCrateName(1); got != "tracing-core" {
		t.Errorf("docs.rs name: got %q", got)
	}
	if got := crate.ExternalCrateName(2); got != "core" {
		t.Errorf("fallback name: got %q", got)
	}
	if got := crate.ExternalCrateName(99); got != "" {
		t.Errorf("missing crate: got %q", got)
	}
}
