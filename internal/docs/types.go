package docs

import (
	"encoding/json"
	"regexp"
	"strconv"
)

// RustdocCrate is the top-level structure of rustdoc JSON output.
type RustdocCrate struct {
	Root           int                       `json:"root"`
	CrateVersion   *string                   `json:"crate_version"`
	Index          map[string]RustdocItem    `json:"index"`
	Paths          map[string]RustdocSummary `json:"paths"`
	ExternalCrates map[string]ExternalCrate  `json:"external_crates"`
	FormatVersion  int                       `json:"format_version"`
}

// ExternalCrate identifies a dependency crate by name.
type ExternalCrate struct {
	Name        string `json:"name"`
	HTMLRootURL string `json:"html_root_url"`
}

// RustdocItem is a single item in the rustdoc index.
type RustdocItem struct {
	ID      int             `json:"id"`
	CrateID int             `json:"crate_id"`
	Name    *string         `json:"name"`
	Docs    *string         `json:"docs"`
	Inner   json.RawMessage `json:"inner"`
}

// RustdocSummary provides the path and kind for an item.
type RustdocSummary struct {
	CrateID int      `json:"crate_id"`
	Path    []string `json:"path"`
	Kind    string   `json:"kind"`
}

// Implementor is one trait implementation extracted from a crate's rustdoc
// index. ForType and Generics are rendered Rust source text.
type Implementor struct {
	TraitPath  string // full path of the implemented trait, e.g. "core::clone::Clone"
	TraitCrate string // crate that defines the trait
	ForType    string // implementing type, e.g. "Database<D, B>"
	Generics   string // impl generics including brackets, e.g. "<D, B>"
	Docs       string // impl doc comment (markdown), usually empty
	Unsafe     bool
	Negative   bool
	Synthetic  bool // compiler-generated auto trait impl (Send, Sync, ...)
	Blanket    bool // instantiated from a blanket impl
}

// docsRsCrateNameRe extracts the crate name from a docs.rs html_root_url.
// Example: "https://docs.rs/tracing-core/0.1.36/x86_64-unknown-linux-gnu/" → "tracing-core"
var docsRsCrateNameRe = regexp.MustCompile(`^https?://docs\.rs/([^/]+)/`)

// ExternalCrateName looks up the Cargo package name for a dependency by
// crate_id. The html_root_url form is preferred over the lib name since the
// latter uses underscores where the Cargo name may use hyphens.
func (c *RustdocCrate) ExternalCrateName(crateID int) string {
	ext, ok := c.ExternalCrates[strconv.Itoa(crateID)]
	if !ok {
		return ""
	}
	if m := docsRsCrateNameRe.FindStringSubmatch(ext.HTMLRootURL); len(m) == 2 {
		return m[1]
	}
	return ext.Name
}
