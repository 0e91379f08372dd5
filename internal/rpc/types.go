package rpc

import "github.com/traitdex/traitdex/internal/registry"

// AddCratesRequest is the request body for POST /add-crates.
type AddCratesRequest struct {
	Crates []CrateSpec `json:"crates"`
}

type CrateSpec struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// AddCratesResponse is the response body for POST /add-crates.
type AddCratesResponse struct {
	Results []CrateResult `json:"results"`
}

type CrateResult struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Implementors int    `json:"implementors"`
	Error        string `json:"error,omitempty"`
}

// ProgressLine is a single line of NDJSON streamed from the add-crates endpoint.
type ProgressLine struct {
	Type    string       `json:"type"` // "progress" or "result"
	Message string       `json:"message,omitempty"`
	Result  *CrateResult `json:"result,omitempty"`
}

// TableRequest is the request body for POST /table. With no crate filter the
// full current snapshot is returned.
type TableRequest struct {
	Crates []string `json:"crates,omitempty"`
}

// TableResponse is the response body for POST /table.
type TableResponse struct {
	Table registry.Table `json:"table"`
}

// TraitRequest is the request body for POST /implementors.
type TraitRequest struct {
	Trait string `json:"trait"`
}

// TraitResponse is the response body for POST /implementors.
type TraitResponse struct {
	Implementors []TraitImplementor `json:"implementors"`
}

type TraitImplementor struct {
	Crate     string `json:"crate"`
	Version   string `json:"version"`
	ForType   string `json:"for_type"`
	Snippet   string `json:"snippet"`
	Synthetic bool   `json:"synthetic,omitempty"`
	Blanket   bool   `json:"blanket,omitempty"`
}

// ExportRequest is the request body for POST /export.
type ExportRequest struct {
	Path   string `json:"path"`
	Pretty bool   `json:"pretty,omitempty"`
}

// ExportResponse is the response body for POST /export.
type ExportResponse struct {
	Path   string `json:"path"`
	Crates int    `json:"crates"`
}

// SearchCratesRequest is the request body for POST /search-crates.
type SearchCratesRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// SearchCratesResponse is the response body for POST /search-crates.
type SearchCratesResponse struct {
	Results []CrateSearchResult `json:"results"`
}

type CrateSearchResult struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	MaxVersion     string `json:"max_version"`
	Downloads      int    `json:"downloads"`
	Indexed        bool   `json:"indexed"`
	IndexedVersion string `json:"indexed_version,omitempty"`
}

// StatusResponse is the response body for GET /status.
type StatusResponse struct {
	Crates        []CrateStatus `json:"crates"`
	ExportBound   bool          `json:"export_bound"`
	PendingCrates int           `json:"pending_crates"`
	HasPending    bool          `json:"has_pending"`
}

type CrateStatus struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Processed    bool   `json:"processed"`
	Implementors int    `json:"implementors"`
}
