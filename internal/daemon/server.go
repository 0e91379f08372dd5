package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/traitdex/traitdex/internal/cas"
	"github.com/traitdex/traitdex/internal/config"
	"github.com/traitdex/traitdex/internal/db"
	"github.com/traitdex/traitdex/internal/docs"
	"github.com/traitdex/traitdex/internal/export"
	md "github.com/traitdex/traitdex/internal/markdown"
	"github.com/traitdex/traitdex/internal/registry"
	"github.com/traitdex/traitdex/internal/rpc"
	"golang.org/x/sync/singleflight"
)

type versionCacheEntry struct {
	version  string // resolved real version; empty for 404s
	notFound bool
	expiry   time.Time
}

type Server struct {
	db         *db.DB
	cfg        *config.Config
	reg        *registry.Registry
	socketPath string
	httpServer *http.Server
	listener   net.Listener

	mu         sync.Mutex
	expTimer   *time.Timer
	expiration time.Duration

	versionCache   map[string]versionCacheEntry
	versionCacheMu sync.RWMutex
	addCrateGroup  singleflight.Group
}

func NewServer(cfg *config.Config, database *db.DB, socketPath string) *Server {
	expSec := cfg.Daemon.ExpirationSeconds
	if expSec <= 0 {
		expSec = 600
	}

	s := &Server{
		db:           database,
		cfg:          cfg,
		reg:          registry.New(),
		socketPath:   socketPath,
		expiration:   time.Duration(expSec) * time.Second,
		versionCache: make(map[string]versionCacheEntry),
	}

	// With an export target configured the artifact writer is the bound
	// consumer from the start; otherwise snapshots park in the pending slot
	// until something binds.
	if cfg.Export.Path != "" {
		w := export.NewWriter(cfg.Export.Path, cfg.Export.Pretty)
		w.Bind(s.reg, func(err error) {
			log.Printf("daemon: export write failed: %v", err)
		})
	}

	return s
}

func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("setting socket permissions: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("POST /add-crates", s.withExpReset(s.handleAddCrates))
	mux.HandleFunc("POST /table", s.withExpReset(s.handleTable))
	mux.HandleFunc("POST /implementors", s.withExpReset(s.handleImplementors))
	mux.HandleFunc("GET /status", s.withExpReset(s.handleStatus))
	mux.HandleFunc("POST /export", s.withExpReset(s.handleExport))
	mux.HandleFunc("POST /search-crates", s.withExpReset(s.handleSearchCrates))
	mux.HandleFunc("POST /clear-cache", s.withExpReset(s.handleClearCache))
	mux.HandleFunc("POST /shutdown", s.handleShutdown)

	s.httpServer = &http.Server{Handler: mux}

	s.mu.Lock()
	s.expTimer = time.AfterFunc(s.expiration, s.expire)
	s.mu.Unlock()

	log.Printf("daemon: listening on %s (expires after %s of inactivity)", s.socketPath, s.expiration)

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("daemon: shutdown error: %v", err)
			errs = append(errs, err)
		}
	}
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			log.Printf("daemon: listener close error: %v", err)
			errs = append(errs, err)
		}
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		log.Printf("daemon: socket remove error: %v", err)
		errs = append(errs, err)
	}
	if err := s.db.Close(); err != nil {
		log.Printf("daemon: db close error: %v", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) expire() {
	log.Printf("daemon: expiring due to inactivity")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
	os.Exit(0)
}

func (s *Server) resetExpiration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expTimer != nil {
		s.expTimer.Stop()
		s.expTimer.Reset(s.expiration)
	}
}

func (s *Server) withExpReset(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.resetExpiration()
		handler(w, r)
	}
}

func (s *Server) handleAddCrates(w http.ResponseWriter, r *http.Request) {
	var req rpc.AddCratesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	send := func(line rpc.ProgressLine) bool {
		log.Printf("daemon: %s", line.Message)
		if err := enc.Encode(line); err != nil {
			log.Printf("daemon: client disconnected: %v", err)
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	changed := false
	for _, spec := range req.Crates {
		progress := func(msg string) {
			send(rpc.ProgressLine{Type: "progress", Message: msg})
		}
		result := s.addCrate(spec, progress)
		if result.Error == "" {
			changed = true
		}
		if !send(rpc.ProgressLine{Type: "result", Result: &result}) {
			return
		}
	}

	if changed {
		s.publishSnapshot(func(msg string) {
			send(rpc.ProgressLine{Type: "progress", Message: msg})
		})
	}
}

// publishSnapshot assembles the full table and hands it to the registry:
// delivered to the export writer when one is bound, parked otherwise.
func (s *Server) publishSnapshot(progress func(string)) {
	snapshot, err := s.assembleTable(nil)
	if err != nil {
		log.Printf("daemon: snapshot assembly failed: %v", err)
		return
	}
	s.reg.Publish(snapshot)
	if progress != nil {
		state := "parked pending consumer"
		if s.reg.Bound() {
			state = "delivered to export writer"
		}
		progress(fmt.Sprintf("published snapshot of %d crates (%s)", len(snapshot), state))
	}
}

// assembleTable builds a registry table from stored implementors. With a nil
// filter every processed crate's latest version is included.
func (s *Server) assembleTable(names []string) (registry.Table, error) {
	crates, err := s.db.ListProcessedLatest()
	if err != nil {
		return nil, fmt.Errorf("listing crates: %w", err)
	}

	var filter map[string]bool
	if len(names) > 0 {
		filter = make(map[string]bool, len(names))
		for _, n := range names {
			filter[n] = true
		}
	}

	table := make(registry.Table)
	for _, crate := range crates {
		if filter != nil && !filter[crate.Name] {
			continue
		}
		impls, err := s.db.ListImplementors(crate.ID)
		if err != nil {
			return nil, fmt.Errorf("listing implementors for %s: %w", crate.Name, err)
		}
		snippets := make([]string, 0, len(impls))
		for _, imp := range impls {
			snippet, err := cas.Read(imp.SnippetHash)
			if err != nil {
				log.Printf("daemon: missing snippet %s for %s: %v", imp.SnippetHash, crate.Name, err)
				continue
			}
			snippets = append(snippets, snippet)
		}
		table[crate.Name] = snippets
	}
	return table, nil
}

const versionCacheTTL = 10 * time.Minute

func (s *Server) getCachedVersion(name string) (versionCacheEntry, bool) {
	s.versionCacheMu.RLock()
	defer s.versionCacheMu.RUnlock()
	entry, ok := s.versionCache[name]
	if !ok || time.Now().After(entry.expiry) {
		return versionCacheEntry{}, false
	}
	return entry, true
}

func (s *Server) setCachedVersion(name, version string, notFound bool) {
	s.versionCacheMu.Lock()
	defer s.versionCacheMu.Unlock()
	s.versionCache[name] = versionCacheEntry{
		version:  version,
		notFound: notFound,
		expiry:   time.Now().Add(versionCacheTTL),
	}
}

func (s *Server) clearVersionCache() {
	s.versionCacheMu.Lock()
	defer s.versionCacheMu.Unlock()
	s.versionCache = make(map[string]versionCacheEntry)
}

func (s *Server) addCrate(spec rpc.CrateSpec, progress func(string)) rpc.CrateResult {
	version := spec.Version
	if version == "" {
		version = "latest"
	}

	result := rpc.CrateResult{Name: spec.Name, Version: version}

	// Check version cache for "latest" requests
	if version == "latest" {
		if entry, ok := s.getCachedVersion(spec.Name); ok {
			if entry.notFound {
				result.Error = fmt.Sprintf("crate %s not found on docs.rs (cached)", spec.Name)
				return result
			}
			existing, err := s.db.GetCrate(spec.Name, entry.version)
			if err != nil {
				result.Error = err.Error()
				return result
			}
			if existing != nil && existing.ProcessedAt != nil {
				result.Version = existing.Version
				result.Implementors, _ = s.db.CountImplementors(existing.ID)
				return result
			}
		}

		existing, err := s.db.GetLatestCrate(spec.Name)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		if existing != nil {
			result.Version = existing.Version
			result.Implementors, _ = s.db.CountImplementors(existing.ID)
			return result
		}
	} else {
		existing, err := s.db.GetCrate(spec.Name, version)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		if existing != nil && existing.ProcessedAt != nil {
			result.Implementors, _ = s.db.CountImplementors(existing.ID)
			return result
		}
	}

	// Singleflight: dedup concurrent fetches for the same crate@version
	key := spec.Name + "@" + version
	v, _, _ := s.addCrateGroup.Do(key, func() (interface{}, error) {
		return s.addCrateWork(spec.Name, version, progress), nil
	})
	return v.(rpc.CrateResult)
}

func (s *Server) addCrateWork(name, version string, progress func(string)) rpc.CrateResult {
	result := rpc.CrateResult{Name: name, Version: version}

	// Pinned versions are immutable, so a cached rustdoc payload is
	// authoritative and saves the docs.rs round trip.
	var data []byte
	fromCache := false
	if version != "latest" && docs.HasCrateCache(name, version) {
		progress(fmt.Sprintf("loading cached rustdoc for %s@%s", name, version))
		cached, err := docs.LoadCrateCache(name, version)
		if err != nil {
			log.Printf("daemon: rustdoc cache read failed for %s@%s: %v", name, version, err)
		} else {
			data = cached
			fromCache = true
		}
	}

	if data == nil {
		progress(fmt.Sprintf("fetching rustdoc for %s@%s", name, version))
		fetched, err := docs.FetchRustdocJSON(name, version)
		if err != nil {
			if version == "latest" {
				s.setCachedVersion(name, "", true)
			}
			result.Error = fmt.Sprintf("fetching docs: %v", err)
			return result
		}
		data = fetched
	}

	progress(fmt.Sprintf("extracting implementors for %s@%s", name, version))
	rustdocCrate, impls, err := docs.ParseImplementors(data, name)
	if err != nil {
		result.Error = fmt.Sprintf("parsing docs: %v", err)
		return result
	}

	realVersion := version
	if rustdocCrate.CrateVersion != nil && *rustdocCrate.CrateVersion != "" {
		realVersion = *rustdocCrate.CrateVersion
	}
	result.Version = realVersion
	s.setCachedVersion(name, realVersion, false)

	// Resolved version may already be indexed under its real name.
	if realVersion != version {
		existing, err := s.db.GetCrate(name, realVersion)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		if existing != nil && existing.ProcessedAt != nil {
			result.Implementors, _ = s.db.CountImplementors(existing.ID)
			return result
		}
	}

	if !fromCache {
		if err := docs.SaveCrateCache(data, name, realVersion); err != nil {
			log.Printf("daemon: failed to cache rustdoc JSON for %s@%s: %v", name, realVersion, err)
		}
	}

	crate, err := s.db.UpsertCrate(name, realVersion)
	if err != nil {
		result.Error = fmt.Sprintf("upserting crate: %v", err)
		return result
	}
	s.db.MarkCrateFetched(crate.ID)

	if err := s.indexImplementors(crate, impls, progress); err != nil {
		result.Error = err.Error()
		return result
	}

	s.db.MarkCrateProcessed(crate.ID)
	result.Implementors = len(impls)
	progress(fmt.Sprintf("finished %s@%s (%d implementors)", name, realVersion, len(impls)))
	return result
}

// indexImplementors renders snippets into the store and records the ordered
// rows for one crate, replacing whatever was there.
func (s *Server) indexImplementors(crate *db.Crate, impls []docs.Implementor, progress func(string)) error {
	progress(fmt.Sprintf("indexing %d implementors for %s@%s", len(impls), crate.Name, crate.Version))

	s.db.DeleteImplementorsByCrate(crate.ID)

	for i, imp := range impls {
		snippet := md.Snippet(imp)
		hash, err := cas.Write(snippet)
		if err != nil {
			return fmt.Errorf("storing snippet for %s: %w", imp.TraitPath, err)
		}

		row := &db.Implementor{
			CrateID:     crate.ID,
			Ordinal:     i,
			TraitPath:   imp.TraitPath,
			TraitCrate:  imp.TraitCrate,
			ForType:     imp.ForType,
			SnippetHash: hash,
			Synthetic:   imp.Synthetic,
			Blanket:     imp.Blanket,
		}
		if err := s.db.InsertImplementor(row); err != nil {
			return fmt.Errorf("inserting implementor %s for %s: %w", imp.TraitPath, imp.ForType, err)
		}
	}
	return nil
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	var req rpc.TableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	table, err := s.assembleTable(req.Crates)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, rpc.TableResponse{Table: table})
}

func (s *Server) handleImplementors(w http.ResponseWriter, r *http.Request) {
	var req rpc.TraitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Trait == "" {
		writeError(w, http.StatusBadRequest, "missing trait")
		return
	}

	impls, crates, err := s.db.ImplementorsOfTrait(req.Trait)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	results := make([]rpc.TraitImplementor, 0, len(impls))
	for _, imp := range impls {
		crate := crates[imp.CrateID]
		if crate == nil {
			continue
		}
		snippet, err := cas.Read(imp.SnippetHash)
		if err != nil {
			log.Printf("daemon: missing snippet %s: %v", imp.SnippetHash, err)
			continue
		}
		s.db.TouchCrate(crate.ID)
		results = append(results, rpc.TraitImplementor{
			Crate:     crate.Name,
			Version:   crate.Version,
			ForType:   imp.ForType,
			Snippet:   snippet,
			Synthetic: imp.Synthetic,
			Blanket:   imp.Blanket,
		})
	}

	writeJSON(w, http.StatusOK, rpc.TraitResponse{Implementors: results})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	crates, err := s.db.ListCrates()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var status []rpc.CrateStatus
	for _, c := range crates {
		count, _ := s.db.CountImplementors(c.ID)
		status = append(status, rpc.CrateStatus{
			Name:         c.Name,
			Version:      c.Version,
			Processed:    c.ProcessedAt != nil,
			Implementors: count,
		})
	}

	pending, hasPending := s.reg.Pending()
	writeJSON(w, http.StatusOK, rpc.StatusResponse{
		Crates:        status,
		ExportBound:   s.reg.Bound(),
		HasPending:    hasPending,
		PendingCrates: len(pending),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req rpc.ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	path := req.Path
	pretty := req.Pretty
	if path == "" {
		path = s.cfg.Export.Path
		pretty = pretty || s.cfg.Export.Pretty
	}
	if path == "" {
		writeError(w, http.StatusBadRequest, "no export path given or configured")
		return
	}

	// Binding the writer drains any parked snapshot; publishing afterwards
	// routes the current state through the same delivery path. The writer
	// stays bound after the request, so the error capture is closed once
	// the synchronous publish returns and later failures go to the log.
	var capMu sync.Mutex
	var writeErr error
	capturing := true
	writer := export.NewWriter(path, pretty)
	writer.Bind(s.reg, func(err error) {
		capMu.Lock()
		defer capMu.Unlock()
		if capturing {
			writeErr = err
			return
		}
		log.Printf("daemon: export write failed: %v", err)
	})

	closeCapture := func() error {
		capMu.Lock()
		defer capMu.Unlock()
		capturing = false
		return writeErr
	}

	snapshot, err := s.assembleTable(nil)
	if err != nil {
		closeCapture()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reg.Publish(snapshot)

	if deliveryErr := closeCapture(); deliveryErr != nil {
		writeError(w, http.StatusInternalServerError, deliveryErr.Error())
		return
	}

	log.Printf("daemon: exported %d crates to %s", len(snapshot), path)
	writeJSON(w, http.StatusOK, rpc.ExportResponse{Path: path, Crates: len(snapshot)})
}

func (s *Server) handleSearchCrates(w http.ResponseWriter, r *http.Request) {
	var req rpc.SearchCratesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "missing query")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}

	cratesIO, err := docs.SearchCratesIO(req.Query, req.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	names := make([]string, len(cratesIO))
	for i, c := range cratesIO {
		names[i] = c.Name
	}

	indexed, err := s.db.GetIndexedVersions(names)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	results := make([]rpc.CrateSearchResult, len(cratesIO))
	for i, c := range cratesIO {
		results[i] = rpc.CrateSearchResult{
			Name:        c.Name,
			Description: c.Description,
			MaxVersion:  c.MaxVersion,
			Downloads:   c.Downloads,
		}
		if ver, ok := indexed[c.Name]; ok {
			results[i].Indexed = true
			results[i].IndexedVersion = ver
		}
	}

	writeJSON(w, http.StatusOK, rpc.SearchCratesResponse{Results: results})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	s.clearVersionCache()
	log.Printf("daemon: version cache cleared")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
		os.Exit(0)
	}()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
