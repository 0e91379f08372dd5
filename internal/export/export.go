package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/traitdex/traitdex/internal/registry"
)

// Writer is a registry consumer that persists each delivered table as a JSON
// artifact. Crate keys come out sorted (encoding/json sorts map keys) and
// snippet arrays keep their order, so identical tables produce identical
// bytes.
type Writer struct {
	path   string
	pretty bool
}

func NewWriter(path string, pretty bool) *Writer {
	return &Writer{path: path, pretty: pretty}
}

func (w *Writer) Path() string { return w.path }

// Write persists the table. The file is written via a temp-and-rename so a
// reader never observes a partial artifact.
func (w *Writer) Write(t registry.Table) error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("creating export directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if w.pretty {
		data, err = json.MarshalIndent(t, "", "  ")
	} else {
		data, err = json.Marshal(t)
	}
	if err != nil {
		return fmt.Errorf("encoding table: %w", err)
	}
	data = append(data, '\n')

	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing export file: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing export file: %w", err)
	}
	return nil
}

// Bind installs the writer as reg's callback. A parked snapshot, if any, is
// written immediately. Write errors surface through onErr since the registry
// callback carries no error return.
func (w *Writer) Bind(reg *registry.Registry, onErr func(error)) {
	reg.Bind(func(t registry.Table) {
		if err := w.Write(t); err != nil && onErr != nil {
			onErr(err)
		}
	})
}
