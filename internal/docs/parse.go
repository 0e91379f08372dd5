package docs

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParseImplementors extracts trait implementations from rustdoc JSON bytes.
// Inherent impls (no trait) are skipped; the result is sorted by trait path,
// then implementing type, so repeated runs produce the same display order.
func ParseImplementors(data []byte, crateName string) (*RustdocCrate, []Implementor, error) {
	var crate RustdocCrate
	if err := json.Unmarshal(data, &crate); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling rustdoc JSON: %w", err)
	}

	var impls []Implementor
	for _, item := range crate.Index {
		if item.CrateID != 0 {
			continue
		}
		implData := unwrapInner(item.Inner, "impl")
		if implData == nil {
			continue
		}
		parsed := parseImpl(implData, &item, &crate, crateName)
		if parsed == nil {
			continue
		}
		impls = append(impls, *parsed)
	}

	sort.Slice(impls, func(i, j int) bool {
		if impls[i].TraitPath != impls[j].TraitPath {
			return impls[i].TraitPath < impls[j].TraitPath
		}
		return impls[i].ForType < impls[j].ForType
	})

	return &crate, impls, nil
}

type rustdocPath struct {
	Path string          `json:"path"`
	ID   int             `json:"id"`
	Args json.RawMessage `json:"args"`
}

type implInner struct {
	IsUnsafe    bool            `json:"is_unsafe"`
	Generics    rustdocGenerics `json:"generics"`
	Trait       *rustdocPath    `json:"trait"`
	For         json.RawMessage `json:"for"`
	IsNegative  bool            `json:"is_negative"`
	IsSynthetic bool            `json:"is_synthetic"`
	BlanketImpl json.RawMessage `json:"blanket_impl"`
}

type rustdocGenerics struct {
	Params []struct {
		Name string          `json:"name"`
		Kind json.RawMessage `json:"kind"`
	} `json:"params"`
}

func parseImpl(implData json.RawMessage, item *RustdocItem, crate *RustdocCrate, crateName string) *Implementor {
	var imp implInner
	if err := json.Unmarshal(implData, &imp); err != nil {
		return nil
	}
	if imp.Trait == nil {
		return nil // inherent impl
	}

	traitPath := imp.Trait.Path
	traitCrate := crateName
	if summary, ok := crate.Paths[strconv.Itoa(imp.Trait.ID)]; ok {
		traitPath = strings.Join(summary.Path, "::")
		if summary.CrateID != 0 {
			traitCrate = crate.ExternalCrateName(summary.CrateID)
		}
	}
	if traitArgs := renderPathArgs(imp.Trait.Args); traitArgs != "" {
		traitPath += traitArgs
	}

	var docs string
	if item.Docs != nil {
		docs = *item.Docs
	}

	return &Implementor{
		TraitPath:  traitPath,
		TraitCrate: traitCrate,
		ForType:    renderType(imp.For),
		Generics:   renderGenerics(imp.Generics),
		Docs:       docs,
		Unsafe:     imp.IsUnsafe,
		Negative:   imp.IsNegative,
		Synthetic:  imp.IsSynthetic,
		Blanket:    len(imp.BlanketImpl) > 0 && string(imp.BlanketImpl) != "null",
	}
}

// unwrapInner extracts the payload for a single kind key from an item's inner
// JSON, or nil if the item is of a different kind.
func unwrapInner(inner json.RawMessage, kind string) json.RawMessage {
	if len(inner) == 0 {
		return nil
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(inner, &outer); err != nil {
		return nil
	}
	return outer[kind]
}

// renderGenerics renders an impl's generic parameter list, lifetimes first
// the way rustdoc prints them. Returns "" for a non-generic impl.
func renderGenerics(g rustdocGenerics) string {
	if len(g.Params) == 0 {
		return ""
	}
	names := make([]string, 0, len(g.Params))
	for _, p := range g.Params {
		// Synthetic params from impl Trait arguments have generated names.
		if strings.HasPrefix(p.Name, "impl ") {
			continue
		}
		names = append(names, p.Name)
	}
	if len(names) == 0 {
		return ""
	}
	return "<" + strings.Join(names, ", ") + ">"
}

// renderType renders a rustdoc type AST node as Rust source text.
// Unknown node kinds render as "_" rather than failing the whole impl.
func renderType(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "_"
	}

	var outer map[string]json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil {
		return "_"
	}

	if data, ok := outer["resolved_path"]; ok {
		var p rustdocPath
		if err := json.Unmarshal(data, &p); err != nil {
			return "_"
		}
		return p.Path + renderPathArgs(p.Args)
	}

	if data, ok := outer["generic"]; ok {
		return rawString(data)
	}

	if data, ok := outer["primitive"]; ok {
		return rawString(data)
	}

	if data, ok := outer["borrowed_ref"]; ok {
		var ref struct {
			Lifetime  *string         `json:"lifetime"`
			IsMutable bool            `json:"is_mutable"`
			Type      json.RawMessage `json:"type"`
		}
		if err := json.Unmarshal(data, &ref); err != nil {
			return "_"
		}
		s := "&"
		if ref.Lifetime != nil {
			s += *ref.Lifetime + " "
		}
		if ref.IsMutable {
			s += "mut "
		}
		return s + renderType(ref.Type)
	}

	if data, ok := outer["raw_pointer"]; ok {
		var ptr struct {
			IsMutable bool            `json:"is_mutable"`
			Type      json.RawMessage `json:"type"`
		}
		if err := json.Unmarshal(data, &ptr); err != nil {
			return "_"
		}
		if ptr.IsMutable {
			return "*mut " + renderType(ptr.Type)
		}
		return "*const " + renderType(ptr.Type)
	}

	if data, ok := outer["slice"]; ok {
		return "[" + renderType(data) + "]"
	}

	if data, ok := outer["array"]; ok {
		var arr struct {
			Type json.RawMessage `json:"type"`
			Len  string          `json:"len"`
		}
		if err := json.Unmarshal(data, &arr); err != nil {
			return "_"
		}
		return "[" + renderType(arr.Type) + "; " + arr.Len + "]"
	}

	if data, ok := outer["tuple"]; ok {
		var elems []json.RawMessage
		if err := json.Unmarshal(data, &elems); err != nil {
			return "_"
		}
		parts := make([]string, len(elems))
		for i, e := range elems {
			parts[i] = renderType(e)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}

	if data, ok := outer["qualified_path"]; ok {
		var qp struct {
			Name     string          `json:"name"`
			SelfType json.RawMessage `json:"self_type"`
			Trait    *rustdocPath    `json:"trait"`
		}
		if err := json.Unmarshal(data, &qp); err != nil {
			return "_"
		}
		if qp.Trait != nil {
			return "<" + renderType(qp.SelfType) + " as " + qp.Trait.Path + ">::" + qp.Name
		}
		return renderType(qp.SelfType) + "::" + qp.Name
	}

	if data, ok := outer["dyn_trait"]; ok {
		var dt struct {
			Traits []struct {
				Trait rustdocPath `json:"trait"`
			} `json:"traits"`
			Lifetime *string `json:"lifetime"`
		}
		if err := json.Unmarshal(data, &dt); err != nil {
			return "_"
		}
		parts := make([]string, 0, len(dt.Traits)+1)
		for _, tr := range dt.Traits {
			parts = append(parts, tr.Trait.Path+renderPathArgs(tr.Trait.Args))
		}
		if dt.Lifetime != nil {
			parts = append(parts, *dt.Lifetime)
		}
		return "dyn " + strings.Join(parts, " + ")
	}

	if data, ok := outer["function_pointer"]; ok {
		var fp struct {
			Sig struct {
				Inputs [][2]json.RawMessage `json:"inputs"`
				Output json.RawMessage      `json:"output"`
			} `json:"sig"`
		}
		if err := json.Unmarshal(data, &fp); err != nil {
			return "_"
		}
		inputs := make([]string, len(fp.Sig.Inputs))
		for i, in := range fp.Sig.Inputs {
			inputs[i] = renderType(in[1])
		}
		s := "fn(" + strings.Join(inputs, ", ") + ")"
		if len(fp.Sig.Output) > 0 && string(fp.Sig.Output) != "null" {
			s += " -> " + renderType(fp.Sig.Output)
		}
		return s
	}

	if _, ok := outer["infer"]; ok {
		return "_"
	}

	return "_"
}

// renderPathArgs renders generic arguments of a path: "<T, U>" for
// angle-bracketed args, "(A) -> B" for Fn-style parenthesized ones.
func renderPathArgs(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var outer map[string]json.RawMessage
	if err := json.Unmarshal(raw, &outer); err != nil {
		return ""
	}

	if data, ok := outer["angle_bracketed"]; ok {
		var ab struct {
			Args []map[string]json.RawMessage `json:"args"`
		}
		if err := json.Unmarshal(data, &ab); err != nil || len(ab.Args) == 0 {
			return ""
		}
		parts := make([]string, 0, len(ab.Args))
		for _, arg := range ab.Args {
			if t, ok := arg["type"]; ok {
				parts = append(parts, renderType(t))
			} else if lt, ok := arg["lifetime"]; ok {
				parts = append(parts, rawString(lt))
			}
		}
		if len(parts) == 0 {
			return ""
		}
		return "<" + strings.Join(parts, ", ") + ">"
	}

	if data, ok := outer["parenthesized"]; ok {
		var p struct {
			Inputs []json.RawMessage `json:"inputs"`
			Output json.RawMessage   `json:"output"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return ""
		}
		inputs := make([]string, len(p.Inputs))
		for i, in := range p.Inputs {
			inputs[i] = renderType(in)
		}
		s := "(" + strings.Join(inputs, ", ") + ")"
		if len(p.Output) > 0 && string(p.Output) != "null" {
			s += " -> " + renderType(p.Output)
		}
		return s
	}

	return ""
}

func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "_"
	}
	return s
}
