package markdown

import (
	"strings"
	"testing"

	"github.com/traitdex/traitdex/internal/docs"
)

func TestSnippet_Basic(t *testing.T) {
	got := Snippet(docs.Implementor{
		TraitPath: "core::clone::Clone",
		ForType:   "Database<D>",
		Generics:  "<D>",
	})
	want := "<code>impl&lt;D&gt; core::clone::Clone for Database&lt;D&gt;</code>"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSnippet_UnsafeNegative(t *testing.T) {
	got := Snippet(docs.Implementor{
		TraitPath: "core::marker::Send",
		ForType:   "Handle",
		Unsafe:    true,
	})
	if !strings.HasPrefix(got, "<code>unsafe impl ") {
		t.Errorf("unsafe impl not rendered: %q", got)
	}

	got = Snippet(docs.Implementor{
		TraitPath: "core::marker::Send",
		ForType:   "RawPtr",
		Negative:  true,
	})
	if !strings.Contains(got, " !core::marker::Send for ") {
		t.Errorf("negative impl not rendered: %q", got)
	}
}

func TestSnippet_WithDocs(t *testing.T) {
	got := Snippet(docs.Implementor{
		TraitPath: "core::fmt::Debug",
		ForType:   "Config",
		Docs:      "Formats the *full* config.",
	})
	if !strings.Contains(got, "</code><p>") {
		t.Errorf("doc fragment not appended: %q", got)
	}
	if !strings.Contains(got, "<em>full</em>") {
		t.Errorf("markdown not rendered: %q", got)
	}
}

func TestRenderDoc_Empty(t *testing.T) {
	if got := RenderDoc("   "); got != "" {
		t.Errorf("blank doc rendered %q", got)
	}
}

func TestRewriteDocsRsLinks(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			"item_url",
			"See [Database](https://docs.rs/rustbreak/2.0.0/rustbreak/struct.Database.html).",
			"See [Database](rsimpl://rustbreak/2.0.0).",
		},
		{
			"crate_root",
			"https://docs.rs/serde/1.0.0/serde/",
			"rsimpl://serde/1.0.0",
		},
		{
			"info_page_untouched",
			"https://docs.rs/crate/serde/1.0.0",
			"https://docs.rs/crate/serde/1.0.0",
		},
		{
			"no_links",
			"plain text",
			"plain text",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RewriteDocsRsLinks(tc.in); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}
