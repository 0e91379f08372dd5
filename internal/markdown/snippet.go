package markdown

import (
	"net/url"
	"regexp"
	"strings"

	gm "github.com/gomarkdown/markdown"
	gmhtml "github.com/gomarkdown/markdown/html"
	gmparser "github.com/gomarkdown/markdown/parser"
	"github.com/traitdex/traitdex/internal/docs"
)

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Snippet renders one implementor as a pre-formatted markup string, the shape
// a documentation front end would splice into an implementors listing:
//
//	<code>impl&lt;D&gt; Clone for Database&lt;D&gt;</code>
//
// An impl doc comment, when present, is rendered to HTML and appended.
func Snippet(imp docs.Implementor) string {
	var b strings.Builder

	b.WriteString("<code>")
	if imp.Unsafe {
		b.WriteString("unsafe ")
	}
	b.WriteString("impl")
	b.WriteString(htmlEscaper.Replace(imp.Generics))
	b.WriteString(" ")
	if imp.Negative {
		b.WriteString("!")
	}
	b.WriteString(htmlEscaper.Replace(imp.TraitPath))
	b.WriteString(" for ")
	b.WriteString(htmlEscaper.Replace(imp.ForType))
	b.WriteString("</code>")

	if doc := RenderDoc(imp.Docs); doc != "" {
		b.WriteString(doc)
	}

	return b.String()
}

// RenderDoc renders an impl doc comment (markdown) to an HTML fragment.
// docs.rs links are rewritten to rsimpl:// URIs first so consumers never see
// raw documentation-site URLs.
func RenderDoc(src string) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}
	src = RewriteDocsRsLinks(src)

	p := gmparser.NewWithExtensions(gmparser.CommonExtensions | gmparser.Autolink)
	renderer := gmhtml.NewRenderer(gmhtml.RendererOptions{Flags: gmhtml.CommonFlags})
	out := gm.ToHTML([]byte(src), p, renderer)
	return strings.TrimSpace(string(out))
}

// docsRsRe matches docs.rs documentation URLs in markdown text.
// Captures everything up to whitespace or markdown link delimiters.
var docsRsRe = regexp.MustCompile(`https?://docs\.rs/[^\s)\]>]+`)

// RewriteDocsRsLinks replaces docs.rs URLs in markdown text with the
// equivalent rsimpl:// listing URIs. URLs that don't carry a crate and
// version (crate info pages, the docs.rs root) are left alone.
func RewriteDocsRsLinks(src string) string {
	return docsRsRe.ReplaceAllStringFunc(src, func(raw string) string {
		if uri := docsRsToRsimpl(raw); uri != "" {
			return uri
		}
		return raw
	})
}

// docsRsToRsimpl converts a single docs.rs URL to an rsimpl:// URI.
// Returns "" if the URL can't be converted.
func docsRsToRsimpl(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	path := strings.Trim(u.Path, "/")
	if path == "" || strings.HasPrefix(path, "crate/") {
		return ""
	}

	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 2 {
		return ""
	}
	return "rsimpl://" + parts[0] + "/" + parts[1]
}
