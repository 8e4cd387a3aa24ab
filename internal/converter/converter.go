// Package converter turns arbitrary HTML into the section/column/widget block
// tree consumed by the visual page builder.
package converter

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	WarnConversionFallback = "CONVERSION_FALLBACK"
	WarnWidgetDowngraded   = "WIDGET_DOWNGRADED"
)

type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Result struct {
	Document Document
	Warnings []Warning
}

type Converter struct {
	caps CapabilitySet
}

func New(caps CapabilitySet) *Converter {
	return &Converter{caps: caps}
}

func (c *Converter) Capabilities() CapabilitySet {
	return c.caps
}

// Convert never fails: input that yields no nodes is returned as a single
// HTML widget holding the raw markup, with a CONVERSION_FALLBACK warning.
// Node ids are unique within one call only.
func (c *Converter) Convert(raw string) Result {
	b := &builder{caps: c.caps, ids: make(map[string]struct{})}

	var sections []Node
	if root, err := parseFragment(raw); err == nil {
		sections = b.sections(root)
	}
	if len(sections) == 0 {
		b.warn(WarnConversionFallback, "content could not be decomposed and is stored as a single HTML widget")
		leaf := b.widget(KindHTML, map[string]any{"html": raw})
		sections = []Node{b.section(nil, []Node{b.column(100, nil, []Node{leaf})})}
	}
	return Result{Document: Document{Sections: sections}, Warnings: b.warnings}
}

// parseFragment parses raw in a body context, so bare fragments and full
// documents both end up as children of one synthetic container.
func parseFragment(raw string) (*goquery.Selection, error) {
	context := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(raw), context)
	if err != nil {
		return nil, err
	}
	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return goquery.NewDocumentFromNode(root).Selection, nil
}

var (
	structuralTags = tagSet("section", "header", "footer", "article", "main")
	richTags       = tagSet("ul", "ol", "dl", "blockquote", "table", "pre")
	embedTags      = tagSet("form", "iframe", "video", "audio", "svg", "canvas", "object", "embed", "script", "style", "noscript", "template")
	ignoredTags    = tagSet("title", "meta", "link", "base", "head")
	inlineTags     = tagSet("a", "abbr", "b", "bdi", "bdo", "br", "cite", "code", "data", "del", "dfn", "em", "i", "ins", "kbd", "label", "mark", "q", "s", "samp", "small", "span", "strong", "sub", "sup", "time", "u", "var", "wbr")
	headingTags    = tagSet("h1", "h2", "h3", "h4", "h5", "h6")
)

func tagSet(tags ...string) map[string]bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	return set
}

type builder struct {
	caps     CapabilitySet
	ids      map[string]struct{}
	warnings []Warning
}

func (b *builder) warn(code, message string) {
	b.warnings = append(b.warnings, Warning{Code: code, Message: message})
}

func (b *builder) widget(kind string, settings map[string]any) Node {
	return Node{ID: newID(b.ids), ElType: ElementWidget, WidgetType: kind, Settings: settings}
}

func (b *builder) column(width int, style map[string]any, children []Node) Node {
	settings := copySettings(style)
	settings["_column_size"] = width
	return Node{ID: newID(b.ids), ElType: ElementColumn, Settings: settings, Elements: children}
}

func (b *builder) section(style map[string]any, columns []Node) Node {
	return Node{ID: newID(b.ids), ElType: ElementSection, Settings: copySettings(style), Elements: columns}
}

// sections converts top-level content into a forest of sections. Runs of
// loose content between structural elements are wrapped in a synthetic
// section with one full-width column.
func (b *builder) sections(parent *goquery.Selection) []Node {
	var (
		out     []Node
		pending []Node
		run     textRun
	)
	flush := func() {
		if w, ok := run.flush(b); ok {
			pending = append(pending, w)
		}
		if len(pending) > 0 {
			out = append(out, b.section(nil, []Node{b.column(100, nil, pending)}))
			pending = nil
		}
	}

	parent.Contents().Each(func(_ int, child *goquery.Selection) {
		n := child.Get(0)
		switch n.Type {
		case html.TextNode:
			run.text(n.Data)
			return
		case html.ElementNode:
		default:
			return
		}
		if run.absorb(child) {
			return
		}
		tag := goquery.NodeName(child)
		switch {
		case hint(child) == "" && structuralTags[tag]:
			flush()
			out = append(out, b.section(sectionStyle(child), []Node{b.column(100, nil, b.contentOf(child))}))
		case hint(child) == "" && wrapsStructure(child):
			flush()
			out = append(out, b.sections(child)...)
		default:
			if w, ok := run.flush(b); ok {
				pending = append(pending, w)
			}
			pending = append(pending, b.block(child)...)
		}
	})
	flush()
	return out
}

// contentOf converts the children of parent into column content.
func (b *builder) contentOf(parent *goquery.Selection) []Node {
	var (
		out []Node
		run textRun
	)
	parent.Contents().Each(func(_ int, child *goquery.Selection) {
		n := child.Get(0)
		switch n.Type {
		case html.TextNode:
			run.text(n.Data)
			return
		case html.ElementNode:
		default:
			return
		}
		if run.absorb(child) {
			return
		}
		if w, ok := run.flush(b); ok {
			out = append(out, w)
		}
		out = append(out, b.block(child)...)
	})
	if w, ok := run.flush(b); ok {
		out = append(out, w)
	}
	return out
}

// block classifies one block-level element.
func (b *builder) block(s *goquery.Selection) []Node {
	if kind := hint(s); kind != "" {
		if w, ok := b.hinted(s, kind); ok {
			return []Node{w}
		}
	}

	tag := goquery.NodeName(s)
	switch {
	case ignoredTags[tag]:
		return nil
	case headingTags[tag]:
		return []Node{b.heading(s)}
	case tag == "img":
		return []Node{b.image(s)}
	case structuralTags[tag]:
		return []Node{b.column(100, sectionStyle(s), b.contentOf(s))}
	case richTags[tag]:
		return []Node{b.widget(KindTextEditor, map[string]any{"editor": outerHTML(s)})}
	case embedTags[tag]:
		return []Node{b.widget(KindHTML, map[string]any{"html": outerHTML(s)})}
	case tag == "hr":
		return []Node{b.widget(KindDivider, map[string]any{})}
	case tag == "a" || tag == "button":
		return []Node{b.button(s)}
	}

	if n, ok := gridColumns(s); ok {
		return b.grid(s, n)
	}
	if content := b.contentOf(s); len(content) > 0 {
		return content
	}
	return []Node{b.rawLeaf(s)}
}

// grid turns each element child of a layout container into a nested column.
func (b *builder) grid(s *goquery.Selection, n int) []Node {
	width := 100 / n
	var columns []Node
	s.Children().Each(func(_ int, cell *goquery.Selection) {
		if ignoredTags[goquery.NodeName(cell)] {
			return
		}
		columns = append(columns, b.column(width, nil, b.cell(cell)))
	})
	return columns
}

func (b *builder) cell(cell *goquery.Selection) []Node {
	tag := goquery.NodeName(cell)
	if hint(cell) == "" && (isGeneric(tag) || structuralTags[tag]) {
		if _, ok := gridColumns(cell); !ok {
			if content := b.contentOf(cell); len(content) > 0 {
				return content
			}
			return []Node{b.rawLeaf(cell)}
		}
	}
	var run textRun
	if run.absorb(cell) {
		if w, ok := run.flush(b); ok {
			return []Node{w}
		}
		return nil
	}
	return b.block(cell)
}

func (b *builder) heading(s *goquery.Selection) Node {
	tag := goquery.NodeName(s)
	level := int(tag[1] - '0')
	settings := map[string]any{
		"title":       innerHTML(s),
		"header_size": tag,
		"size":        sizeForLevel(level),
	}
	if align := alignment(s); align != "" {
		settings["align"] = align
	}
	return b.widget(KindHeading, settings)
}

func (b *builder) image(s *goquery.Selection) Node {
	src := firstAttr(s, "src", "data-src")
	if src == "" {
		return b.rawLeaf(s)
	}
	image := map[string]any{"url": src}
	alt, _ := s.Attr("alt")
	image["alt"] = alt
	return b.widget(KindImage, map[string]any{"image": image})
}

func (b *builder) button(s *goquery.Selection) Node {
	settings := map[string]any{"text": collapse(s.Text())}
	if href, ok := s.Attr("href"); ok {
		settings["link"] = map[string]any{"url": href}
	}
	if size, ok := s.Attr("data-size"); ok {
		settings["size"] = size
	}
	if align := alignment(s); align != "" {
		settings["align"] = align
	}
	return b.widget(KindButton, settings)
}

// rawLeaf keeps markup that no rule could decompose.
func (b *builder) rawLeaf(s *goquery.Selection) Node {
	if strings.TrimSpace(s.Text()) != "" {
		b.warn(WarnConversionFallback, fmt.Sprintf("<%s> kept as raw HTML", goquery.NodeName(s)))
	}
	return b.widget(KindHTML, map[string]any{"html": outerHTML(s)})
}

// wrapsStructure reports whether a plain container directly holds structural
// elements, in which case it is unwrapped at the top level.
func wrapsStructure(s *goquery.Selection) bool {
	if !isGeneric(goquery.NodeName(s)) {
		return false
	}
	if _, ok := gridColumns(s); ok {
		return false
	}
	return s.ChildrenFiltered("section, header, footer, article, main").Length() > 0
}

func isGeneric(tag string) bool {
	return !structuralTags[tag] && !richTags[tag] && !embedTags[tag] && !ignoredTags[tag] &&
		!inlineTags[tag] && !headingTags[tag] && tag != "p" && tag != "img" && tag != "hr" && tag != "button"
}

// textRun accumulates inline content until a block element interrupts it.
// Paragraphs become separate segments; loose inline content forms its own.
type textRun struct {
	segments []string
	loose    strings.Builder
}

func (r *textRun) text(data string) {
	r.loose.WriteString(html.EscapeString(data))
}

// absorb takes s into the run when it is inline content or a paragraph.
func (r *textRun) absorb(s *goquery.Selection) bool {
	if hint(s) != "" {
		return false
	}
	tag := goquery.NodeName(s)
	switch {
	case tag == "p":
		r.closeLoose()
		if inner := innerHTML(s); inner != "" {
			r.segments = append(r.segments, inner)
		}
		return true
	case tag == "a" && isButtonLike(s):
		return false
	case inlineTags[tag]:
		r.loose.WriteString(outerHTML(s))
		return true
	}
	return false
}

func (r *textRun) closeLoose() {
	if text := strings.TrimSpace(r.loose.String()); text != "" {
		r.segments = append(r.segments, text)
	}
	r.loose.Reset()
}

func (r *textRun) flush(b *builder) (Node, bool) {
	r.closeLoose()
	if len(r.segments) == 0 {
		return Node{}, false
	}
	content := r.segments[0]
	if len(r.segments) > 1 {
		var sb strings.Builder
		for _, seg := range r.segments {
			sb.WriteString("<p>")
			sb.WriteString(seg)
			sb.WriteString("</p>")
		}
		content = sb.String()
	}
	r.segments = nil
	return b.widget(KindTextEditor, map[string]any{"editor": content}), true
}

func outerHTML(s *goquery.Selection) string {
	out, err := goquery.OuterHtml(s)
	if err != nil {
		return ""
	}
	return out
}

func innerHTML(s *goquery.Selection) string {
	out, err := s.Html()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func firstAttr(s *goquery.Selection, names ...string) string {
	for _, name := range names {
		if v, ok := s.Attr(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
