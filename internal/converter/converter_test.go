package converter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func convertCore(t *testing.T, raw string) Result {
	t.Helper()
	return New(NewCapabilitySet()).Convert(raw)
}

func onlyColumn(t *testing.T, doc Document) Node {
	t.Helper()
	require.Len(t, doc.Sections, 1)
	require.Len(t, doc.Sections[0].Elements, 1)
	column := doc.Sections[0].Elements[0]
	require.Equal(t, ElementColumn, column.ElType)
	return column
}

func TestConvertHeadingAndParagraph(t *testing.T) {
	res := convertCore(t, `<h1>Title</h1><p>Hello <b>world</b></p>`)

	column := onlyColumn(t, res.Document)
	assert.Equal(t, 100, column.WidthPct())
	require.Len(t, column.Elements, 2)

	heading := column.Elements[0]
	assert.Equal(t, KindHeading, heading.WidgetType)
	assert.Equal(t, 1, HeadingLevel(heading))
	assert.Equal(t, "Title", heading.Setting("title"))
	assert.Equal(t, "xxl", heading.Setting("size"))

	text := column.Elements[1]
	assert.Equal(t, KindTextEditor, text.WidgetType)
	assert.Equal(t, "Hello <b>world</b>", text.Setting("editor"))
	assert.Empty(t, res.Warnings)
}

func TestConvertIsTotal(t *testing.T) {
	inputs := map[string]string{
		"empty":      "",
		"whitespace": "   \n\t ",
		"plain text": "just some words",
		"comment":    "<!-- nothing here -->",
		"nested":     strings.Repeat("<div>", 300) + "deep" + strings.Repeat("</div>", 300),
		"unclosed":   "<div><p>unclosed <b>bold",
		"garbage":    "<<<>>> </p></div>",
		"document":   "<!DOCTYPE html><html><head><title>x</title></head><body><p>body</p></body></html>",
	}
	for name, raw := range inputs {
		t.Run(name, func(t *testing.T) {
			res := convertCore(t, raw)
			require.NotEmpty(t, res.Document.Sections)
			assert.GreaterOrEqual(t, res.Document.Count(), 3)
			for _, w := range res.Document.Widgets() {
				assert.NotEmpty(t, w.WidgetType)
			}
			for _, section := range res.Document.Sections {
				assert.Equal(t, ElementSection, section.ElType)
			}
		})
	}
}

func TestConvertFallbackKeepsRawInput(t *testing.T) {
	res := convertCore(t, "<!-- only a comment -->")

	column := onlyColumn(t, res.Document)
	require.Len(t, column.Elements, 1)
	assert.Equal(t, KindHTML, column.Elements[0].WidgetType)
	assert.Equal(t, "<!-- only a comment -->", column.Elements[0].Setting("html"))
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnConversionFallback, res.Warnings[0].Code)
}

func TestConvertMalformedNestedText(t *testing.T) {
	res := convertCore(t, "<div><p>unclosed <b>bold")
	column := onlyColumn(t, res.Document)
	require.Len(t, column.Elements, 1)
	assert.Equal(t, "unclosed <b>bold</b>", column.Elements[0].Setting("editor"))
}

func TestConvertIDsAreUnique(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString(`<section><h2>Part</h2><p>text</p><div class="grid grid-cols-2"><div>a</div><div>b</div></div></section>`)
	}
	res := convertCore(t, sb.String())

	seen := map[string]bool{}
	res.Document.Walk(func(n Node) bool {
		require.NotEmpty(t, n.ID)
		require.False(t, seen[n.ID], "duplicate id %s", n.ID)
		seen[n.ID] = true
		return true
	})
	assert.Len(t, res.Document.Sections, 200)
}

func TestConvertStructuralSections(t *testing.T) {
	res := convertCore(t, `<p>intro</p><section id="about" class="bg-gray-800 py-16 px-4"><h2 class="text-center">Dark</h2></section><p>outro</p>`)

	require.Len(t, res.Document.Sections, 3)
	dark := res.Document.Sections[1]
	assert.Equal(t, "#1f2937", dark.Setting("background_color"))
	assert.Equal(t, "dark", dark.Setting("color_scheme"))
	assert.Equal(t, "about", dark.Setting("_element_id"))
	padding, ok := dark.Settings["padding"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "64", padding["top"])
	assert.Equal(t, "64", padding["bottom"])
	assert.Equal(t, "16", padding["left"])

	heading := dark.Elements[0].Elements[0]
	assert.Equal(t, "center", heading.Setting("align"))
	assert.Equal(t, "xl", heading.Setting("size"))

	assert.Equal(t, "intro", res.Document.Sections[0].Elements[0].Elements[0].Setting("editor"))
	assert.Equal(t, "outro", res.Document.Sections[2].Elements[0].Elements[0].Setting("editor"))
}

func TestConvertUnwrapsPageContainer(t *testing.T) {
	res := convertCore(t, `<div class="page"><header><h1>A</h1></header><main><p>B</p></main></div>`)
	require.Len(t, res.Document.Sections, 2)
	assert.Equal(t, "header", res.Document.Sections[0].Setting("html_tag"))
	assert.Equal(t, "main", res.Document.Sections[1].Setting("html_tag"))
}

func TestConvertNestedStructureBecomesColumn(t *testing.T) {
	res := convertCore(t, `<section><h2>Outer</h2><article class="bg-white"><p>Inner</p></article></section>`)
	column := onlyColumn(t, res.Document)
	require.Len(t, column.Elements, 2)
	inner := column.Elements[1]
	assert.Equal(t, ElementColumn, inner.ElType)
	assert.Equal(t, "#ffffff", inner.Setting("background_color"))
	assert.Equal(t, "Inner", inner.Elements[0].Setting("editor"))
}

func TestConvertKeepsOpaqueBlocks(t *testing.T) {
	res := convertCore(t, `<ul><li>one</li><li>two</li></ul><iframe src="https://example.com/embed"></iframe><table><tr><td>x</td></tr></table>`)
	column := onlyColumn(t, res.Document)
	require.Len(t, column.Elements, 3)

	assert.Equal(t, KindTextEditor, column.Elements[0].WidgetType)
	assert.Equal(t, "<ul><li>one</li><li>two</li></ul>", column.Elements[0].Setting("editor"))
	assert.Equal(t, KindHTML, column.Elements[1].WidgetType)
	assert.Equal(t, `<iframe src="https://example.com/embed"></iframe>`, column.Elements[1].Setting("html"))
	assert.Equal(t, KindTextEditor, column.Elements[2].WidgetType)
	assert.Contains(t, column.Elements[2].Setting("editor"), "<td>x</td>")
}

func TestConvertButtonsAndInlineLinks(t *testing.T) {
	res := convertCore(t, `<p>See <a href="/docs">docs</a></p><a class="btn btn-primary" href="/buy">Buy  now</a>`)
	column := onlyColumn(t, res.Document)
	require.Len(t, column.Elements, 2)

	assert.Equal(t, `See <a href="/docs">docs</a>`, column.Elements[0].Setting("editor"))

	button := column.Elements[1]
	assert.Equal(t, KindButton, button.WidgetType)
	assert.Equal(t, "Buy now", button.Setting("text"))
	assert.Equal(t, map[string]any{"url": "/buy"}, button.Settings["link"])
}

func TestConvertParagraphSegmentsAreWrapped(t *testing.T) {
	res := convertCore(t, `<p>one</p><p>two</p><h2>Break</h2>loose <em>text</em>`)
	column := onlyColumn(t, res.Document)
	require.Len(t, column.Elements, 3)
	assert.Equal(t, "<p>one</p><p>two</p>", column.Elements[0].Setting("editor"))
	assert.Equal(t, "loose <em>text</em>", column.Elements[2].Setting("editor"))
}

func TestConvertGridColumns(t *testing.T) {
	res := convertCore(t, `<div class="grid grid-cols-1 md:grid-cols-3"><div><h3>A</h3></div><div><h3>B</h3></div><img src="c.png" alt="C"></div>`)
	column := onlyColumn(t, res.Document)
	require.Len(t, column.Elements, 3)
	for _, nested := range column.Elements {
		assert.Equal(t, ElementColumn, nested.ElType)
		assert.Equal(t, 33, nested.WidthPct())
		require.Len(t, nested.Elements, 1)
	}
	image := column.Elements[2].Elements[0]
	assert.Equal(t, KindImage, image.WidgetType)
	assert.Equal(t, map[string]any{"url": "c.png", "alt": "C"}, image.Settings["image"])
}

func TestConvertEmptyContainerFallsBackToRaw(t *testing.T) {
	res := convertCore(t, `<div class="spacer"></div>`)
	column := onlyColumn(t, res.Document)
	require.Len(t, column.Elements, 1)
	assert.Equal(t, KindHTML, column.Elements[0].WidgetType)
	assert.Equal(t, `<div class="spacer"></div>`, column.Elements[0].Setting("html"))
}

func TestConvertIgnoresMarkerComments(t *testing.T) {
	res := convertCore(t, `<!-- START HERO --><h1>New</h1><!-- END HERO -->`)
	column := onlyColumn(t, res.Document)
	require.Len(t, column.Elements, 1)
	assert.Equal(t, KindHeading, column.Elements[0].WidgetType)
}
