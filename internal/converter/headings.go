package converter

import (
	"html"
	"strconv"
)

// HeadingLevel returns 1..6 for heading widgets and 0 otherwise.
func HeadingLevel(n Node) int {
	if n.WidgetType != KindHeading {
		return 0
	}
	size := n.Setting("header_size")
	if len(size) != 2 || size[0] != 'h' {
		return 0
	}
	level, err := strconv.Atoi(size[1:])
	if err != nil || level < 1 || level > 6 {
		return 0
	}
	return level
}

func withLevel(n Node, level int) Node {
	settings := copySettings(n.Settings)
	settings["header_size"] = "h" + strconv.Itoa(level)
	settings["size"] = sizeForLevel(level)
	n.Settings = settings
	return n
}

// mapNodes rebuilds nodes bottom-up through fn. The input is not modified.
func mapNodes(nodes []Node, fn func(Node) Node) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		n.Elements = mapNodes(n.Elements, fn)
		out[i] = fn(n)
	}
	return out
}

// SetHeadingLevel returns a copy of doc with heading id set to level.
func SetHeadingLevel(doc Document, id string, level int) (Document, bool) {
	if level < 1 || level > 6 {
		return doc, false
	}
	changed := false
	sections := mapNodes(doc.Sections, func(n Node) Node {
		if n.ID != id || n.WidgetType != KindHeading || HeadingLevel(n) == level {
			return n
		}
		changed = true
		return withLevel(n, level)
	})
	return Document{Sections: sections}, changed
}

// EnsureH1 returns a copy of doc with exactly one level-1 heading. The first
// existing h1 wins and later ones become h2; without any h1 the first heading
// is promoted; with no headings at all a title heading is inserted at the top.
func EnsureH1(doc Document, title string) (Document, bool) {
	var headings []Node
	doc.Walk(func(n Node) bool {
		if HeadingLevel(n) > 0 {
			headings = append(headings, n)
		}
		return true
	})

	firstH1 := ""
	for _, h := range headings {
		if HeadingLevel(h) == 1 {
			firstH1 = h.ID
			break
		}
	}

	switch {
	case firstH1 != "":
		changed := false
		sections := mapNodes(doc.Sections, func(n Node) Node {
			if HeadingLevel(n) == 1 && n.ID != firstH1 {
				changed = true
				return withLevel(n, 2)
			}
			return n
		})
		return Document{Sections: sections}, changed
	case len(headings) > 0:
		return SetHeadingLevel(doc, headings[0].ID, 1)
	case title == "":
		return doc, false
	}
	return insertTitle(doc, title), true
}

func insertTitle(doc Document, title string) Document {
	ids := doc.idSet()
	heading := Node{
		ID:         newID(ids),
		ElType:     ElementWidget,
		WidgetType: KindHeading,
		Settings: map[string]any{
			"title":       html.EscapeString(title),
			"header_size": "h1",
			"size":        sizeForLevel(1),
		},
	}

	sections := make([]Node, len(doc.Sections))
	copy(sections, doc.Sections)
	if len(sections) == 0 {
		sections = []Node{{ID: newID(ids), ElType: ElementSection, Settings: map[string]any{}}}
	}

	first := sections[0]
	columns := make([]Node, len(first.Elements))
	copy(columns, first.Elements)
	if len(columns) == 0 {
		columns = []Node{{ID: newID(ids), ElType: ElementColumn, Settings: map[string]any{"_column_size": 100}}}
	}
	column := columns[0]
	column.Elements = append([]Node{heading}, column.Elements...)
	columns[0] = column
	first.Elements = columns
	sections[0] = first
	return Document{Sections: sections}
}
