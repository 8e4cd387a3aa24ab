package converter

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ElementType is the structural role of a node in the block tree.
type ElementType string

const (
	ElementSection ElementType = "section"
	ElementColumn  ElementType = "column"
	ElementWidget  ElementType = "widget"
)

// Widget kinds emitted by the converter.
const (
	KindHeading      = "heading"
	KindTextEditor   = "text-editor"
	KindImage        = "image"
	KindButton       = "button"
	KindHTML         = "html"
	KindDivider      = "divider"
	KindIconBox      = "icon-box"
	KindIconList     = "icon-list"
	KindCounter      = "counter"
	KindTestimonial  = "testimonial"
	KindCallToAction = "call-to-action"
	KindAccordion    = "accordion"
	KindFAQ          = "faq"
	KindStarRating   = "star-rating"
)

// Node is one element of the block tree, serialized in the page builder's
// elType/widgetType/settings/elements shape. Nodes are treated as values:
// passes over a Document build new nodes instead of editing shared ones.
type Node struct {
	ID         string         `json:"id"`
	ElType     ElementType    `json:"elType"`
	WidgetType string         `json:"widgetType,omitempty"`
	IsInner    bool           `json:"isInner"`
	Settings   map[string]any `json:"settings"`
	Elements   []Node         `json:"elements"`
}

func (n Node) MarshalJSON() ([]byte, error) {
	type alias Node
	a := alias(n)
	if a.Settings == nil {
		a.Settings = map[string]any{}
	}
	if a.Elements == nil {
		a.Elements = []Node{}
	}
	return json.Marshal(a)
}

// WidthPct returns a column's width in percent, or 0 for other nodes.
func (n Node) WidthPct() int {
	if n.ElType != ElementColumn {
		return 0
	}
	switch v := n.Settings["_column_size"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// Setting returns a string setting, or "" when absent.
func (n Node) Setting(key string) string {
	s, _ := n.Settings[key].(string)
	return s
}

// Document is a forest of sections.
type Document struct {
	Sections []Node
}

func (d Document) MarshalJSON() ([]byte, error) {
	if d.Sections == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(d.Sections)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Sections)
}

// Walk visits every node in document order until fn returns false.
func (d Document) Walk(fn func(Node) bool) {
	walk(d.Sections, fn)
}

func walk(nodes []Node, fn func(Node) bool) bool {
	for _, n := range nodes {
		if !fn(n) {
			return false
		}
		if !walk(n.Elements, fn) {
			return false
		}
	}
	return true
}

// Count returns the number of nodes in the document.
func (d Document) Count() int {
	count := 0
	d.Walk(func(Node) bool {
		count++
		return true
	})
	return count
}

// Widgets returns the widget nodes in document order.
func (d Document) Widgets() []Node {
	var out []Node
	d.Walk(func(n Node) bool {
		if n.ElType == ElementWidget {
			out = append(out, n)
		}
		return true
	})
	return out
}

func (d Document) idSet() map[string]struct{} {
	ids := make(map[string]struct{})
	d.Walk(func(n Node) bool {
		ids[n.ID] = struct{}{}
		return true
	})
	return ids
}

var ErrInvalidTree = errors.New("invalid block tree")

// ParseDocument decodes a client-supplied block tree. Structure is checked
// and missing or duplicate ids are replaced.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}
	seen := make(map[string]struct{})
	sections, err := normalize(doc.Sections, "", seen)
	if err != nil {
		return Document{}, err
	}
	return Document{Sections: sections}, nil
}

func normalize(nodes []Node, parent ElementType, seen map[string]struct{}) ([]Node, error) {
	out := make([]Node, 0, len(nodes))
	for i, n := range nodes {
		switch {
		case parent == "" && n.ElType != ElementSection:
			return nil, fmt.Errorf("%w: top-level node %d is %q, want section", ErrInvalidTree, i, n.ElType)
		case parent == ElementSection && n.ElType != ElementColumn:
			return nil, fmt.Errorf("%w: section child %d is %q, want column", ErrInvalidTree, i, n.ElType)
		case n.ElType == ElementWidget && n.WidgetType == "":
			return nil, fmt.Errorf("%w: widget %d has no widgetType", ErrInvalidTree, i)
		case n.ElType == ElementWidget && len(n.Elements) > 0:
			return nil, fmt.Errorf("%w: widget %q has children", ErrInvalidTree, n.WidgetType)
		case n.ElType != ElementSection && n.ElType != ElementColumn && n.ElType != ElementWidget:
			return nil, fmt.Errorf("%w: unknown elType %q", ErrInvalidTree, n.ElType)
		}
		if _, dup := seen[n.ID]; n.ID == "" || dup {
			n.ID = newID(seen)
		} else {
			seen[n.ID] = struct{}{}
		}
		children, err := normalize(n.Elements, n.ElType, seen)
		if err != nil {
			return nil, err
		}
		n.Elements = children
		out = append(out, n)
	}
	return out, nil
}

// newID returns a 7 character hex id not present in seen and records it.
func newID(seen map[string]struct{}) string {
	buf := make([]byte, 4)
	for {
		_, _ = rand.Read(buf)
		id := hex.EncodeToString(buf)[:7]
		if _, taken := seen[id]; taken {
			continue
		}
		seen[id] = struct{}{}
		return id
	}
}

func copySettings(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}
