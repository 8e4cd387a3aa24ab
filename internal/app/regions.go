package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"
)

// Reserved regions written by the publisher itself.
const (
	regionSchema  = "SCHEMA"
	regionGallery = "GALLERY"
)

var errSchemaShape = errors.New("schema must be an object or an array of objects")

// schemaBlocks renders each structured-data object as its own ld+json
// script. json.Marshal escapes <, > and &, so the output cannot close the
// script element early.
func schemaBlocks(raw json.RawMessage) ([]string, error) {
	var value any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("schema must be valid JSON")
	}

	var items []any
	switch v := value.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		items = []any{v}
	case []any:
		items = v
	default:
		return nil, errSchemaShape
	}

	blocks := make([]string, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, errSchemaShape
		}
		if len(obj) == 0 {
			continue
		}
		encoded, err := json.Marshal(obj)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, `<script type="application/ld+json">`+string(encoded)+`</script>`)
	}
	return blocks, nil
}

func renderGallery(urls []string, title string) string {
	var b strings.Builder
	b.WriteString(`<div class="pagepush-gallery">`)
	for i, src := range urls {
		alt := fmt.Sprintf("%s image %d", title, i+1)
		fmt.Fprintf(&b, `<figure><img src="%s" alt="%s" loading="lazy"></figure>`,
			html.EscapeString(src), html.EscapeString(alt))
	}
	b.WriteString(`</div>`)
	return b.String()
}
