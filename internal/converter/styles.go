package converter

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var hintAliases = map[string]string{
	"icon-box":       KindIconBox,
	"iconbox":        KindIconBox,
	"icon-list":      KindIconList,
	"iconlist":       KindIconList,
	"counter":        KindCounter,
	"testimonial":    KindTestimonial,
	"cta":            KindCallToAction,
	"call-to-action": KindCallToAction,
	"accordion":      KindAccordion,
	"faq":            KindFAQ,
	"star-rating":    KindStarRating,
	"rating":         KindStarRating,
	"button":         KindButton,
}

// hint returns the widget kind named by a data-widget attribute, or "".
func hint(s *goquery.Selection) string {
	value, ok := s.Attr("data-widget")
	if !ok {
		return ""
	}
	return hintAliases[strings.ToLower(strings.TrimSpace(value))]
}

func classes(s *goquery.Selection) []string {
	value, _ := s.Attr("class")
	return strings.Fields(value)
}

// baseClass strips responsive and state prefixes such as "md:" or "hover:".
func baseClass(class string) string {
	if i := strings.LastIndex(class, ":"); i >= 0 {
		return class[i+1:]
	}
	return class
}

func isButtonLike(s *goquery.Selection) bool {
	if role, _ := s.Attr("role"); role == "button" {
		return true
	}
	for _, class := range classes(s) {
		c := strings.ToLower(class)
		if c == "btn" || c == "cta" || strings.HasPrefix(c, "btn-") || strings.Contains(c, "button") {
			return true
		}
	}
	return false
}

func sizeForLevel(level int) string {
	switch level {
	case 1:
		return "xxl"
	case 2:
		return "xl"
	case 3:
		return "large"
	case 4:
		return "medium"
	default:
		return "small"
	}
}

var textAlignStyle = regexp.MustCompile(`text-align\s*:\s*(left|center|right|justify)`)

func alignment(s *goquery.Selection) string {
	for _, class := range classes(s) {
		if strings.Contains(class, ":") {
			continue
		}
		switch class {
		case "text-left", "text-start":
			return "left"
		case "text-center":
			return "center"
		case "text-right", "text-end":
			return "right"
		case "text-justify":
			return "justify"
		}
	}
	if style, ok := s.Attr("style"); ok {
		if m := textAlignStyle.FindStringSubmatch(strings.ToLower(style)); m != nil {
			return m[1]
		}
	}
	return ""
}

var (
	bgShadeClass  = regexp.MustCompile(`^bg-(gray|slate|zinc|neutral|stone|blue|indigo|green|red)-(50|100|200|300|400|500|600|700|800|900|950)$`)
	bgArbitrary   = regexp.MustCompile(`^bg-\[(#[0-9a-fA-F]{3,8})\]$`)
	paddingClass  = regexp.MustCompile(`^(py|pt|pb|px|pl|pr|p)-(\d+)$`)
	gridColsClass = regexp.MustCompile(`^(?:grid-cols|columns)-(\d+)$`)
)

var namedColors = map[string]string{
	"gray-50": "#f9fafb", "gray-100": "#f3f4f6", "gray-200": "#e5e7eb", "gray-700": "#374151",
	"gray-800": "#1f2937", "gray-900": "#111827", "gray-950": "#030712",
	"slate-800": "#1e293b", "slate-900": "#0f172a", "zinc-800": "#27272a", "zinc-900": "#18181b",
	"neutral-800": "#262626", "neutral-900": "#171717", "stone-800": "#292524", "stone-900": "#1c1917",
	"blue-600": "#2563eb", "blue-700": "#1d4ed8", "indigo-600": "#4f46e5", "green-600": "#16a34a", "red-600": "#dc2626",
}

// sectionStyle recovers background and padding settings from utility
// classes. Unknown classes are ignored.
func sectionStyle(s *goquery.Selection) map[string]any {
	settings := map[string]any{}
	var top, bottom, left, right int
	var padded bool

	for _, raw := range classes(s) {
		if strings.Contains(raw, ":") {
			continue
		}
		switch {
		case raw == "bg-black" || raw == "bg-dark":
			settings["background_background"] = "classic"
			settings["background_color"] = "#000000"
			settings["color_scheme"] = "dark"
		case raw == "bg-white":
			settings["background_background"] = "classic"
			settings["background_color"] = "#ffffff"
		case bgArbitrary.MatchString(raw):
			settings["background_background"] = "classic"
			settings["background_color"] = bgArbitrary.FindStringSubmatch(raw)[1]
		case bgShadeClass.MatchString(raw):
			m := bgShadeClass.FindStringSubmatch(raw)
			key := m[1] + "-" + m[2]
			if color, ok := namedColors[key]; ok {
				settings["background_background"] = "classic"
				settings["background_color"] = color
			}
			if shade, _ := strconv.Atoi(m[2]); shade >= 700 {
				settings["color_scheme"] = "dark"
			}
		case paddingClass.MatchString(raw):
			m := paddingClass.FindStringSubmatch(raw)
			n, _ := strconv.Atoi(m[2])
			px := n * 4
			padded = true
			switch m[1] {
			case "p":
				top, bottom, left, right = px, px, px, px
			case "py":
				top, bottom = px, px
			case "px":
				left, right = px, px
			case "pt":
				top = px
			case "pb":
				bottom = px
			case "pl":
				left = px
			case "pr":
				right = px
			}
		}
	}
	if padded {
		settings["padding"] = map[string]any{
			"unit":     "px",
			"top":      strconv.Itoa(top),
			"right":    strconv.Itoa(right),
			"bottom":   strconv.Itoa(bottom),
			"left":     strconv.Itoa(left),
			"isLinked": false,
		}
	}
	if id, ok := s.Attr("id"); ok && id != "" {
		settings["_element_id"] = id
	}
	if class, ok := s.Attr("class"); ok && class != "" {
		settings["css_classes"] = class
	}
	settings["html_tag"] = goquery.NodeName(s)
	return settings
}

// gridColumns reports the column count of a layout container: an explicit
// grid-cols-N / columns-N class, or a "row" with one column per child.
func gridColumns(s *goquery.Selection) (int, bool) {
	children := s.Children().Length()
	if children < 2 {
		return 0, false
	}
	for _, class := range classes(s) {
		if m := gridColsClass.FindStringSubmatch(baseClass(class)); m != nil {
			n, _ := strconv.Atoi(m[1])
			if n >= 2 && n <= 12 {
				return n, true
			}
		}
		if class == "row" && children <= 12 {
			return children, true
		}
	}
	return 0, false
}
