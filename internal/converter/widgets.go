package converter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// hinted builds a specialized widget for an element carrying a data-widget
// hint. It returns false when the element lacks the parts the kind needs, in
// which case the caller falls through to the generic rules.
func (b *builder) hinted(s *goquery.Selection, kind string) (Node, bool) {
	var settings map[string]any
	switch kind {
	case KindIconBox:
		settings = iconBoxSettings(s)
	case KindIconList:
		settings = b.iconListSettings(s)
	case KindCounter:
		settings = counterSettings(s)
	case KindTestimonial:
		settings = testimonialSettings(s)
	case KindCallToAction:
		settings = callToActionSettings(s)
	case KindAccordion, KindFAQ:
		settings = b.accordionSettings(s)
		if kind == KindFAQ && !b.caps.Supports(KindFAQ) {
			kind = KindAccordion
		}
	case KindStarRating:
		settings = starRatingSettings(s)
	case KindButton:
		return b.button(s), true
	}
	if settings == nil {
		return Node{}, false
	}
	if !b.caps.Supports(kind) {
		b.warn(WarnWidgetDowngraded, fmt.Sprintf("%s requires the %s widget family and was kept as HTML", kind, familyOf(kind)))
		return b.widget(KindHTML, map[string]any{"html": outerHTML(s)}), true
	}
	return b.widget(kind, settings), true
}

func firstHeading(s *goquery.Selection) *goquery.Selection {
	return s.Find("h1, h2, h3, h4, h5, h6").First()
}

// bodyText returns the text of s without its first heading.
func bodyText(s *goquery.Selection) string {
	clone := s.Clone()
	clone.Find("h1, h2, h3, h4, h5, h6").First().Remove()
	if p := clone.Find("p").First(); p.Length() > 0 {
		return collapse(p.Text())
	}
	return collapse(clone.Text())
}

func iconValue(s *goquery.Selection) string {
	if icon := firstAttr(s, "data-icon"); icon != "" {
		return icon
	}
	if i := s.Find("i[class]").First(); i.Length() > 0 {
		class, _ := i.Attr("class")
		return strings.TrimSpace(class)
	}
	return ""
}

func iconBoxSettings(s *goquery.Selection) map[string]any {
	heading := firstHeading(s)
	if heading.Length() == 0 {
		return nil
	}
	settings := map[string]any{
		"title_text":       collapse(heading.Text()),
		"title_size":       goquery.NodeName(heading),
		"description_text": bodyText(s),
	}
	if icon := iconValue(s); icon != "" {
		settings["selected_icon"] = map[string]any{"value": icon, "library": "fa-solid"}
	}
	if href := firstAttr(s.Find("a[href]").First(), "href"); href != "" {
		settings["link"] = map[string]any{"url": href}
	}
	return settings
}

func (b *builder) iconListSettings(s *goquery.Selection) map[string]any {
	var items []map[string]any
	s.Find("li").Each(func(_ int, li *goquery.Selection) {
		item := map[string]any{
			"_id":  newID(b.ids),
			"text": collapse(li.Text()),
		}
		if icon := iconValue(li); icon != "" {
			item["selected_icon"] = map[string]any{"value": icon, "library": "fa-solid"}
		}
		if href := firstAttr(li.Find("a[href]").First(), "href"); href != "" {
			item["link"] = map[string]any{"url": href}
		}
		items = append(items, item)
	})
	if len(items) == 0 {
		return nil
	}
	return map[string]any{"icon_list": items}
}

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

func parseNumber(value string) (float64, bool) {
	m := numberPattern.FindString(strings.ReplaceAll(value, ",", ""))
	if m == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(m, 64)
	return n, err == nil
}

// number keeps integral values as ints so they serialize without a fraction.
func number(n float64) any {
	if n == float64(int64(n)) {
		return int64(n)
	}
	return n
}

func counterSettings(s *goquery.Selection) map[string]any {
	end, ok := parseNumber(firstAttr(s, "data-end", "data-to"))
	if !ok {
		if end, ok = parseNumber(s.Text()); !ok {
			return nil
		}
	}
	start, _ := parseNumber(firstAttr(s, "data-start", "data-from"))
	title := firstAttr(s, "data-title")
	if title == "" {
		if h := firstHeading(s); h.Length() > 0 {
			title = collapse(h.Text())
		} else {
			title = collapse(numberPattern.ReplaceAllString(strings.ReplaceAll(s.Text(), ",", ""), ""))
		}
	}
	return map[string]any{
		"starting_number": number(start),
		"ending_number":   number(end),
		"prefix":          firstAttr(s, "data-prefix"),
		"suffix":          firstAttr(s, "data-suffix"),
		"title":           title,
	}
}

func testimonialSettings(s *goquery.Selection) map[string]any {
	content := s.Find("blockquote").First()
	if content.Length() == 0 {
		content = s.Find("p").First()
	}
	if content.Length() == 0 {
		return nil
	}
	name := firstAttr(s, "data-name")
	if name == "" {
		name = collapse(s.Find("cite, .name, strong").First().Text())
	}
	job := firstAttr(s, "data-job", "data-role")
	if job == "" {
		job = collapse(s.Find(".title, .role, .job").First().Text())
	}
	settings := map[string]any{
		"testimonial_content": collapse(content.Text()),
		"testimonial_name":    name,
		"testimonial_job":     job,
	}
	if src := firstAttr(s.Find("img").First(), "src"); src != "" {
		settings["testimonial_image"] = map[string]any{"url": src}
	}
	return settings
}

func callToActionSettings(s *goquery.Selection) map[string]any {
	heading := firstHeading(s)
	if heading.Length() == 0 {
		return nil
	}
	settings := map[string]any{
		"title":       collapse(heading.Text()),
		"description": bodyText(s),
	}
	if link := s.Find("a[href]").First(); link.Length() > 0 {
		settings["button"] = collapse(link.Text())
		settings["link"] = map[string]any{"url": firstAttr(link, "href")}
	}
	if src := firstAttr(s.Find("img").First(), "src"); src != "" {
		settings["bg_image"] = map[string]any{"url": src}
	}
	return settings
}

// accordionSettings pairs questions with answers from <details>/<summary>
// elements, or else from each heading and the element that follows it.
func (b *builder) accordionSettings(s *goquery.Selection) map[string]any {
	var tabs []map[string]any
	add := func(title, content string) {
		if title == "" {
			return
		}
		tabs = append(tabs, map[string]any{
			"_id":         newID(b.ids),
			"tab_title":   title,
			"tab_content": content,
		})
	}

	if details := s.Find("details"); details.Length() > 0 {
		details.Each(func(_ int, d *goquery.Selection) {
			title := collapse(d.ChildrenFiltered("summary").First().Text())
			var body strings.Builder
			d.Contents().Each(func(_ int, c *goquery.Selection) {
				if goquery.NodeName(c) == "summary" {
					return
				}
				body.WriteString(outerHTML(c))
			})
			add(title, strings.TrimSpace(body.String()))
		})
	} else {
		s.Find("h2, h3, h4, h5, h6, dt").Each(func(_ int, h *goquery.Selection) {
			add(collapse(h.Text()), innerHTML(h.Next()))
		})
	}
	if len(tabs) == 0 {
		return nil
	}
	return map[string]any{"tabs": tabs}
}

func starRatingSettings(s *goquery.Selection) map[string]any {
	rating, ok := parseNumber(firstAttr(s, "data-rating"))
	if !ok {
		if stars := strings.Count(s.Text(), "★"); stars > 0 {
			rating, ok = float64(stars), true
		} else if rating, ok = parseNumber(s.Text()); !ok {
			return nil
		}
	}
	scale := 5.0
	if n, ok := parseNumber(firstAttr(s, "data-scale")); ok && n > 0 {
		scale = n
	}
	if rating > scale {
		rating = scale
	}
	return map[string]any{
		"rating_scale": number(scale),
		"rating":       number(rating),
		"title":        firstAttr(s, "data-title"),
	}
}
