// Package merger reconciles new page content with stored content using
// named comment markers:
//
//	<!-- START HERO -->...<!-- END HERO -->
//
// In safe mode only the regions present in the new content are touched.
package merger

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type Mode string

const (
	ModeSafe Mode = "safe"
	ModeFull Mode = "full"
)

// ParseMode defaults an empty value to safe.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeSafe:
		return ModeSafe, nil
	case ModeFull:
		return ModeFull, nil
	}
	return "", fmt.Errorf("unknown update mode %q", value)
}

// Policy decides what a safe merge does when the new content has no markers.
type Policy string

const (
	NoMarkersReplace Policy = "replace"
	NoMarkersReject  Policy = "reject"
)

const WarnNoMarkers = "MERGE_NO_MARKERS"

var ErrNoMarkers = errors.New("safe update contains no marker regions")

type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Result struct {
	HTML     string
	Replaced []string
	Appended []string
	Warnings []Warning
}

type Merger struct {
	noMarkers Policy
}

func New(noMarkers Policy) *Merger {
	if noMarkers != NoMarkersReject {
		noMarkers = NoMarkersReplace
	}
	return &Merger{noMarkers: noMarkers}
}

// Merge applies incoming to existing. Existing content that is empty is
// always replaced outright, whatever the mode.
func (m *Merger) Merge(existing, incoming string, mode Mode) (Result, error) {
	if mode == ModeFull || strings.TrimSpace(existing) == "" {
		return Result{HTML: incoming}, nil
	}

	regions := Regions(incoming)
	if len(regions) == 0 {
		if m.noMarkers == NoMarkersReject {
			return Result{}, ErrNoMarkers
		}
		return Result{
			HTML: incoming,
			Warnings: []Warning{{
				Code:    WarnNoMarkers,
				Message: "safe update had no marker regions; the page body was replaced",
			}},
		}, nil
	}

	res := Result{HTML: existing}
	for _, region := range regions {
		if current, ok := Find(res.HTML, region.Name); ok {
			res.HTML = res.HTML[:current.Start] + region.Raw + res.HTML[current.End:]
			res.Replaced = append(res.Replaced, region.Name)
			continue
		}
		res.HTML = appendRegion(res.HTML, region.Raw)
		res.Appended = append(res.Appended, region.Name)
	}
	return res, nil
}

// UpsertRegion replaces region name in doc with inner, or adds it when absent.
func UpsertRegion(doc, name, inner string) string {
	raw := Wrap(name, inner)
	if current, ok := Find(doc, name); ok {
		return doc[:current.Start] + raw + doc[current.End:]
	}
	return appendRegion(doc, raw)
}

func Wrap(name, inner string) string {
	return "<!-- START " + name + " -->" + inner + "<!-- END " + name + " -->"
}

var closingBody = regexp.MustCompile(`(?i)</body\s*>`)

func appendRegion(doc, raw string) string {
	matches := closingBody.FindAllStringIndex(doc, -1)
	if len(matches) == 0 {
		return doc + raw
	}
	at := matches[len(matches)-1][0]
	return doc[:at] + raw + doc[at:]
}
