package merger

import (
	"regexp"
)

// Region is one marker-delimited span. Start and End are byte offsets of the
// whole span, markers included.
type Region struct {
	Name  string
	Inner string
	Raw   string
	Start int
	End   int
}

var startMarker = regexp.MustCompile(`<!--\s*START\s+([A-Z][A-Z0-9_-]*)\s*-->`)

func endMarker(name string) *regexp.Regexp {
	return regexp.MustCompile(`<!--\s*END\s+` + regexp.QuoteMeta(name) + `\s*-->`)
}

// Regions lists the regions of doc in scan order. Regions do not nest: a
// start marker inside an earlier region is skipped, as is a repeated name.
// A start marker without a matching end marker is ignored.
func Regions(doc string) []Region {
	var (
		out  []Region
		seen = map[string]bool{}
		pos  = 0
	)
	for pos < len(doc) {
		loc := startMarker.FindStringSubmatchIndex(doc[pos:])
		if loc == nil {
			break
		}
		start := pos + loc[0]
		name := doc[pos+loc[2] : pos+loc[3]]
		innerStart := pos + loc[1]

		end := endMarker(name).FindStringIndex(doc[innerStart:])
		if end == nil {
			pos = innerStart
			continue
		}
		region := Region{
			Name:  name,
			Inner: doc[innerStart : innerStart+end[0]],
			Start: start,
			End:   innerStart + end[1],
		}
		region.Raw = doc[region.Start:region.End]
		if !seen[name] {
			seen[name] = true
			out = append(out, region)
		}
		pos = region.End
	}
	return out
}

// Find returns the first region called name. Names match by exact text.
func Find(doc, name string) (Region, bool) {
	for _, region := range Regions(doc) {
		if region.Name == name {
			return region, true
		}
	}
	return Region{}, false
}
