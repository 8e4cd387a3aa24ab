package converter

import (
	"sort"
	"strings"
)

// Family is an optional widget family the page builder may have installed.
type Family string

const (
	FamilyCore   Family = "core"
	FamilyPro    Family = "pro"
	FamilyAddons Family = "addons"
)

var kindFamilies = map[string]Family{
	KindCallToAction: FamilyPro,
	KindFAQ:          FamilyAddons,
}

var familyAliases = map[string]Family{
	"core":             FamilyCore,
	"pro":              FamilyPro,
	"elementor-pro":    FamilyPro,
	"addons":           FamilyAddons,
	"essential-addons": FamilyAddons,
	"eael":             FamilyAddons,
}

// CapabilitySet reports which widget families the target builder supports.
// The core family is always present.
type CapabilitySet struct {
	families map[Family]bool
}

func NewCapabilitySet(families ...string) CapabilitySet {
	set := CapabilitySet{families: map[Family]bool{FamilyCore: true}}
	for _, name := range families {
		if f, ok := familyAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
			set.families[f] = true
		}
	}
	return set
}

func (c CapabilitySet) Has(f Family) bool {
	if f == FamilyCore {
		return true
	}
	return c.families[f]
}

// Supports reports whether widgets of kind can be emitted as-is.
func (c CapabilitySet) Supports(kind string) bool {
	f, ok := kindFamilies[kind]
	if !ok {
		return true
	}
	return c.Has(f)
}

func (c CapabilitySet) Families() []string {
	out := []string{string(FamilyCore)}
	for f, on := range c.families {
		if on && f != FamilyCore {
			out = append(out, string(f))
		}
	}
	sort.Strings(out[1:])
	return out
}

// Kinds lists every kind the converter can emit and whether it is available.
func (c CapabilitySet) Kinds() map[string]bool {
	kinds := map[string]bool{}
	for _, kind := range []string{
		KindHeading, KindTextEditor, KindImage, KindButton, KindHTML, KindDivider,
		KindIconBox, KindIconList, KindCounter, KindTestimonial, KindCallToAction,
		KindAccordion, KindFAQ, KindStarRating,
	} {
		kinds[kind] = c.Supports(kind)
	}
	return kinds
}

func familyOf(kind string) Family {
	if f, ok := kindFamilies[kind]; ok {
		return f
	}
	return FamilyCore
}
