// Package css parses publication stylesheets just deep enough for the
// rendition to pick up layout hints: writing direction and font families.
// Full cascade resolution belongs to visual renderers, not this one.
package css

import (
	"strings"
)

// Declaration is a single property: value pair.
type Declaration struct {
	Property string
	Value    string
}

// Rule is a flattened ruleset - one entry per selector in a selector group.
type Rule struct {
	Selector     string
	Declarations []Declaration
}

// Stylesheet is the parsed form of one CSS resource.
type Stylesheet struct {
	Rules     []Rule
	FontFaces []FontFace
	Warnings  []string
}

// FontFace captures @font-face blocks - the reader only surfaces declared
// family names for theming.
type FontFace struct {
	Family string
	Src    string
}

// Lookup returns the last value of property among rules whose selector
// matches one of the given names ("body", "html", "*"). Last one wins, which
// approximates cascade order within a single sheet.
func (s *Stylesheet) Lookup(property string, selectors ...string) string {
	match := make(map[string]bool, len(selectors))
	for _, sel := range selectors {
		match[strings.ToLower(sel)] = true
	}
	var value string
	for _, rule := range s.Rules {
		if !match[strings.ToLower(rule.Selector)] {
			continue
		}
		for _, d := range rule.Declarations {
			if strings.EqualFold(d.Property, property) {
				value = d.Value
			}
		}
	}
	return value
}

// Direction returns "rtl" when the sheet pins right-to-left flow on the
// document root via direction or writing-mode, otherwise "".
func (s *Stylesheet) Direction() string {
	if v := s.Lookup("direction", "body", "html", ":root"); strings.EqualFold(v, "rtl") {
		return "rtl"
	}
	v := strings.ToLower(s.Lookup("writing-mode", "body", "html", ":root"))
	if strings.HasPrefix(v, "vertical-rl") || strings.HasPrefix(v, "horizontal-tb-rl") {
		return "rtl"
	}
	return ""
}

// FontFamilies returns families mentioned by the sheet: @font-face
// declarations first, then body/html font-family lists, deduplicated.
func (s *Stylesheet) FontFamilies() []string {
	seen := make(map[string]bool)
	var families []string
	add := func(name string) {
		name = strings.TrimSpace(strings.Trim(strings.TrimSpace(name), `'"`))
		if name == "" || seen[strings.ToLower(name)] {
			return
		}
		seen[strings.ToLower(name)] = true
		families = append(families, name)
	}
	for _, ff := range s.FontFaces {
		add(ff.Family)
	}
	for _, part := range strings.Split(s.Lookup("font-family", "body", "html", ":root"), ",") {
		add(part)
	}
	return families
}
