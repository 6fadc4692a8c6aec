// Enums here are shared between configuration and domain packages, mostly to
// keep config from importing half of the program.
package common

import (
	"fmt"
	"strings"
)

// PageDirection is the reading progression of an archive.
type PageDirection int

const (
	PageDirectionLTR PageDirection = iota
	PageDirectionRTL
)

var pageDirectionNames = []string{"ltr", "rtl"}

func (d PageDirection) String() string {
	if d < 0 || int(d) >= len(pageDirectionNames) {
		// this should never happen
		panic("unsupported page direction requested")
	}
	return pageDirectionNames[d]
}

// ParsePageDirection converts OPF page-progression-direction value. Anything
// unknown (including "default") is treated as left to right.
func ParsePageDirection(s string) PageDirection {
	if strings.EqualFold(strings.TrimSpace(s), "rtl") {
		return PageDirectionRTL
	}
	return PageDirectionLTR
}

// ThemeMode selects one of the reading color themes.
type ThemeMode int

const (
	ThemeModeLight ThemeMode = iota
	ThemeModeDark
	ThemeModeSepia
)

var themeModeNames = []string{"light", "dark", "sepia"}

func (t ThemeMode) String() string {
	if t < 0 || int(t) >= len(themeModeNames) {
		panic("unsupported theme requested")
	}
	return themeModeNames[t]
}

func ParseThemeMode(s string) (ThemeMode, error) {
	for i, name := range themeModeNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return ThemeMode(i), nil
		}
	}
	return ThemeModeLight, fmt.Errorf("unknown theme %q", s)
}

func ThemeModeNames() []string {
	return append([]string{}, themeModeNames...)
}
