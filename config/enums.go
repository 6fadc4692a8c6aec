package config

import (
	"fmt"
	"strings"
)

// Specification of cover thumbnail resizing mode.
type ImageResizeMode int

const (
	ImageResizeModeNone ImageResizeMode = iota
	ImageResizeModeKeepAR
	ImageResizeModeStretch
)

var imageResizeModeNames = []string{"none", "keepAR", "stretch"}

func (m ImageResizeMode) String() string {
	if m < 0 || int(m) >= len(imageResizeModeNames) {
		// this should never happen
		panic("unsupported resize mode requested")
	}
	return imageResizeModeNames[m]
}

func ParseImageResizeMode(s string) (ImageResizeMode, error) {
	for i, name := range imageResizeModeNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return ImageResizeMode(i), nil
		}
	}
	return ImageResizeModeNone, fmt.Errorf("unknown image resize mode %q", s)
}

func (m ImageResizeMode) MarshalYAML() (any, error) {
	return m.String(), nil
}

func (m *ImageResizeMode) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParseImageResizeMode(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
