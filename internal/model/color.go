package model

import "strings"

// Color is an RGB color in canonical "#RRGGBB" form
type Color string

// MaxPaletteSize is the maximum number of colors in a user palette
const MaxPaletteSize = 64

// ParseColor validates a hex color and returns its canonical upper-case form.
// Only the six-digit "#rrggbb" form is accepted.
func ParseColor(s string) (Color, error) {
	if len(s) != 7 || s[0] != '#' {
		return "", ErrInvalidColor
	}
	for i := 1; i < len(s); i++ {
		if !isHexDigit(s[i]) {
			return "", ErrInvalidColor
		}
	}
	return Color(strings.ToUpper(s)), nil
}

// RGB returns the red, green and blue components of a canonical color
func (c Color) RGB() (r, g, b uint8) {
	if len(c) != 7 {
		return 0, 0, 0
	}
	return hexByte(c[1], c[2]), hexByte(c[3], c[4]), hexByte(c[5], c[6])
}

// String implements fmt.Stringer
func (c Color) String() string {
	return string(c)
}

// ParsePalette validates and canonicalizes an ordered list of colors
func ParsePalette(colors []string) ([]Color, error) {
	if len(colors) > MaxPaletteSize {
		return nil, ErrPaletteTooLarge
	}
	palette := make([]Color, 0, len(colors))
	for _, s := range colors {
		c, err := ParseColor(s)
		if err != nil {
			return nil, err
		}
		palette = append(palette, c)
	}
	return palette, nil
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func hexVal(b byte) uint8 {
	switch {
	case b >= '0' && b <= '9':
		return b - '0'
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10
	}
	return 0
}

func hexByte(hi, lo byte) uint8 {
	return hexVal(hi)<<4 | hexVal(lo)
}
