package model

import "strings"

type Color string

const (
	ColorBlack       Color = "BLACK"
	ColorDarkBlue    Color = "DARK_BLUE"
	ColorDarkGreen   Color = "DARK_GREEN"
	ColorDarkAqua    Color = "DARK_AQUA"
	ColorDarkRed     Color = "DARK_RED"
	ColorDarkPurple  Color = "DARK_PURPLE"
	ColorGold        Color = "GOLD"
	ColorGray        Color = "GRAY"
	ColorDarkGray    Color = "DARK_GRAY"
	ColorBlue        Color = "BLUE"
	ColorGreen       Color = "GREEN"
	ColorAqua        Color = "AQUA"
	ColorRed         Color = "RED"
	ColorLightPurple Color = "LIGHT_PURPLE"
	ColorYellow      Color = "YELLOW"
	ColorWhite       Color = "WHITE"
)

var colorRGB = map[Color]int{
	ColorBlack:       0x000000,
	ColorDarkBlue:    0x0000AA,
	ColorDarkGreen:   0x00AA00,
	ColorDarkAqua:    0x00AAAA,
	ColorDarkRed:     0xAA0000,
	ColorDarkPurple:  0xAA00AA,
	ColorGold:        0xFFAA00,
	ColorGray:        0xAAAAAA,
	ColorDarkGray:    0x555555,
	ColorBlue:        0x5555FF,
	ColorGreen:       0x55FF55,
	ColorAqua:        0x55FFFF,
	ColorRed:         0xFF5555,
	ColorLightPurple: 0xFF55FF,
	ColorYellow:      0xFFFF55,
	ColorWhite:       0xFFFFFF,
}

// ParseColor accepts names case-insensitively, with spaces standing in for underscores.
func ParseColor(s string) (Color, bool) {
	c := Color(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), " ", "_"))
	if _, ok := colorRGB[c]; !ok {
		return "", false
	}
	return c, true
}

func (c Color) RGB() int { return colorRGB[c] }

func (c Color) Valid() bool {
	_, ok := colorRGB[c]
	return ok
}
