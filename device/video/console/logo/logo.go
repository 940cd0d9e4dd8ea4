// Package logo contains logos that can be used with a framebuffer console.
package logo

import "image/color"

// ConsoleLogo defines the logo used by framebuffer consoles. If set to nil
// then no logo will be displayed.
var ConsoleLogo *Image

// availableLogos holds the built-in logo variants this kernel ships with,
// ordered by ascending height. Logo assets produced by the makelogo tool
// register themselves here from an init() block in their generated file.
var availableLogos []*Image

// Alignment defines the supported horizontal alignments for a console logo.
type Alignment uint8

const (
	// AlignLeft aligns the logo to the left side of the console.
	AlignLeft Alignment = iota

	// AlignCenter aligns the logo to the center of the console.
	AlignCenter

	// AlignRight aligns the logo to the right side of the console.
	AlignRight
)

// Image describes an 8bpp image with
type Image struct {
	// The width and height of the logo in pixels.
	Width  uint32
	Height uint32

	// Align specifies the horizontal alignment for the logo.
	Align Alignment

	// TransparentIndex defines a color index that will be treated as
	// transparent when drawing the logo.
	TransparentIndex uint8

	// The palette for the logo. The console remaps the palette
	// entries to the end of its own palette.
	Palette []color.RGBA

	// The logo data comprises of Width*Height bytes where each byte
	// represents an index in the logo palette.
	Data []uint8
}

// BestFit returns the largest registered logo that still fits comfortably
// inside a console of the given dimensions, falling back to the smallest
// registered logo if none of them fit. It returns nil if no logos are
// registered.
func BestFit(consoleWidth, consoleHeight uint32) *Image {
	if len(availableLogos) == 0 {
		return nil
	}

	// A logo should not dominate the screen; only consider logos whose
	// height is at most a tenth of the console height.
	threshold := consoleHeight / 10

	best := availableLogos[0]
	for _, l := range availableLogos {
		if l.Height < best.Height {
			best = l
		}
	}

	for _, l := range availableLogos {
		if l.Height <= threshold && l.Height > best.Height {
			best = l
		}
	}

	return best
}
