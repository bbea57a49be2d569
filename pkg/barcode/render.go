package barcode

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

// Layout holds the geometry used to render a Sequence.
type Layout struct {
	BarWidth   int `json:"bar_width"`   // width of one token
	SpaceWidth int `json:"space_width"` // gap after each symbol
	Height     int `json:"height"`
	Padding    int `json:"padding"` // left and right margin
	Margin     int `json:"margin"`  // vertical gap above and below each bar
}

// DefaultLayout matches the classic messenger rendering.
var DefaultLayout = Layout{
	BarWidth:   3,
	SpaceWidth: 3,
	Height:     100,
	Padding:    20,
	Margin:     10,
}

// Width returns the total image width for seq.
func (l Layout) Width(seq Sequence) int {
	w := l.Padding * 2
	for _, sym := range seq {
		w += len(sym.Pattern)*l.BarWidth + l.SpaceWidth
	}
	return w
}

// Validate checks that the layout can draw at least one visible bar.
func (l Layout) Validate() error {
	if l.BarWidth <= 0 || l.Height <= 0 {
		return fmt.Errorf("invalid layout: bar width %d, height %d", l.BarWidth, l.Height)
	}
	if l.SpaceWidth < 0 || l.Padding < 0 || l.Margin < 0 || 2*l.Margin >= l.Height {
		return fmt.Errorf("invalid layout: space %d, padding %d, margin %d", l.SpaceWidth, l.Padding, l.Margin)
	}
	return nil
}

// BarRect is one drawn bar.
type BarRect struct {
	X      int `json:"x"`
	Top    int `json:"top"`
	Bottom int `json:"bottom"`
	Width  int `json:"width"`
}

// Span locates one symbol's tokens on the x axis, without the trailing gap.
type Span struct {
	X     int `json:"x"`
	Width int `json:"width"`
}

// Image is an abstract description of a rendered barcode.
type Image struct {
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	Layout  Layout    `json:"layout"`
	Bars    []BarRect `json:"bars"`
	Symbols []Span    `json:"symbols"`
}

// Empty reports whether the image holds nothing but padding.
func (img Image) Empty() bool {
	return len(img.Symbols) == 0
}

// Render lays seq out left to right. A bar token draws a vertical bar in the
// band between the margins; a space token only advances the cursor.
func Render(seq Sequence, l Layout) Image {
	img := Image{
		Width:   l.Width(seq),
		Height:  l.Height,
		Layout:  l,
		Bars:    []BarRect{},
		Symbols: make([]Span, 0, len(seq)),
	}

	x := l.Padding
	for _, sym := range seq {
		span := Span{X: x, Width: len(sym.Pattern) * l.BarWidth}
		for _, tok := range sym.Pattern {
			if tok == Bar {
				img.Bars = append(img.Bars, BarRect{
					X:      x,
					Top:    l.Margin,
					Bottom: l.Height - l.Margin,
					Width:  l.BarWidth,
				})
			}
			x += l.BarWidth
		}
		x += l.SpaceWidth
		img.Symbols = append(img.Symbols, span)
	}
	return img
}

// RenderText encodes text and renders it with the default layout.
func RenderText(text string) Image {
	return Render(Encode(text), DefaultLayout)
}

// Scan reads an image description back into per-symbol decode results.
// Symbols whose reconstructed pattern is not in the alphabet are reported
// with no candidates.
func Scan(img Image) []Result {
	bw := img.Layout.BarWidth
	if bw <= 0 {
		return nil
	}

	starts := make(map[int]struct{}, len(img.Bars))
	for _, b := range img.Bars {
		starts[b.X] = struct{}{}
	}

	out := make([]Result, 0, len(img.Symbols))
	for _, span := range img.Symbols {
		tokens := make([]rune, span.Width/bw)
		for i := range tokens {
			if _, ok := starts[span.X+i*bw]; ok {
				tokens[i] = Bar
			} else {
				tokens[i] = Space
			}
		}
		res, err := Decode(Pattern(tokens))
		if err != nil {
			out = append(out, Result{Pattern: Pattern(tokens)})
			continue
		}
		out = append(out, res)
	}
	return out
}

// Colours used by Rasterize.
var (
	Background = color.RGBA{R: 0x1a, G: 0x26, B: 0x39, A: 0xff}
	Foreground = color.RGBA{R: 0x4c, G: 0xc2, B: 0xff, A: 0xff}
)

// Rasterize paints the description into a pixel image.
func Rasterize(img Image) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	draw.Draw(out, out.Bounds(), &image.Uniform{C: Background}, image.Point{}, draw.Src)
	fg := &image.Uniform{C: Foreground}
	for _, b := range img.Bars {
		r := image.Rect(b.X, b.Top, b.X+b.Width, b.Bottom).Intersect(out.Bounds())
		draw.Draw(out, r, fg, image.Point{}, draw.Src)
	}
	return out
}

// Tokens returns a one-line textual rendering of seq, symbols separated by
// a single gap, for terminals.
func Tokens(seq Sequence) string {
	b := make([]byte, 0, len(seq)*9)
	for i, sym := range seq {
		if i > 0 {
			b = append(b, ' ')
		}
		b = append(b, string(sym.Pattern)...)
	}
	return string(b)
}
