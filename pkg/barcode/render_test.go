package barcode_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/barcodechat/pkg/barcode"
)

func TestRender_Width(t *testing.T) {
	l := barcode.DefaultLayout
	seq := barcode.Encode("AB 0")

	want := l.Padding * 2
	for _, sym := range seq {
		want += len(sym.Pattern)*l.BarWidth + l.SpaceWidth
	}

	img := barcode.Render(seq, l)
	assert.Equal(t, want, img.Width)
	assert.Equal(t, want, l.Width(seq))
	assert.Equal(t, l.Height, img.Height)
	assert.Len(t, img.Symbols, len(seq))
}

func TestRender_EmptyIsPaddingOnly(t *testing.T) {
	img := barcode.RenderText("")

	assert.True(t, img.Empty())
	assert.Equal(t, barcode.DefaultLayout.Padding*2, img.Width)
	assert.Empty(t, img.Bars)
}

func TestRender_BarsFollowTokens(t *testing.T) {
	l := barcode.DefaultLayout
	img := barcode.Render(barcode.Encode("B"), l) // "||| |||"

	require.Len(t, img.Bars, 6)
	xs := make([]int, len(img.Bars))
	for i, b := range img.Bars {
		xs[i] = b.X
		assert.Equal(t, l.Margin, b.Top)
		assert.Equal(t, l.Height-l.Margin, b.Bottom)
	}
	p := l.Padding
	w := l.BarWidth
	assert.Equal(t, []int{p, p + w, p + 2*w, p + 4*w, p + 5*w, p + 6*w}, xs)
}

func TestScan_RecoversPatterns(t *testing.T) {
	text := "HELLO WORLD 2025"
	seq := barcode.Encode(text)
	results := barcode.Scan(barcode.Render(seq, barcode.DefaultLayout))

	require.Len(t, results, len(seq))
	for i, res := range results {
		assert.Equal(t, seq[i].Pattern, res.Pattern)
		assert.True(t, res.Contains(seq[i].Char))
	}
}

func TestScan_TrailingSpaceToken(t *testing.T) {
	// '0' ends with a space token, which only shows up as span width.
	results := barcode.Scan(barcode.RenderText("0"))

	require.Len(t, results, 1)
	assert.Equal(t, barcode.Pattern("|||||| "), results[0].Pattern)
	c, ok := results[0].Char()
	require.True(t, ok)
	assert.Equal(t, '0', c)
}

func TestRasterize(t *testing.T) {
	img := barcode.RenderText("I")
	px := barcode.Rasterize(img)

	require.Equal(t, img.Width, px.Bounds().Dx())
	require.Equal(t, img.Height, px.Bounds().Dy())

	first := img.Bars[0]
	assert.Equal(t, barcode.Foreground, px.RGBAAt(first.X, img.Height/2))
	assert.Equal(t, barcode.Background, px.RGBAAt(first.X, 0))
	assert.Equal(t, barcode.Background, px.RGBAAt(0, img.Height/2))
}

func TestLayout_Validate(t *testing.T) {
	assert.NoError(t, barcode.DefaultLayout.Validate())

	bad := barcode.DefaultLayout
	bad.BarWidth = 0
	assert.Error(t, bad.Validate())

	bad = barcode.DefaultLayout
	bad.Margin = 50
	assert.Error(t, bad.Validate())
}

func TestTokens(t *testing.T) {
	assert.Equal(t, "||| ||| || ||||", barcode.Tokens(barcode.Encode("BC")))
	assert.Equal(t, "", barcode.Tokens(barcode.Encode("")))
}
