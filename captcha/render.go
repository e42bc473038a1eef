package captcha

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand/v2"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

// Renderer draws text into an encoded image. r is private to the call.
type Renderer interface {
	Render(text string, r *rand.Rand) ([]byte, error)
}

// RendererFunc adapts a function to [Renderer].
type RendererFunc func(text string, r *rand.Rand) ([]byte, error)

func (f RendererFunc) Render(text string, r *rand.Rand) ([]byte, error) {
	return f(text, r)
}

// PNGConfig describes the generated image. Zero fields take defaults.
type PNGConfig struct {
	Width, Height int
	Dots          int
	Lines         int
	// MaxRotation is the per-glyph rotation bound in degrees.
	MaxRotation float64
	GlyphScale  float64
	Palette     []color.Color
}

var (
	defaultPalette = []color.Color{
		color.RGBA{0x00, 0x00, 0x00, 0xff}, // black
		color.RGBA{0x00, 0x00, 0x8b, 0xff}, // dark blue
		color.RGBA{0x8b, 0x00, 0x00, 0xff}, // dark red
		color.RGBA{0x00, 0x64, 0x00, 0xff}, // dark green
	}
	dotColor  = color.RGBA{0xd3, 0xd3, 0xd3, 0xff}
	lineColor = color.RGBA{0x80, 0x80, 0x80, 0xff}
)

func (c PNGConfig) withDefaults() PNGConfig {
	if c.Width <= 0 {
		c.Width = 120
	}
	if c.Height <= 0 {
		c.Height = 40
	}
	if c.Dots < 0 {
		c.Dots = 0
	} else if c.Dots == 0 {
		c.Dots = 100
	}
	if c.Lines < 0 {
		c.Lines = 0
	} else if c.Lines == 0 {
		c.Lines = 5
	}
	if c.MaxRotation <= 0 {
		c.MaxRotation = 15
	}
	if c.GlyphScale <= 0 {
		c.GlyphScale = 2
	}
	if len(c.Palette) == 0 {
		c.Palette = defaultPalette
	}
	return c
}

// PNGRenderer draws a speckled background, independently rotated glyphs and
// straight interference lines, then encodes the result as PNG.
type PNGRenderer struct {
	cfg  PNGConfig
	face font.Face
}

// NewPNGRenderer returns a renderer using the built-in 7x13 bitmap face.
func NewPNGRenderer(cfg PNGConfig) *PNGRenderer {
	return &PNGRenderer{
		cfg:  cfg.withDefaults(),
		face: basicfont.Face7x13,
	}
}

// Render implements [Renderer].
func (p *PNGRenderer) Render(text string, r *rand.Rand) ([]byte, error) {
	if text == "" {
		return nil, errors.New("empty captcha text")
	}
	if r == nil {
		return nil, errors.New("nil random source")
	}

	cfg := p.cfg
	canvas := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	for i := 0; i < cfg.Dots; i++ {
		canvas.Set(r.IntN(cfg.Width), r.IntN(cfg.Height), dotColor)
	}

	glyphs := []rune(text)
	margin := float64(cfg.Width) * 0.08
	slot := (float64(cfg.Width) - 2*margin) / float64(len(glyphs))
	for i, g := range glyphs {
		ink := cfg.Palette[r.IntN(len(cfg.Palette))]
		angle := (r.Float64()*2 - 1) * cfg.MaxRotation * math.Pi / 180
		cx := margin + slot*(float64(i)+0.5) + (r.Float64()*4 - 2)
		cy := float64(cfg.Height)/2 + (r.Float64()*6 - 3)
		p.drawGlyph(canvas, g, ink, angle, cx, cy)
	}

	lines := vector.NewRasterizer(cfg.Width, cfg.Height)
	lines.DrawOp = draw.Over
	for i := 0; i < cfg.Lines; i++ {
		x0, y0 := r.Float32()*float32(cfg.Width), r.Float32()*float32(cfg.Height)
		x1, y1 := r.Float32()*float32(cfg.Width), r.Float32()*float32(cfg.Height)
		addSegment(lines, x0, y0, x1, y1, 1)
	}
	lines.Draw(canvas, canvas.Bounds(), image.NewUniform(lineColor), image.Point{})

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// drawGlyph rasterizes g into a small tile, then rotates and scales the
// tile onto dst centred at (cx, cy).
func (p *PNGRenderer) drawGlyph(dst draw.Image, g rune, ink color.Color, angle, cx, cy float64) {
	metrics := p.face.Metrics()
	advance, _ := p.face.GlyphAdvance(g)
	w := advance.Ceil() + 2
	h := (metrics.Ascent + metrics.Descent).Ceil() + 2

	tile := image.NewRGBA(image.Rect(0, 0, w, h))
	d := font.Drawer{
		Dst:  tile,
		Src:  image.NewUniform(ink),
		Face: p.face,
		Dot:  fixed.Point26_6{X: fixed.I(1), Y: metrics.Ascent + fixed.I(1)},
	}
	d.DrawString(string(g))

	k := p.cfg.GlyphScale
	sin, cos := math.Sincos(angle)
	sx, sy := float64(w)/2, float64(h)/2
	a, b := k*cos, -k*sin
	c, e := k*sin, k*cos
	m := f64.Aff3{
		a, b, cx - a*sx - b*sy,
		c, e, cy - c*sx - e*sy,
	}
	draw.ApproxBiLinear.Transform(dst, m, tile, tile.Bounds(), draw.Over, nil)
}

// addSegment adds a width-wide straight segment as a closed quad.
func addSegment(z *vector.Rasterizer, x0, y0, x1, y1, width float32) {
	dx, dy := x1-x0, y1-y0
	length := float32(math.Hypot(float64(dx), float64(dy)))
	if length == 0 {
		return
	}
	nx, ny := -dy/length*width/2, dx/length*width/2

	z.MoveTo(x0+nx, y0+ny)
	z.LineTo(x1+nx, y1+ny)
	z.LineTo(x1-nx, y1-ny)
	z.LineTo(x0-nx, y0-ny)
	z.ClosePath()
}
