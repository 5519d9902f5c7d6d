package render

import (
	"image/color"
	"math"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
)

// goldenAngle spreads consecutive hues as far apart as possible.
const goldenAngle = 137.50776405003785

// Palette hands out a stable color per label. Labels known up front get
// colors in their given order; unknown labels are appended on first use.
type Palette struct {
	mu     sync.Mutex
	order  []string
	colors map[string]colorful.Color
}

func NewPalette(labels []string) *Palette {
	p := &Palette{colors: make(map[string]colorful.Color, len(labels))}
	for _, l := range labels {
		p.colorFor(l)
	}
	return p
}

func (p *Palette) colorFor(label string) colorful.Color {
	if c, ok := p.colors[label]; ok {
		return c
	}
	i := len(p.order)
	hue := math.Mod(float64(i)*goldenAngle, 360)
	// alternate value so neighbouring hues stay distinguishable on dark images
	v := 0.95
	if i%2 == 1 {
		v = 0.8
	}
	c := colorful.Hsv(hue, 0.85, v)
	p.order = append(p.order, label)
	p.colors[label] = c
	return c
}

func (p *Palette) Color(label string) color.RGBA {
	p.mu.Lock()
	c := p.colorFor(label)
	p.mu.Unlock()
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func (p *Palette) Hex(label string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.colorFor(label).Hex()
}

// Hexes returns the hex color of every label seen so far.
func (p *Palette) Hexes() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.order))
	for _, l := range p.order {
		out[l] = p.colors[l].Hex()
	}
	return out
}
