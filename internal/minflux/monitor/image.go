package monitor

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/minflux/internal/minflux/analysis"
)

var (
	thresholdColor = color.RGBA{R: 127, G: 127, B: 127, A: 255}
	yColor         = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	zColor         = color.RGBA{R: 148, G: 103, B: 189, A: 255}
)

// ImagePlotter writes rendered localization maps and resolution and drift
// curves as PNG.
type ImagePlotter struct {
	// Colors is the number of palette entries of heat maps.
	Colors int

	Width  vg.Length
	Height vg.Length
}

// NewImagePlotter returns a plotter producing 8×8 inch images with a
// 256 color black body palette.
func NewImagePlotter() *ImagePlotter {
	return &ImagePlotter{Colors: 256, Width: 8 * vg.Inch, Height: 8 * vg.Inch}
}

// imageGrid exposes an Image to plotter.HeatMap, whose rows grow upwards.
type imageGrid struct{ im *analysis.Image }

func (g imageGrid) Dims() (c, r int)   { return g.im.Nx, g.im.Ny }
func (g imageGrid) Z(c, r int) float64 { return float64(g.im.At(c, g.im.Ny-1-r)) }
func (g imageGrid) X(c int) float64    { return g.im.XI[c] }
func (g imageGrid) Y(r int) float64    { return g.im.YI[r] }

// WriteImage draws im as a heat map with axes in nm.
func (ip *ImagePlotter) WriteImage(w io.Writer, title string, im *analysis.Image) error {
	if im.Nx == 0 || im.Ny == 0 {
		return fmt.Errorf("image %q: %w", title, analysis.ErrNoData)
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x (nm)"
	p.Y.Label.Text = "y (nm)"

	hm := plotter.NewHeatMap(imageGrid{im}, moreland.ExtendedBlackBody().Palette(ip.Colors))
	hm.Rasterized = true
	hm.NaN = color.Black
	p.Add(hm)
	return writePNG(w, p, ip.Width, ip.Height)
}

type histogram2DGrid struct{ h analysis.Histogram2D }

func (g histogram2DGrid) Dims() (c, r int)   { return len(g.h.X.Centers), len(g.h.Y.Centers) }
func (g histogram2DGrid) Z(c, r int) float64 { return g.h.Counts[r][c] }
func (g histogram2DGrid) X(c int) float64    { return g.h.X.Centers[c] }
func (g histogram2DGrid) Y(r int) float64    { return g.h.Y.Centers[r] }

// WriteHistogram2D draws the counts of h as a heat map.
func (ip *ImagePlotter) WriteHistogram2D(w io.Writer, title, xLabel, yLabel string, h analysis.Histogram2D) error {
	if len(h.X.Centers) == 0 || len(h.Y.Centers) == 0 {
		return fmt.Errorf("histogram %q: %w", title, analysis.ErrNoData)
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel

	hm := plotter.NewHeatMap(histogram2DGrid{h}, moreland.ExtendedBlackBody().Palette(ip.Colors))
	hm.Rasterized = true
	p.Add(hm)
	return writePNG(w, p, ip.Width, ip.Height)
}

// WriteFRC draws a Fourier ring correlation curve against the spatial
// frequency in 1/µm, with the 1/7 threshold.
func (ip *ImagePlotter) WriteFRC(w io.Writer, title string, curve analysis.FRCCurve) error {
	if len(curve.Q) == 0 {
		return fmt.Errorf("frc %q: %w", title, analysis.ErrNoData)
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (resolution %.1f nm)", title, curve.Resolution*1e9)
	p.X.Label.Text = "q (1/µm)"
	p.Y.Label.Text = "FRC"

	pts := make(plotter.XYs, len(curve.Q))
	for i := range curve.Q {
		pts[i] = plotter.XY{X: curve.Q[i] * 1e-6, Y: curve.C[i]}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("frc %q: %w", title, err)
	}
	line.Color = barColor
	p.Add(line)

	qMax := pts[len(pts)-1].X
	threshold, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 1.0 / 7}, {X: qMax, Y: 1.0 / 7}})
	if err != nil {
		return fmt.Errorf("frc %q: %w", title, err)
	}
	threshold.Color = thresholdColor
	threshold.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(threshold)
	if q := 1e-6 / curve.Resolution; curve.Resolution > 0 && q <= qMax {
		if marker, err := plotter.NewLine(plotter.XYs{{X: q, Y: 0}, {X: q, Y: 1}}); err == nil {
			marker.Color = markerColor
			p.Add(marker)
		}
	}
	return writePNG(w, p, ip.Width, ip.Height/2)
}

// WriteDrift draws the sampled drift trajectory in nm against time in
// minutes.
func (ip *ImagePlotter) WriteDrift(w io.Writer, title string, d *analysis.Drift) error {
	if d == nil || len(d.Time) == 0 {
		return errors.New("drift: no trajectory samples")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "time (min)"
	p.Y.Label.Text = "drift (nm)"
	p.Legend.Top = true

	series := []struct {
		name  string
		v     []float64
		color color.Color
	}{
		{"x", d.TX, barColor},
		{"y", d.TY, yColor},
		{"z", d.TZ, zColor},
	}
	for _, s := range series {
		if s.v == nil {
			continue
		}
		pts := make(plotter.XYs, len(d.Time))
		for i, t := range d.Time {
			pts[i] = plotter.XY{X: t / 60, Y: s.v[i]}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("drift %s: %w", s.name, err)
		}
		line.Color = s.color
		p.Add(line)
		p.Legend.Add(s.name, line)
	}
	return writePNG(w, p, ip.Width, ip.Height/2)
}
