// Package monitor renders diagnostic plots of MINFLUX data: PNG
// histograms with gonum/plot and interactive HTML scatter plots with
// go-echarts.
package monitor

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/minflux/internal/minflux/analysis"
)

var (
	barColor    = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	markerColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// HistogramPlotter writes histogram images.
type HistogramPlotter struct {
	// Normalize scales the counts to sum to 1.
	Normalize bool
	// Scott selects Scott's rule instead of Freedman–Diaconis for
	// automatic bins.
	Scott bool

	Width  vg.Length
	Height vg.Length
}

// NewHistogramPlotter returns a plotter producing normalized 8×5 inch
// histograms.
func NewHistogramPlotter() *HistogramPlotter {
	return &HistogramPlotter{
		Normalize: true,
		Width:     8 * vg.Inch,
		Height:    5 * vg.Inch,
	}
}

// WriteHistogram bins values and writes the plot to w as a PNG. A binSize
// of 0 selects bins automatically. Each marker is drawn as a vertical
// line, e.g. robust thresholds.
func (hp *HistogramPlotter) WriteHistogram(w io.Writer, title, xLabel string, values []float64, binSize float64, markers ...float64) error {
	hist, err := analysis.PrepareHistogram(values, hp.Normalize, binSize == 0, hp.Scott, binSize)
	if err != nil {
		return fmt.Errorf("histogram %q: %w", title, err)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	if hp.Normalize {
		p.Y.Label.Text = "Frequency"
	} else {
		p.Y.Label.Text = "Count"
	}

	bins := make([]plotter.HistogramBin, len(hist.Counts))
	maxCount := 0.0
	for i, c := range hist.Counts {
		bins[i] = plotter.HistogramBin{Min: hist.Edges[i], Max: hist.Edges[i+1], Weight: c}
		if c > maxCount {
			maxCount = c
		}
	}
	p.Add(&plotter.Histogram{
		Bins:      bins,
		Width:     hist.Width,
		FillColor: barColor,
		LineStyle: plotter.DefaultLineStyle,
	})

	for _, m := range markers {
		line, err := plotter.NewLine(plotter.XYs{{X: m, Y: 0}, {X: m, Y: maxCount}})
		if err != nil {
			return fmt.Errorf("marker at %g: %w", m, err)
		}
		line.Color = markerColor
		line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(line)
	}

	return writePNG(w, p, hp.Width, hp.Height)
}

func writePNG(w io.Writer, p *plot.Plot, width, height vg.Length) error {
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("failed to create canvas: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write plot: %w", err)
	}
	return nil
}
