package monitor

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/minflux/internal/minflux/l5traces"
)

// viridis color stops used for the trace ID color map.
var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// RenderScatter writes an HTML page with an x/y scatter of positions (nm).
// With colorByTID points are colored by trace ID, otherwise by fluorophore.
// Positions without a finite x and y are left out.
func RenderScatter(w io.Writer, title string, positions []l5traces.Position, colorByTID bool) error {
	data := make([]opts.ScatterData, 0, len(positions))
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	minC, maxC := math.Inf(1), math.Inf(-1)
	for _, p := range positions {
		if !finite(p.X) || !finite(p.Y) {
			continue
		}
		c := float64(p.Fluo)
		if colorByTID {
			c = float64(p.TID)
		}
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
		minC, maxC = math.Min(minC, c), math.Max(maxC, c)
		data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y, c}})
	}
	if len(data) == 0 {
		minX, maxX, minY, maxY, minC, maxC = 0, 1, 0, 1, 0, 1
	}

	// Pad so that points on the edges stay visible.
	padX := 0.05*(maxX-minX) + 1
	padY := 0.05*(maxY-minY) + 1

	colorName := "fluorophore"
	if colorByTID {
		colorName = "tid"
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("localizations=%d color=%s", len(data), colorName)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: minX - padX, Max: maxX + padX, Name: "x (nm)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: minY - padY, Max: maxY + padY, Name: "y (nm)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(minC),
			Max:        float32(maxC),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries("localizations", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))

	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("failed to render scatter chart: %w", err)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
