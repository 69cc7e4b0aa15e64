// Package render produces self-contained HTML figures from prepared charts
// using the echarts bindings.
package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/tablepilot-core-poc/server/internal/pipeline/model"
	"github.com/tablepilot-core-poc/server/internal/table"
)

const histogramBins = 10

type renderable interface {
	Render(w io.Writer) error
}

// EchartsRenderer implements model.ChartRenderer. One Render call produces
// one standalone HTML document.
type EchartsRenderer struct{}

func NewEchartsRenderer() *EchartsRenderer {
	return &EchartsRenderer{}
}

func (r *EchartsRenderer) Render(ctx context.Context, chart model.PreparedChart) (*model.Figure, error) {
	if chart.Data == nil || chart.Data.NumRows() == 0 {
		return nil, fmt.Errorf("no data to render for %s", chart.Type)
	}

	var c renderable
	var err error
	switch chart.Type {
	case model.ChartBar:
		c, err = r.bar(chart)
	case model.ChartLine:
		c, err = r.line(chart)
	case model.ChartScatter:
		c, err = r.scatter(chart)
	case model.ChartPie:
		c, err = r.pie(chart)
	case model.ChartHistogram:
		c, err = r.histogram(chart)
	case model.ChartBox:
		c, err = r.box(chart)
	case model.ChartHeatmap:
		c, err = r.heatmap(chart)
	default:
		return nil, fmt.Errorf("unsupported chart type %q", chart.Type)
	}
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := c.Render(&buf); err != nil {
		return nil, fmt.Errorf("render %s: %w", chart.Type, err)
	}
	return &model.Figure{Type: chart.Type, HTML: buf.Bytes()}, nil
}

func (r *EchartsRenderer) bar(chart model.PreparedChart) (renderable, error) {
	xs, ys, err := axisPair(chart.Data, chart.Params.XColumn, chart.Params.YColumn)
	if err != nil {
		return nil, err
	}
	items := make([]opts.BarData, len(ys))
	for i, v := range ys {
		items[i] = opts.BarData{Value: v}
	}
	c := charts.NewBar()
	c.SetGlobalOptions(charts.WithTitleOpts(opts.Title{
		Title: fmt.Sprintf("%s by %s", chart.Params.YColumn, chart.Params.XColumn),
	}))
	c.SetXAxis(xs).AddSeries(chart.Params.YColumn, items)
	return c, nil
}

func (r *EchartsRenderer) line(chart model.PreparedChart) (renderable, error) {
	xs, ys, err := axisPair(chart.Data, chart.Params.TimeColumn, chart.Params.ValueColumn)
	if err != nil {
		return nil, err
	}
	items := make([]opts.LineData, len(ys))
	for i, v := range ys {
		items[i] = opts.LineData{Value: v}
	}
	c := charts.NewLine()
	c.SetGlobalOptions(charts.WithTitleOpts(opts.Title{
		Title: fmt.Sprintf("%s over %s", chart.Params.ValueColumn, chart.Params.TimeColumn),
	}))
	c.SetXAxis(xs).AddSeries(chart.Params.ValueColumn, items)
	return c, nil
}

func (r *EchartsRenderer) scatter(chart model.PreparedChart) (renderable, error) {
	xs, err := numericColumn(chart.Data, chart.Params.XColumn)
	if err != nil {
		return nil, err
	}
	ys, err := numericColumn(chart.Data, chart.Params.YColumn)
	if err != nil {
		return nil, err
	}
	items := make([]opts.ScatterData, 0, len(xs))
	for i := range xs {
		if i >= len(ys) {
			break
		}
		items = append(items, opts.ScatterData{Value: []any{xs[i], ys[i]}})
	}
	c := charts.NewScatter()
	c.SetGlobalOptions(charts.WithTitleOpts(opts.Title{
		Title: fmt.Sprintf("%s vs %s", chart.Params.YColumn, chart.Params.XColumn),
	}))
	c.AddSeries(chart.Params.YColumn, items)
	return c, nil
}

func (r *EchartsRenderer) pie(chart model.PreparedChart) (renderable, error) {
	cols := chart.Data.Columns()
	if len(cols) < 2 {
		return nil, fmt.Errorf("pie data needs a category and a value column")
	}
	xs, ys, err := axisPair(chart.Data, cols[0], cols[1])
	if err != nil {
		return nil, err
	}
	items := make([]opts.PieData, len(xs))
	for i := range xs {
		items[i] = opts.PieData{Name: xs[i], Value: ys[i]}
	}
	c := charts.NewPie()
	c.SetGlobalOptions(charts.WithTitleOpts(opts.Title{
		Title: "share by " + chart.Params.CategoryColumn,
	}))
	c.AddSeries(chart.Params.CategoryColumn, items)
	return c, nil
}

func (r *EchartsRenderer) histogram(chart model.PreparedChart) (renderable, error) {
	values, err := numericColumn(chart.Data, chart.Params.Column)
	if err != nil {
		return nil, err
	}
	labels, counts := bin(values, histogramBins)
	items := make([]opts.BarData, len(counts))
	for i, v := range counts {
		items[i] = opts.BarData{Value: v}
	}
	c := charts.NewBar()
	c.SetGlobalOptions(charts.WithTitleOpts(opts.Title{
		Title: "distribution of " + chart.Params.Column,
	}))
	c.SetXAxis(labels).AddSeries(chart.Params.Column, items)
	return c, nil
}

func (r *EchartsRenderer) box(chart model.PreparedChart) (renderable, error) {
	groups, order, err := groupedValues(chart.Data, chart.Params.CategoryColumn, chart.Params.Column)
	if err != nil {
		return nil, err
	}
	items := make([]opts.BoxPlotData, 0, len(order))
	for _, g := range order {
		items = append(items, opts.BoxPlotData{Value: fiveNumber(groups[g])})
	}
	c := charts.NewBoxPlot()
	c.SetGlobalOptions(charts.WithTitleOpts(opts.Title{
		Title: "spread of " + chart.Params.Column,
	}))
	c.SetXAxis(order).AddSeries(chart.Params.Column, items)
	return c, nil
}

func (r *EchartsRenderer) heatmap(chart model.PreparedChart) (renderable, error) {
	cols := chart.Params.Columns
	if len(cols) == 0 {
		return nil, fmt.Errorf("heatmap needs its column list")
	}
	var items []opts.HeatMapData
	for i := range cols {
		row := chart.Data.Row(i)
		for j := range cols {
			v, ok := row[cols[j]]
			if !ok {
				continue
			}
			items = append(items, opts.HeatMapData{Value: [3]any{j, i, v}})
		}
	}
	c := charts.NewHeatMap()
	c.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "correlation matrix"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: cols}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: cols}),
		charts.WithVisualMapOpts(opts.VisualMap{Min: -1, Max: 1, Calculable: opts.Bool(true)}),
	)
	c.AddSeries("correlation", items)
	return c, nil
}

func axisPair(data *table.Table, xCol, yCol string) ([]string, []float64, error) {
	xraw, ok := data.Col(xCol)
	if !ok {
		return nil, nil, fmt.Errorf("missing column %q", xCol)
	}
	ys, err := numericColumn(data, yCol)
	if err != nil {
		return nil, nil, err
	}
	xs := make([]string, 0, len(xraw))
	for _, v := range xraw {
		xs = append(xs, fmt.Sprint(v))
	}
	if len(xs) > len(ys) {
		xs = xs[:len(ys)]
	}
	return xs, ys, nil
}

func numericColumn(data *table.Table, name string) ([]float64, error) {
	raw, ok := data.Col(name)
	if !ok {
		return nil, fmt.Errorf("missing column %q", name)
	}
	out := make([]float64, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			out = append(out, n)
		case float32:
			out = append(out, float64(n))
		case int:
			out = append(out, float64(n))
		case int32:
			out = append(out, float64(n))
		case int64:
			out = append(out, float64(n))
		case nil:
			// skipped
		default:
			return nil, fmt.Errorf("column %q is not numeric", name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("column %q has no numeric values", name)
	}
	return out, nil
}

func bin(values []float64, bins int) ([]string, []int) {
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		return []string{fmt.Sprintf("%.2f", lo)}, []int{len(values)}
	}
	width := (hi - lo) / float64(bins)
	counts := make([]int, bins)
	for _, v := range values {
		idx := int((v - lo) / width)
		if idx >= bins {
			idx = bins - 1
		}
		counts[idx]++
	}
	labels := make([]string, bins)
	for i := range labels {
		labels[i] = fmt.Sprintf("%.2f", lo+width*float64(i))
	}
	return labels, counts
}

func groupedValues(data *table.Table, catCol, numCol string) (map[string][]float64, []string, error) {
	nums, ok := data.Col(numCol)
	if !ok {
		return nil, nil, fmt.Errorf("missing column %q", numCol)
	}
	groups := make(map[string][]float64)
	var order []string

	var cats []any
	if catCol != "" {
		cats, ok = data.Col(catCol)
		if !ok {
			return nil, nil, fmt.Errorf("missing column %q", catCol)
		}
	}
	for i, v := range nums {
		f, isNum := asFloat(v)
		if !isNum {
			continue
		}
		key := numCol
		if cats != nil {
			key = fmt.Sprint(cats[i])
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], f)
	}
	if len(order) == 0 {
		return nil, nil, fmt.Errorf("column %q has no numeric values", numCol)
	}
	return groups, order, nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// fiveNumber returns min, q1, median, q3, max as a box plot expects.
func fiveNumber(values []float64) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	q := func(p float64) float64 {
		if len(sorted) == 1 {
			return sorted[0]
		}
		pos := p * float64(len(sorted)-1)
		lo := int(math.Floor(pos))
		hi := int(math.Ceil(pos))
		frac := pos - float64(lo)
		return sorted[lo]*(1-frac) + sorted[hi]*frac
	}
	return []float64{sorted[0], q(0.25), q(0.5), q(0.75), sorted[len(sorted)-1]}
}

var _ model.ChartRenderer = (*EchartsRenderer)(nil)
