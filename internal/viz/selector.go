// Package viz decides whether a result table can be charted, which chart
// types fit its shape, and prepares per-type data slices for rendering.
package viz

import (
	"fmt"

	"github.com/tablepilot-core-poc/server/internal/pipeline/model"
	"github.com/tablepilot-core-poc/server/internal/table"
	logx "github.com/tablepilot-core-poc/server/pkg/logger"
)

// Selector applies shape heuristics to pick chart types. It is fully
// deterministic: the same table always yields the same ordered selection.
type Selector struct {
	cfg model.VizConfig
}

func NewSelector(cfg model.VizConfig) *Selector {
	if cfg.MaxTypes <= 0 {
		cfg.MaxTypes = 3
	}
	if cfg.PieMaxCategories <= 0 {
		cfg.PieMaxCategories = 6
	}
	return &Selector{cfg: cfg}
}

// Feasible reports whether the table has enough shape and variety to chart
// at all. The reason explains a negative verdict.
func (s *Selector) Feasible(tbl *table.Table) (bool, string) {
	if tbl == nil || tbl.NumRows() == 0 || tbl.NumCols() == 0 {
		return false, "the result table is empty"
	}
	hasValue := false
	for _, col := range tbl.Columns() {
		values, _ := tbl.Col(col)
		for _, v := range values {
			if v != nil {
				hasValue = true
				break
			}
		}
		if hasValue {
			break
		}
	}
	if !hasValue {
		return false, "every column is entirely null"
	}
	if len(s.Classify(tbl)) == 0 {
		return false, "no column combination fits any supported chart type"
	}
	return true, ""
}

// Classify returns an ordered selection of chart types, highest priority
// first, capped at the configured maximum. Time series win over numeric
// pairs, which win over category breakdowns and distributions.
func (s *Selector) Classify(tbl *table.Table) []model.ChartType {
	numeric := tbl.NumericColumns()
	categorical := s.chartableCategories(tbl)
	timeCols := tbl.TimeColumns()

	var picked []model.ChartType
	add := func(t model.ChartType) {
		if len(picked) >= s.cfg.MaxTypes {
			return
		}
		for _, p := range picked {
			if p == t {
				return
			}
		}
		picked = append(picked, t)
	}

	if len(timeCols) > 0 && len(numeric) > 0 {
		add(model.ChartLine)
	}
	if len(numeric) >= 2 {
		add(model.ChartScatter)
	}
	if len(numeric) >= 3 {
		add(model.ChartHeatmap)
	}
	if len(categorical) > 0 && len(numeric) > 0 {
		add(model.ChartBar)
		add(model.ChartBox)
	}
	if len(numeric) > 0 {
		add(model.ChartHistogram)
	}
	for _, cat := range categorical {
		if tbl.Cardinality(cat) <= s.cfg.PieMaxCategories {
			add(model.ChartPie)
			break
		}
	}
	return picked
}

// Prepare builds the parameter bundle and data slice for each selected type.
// A type whose required columns are missing is skipped, not failed; the
// caller treats an all-skipped outcome as infeasible.
func (s *Selector) Prepare(tbl *table.Table, types []model.ChartType) []model.PreparedChart {
	var prepared []model.PreparedChart
	for _, t := range types {
		chart, err := s.prepareOne(tbl, t)
		if err != nil {
			logx.Warn().Str("chart", string(t)).Err(err).Msg("skipping chart type")
			continue
		}
		prepared = append(prepared, *chart)
	}
	return prepared
}

func (s *Selector) prepareOne(tbl *table.Table, t model.ChartType) (*model.PreparedChart, error) {
	numeric := tbl.NumericColumns()
	categorical := s.chartableCategories(tbl)
	timeCols := tbl.TimeColumns()

	switch t {
	case model.ChartLine:
		if len(timeCols) == 0 || len(numeric) == 0 {
			return nil, fmt.Errorf("line chart needs a time column and a numeric column")
		}
		params := model.ChartParams{TimeColumn: timeCols[0], ValueColumn: numeric[0]}
		data := tbl.Select(params.TimeColumn, params.ValueColumn).Sort(params.TimeColumn, true)
		return &model.PreparedChart{Type: t, Params: params, Data: data}, nil

	case model.ChartBar:
		if len(categorical) == 0 || len(numeric) == 0 {
			return nil, fmt.Errorf("bar chart needs a categorical and a numeric column")
		}
		params := model.ChartParams{XColumn: categorical[0], YColumn: numeric[0]}
		return &model.PreparedChart{
			Type:   t,
			Params: params,
			Data:   tbl.GroupBySum(params.XColumn, params.YColumn),
		}, nil

	case model.ChartScatter:
		if len(numeric) < 2 {
			return nil, fmt.Errorf("scatter chart needs two numeric columns")
		}
		params := model.ChartParams{XColumn: numeric[0], YColumn: numeric[1]}
		return &model.PreparedChart{
			Type:   t,
			Params: params,
			Data:   tbl.Select(params.XColumn, params.YColumn),
		}, nil

	case model.ChartHeatmap:
		if len(numeric) < 3 {
			return nil, fmt.Errorf("heatmap needs at least three numeric columns")
		}
		cols, matrix := tbl.CorrMatrix()
		data := corrTable(cols, matrix)
		return &model.PreparedChart{Type: t, Params: model.ChartParams{Columns: cols}, Data: data}, nil

	case model.ChartHistogram:
		if len(numeric) == 0 {
			return nil, fmt.Errorf("histogram needs a numeric column")
		}
		params := model.ChartParams{Column: numeric[0]}
		return &model.PreparedChart{Type: t, Params: params, Data: tbl.Select(params.Column)}, nil

	case model.ChartBox:
		if len(numeric) == 0 {
			return nil, fmt.Errorf("box plot needs a numeric column")
		}
		params := model.ChartParams{Column: numeric[0]}
		cols := []string{params.Column}
		if len(categorical) > 0 {
			params.CategoryColumn = categorical[0]
			cols = append([]string{params.CategoryColumn}, cols...)
		}
		return &model.PreparedChart{Type: t, Params: params, Data: tbl.Select(cols...)}, nil

	case model.ChartPie:
		var cat string
		for _, c := range categorical {
			if tbl.Cardinality(c) <= s.cfg.PieMaxCategories {
				cat = c
				break
			}
		}
		if cat == "" {
			return nil, fmt.Errorf("pie chart needs a low-cardinality categorical column")
		}
		params := model.ChartParams{CategoryColumn: cat}
		if len(numeric) > 0 {
			params.ValueColumn = numeric[0]
			return &model.PreparedChart{
				Type:   t,
				Params: params,
				Data:   tbl.GroupBySum(cat, params.ValueColumn),
			}, nil
		}
		return &model.PreparedChart{Type: t, Params: params, Data: categoryCounts(tbl, cat)}, nil
	}
	return nil, fmt.Errorf("unknown chart type %q", t)
}

// chartableCategories drops time-like and fully null columns from the
// categorical set so a date column is never mistaken for a bar chart axis
// and empty columns never select a chart.
func (s *Selector) chartableCategories(tbl *table.Table) []string {
	var out []string
	for _, c := range tbl.CategoricalColumns() {
		if !tbl.IsTimeLike(c) && tbl.Cardinality(c) > 0 {
			out = append(out, c)
		}
	}
	return out
}

func corrTable(cols []string, matrix [][]float64) *table.Table {
	header := append([]string{"column"}, cols...)
	rows := make([][]any, len(cols))
	for i, c := range cols {
		row := make([]any, 0, len(cols)+1)
		row = append(row, c)
		for _, v := range matrix[i] {
			row = append(row, v)
		}
		rows[i] = row
	}
	t, _ := table.New(header, rows)
	return t
}

func categoryCounts(tbl *table.Table, cat string) *table.Table {
	values, _ := tbl.Col(cat)
	counts := make(map[string]float64)
	var order []string
	for _, v := range values {
		if v == nil {
			continue
		}
		key := fmt.Sprint(v)
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		counts[key]++
	}
	rows := make([][]any, len(order))
	for i, k := range order {
		rows[i] = []any{k, counts[k]}
	}
	t, _ := table.New([]string{cat, "count"}, rows)
	return t
}
