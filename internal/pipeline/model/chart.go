package model

import (
	"github.com/tablepilot-core-poc/server/internal/table"
)

// ChartType is the fixed chart vocabulary the selector chooses from.
type ChartType string

const (
	ChartBar       ChartType = "bar"
	ChartLine      ChartType = "line"
	ChartHistogram ChartType = "histogram"
	ChartBox       ChartType = "box"
	ChartScatter   ChartType = "scatter"
	ChartPie       ChartType = "pie"
	ChartHeatmap   ChartType = "heatmap"
)

// AllChartTypes lists the vocabulary in stable order.
var AllChartTypes = []ChartType{
	ChartBar, ChartLine, ChartHistogram, ChartBox, ChartScatter, ChartPie, ChartHeatmap,
}

// ChartParams is the minimal parameter bundle a renderer needs for one chart
// type. Only the fields relevant to the type are set: bar uses XColumn and
// YColumn, line uses TimeColumn and ValueColumn, histogram and box use
// Column (box optionally CategoryColumn), scatter uses XColumn, YColumn and
// optionally CategoryColumn, pie uses CategoryColumn, heatmap uses Columns.
type ChartParams struct {
	XColumn        string   `json:"x_column,omitempty"`
	YColumn        string   `json:"y_column,omitempty"`
	TimeColumn     string   `json:"time_column,omitempty"`
	ValueColumn    string   `json:"value_column,omitempty"`
	Column         string   `json:"column,omitempty"`
	CategoryColumn string   `json:"category_column,omitempty"`
	Columns        []string `json:"columns,omitempty"`
}

// PreparedChart couples a selected chart type with its parameter bundle and
// the data slice shaped for it (grouped, sorted, or correlated as needed).
type PreparedChart struct {
	Type   ChartType
	Params ChartParams
	Data   *table.Table
}

// Figure is a rendered chart artifact.
type Figure struct {
	Type ChartType
	HTML []byte
}
