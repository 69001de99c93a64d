package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"conductor/internal/domain"
)

// RenderChartTool turns a rows payload into a self-contained HTML document
// with an inline SVG chart. Time-series data renders as a line chart,
// anything else as a bar chart.
type RenderChartTool struct {
	logger *slog.Logger
}

func NewRenderChartTool(logger *slog.Logger) *RenderChartTool {
	return &RenderChartTool{logger: logger}
}

func (t *RenderChartTool) Name() string { return "render_chart" }
func (t *RenderChartTool) Description() string {
	return "Render tabular data as a chart and return a self-contained HTML document."
}

func (t *RenderChartTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"title": {"type": "string", "description": "Chart title"},
				"data": {
					"type": "array",
					"items": {"type": "object"},
					"description": "Rows of label/value objects to plot"
				}
			},
			"required": ["data"]
		}`),
	}
}

type renderChartParams struct {
	Title string           `json:"title"`
	Data  []map[string]any `json:"data"`
}

type chartPoint struct {
	Label string
	Value float64
}

func (t *RenderChartTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.render_chart", t.logger, params,
		func(_ context.Context, _ trace.Span, p renderChartParams) (any, error) {
			if len(p.Data) == 0 {
				return ErrResult("data is empty, nothing to plot")
			}

			points, timeSeries, err := extractPoints(p.Data)
			if err != nil {
				return ErrResult("%v", err)
			}

			html, err := renderChartHTML(p.Title, points, timeSeries)
			if err != nil {
				return nil, fmt.Errorf("render chart: %w", err)
			}
			return TextResult(html), nil
		})
}

// extractPoints picks the first string-valued key as the label column and the
// first numeric key as the value column. timeSeries is true when every label
// parses as a date, which switches the chart to a line rendering.
func extractPoints(rows []map[string]any) ([]chartPoint, bool, error) {
	var labelKey, valueKey string
	keys := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch rows[0][k].(type) {
		case string:
			if labelKey == "" {
				labelKey = k
			}
		case float64, int, int64:
			if valueKey == "" {
				valueKey = k
			}
		}
	}
	if valueKey == "" {
		return nil, false, fmt.Errorf("no numeric column found, data is not plottable")
	}

	points := make([]chartPoint, 0, len(rows))
	timeSeries := labelKey != ""
	for i, row := range rows {
		p := chartPoint{Label: fmt.Sprintf("%d", i)}
		if labelKey != "" {
			if s, ok := row[labelKey].(string); ok {
				p.Label = s
			}
		}
		switch v := row[valueKey].(type) {
		case float64:
			p.Value = v
		case int:
			p.Value = float64(v)
		case int64:
			p.Value = float64(v)
		default:
			continue
		}
		if timeSeries && !looksLikeDate(p.Label) {
			timeSeries = false
		}
		points = append(points, p)
	}
	if len(points) == 0 {
		return nil, false, fmt.Errorf("no plottable rows found")
	}
	return points, timeSeries, nil
}

func looksLikeDate(s string) bool {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05", "2006-01"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

const (
	chartWidth  = 800.0
	chartHeight = 400.0
	chartPad    = 40.0
)

var chartTmpl = template.Must(template.New("chart").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title>
<style>body{font-family:sans-serif;margin:2em}svg{background:#fafafa;border:1px solid #ddd}</style>
</head>
<body>
<h2>{{.Title}}</h2>
<svg viewBox="0 0 {{.Width}} {{.Height}}" width="{{.Width}}" height="{{.Height}}">
{{if .Line}}<polyline fill="none" stroke="#2a6fb0" stroke-width="2" points="{{.Points}}"/>{{else}}{{range .Bars}}<rect x="{{.X}}" y="{{.Y}}" width="{{.W}}" height="{{.H}}" fill="#2a6fb0"/>{{end}}{{end}}
{{range .Labels}}<text x="{{.X}}" y="{{.Y}}" font-size="10" text-anchor="middle">{{.Text}}</text>{{end}}
</svg>
</body>
</html>
`))

type chartBar struct{ X, Y, W, H float64 }

type chartLabel struct {
	X, Y float64
	Text string
}

func renderChartHTML(title string, points []chartPoint, line bool) (string, error) {
	if title == "" {
		title = "Chart"
	}

	maxVal := points[0].Value
	for _, p := range points {
		if p.Value > maxVal {
			maxVal = p.Value
		}
	}
	if maxVal <= 0 {
		maxVal = 1
	}

	plotW := chartWidth - 2*chartPad
	plotH := chartHeight - 2*chartPad
	step := plotW / float64(len(points))

	var svgPoints []string
	var bars []chartBar
	var labels []chartLabel
	for i, p := range points {
		x := chartPad + step*(float64(i)+0.5)
		h := p.Value / maxVal * plotH
		y := chartHeight - chartPad - h
		if line {
			svgPoints = append(svgPoints, fmt.Sprintf("%.1f,%.1f", x, y))
		} else {
			bars = append(bars, chartBar{X: x - step*0.4, Y: y, W: step * 0.8, H: h})
		}
		// Label every point up to 20, then sample to keep the axis readable.
		if len(points) <= 20 || i%(len(points)/20+1) == 0 {
			labels = append(labels, chartLabel{X: x, Y: chartHeight - chartPad + 14, Text: p.Label})
		}
	}

	var b strings.Builder
	err := chartTmpl.Execute(&b, map[string]any{
		"Title":  title,
		"Width":  chartWidth,
		"Height": chartHeight,
		"Line":   line,
		"Points": strings.Join(svgPoints, " "),
		"Bars":   bars,
		"Labels": labels,
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
