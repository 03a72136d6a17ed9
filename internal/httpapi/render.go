package httpapi

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/guptarohit/asciigraph"

	"migration_dash/internal/domain"
)

const (
	chartWidth  = 72
	chartHeight = 10
)

var pageFuncs = template.FuncMap{
	"comma": humanize.Comma,
	"percent": func(v float64) string {
		return fmt.Sprintf("%.2f%%", v)
	},
	"progressWidth": func(s *domain.Snapshot) string {
		return fmt.Sprintf("%.2f", s.Progress()*100)
	},
	"stamp": func(t time.Time) string {
		return t.Format("2006-01-02 15:04:05")
	},
}

var pageTemplate = template.Must(template.New("dashboard").Funcs(pageFuncs).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="{{.ReloadSeconds}}">
<title>User Migration Dashboard</title>
<style>
body { font-family: sans-serif; margin: 2rem; }
.metrics { display: flex; gap: 2rem; }
.metric { border: 1px solid #ccc; padding: 1rem; min-width: 12rem; }
.metric .value { font-size: 2rem; }
.bar { background: #eee; height: 1.5rem; width: 100%; }
.bar div { background: #4caf50; height: 100%; }
.error { color: #b00020; border: 1px solid #b00020; padding: 1rem; }
pre { background: #f7f7f7; padding: 1rem; }
</style>
</head>
<body>
<h1>User Migration Dashboard</h1>
{{if .Error}}
<div class="error">
<h2>Statistics unavailable</h2>
<p>{{.Error}}</p>
</div>
{{else}}{{with .Snapshot}}
<div class="metrics">
<div class="metric"><div>Total users</div><div class="value">{{comma .TotalUsers}}</div></div>
<div class="metric"><div>Migrated users</div><div class="value">{{comma .MigratedUsers}}</div></div>
<div class="metric"><div>Migration rate</div><div class="value">{{percent .MigrationRate}}</div></div>
</div>
<h2>Progress</h2>
<div class="bar"><div style="width: {{progressWidth .}}%"></div></div>
<p>{{comma .PendingUsers}} users pending</p>
{{end}}
<h2>Daily migrations (last 7 days)</h2>
{{if .DailyChart}}<pre>{{.DailyChart}}</pre>{{end}}
<table>
<tr><th>Date</th><th>Migrations</th></tr>
{{range .Snapshot.Daily}}<tr><td>{{.Date}}</td><td>{{comma .Count}}</td></tr>
{{else}}<tr><td colspan="2">No migrations in this window</td></tr>
{{end}}</table>
<h2>Hourly migrations (last 24 hours)</h2>
{{if .HourlyChart}}<pre>{{.HourlyChart}}</pre>{{end}}
<table>
<tr><th>Hour</th><th>Migrations</th></tr>
{{range .Snapshot.Hourly}}<tr><td>{{.Hour}}</td><td>{{comma .Count}}</td></tr>
{{else}}<tr><td colspan="2">No migrations in this window</td></tr>
{{end}}</table>
<p>Last updated: {{stamp .Snapshot.GeneratedAt}}</p>
{{end}}
</body>
</html>
`))

type pageData struct {
	Snapshot    *domain.Snapshot
	Error       string
	DailyChart  string
	HourlyChart string
	// ReloadSeconds is the browser auto-reload period.
	ReloadSeconds int
}

func renderPage(w io.Writer, snapshot *domain.Snapshot, errMsg string, reloadSeconds int) error {
	data := pageData{
		Snapshot:      snapshot,
		Error:         errMsg,
		ReloadSeconds: reloadSeconds,
	}
	if snapshot != nil {
		data.DailyChart = dailyChart(snapshot.Daily)
		data.HourlyChart = hourlyChart(snapshot.Hourly)
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return fmt.Errorf("render dashboard: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}

func dailyChart(series []domain.DailyCount) string {
	data := make([]float64, len(series))
	for i, d := range series {
		data[i] = float64(d.Count)
	}
	return plot(data, "migrations per day")
}

func hourlyChart(series []domain.HourlyCount) string {
	data := make([]float64, len(series))
	for i, h := range series {
		data[i] = float64(h.Count)
	}
	return plot(data, "migrations per hour")
}

func plot(data []float64, caption string) string {
	if len(data) == 0 {
		return ""
	}
	return asciigraph.Plot(data,
		asciigraph.Height(chartHeight),
		asciigraph.Width(chartWidth),
		asciigraph.Caption(caption),
	)
}
