package report

import (
	_ "embed"
	"html/template"
	"io"
	"strings"
	"time"
)

//go:embed report.html.tmpl
var reportHTML string

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"join": strings.Join,
	"ms": func(d time.Duration) string {
		return d.Round(time.Millisecond).String()
	},
	"sec": func(d time.Duration) string {
		return d.Round(time.Second).String()
	},
}).Parse(reportHTML))

// WriteHTML renders the report as a standalone HTML page.
func (r *Report) WriteHTML(w io.Writer) error {
	return reportTemplate.Execute(w, r)
}
