package render

import (
	"fmt"
	"html/template"
	"io"

	"github.com/epiworldlab/epirunner/internal/model"
)

// ModelInfo is the template-facing view of a registered model.
type ModelInfo struct {
	ID          string
	Title       string
	Description string
	Kind        string
}

// FormData drives the parameter form for one model.
type FormData struct {
	Model           ModelInfo
	Params          []model.Param
	ScenarioKeys    []string
	ScenarioHeaders map[string]string
}

// ReportData drives the results page for one finished run.
type ReportData struct {
	Model  ModelInfo
	Run    model.Run
	Result model.Result
}

const baseCSS = `
    body { background-color: #111; color: #f0f0f0; font-family: sans-serif; margin: 2rem auto; max-width: 960px; padding: 0 1rem; }
    a { color: #8ab4f8; }
    h1, h2 { color: #ffffff; }
    table { width: 100%; border-collapse: collapse; font-size: 0.95rem; color: #ffffff; margin-bottom: 1.5rem; }
    th { background-color: #222; color: #ffffff; text-align: left; padding: 8px; }
    td { padding: 6px 10px; border-top: 1px solid #555555; color: #f0f0f0; }
    tr.section-header td { background-color: #444444; font-weight: bold; color: #ffffff; }
    tr.total td { font-weight: bold; border-top: 2px solid #777777; color: #ffffff; }
    input[type=text] { background-color: #222; color: #f0f0f0; border: 1px solid #555; padding: 4px 6px; width: 12rem; }
    button { background-color: #2d5b9e; color: #fff; border: none; padding: 8px 16px; cursor: pointer; }
`

const indexTmpl = `<!DOCTYPE html>
<html><head><title>{{.Title}}</title><style>` + baseCSS + `</style></head>
<body>
<h1>{{.Title}}</h1>
<table>
  <thead><tr><th>Model</th><th>Kind</th><th>Description</th></tr></thead>
  <tbody>
  {{range .Models}}
    <tr><td><a href="/models/{{.ID}}/form">{{.Title}}</a></td><td>{{.Kind}}</td><td>{{.Description}}</td></tr>
  {{end}}
  </tbody>
</table>
</body></html>
`

const formTmpl = `<!DOCTYPE html>
<html><head><title>{{.Model.Title}}</title><style>` + baseCSS + `</style></head>
<body>
<h1>{{.Model.Title}}</h1>
<p>{{.Model.Description}}</p>
<form method="post" action="/models/{{.Model.ID}}/run">
<table>
  <thead><tr><th>Parameter</th><th>Value</th></tr></thead>
  <tbody>
  {{range .Params}}
    {{if .Section}}
    <tr class="section-header"><td colspan="2" style="padding-left: {{indentPx .Indent}}px">{{.Label}}</td></tr>
    {{else}}
    <tr><td style="padding-left: {{indentPx .Indent}}px">{{.Label}}</td>
        <td><input type="text" name="param:{{.Label}}" value="{{.Value}}"></td></tr>
    {{end}}
  {{end}}
  </tbody>
</table>
{{if .ScenarioKeys}}
<h2>Scenario labels</h2>
<table>
  <tbody>
  {{range .ScenarioKeys}}
    <tr><td>{{.}}</td><td><input type="text" name="label:{{.}}" value="{{index $.ScenarioHeaders .}}"></td></tr>
  {{end}}
  </tbody>
</table>
{{end}}
<button type="submit">Run model</button>
</form>
<p><a href="/">Back to models</a></p>
</body></html>
`

const reportTmpl = `<!DOCTYPE html>
<html><head><title>{{.Result.Title}}</title><style>` + baseCSS + `</style></head>
<body>
<h1>{{.Result.Title}}</h1>
<p>{{.Result.Description}}</p>
{{range .Result.Sections}}
<h2>{{.Title}}</h2>
  {{range .Blocks}}
    {{if .Table}}
<table>
  <thead><tr>{{range .Table.Columns}}<th>{{.}}</th>{{end}}</tr></thead>
  <tbody>
  {{range .Table.Rows}}
    <tr>{{range $i, $cell := .}}<td>{{if $i}}{{fmtNum $cell}}{{else}}{{$cell}}{{end}}</td>{{end}}</tr>
  {{end}}
  </tbody>
</table>
    {{else}}
<p>{{.Text}}</p>
    {{end}}
  {{end}}
{{end}}
<p><a href="/models/{{.Model.ID}}/form">Run again</a> &middot; <a href="/">All models</a></p>
</body></html>
`

// Renderer holds the parsed page templates.
type Renderer struct {
	index  *template.Template
	form   *template.Template
	report *template.Template
}

func NewRenderer() *Renderer {
	funcs := template.FuncMap{
		"fmtNum": Number,
		"indentPx": func(level int) int {
			return 10 + level*20
		},
	}
	return &Renderer{
		index:  template.Must(template.New("index").Funcs(funcs).Parse(indexTmpl)),
		form:   template.Must(template.New("form").Funcs(funcs).Parse(formTmpl)),
		report: template.Must(template.New("report").Funcs(funcs).Parse(reportTmpl)),
	}
}

// Index renders the model catalog page.
func (r *Renderer) Index(w io.Writer, title string, models []ModelInfo) error {
	data := struct {
		Title  string
		Models []ModelInfo
	}{Title: title, Models: models}
	if err := r.index.Execute(w, data); err != nil {
		return fmt.Errorf("render index: %w", err)
	}
	return nil
}

// Form renders the parameter form for one model.
func (r *Renderer) Form(w io.Writer, data FormData) error {
	if err := r.form.Execute(w, data); err != nil {
		return fmt.Errorf("render form: %w", err)
	}
	return nil
}

// Report renders the results page for one run.
func (r *Renderer) Report(w io.Writer, data ReportData) error {
	if err := r.report.Execute(w, data); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}
