package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"

	"pdca/api/internal/comments"
	"pdca/api/internal/store"
)

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
	"formatDatePtr": func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.Format("Jan 2, 2006")
	},
	"join": strings.Join,
}).Parse(goalReportTemplate))

// ReportData holds data for goal report rendering
type ReportData struct {
	Goal        store.Goal
	OwnerName   string
	Assignees   []string
	History     []store.GoalStatusChange
	Threads     []*comments.Thread
	Analysis    *store.GoalAnalysis
	GeneratedAt time.Time
}

// RenderReportHTML renders the goal report template with provided data
func RenderReportHTML(data ReportData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const goalReportTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Goal.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    h2 { margin-top: 2rem; font-size: 1.2em; }
    table { border-collapse: collapse; width: 100%; }
    td, th { text-align: left; padding: 0.3rem 0.5rem; border-bottom: 1px solid #ddd; vertical-align: top; }
    .meta { color: #666; font-size: 0.9em; }
    .status { font-weight: bold; }
    .comment { background: #f5f5f5; padding: 0.6rem 1rem; margin: 0.6rem 0; border-left: 3px solid #333; }
    .replies { margin-left: 1.5rem; }
  </style>
</head>
<body>
  <h1>{{.Goal.Title}}</h1>
  <div class="meta">Generated {{formatDate .GeneratedAt "Jan 2, 2006 15:04"}}</div>
  {{if .Goal.Description}}<p>{{.Goal.Description}}</p>{{end}}
  <table>
    <tr><th>Status</th><td class="status status-{{lower .Goal.Status}}">{{.Goal.Status}}</td></tr>
    <tr><th>Priority</th><td>{{.Goal.Priority}}</td></tr>
    <tr><th>Progress</th><td>{{.Goal.Progress}}%</td></tr>
    <tr><th>Department</th><td>{{.Goal.Department}}{{if .Goal.Team}} / {{.Goal.Team}}{{end}}</td></tr>
    <tr><th>Owner</th><td>{{.OwnerName}}</td></tr>
    <tr><th>Assignees</th><td>{{if .Assignees}}{{join .Assignees ", "}}{{else}}-{{end}}</td></tr>
    <tr><th>Start</th><td>{{formatDatePtr .Goal.StartDate}}</td></tr>
    <tr><th>Due</th><td>{{formatDatePtr .Goal.DueDate}}</td></tr>
  </table>
  {{with .Analysis}}
  <h2>Analysis</h2>
  <p>{{.Summary}}</p>
  {{if .Recommendations}}<ul>{{range .Recommendations}}<li>{{.}}</li>{{end}}</ul>{{end}}
  {{end}}
  <h2>Status history</h2>
  {{if .History}}
  <table>
    <tr><th>Date</th><th>From</th><th>To</th><th>By</th><th>Note</th></tr>
    {{range .History}}<tr><td>{{formatDate .ChangedAt "Jan 2, 2006"}}</td><td>{{.FromStatus}}</td><td>{{.ToStatus}}</td><td>{{.ChangedByName}}</td><td>{{.Note}}</td></tr>
    {{end}}
  </table>
  {{else}}<p class="meta">No status changes.</p>{{end}}
  <h2>Discussion</h2>
  {{if .Threads}}{{range .Threads}}{{template "thread" .}}{{end}}{{else}}<p class="meta">No comments.</p>{{end}}
</body>
</html>
{{define "thread"}}<div class="comment">
  <div class="meta">{{.AuthorName}} | {{formatDate .CreatedAt "Jan 2, 2006 15:04"}}</div>
  <div>{{.Text}}</div>
  {{if .Replies}}<div class="replies">{{range .Replies}}{{template "thread" .}}{{end}}</div>{{end}}
</div>{{end}}`
