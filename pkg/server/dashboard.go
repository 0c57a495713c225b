package server

import (
	"fmt"
	"html/template"
	"net/http"

	"github.com/elonfeng/trendx/internal/store"
	"github.com/elonfeng/trendx/pkg/source"
	"github.com/rs/zerolog/hlog"
)

var dashboardTmpl = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"score": func(f float64) string { return fmt.Sprintf("%.3f", f) },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>trendx</title>
<style>
body{font-family:system-ui,sans-serif;margin:2rem;color:#222}
table{border-collapse:collapse;width:100%;margin-bottom:2rem}
th,td{border-bottom:1px solid #ddd;padding:.4rem;text-align:left;font-size:.9rem}
.stats span{margin-right:1.5rem}
</style>
</head>
<body>
<h1>trendx</h1>
<p class="stats">
<span>pending: {{.Status.Queue.Pending}}</span>
<span>posted: {{.Status.Queue.Posted}}</span>
<span>failed: {{.Status.Queue.Failed}}</span>
<span>dedup: {{.Status.DedupSize}}</span>
{{with .Status.Scheduler}}<span>scheduler: {{if .Running}}running{{else}}idle{{end}}{{if .QuietNow}} (quiet hours){{end}}</span>{{end}}
</p>

<h2>Latest trends</h2>
<table>
<tr><th>Score</th><th>Source</th><th>Title</th><th>Volume</th><th>Seen</th></tr>
{{range .Trends}}<tr>
<td>{{score .Score}}</td>
<td>{{.Source}}</td>
<td>{{if .URL}}<a href="{{.URL}}">{{.Title}}</a>{{else}}{{.Title}}{{end}}</td>
<td>{{.SocialVolume}}</td>
<td>{{.CreatedAt.Format "2006-01-02 15:04"}}</td>
</tr>{{else}}<tr><td colspan="5">No trends collected yet.</td></tr>{{end}}
</table>

<h2>Queue</h2>
<table>
<tr><th>#</th><th>Status</th><th>Scheduled</th><th>Post</th><th>Preview</th></tr>
{{range .Queue}}<tr>
<td>{{.ID}}</td>
<td>{{.Status}}</td>
<td>{{.ScheduledAt.Format "2006-01-02 15:04"}}</td>
<td>{{.PostID}}</td>
<td>{{.Preview}}</td>
</tr>{{else}}<tr><td colspan="5">Queue is empty.</td></tr>{{end}}
</table>

<h2>Sources</h2>
<table>
<tr><th>Source</th><th>Authority</th><th>Records</th></tr>
{{range .Sources}}<tr><td>{{.Name}}</td><td>{{score .Authority}}</td><td>{{.Records}}</td></tr>{{end}}
</table>
</body>
</html>
`))

type dashboardData struct {
	Status  *status
	Trends  []source.Record
	Queue   []store.QueueEntry
	Sources []sourceInfo
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	st, err := s.status(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	trends, err := s.deps.Store.ListRecords(ctx, store.ListOpts{Limit: 25})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	queue, err := s.deps.Store.ListQueue(ctx, store.QueueOpts{Limit: 25})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	infos, err := s.sourceInfos(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, dashboardData{Status: st, Trends: trends, Queue: queue, Sources: infos}); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("render dashboard")
	}
}
