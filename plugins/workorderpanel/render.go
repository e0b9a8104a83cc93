package main

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/darkden-lab/lineside/internal/workorders"
)

var panelTemplate = template.Must(template.New("panel").Parse(`<section class="workorders">
<h2>Open work orders{{with .Line}} &middot; {{.}}{{end}}</h2>
{{- if .Items}}
<table>
<thead><tr><th>Number</th><th>Part</th><th>Line</th><th>Due</th></tr></thead>
<tbody>
{{- range .Items}}
<tr><td>{{.Number}}</td><td>{{.PartNo}}</td><td>{{.Line}}</td><td>{{if .DueUtc}}{{.DueUtc.Format "2006-01-02"}}{{else}}-{{end}}</td></tr>
{{- end}}
</tbody>
</table>
<p class="total">{{len .Items}} of {{.Total}}</p>
{{- else}}
<p class="empty">No open work orders.</p>
{{- end}}
</section>
`))

type panelView struct {
	Line  string
	Items []workorders.WorkOrder
	Total int
}

func (p *Panel) render(ctx context.Context, w io.Writer, params map[string]any) error {
	if p.reader == nil {
		return errors.New("panel is not initialized")
	}
	line, _ := params["line"].(string)
	line = strings.ToUpper(strings.TrimSpace(line))

	res, err := p.reader.Search(ctx, workorders.PageRequest{
		Page:     1,
		PageSize: maxListed,
		Status:   openStatus,
		Line:     line,
	})
	if err != nil {
		return fmt.Errorf("failed to load work orders: %w", err)
	}
	return panelTemplate.Execute(w, panelView{Line: line, Items: res.Items, Total: res.TotalCount})
}
