// Package web provides the embedded web UI for browsing stored expressions,
// environments and sheets.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lemonberrylabs/miniexpr/pkg/api"
	"github.com/lemonberrylabs/miniexpr/pkg/store"
	"github.com/lemonberrylabs/miniexpr/pkg/types"
)

//go:embed templates/*.html
var templateFS embed.FS

// Handler serves the web UI pages.
type Handler struct {
	store *store.Store
	pages map[string]*template.Template
}

type pageData struct {
	NavActive string
	Data      interface{}
}

// pages lists the page templates. Each is parsed with its own copy of the
// layout so that blocks defined by different pages do not collide.
var pages = []string{"dashboard.html", "expression.html", "sheet.html", "not_found.html"}

// New creates a new web UI handler. It panics if a template fails to parse.
func New(s *store.Store) *Handler {
	funcMap := template.FuncMap{
		"shortName":  shortName,
		"timeAgo":    timeAgo,
		"formatTime": formatTime,
		"duration":   duration,
		"stateClass": stateClass,
		"stateIcon":  stateIcon,
		"truncate":   truncate,
		"countLines": countLines,
		"number":     number,
		"tagClass":   tagClass,
	}

	h := &Handler{store: s, pages: make(map[string]*template.Template, len(pages))}
	for _, page := range pages {
		h.pages[page] = template.Must(
			template.New("").Funcs(funcMap).ParseFS(templateFS, "templates/layout.html", "templates/"+page),
		)
	}
	return h
}

func (h *Handler) render(c *fiber.Ctx, page string, navActive string, data interface{}) error {
	tmpl, ok := h.pages[page]
	if !ok {
		return c.Status(500).SendString(fmt.Sprintf("unknown page %q", page))
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, page, pageData{NavActive: navActive, Data: data}); err != nil {
		return c.Status(500).SendString(fmt.Sprintf("template error: %v", err))
	}

	c.Set("Content-Type", "text/html; charset=utf-8")
	return c.Send(buf.Bytes())
}

// Register adds web UI routes to the Fiber app.
func (h *Handler) Register(app *fiber.App) {
	app.Get("/ui", h.dashboard)
	app.Get("/ui/expressions/:expression", h.expressionDetail)
	app.Get("/ui/sheets/:sheet", h.sheetDetail)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.Redirect("/ui")
	})
}

type dashboardContent struct {
	Expressions    []*store.Expression
	Environments   []*store.Environment
	Sheets         []*sheetView
	ActiveCount    int
	SucceededCount int
	FailedCount    int
}

type sheetView struct {
	*store.Sheet
	ID       string
	RunCount int
}

type expressionContent struct {
	Expression   *store.Expression
	ID           string
	Environment  string
	Environments []*store.Environment
	Evaluation   *api.Evaluation
	Error        string
}

type sheetContent struct {
	Sheet *store.Sheet
	ID    string
	Runs  []*runView
}

type runView struct {
	*store.Run
	ID string
}

type notFoundContent struct {
	Message string
}

func (h *Handler) dashboard(c *fiber.Ctx) error {
	content := dashboardContent{
		Expressions:  h.store.ListExpressions(),
		Environments: h.store.ListEnvironments(),
	}

	for _, sh := range h.store.ListSheets() {
		runs := h.store.ListRuns(sh.Name)
		for _, r := range runs {
			switch r.State {
			case store.RunActive:
				content.ActiveCount++
			case store.RunSucceeded:
				content.SucceededCount++
			case store.RunFailed:
				content.FailedCount++
			}
		}
		content.Sheets = append(content.Sheets, &sheetView{
			Sheet:    sh,
			ID:       shortName(sh.Name),
			RunCount: len(runs),
		})
	}

	return h.render(c, "dashboard.html", "dashboard", content)
}

func (h *Handler) expressionDetail(c *fiber.Ctx) error {
	id := c.Params("expression")

	e, err := h.store.GetExpression(store.ExpressionName(id))
	if err != nil {
		return h.render(c, "not_found.html", "", notFoundContent{
			Message: fmt.Sprintf("Expression '%s' not found", id),
		})
	}

	content := expressionContent{
		Expression:   e,
		ID:           id,
		Environment:  c.Query("environment"),
		Environments: h.store.ListEnvironments(),
	}

	env, err := api.ResolveEnvironment(h.store, content.Environment, nil)
	if err != nil {
		content.Error = err.Error()
	} else {
		ev := api.EvaluateStored(e, env, nil)
		content.Evaluation = &ev
	}

	return h.render(c, "expression.html", "expressions", content)
}

func (h *Handler) sheetDetail(c *fiber.Ctx) error {
	id := c.Params("sheet")

	sh, err := h.store.GetSheet(store.SheetName(id))
	if err != nil {
		return h.render(c, "not_found.html", "", notFoundContent{
			Message: fmt.Sprintf("Sheet '%s' not found", id),
		})
	}

	runs := h.store.ListRuns(sh.Name)
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartTime.After(runs[j].StartTime)
	})

	var views []*runView
	for _, r := range runs {
		views = append(views, &runView{Run: r, ID: shortName(r.Name)})
	}

	return h.render(c, "sheet.html", "sheets", sheetContent{
		Sheet: sh,
		ID:    id,
		Runs:  views,
	})
}

// --- Template Helpers ---

func shortName(fullName string) string {
	if i := strings.LastIndex(fullName, "/"); i >= 0 {
		return fullName[i+1:]
	}
	return fullName
}

func timeAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Hours()/24), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func duration(start, end time.Time) string {
	if end.IsZero() {
		return fmt.Sprintf("%s (running)", formatDuration(time.Since(start)))
	}
	return formatDuration(end.Sub(start))
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}

func stateClass(state store.RunState) string {
	switch state {
	case store.RunActive:
		return "state-active"
	case store.RunSucceeded:
		return "state-succeeded"
	case store.RunFailed:
		return "state-failed"
	default:
		return ""
	}
}

func stateIcon(state store.RunState) template.HTML {
	switch state {
	case store.RunActive:
		return "&#9654;"
	case store.RunSucceeded:
		return "&#10003;"
	case store.RunFailed:
		return "&#10007;"
	default:
		return "&#8226;"
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

func number(v float64) string {
	return types.Number(v).String()
}

func tagClass(tag types.Tag) string {
	return "diag-" + strings.ToLower(tag.Class().String())
}

