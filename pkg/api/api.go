// Package api implements the REST API for evaluating expressions and
// managing stored expressions, environments and sheets.
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/rs/zerolog"

	"github.com/lemonberrylabs/miniexpr/pkg/expr"
	"github.com/lemonberrylabs/miniexpr/pkg/parser"
	"github.com/lemonberrylabs/miniexpr/pkg/runtime"
	"github.com/lemonberrylabs/miniexpr/pkg/store"
	"github.com/lemonberrylabs/miniexpr/pkg/types"
)

// Options configures a Server.
type Options struct {
	// AccessLog enables one log line per HTTP request.
	AccessLog bool

	// Logger receives evaluation diagnostics. Nil discards them.
	Logger *zerolog.Logger
}

// Server is the REST API server.
type Server struct {
	app   *fiber.App
	store *store.Store
	log   zerolog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // active runs, for cancel
}

// New creates a new API server.
func New(s *store.Store, opts Options) *Server {
	srv := &Server{
		store:   s,
		log:     zerolog.Nop(),
		cancels: make(map[string]context.CancelFunc),
	}
	if opts.Logger != nil {
		srv.log = *opts.Logger
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})
	if opts.AccessLog {
		app.Use(logger.New())
	}

	app.Post("/v1/evaluate", srv.evaluate)

	// Expressions
	app.Post("/v1/expressions", srv.createExpression)
	app.Get("/v1/expressions", srv.listExpressions)
	app.Post("/v1/expressions/:expression\\:evaluate", srv.evaluateExpression)
	app.Get("/v1/expressions/:expression", srv.getExpression)
	app.Patch("/v1/expressions/:expression", srv.updateExpression)
	app.Delete("/v1/expressions/:expression", srv.deleteExpression)

	// Environments
	app.Get("/v1/environments", srv.listEnvironments)
	app.Put("/v1/environments/:environment", srv.putEnvironment)
	app.Get("/v1/environments/:environment", srv.getEnvironment)
	app.Delete("/v1/environments/:environment", srv.deleteEnvironment)

	// Sheets and runs
	app.Post("/v1/sheets", srv.createSheet)
	app.Get("/v1/sheets", srv.listSheets)
	app.Get("/v1/sheets/:sheet", srv.getSheet)
	app.Delete("/v1/sheets/:sheet", srv.deleteSheet)
	app.Post("/v1/sheets/:sheet/runs", srv.createRun)
	app.Get("/v1/sheets/:sheet/runs", srv.listRuns)
	app.Post("/v1/sheets/:sheet/runs/:run\\:cancel", srv.cancelRun)
	app.Get("/v1/sheets/:sheet/runs/:run", srv.getRun)

	srv.app = app
	return srv
}

// Listen starts the HTTP server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

// diagnosticSink logs diagnostics for the named resource.
func (s *Server) diagnosticSink(resource string) types.Sink {
	return types.ZerologSink(s.log, map[string]string{"resource": resource})
}

// --- Evaluate ---

type evaluateRequest struct {
	Expression  string                  `json:"expression"`
	Variables   map[string]types.Number `json:"variables"`
	Environment string                  `json:"environment"`
}

func (s *Server) evaluate(c *fiber.Ctx) error {
	var req evaluateRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
	}
	if err := CheckSourceLength(req.Expression); err != nil {
		return apiError(c, 400, "INVALID_ARGUMENT", err.Error())
	}

	env, err := ResolveEnvironment(s.store, req.Environment, FromNumbers(req.Variables))
	if err != nil {
		return storeError(c, err)
	}

	ev := EvaluateSource(req.Expression, env, s.diagnosticSink("evaluate"))
	return c.JSON(evaluationToJSON(ev))
}

// --- Expression Handlers ---

type expressionRequest struct {
	Source      string `json:"source"`
	Description string `json:"description"`
}

func (s *Server) createExpression(c *fiber.Ctx) error {
	id := c.Query("expressionId")
	if !validID.MatchString(id) {
		return apiError(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid or missing expressionId %q", id))
	}

	var req expressionRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
	}
	if strings.TrimSpace(req.Source) == "" {
		return apiError(c, 400, "INVALID_ARGUMENT", "source is required")
	}
	if err := CheckSourceLength(req.Source); err != nil {
		return apiError(c, 400, "INVALID_ARGUMENT", err.Error())
	}

	e, err := s.store.CreateExpression(id, req.Source, req.Description)
	if err != nil {
		return storeError(c, err)
	}
	c.Set(fiber.HeaderETag, e.Fingerprint)
	return c.JSON(expressionToJSON(e))
}

func (s *Server) getExpression(c *fiber.Ctx) error {
	e, err := s.store.GetExpression(store.ExpressionName(c.Params("expression")))
	if err != nil {
		return storeError(c, err)
	}
	c.Set(fiber.HeaderETag, e.Fingerprint)
	return c.JSON(expressionToJSON(e))
}

func (s *Server) listExpressions(c *fiber.Ctx) error {
	expressions := s.store.ListExpressions()

	items := make([]fiber.Map, len(expressions))
	for i, e := range expressions {
		items[i] = expressionToJSON(e)
	}
	return c.JSON(fiber.Map{
		"expressions": items,
	})
}

func (s *Server) updateExpression(c *fiber.Ctx) error {
	name := store.ExpressionName(c.Params("expression"))

	var req expressionRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
	}

	if err := CheckSourceLength(req.Source); err != nil {
		return apiError(c, 400, "INVALID_ARGUMENT", err.Error())
	}
	source := req.Source
	if strings.TrimSpace(source) == "" {
		current, err := s.store.GetExpression(name)
		if err != nil {
			return storeError(c, err)
		}
		source = current.Source
	}

	e, err := s.store.UpdateExpression(name, source, req.Description)
	if err != nil {
		return storeError(c, err)
	}
	c.Set(fiber.HeaderETag, e.Fingerprint)
	return c.JSON(expressionToJSON(e))
}

func (s *Server) deleteExpression(c *fiber.Ctx) error {
	if err := s.store.DeleteExpression(store.ExpressionName(c.Params("expression"))); err != nil {
		return storeError(c, err)
	}
	return c.JSON(fiber.Map{})
}

type evaluateStoredRequest struct {
	Variables   map[string]types.Number `json:"variables"`
	Environment string                  `json:"environment"`
}

func (s *Server) evaluateExpression(c *fiber.Ctx) error {
	e, err := s.store.GetExpression(store.ExpressionName(c.Params("expression")))
	if err != nil {
		return storeError(c, err)
	}

	var req evaluateStoredRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apiError(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
		}
	}

	env, err := ResolveEnvironment(s.store, req.Environment, FromNumbers(req.Variables))
	if err != nil {
		return storeError(c, err)
	}

	ev := EvaluateStored(e, env, s.diagnosticSink(e.Name))
	c.Set(fiber.HeaderETag, e.Fingerprint)
	return c.JSON(evaluationToJSON(ev))
}

// --- Environment Handlers ---

type environmentRequest struct {
	Variables map[string]types.Number `json:"variables"`
}

func (s *Server) putEnvironment(c *fiber.Ctx) error {
	id := c.Params("environment")
	if !validID.MatchString(id) {
		return apiError(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid environment ID %q", id))
	}

	var req environmentRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
	}

	env := s.store.PutEnvironment(id, FromNumbers(req.Variables))
	return c.JSON(environmentToJSON(env))
}

func (s *Server) getEnvironment(c *fiber.Ctx) error {
	env, err := s.store.GetEnvironment(store.EnvironmentName(c.Params("environment")))
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(environmentToJSON(env))
}

func (s *Server) listEnvironments(c *fiber.Ctx) error {
	envs := s.store.ListEnvironments()

	items := make([]fiber.Map, len(envs))
	for i, env := range envs {
		items[i] = environmentToJSON(env)
	}
	return c.JSON(fiber.Map{
		"environments": items,
	})
}

func (s *Server) deleteEnvironment(c *fiber.Ctx) error {
	if err := s.store.DeleteEnvironment(store.EnvironmentName(c.Params("environment"))); err != nil {
		return storeError(c, err)
	}
	return c.JSON(fiber.Map{})
}

// --- Sheet Handlers ---

type sheetRequest struct {
	SourceContents string `json:"sourceContents"`
	Description    string `json:"description"`
}

func (s *Server) createSheet(c *fiber.Ctx) error {
	id := c.Query("sheetId")
	if !validID.MatchString(id) {
		return apiError(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid or missing sheetId %q", id))
	}

	var req sheetRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
	}
	if req.SourceContents == "" {
		return apiError(c, 400, "INVALID_ARGUMENT", "sourceContents is required")
	}

	parsed, err := parser.Parse([]byte(req.SourceContents), s.diagnosticSink(store.SheetName(id)))
	if err != nil {
		return apiError(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid sheet definition: %v", err))
	}

	sh, err := s.store.CreateSheet(id, req.SourceContents, req.Description, parsed)
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(sheetToJSON(sh))
}

func (s *Server) getSheet(c *fiber.Ctx) error {
	sh, err := s.store.GetSheet(store.SheetName(c.Params("sheet")))
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(sheetToJSON(sh))
}

func (s *Server) listSheets(c *fiber.Ctx) error {
	sheets := s.store.ListSheets()

	items := make([]fiber.Map, len(sheets))
	for i, sh := range sheets {
		items[i] = sheetToJSON(sh)
	}
	return c.JSON(fiber.Map{
		"sheets": items,
	})
}

func (s *Server) deleteSheet(c *fiber.Ctx) error {
	if err := s.store.DeleteSheet(store.SheetName(c.Params("sheet"))); err != nil {
		return storeError(c, err)
	}
	return c.JSON(fiber.Map{})
}

// --- Run Handlers ---

func (s *Server) createRun(c *fiber.Ctx) error {
	sheetName := store.SheetName(c.Params("sheet"))

	var req evaluateStoredRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apiError(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
		}
	}

	sh, err := s.store.GetSheet(sheetName)
	if err != nil {
		return storeError(c, err)
	}
	env, err := ResolveEnvironment(s.store, req.Environment, FromNumbers(req.Variables))
	if err != nil {
		return storeError(c, err)
	}

	run, err := s.store.CreateRun(sheetName, env)
	if err != nil {
		return storeError(c, err)
	}

	var diags types.Collector
	engine := runtime.NewEngine(sh.Sheet, types.Multi(diags.Sink(), s.diagnosticSink(run.Name)))
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[run.Name] = cancel
	s.mu.Unlock()

	// Execute the sheet asynchronously
	go s.executeRun(ctx, run.Name, engine, env, &diags)

	return c.JSON(runToJSON(run))
}

func (s *Server) executeRun(ctx context.Context, runName string, engine *runtime.Engine, env expr.Environment, diags *types.Collector) {
	result, err := engine.Execute(ctx, env)

	// An ACTIVE run always has an entry in s.cancels.
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	s.cancels[runName]()
	delete(s.cancels, runName)

	if errors.Is(err, context.Canceled) {
		err = runtime.ErrCancelled
	}
	if err != nil {
		_ = s.store.FailRun(runName, err, diags.Diagnostics())
		return
	}
	_ = s.store.CompleteRun(runName, result.Lines, result.Vars, diags.Diagnostics())
}

func (s *Server) getRun(c *fiber.Ctx) error {
	run, err := s.store.GetRun(runName(c))
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(runToJSON(run))
}

func (s *Server) listRuns(c *fiber.Ctx) error {
	sheetName := store.SheetName(c.Params("sheet"))
	if _, err := s.store.GetSheet(sheetName); err != nil {
		return storeError(c, err)
	}

	runs := s.store.ListRuns(sheetName)
	items := make([]fiber.Map, len(runs))
	for i, run := range runs {
		items[i] = runToJSON(run)
	}
	return c.JSON(fiber.Map{
		"runs": items,
	})
}

func (s *Server) cancelRun(c *fiber.Ctx) error {
	name := runName(c)

	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.store.GetRun(name)
	if err != nil {
		return storeError(c, err)
	}
	if run.State != store.RunActive {
		return apiError(c, 400, "FAILED_PRECONDITION", fmt.Sprintf("run '%s' is not active (state: %s)", name, run.State))
	}
	if cancel, ok := s.cancels[name]; ok {
		cancel()
	}

	return c.JSON(runToJSON(run))
}

// --- Directory Loading ---

var validID = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,127}$`)

// WatchDir loads all .yaml, .yml and .json sheet files from the given
// directory. File name (sans extension) becomes the sheet ID.
func (s *Server) WatchDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading sheets directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}

		base := strings.TrimSuffix(name, ext)
		sheetID := strings.ToLower(base)
		if sheetID != base {
			log.Printf("Warning: lowercased sheet ID %q (from file %q)", sheetID, name)
		}
		if !validID.MatchString(sheetID) {
			log.Printf("Warning: skipping file %q: invalid sheet ID %q", name, sheetID)
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.Printf("Warning: could not read %q: %v", name, err)
			continue
		}

		parsed, err := parser.Parse(data, s.diagnosticSink(store.SheetName(sheetID)))
		if err != nil {
			log.Printf("Warning: could not parse %q: %v", name, err)
			continue
		}

		if _, err := s.store.CreateSheet(sheetID, string(data), "", parsed); err != nil {
			log.Printf("Warning: could not load %q: %v", name, err)
			continue
		}
		loaded++
		log.Printf("Loaded sheet %q from %s", sheetID, name)
	}

	log.Printf("Loaded %d sheet(s) from %s", loaded, dir)
	return nil
}

// --- Helpers ---

func runName(c *fiber.Ctx) string {
	return fmt.Sprintf("%s/runs/%s", store.SheetName(c.Params("sheet")), c.Params("run"))
}

func apiError(c *fiber.Ctx, code int, status, message string) error {
	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
			"status":  status,
		},
	})
}

// storeError maps store and lookup errors onto HTTP statuses.
func storeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apiError(c, 404, "NOT_FOUND", err.Error())
	case errors.Is(err, store.ErrAlreadyExists):
		return apiError(c, 409, "ALREADY_EXISTS", err.Error())
	case errors.Is(err, store.ErrNotActive):
		return apiError(c, 400, "FAILED_PRECONDITION", err.Error())
	default:
		return apiError(c, 500, "INTERNAL", err.Error())
	}
}

func evaluationToJSON(ev Evaluation) fiber.Map {
	return fiber.Map{
		"result":      types.Number(ev.Result),
		"tree":        ev.Tree,
		"variables":   nonNil(ev.Variables),
		"diagnostics": diagnosticsToJSON(ev.Diagnostics),
	}
}

func expressionToJSON(e *store.Expression) fiber.Map {
	return fiber.Map{
		"name":        e.Name,
		"description": e.Description,
		"source":      e.Source,
		"tree":        e.Expr.String(),
		"variables":   nonNil(e.Expr.Vars()),
		"diagnostics": diagnosticsToJSON(e.Diagnostics),
		"revisionId":  e.RevisionID,
		"fingerprint": e.Fingerprint,
		"createTime":  e.CreateTime.Format(time.RFC3339),
		"updateTime":  e.UpdateTime.Format(time.RFC3339),
	}
}

func environmentToJSON(env *store.Environment) fiber.Map {
	return fiber.Map{
		"name":       env.Name,
		"variables":  ToNumbers(env.Variables),
		"updateTime": env.UpdateTime.Format(time.RFC3339),
	}
}

func sheetToJSON(sh *store.Sheet) fiber.Map {
	result := fiber.Map{
		"name":           sh.Name,
		"description":    sh.Description,
		"sourceContents": sh.SourceCode,
		"revisionId":     sh.RevisionID,
		"fingerprint":    sh.Fingerprint,
		"createTime":     sh.CreateTime.Format(time.RFC3339),
	}
	if sh.Sheet != nil {
		result["bindingCount"] = len(sh.Sheet.Vars)
		result["stepCount"] = len(sh.Sheet.Steps)
	}
	return result
}

func runToJSON(run *store.Run) fiber.Map {
	result := fiber.Map{
		"name":            run.Name,
		"state":           run.State,
		"arguments":       ToNumbers(run.Arguments),
		"startTime":       run.StartTime.Format(time.RFC3339),
		"sheetRevisionId": run.SheetRevisionID,
	}

	if run.State == store.RunSucceeded {
		result["lines"] = nonNil(run.Lines)
		result["variables"] = ToNumbers(run.Variables)
	}
	if run.Error != "" {
		result["error"] = run.Error
	}
	if len(run.Diagnostics) > 0 {
		result["diagnostics"] = diagnosticsToJSON(run.Diagnostics)
	}
	if !run.EndTime.IsZero() {
		result["endTime"] = run.EndTime.Format(time.RFC3339)
	}
	return result
}

func diagnosticsToJSON(diags []types.Diagnostic) []types.Diagnostic {
	if diags == nil {
		return []types.Diagnostic{}
	}
	return diags
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
