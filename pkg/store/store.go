// Package store provides in-memory storage for named expressions,
// environments, sheets and sheet runs.
package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/fasthash/fnv1a"

	"github.com/lemonberrylabs/miniexpr/pkg/expr"
	"github.com/lemonberrylabs/miniexpr/pkg/sheet"
	"github.com/lemonberrylabs/miniexpr/pkg/types"
)

var (
	// ErrNotFound is returned when a named resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a resource whose name is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotActive is returned when finishing a run that already finished.
	ErrNotActive = errors.New("not active")
)

// RunState represents the state of a sheet run.
type RunState string

const (
	RunActive    RunState = "ACTIVE"
	RunSucceeded RunState = "SUCCEEDED"
	RunFailed    RunState = "FAILED"
)

// Expression is a stored, parsed expression.
type Expression struct {
	Name        string
	Description string
	Source      string
	RevisionID  string
	Fingerprint string
	CreateTime  time.Time
	UpdateTime  time.Time

	// Diagnostics are the reports produced while parsing Source.
	Diagnostics []types.Diagnostic

	// Expr is the parsed form of Source. It is replaced, never mutated, on
	// update, so callers may keep evaluating a value they already hold.
	Expr *expr.Expression
}

// Environment is a stored set of variable bindings.
type Environment struct {
	Name       string
	Variables  expr.Environment
	UpdateTime time.Time
}

// Sheet is a stored, parsed sheet.
type Sheet struct {
	Name        string
	Description string
	SourceCode  string
	RevisionID  string
	Fingerprint string
	CreateTime  time.Time
	Sheet       *sheet.Sheet
}

// Run is one execution of a sheet.
type Run struct {
	Name        string
	State       RunState
	Arguments   expr.Environment
	Lines       []string
	Variables   expr.Environment
	Diagnostics []types.Diagnostic
	Error       string
	StartTime   time.Time
	EndTime     time.Time

	SheetRevisionID string
}

// Store is a thread-safe in-memory storage for all resources.
type Store struct {
	mu           sync.RWMutex
	expressions  map[string]*Expression
	environments map[string]*Environment
	sheets       map[string]*Sheet
	runs         map[string]*Run

	revCounter int64
}

// New creates a new empty store.
func New() *Store {
	return &Store{
		expressions:  make(map[string]*Expression),
		environments: make(map[string]*Environment),
		sheets:       make(map[string]*Sheet),
		runs:         make(map[string]*Run),
	}
}

// Fingerprint returns a stable content hash of source, used as an ETag.
func Fingerprint(source string) string {
	return fmt.Sprintf("%016x", fnv1a.HashString64(source))
}

// ExpressionName returns the resource name of an expression ID.
func ExpressionName(id string) string { return "expressions/" + id }

// EnvironmentName returns the resource name of an environment ID.
func EnvironmentName(id string) string { return "environments/" + id }

// SheetName returns the resource name of a sheet ID.
func SheetName(id string) string { return "sheets/" + id }

func (s *Store) nextRevision() string {
	s.revCounter++
	return fmt.Sprintf("%06d-000", s.revCounter)
}

// parseSource parses source, collecting its diagnostics.
func parseSource(source string) (*expr.Expression, []types.Diagnostic) {
	var c types.Collector
	e := expr.Parse(source, c.Sink())
	return e, c.Diagnostics()
}

// CreateExpression parses and stores a new expression.
func (s *Store) CreateExpression(id, source, description string) (*Expression, error) {
	parsed, diags := parseSource(source)

	s.mu.Lock()
	defer s.mu.Unlock()

	name := ExpressionName(id)
	if _, exists := s.expressions[name]; exists {
		return nil, fmt.Errorf("expression '%s': %w", name, ErrAlreadyExists)
	}

	now := time.Now()
	e := &Expression{
		Name:        name,
		Description: description,
		Source:      source,
		RevisionID:  s.nextRevision(),
		Fingerprint: Fingerprint(source),
		CreateTime:  now,
		UpdateTime:  now,
		Diagnostics: diags,
		Expr:        parsed,
	}
	s.expressions[name] = e
	return e.clone(), nil
}

// GetExpression retrieves an expression by its full name.
func (s *Store) GetExpression(name string) (*Expression, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.expressions[name]
	if !ok {
		return nil, fmt.Errorf("expression '%s': %w", name, ErrNotFound)
	}
	return e.clone(), nil
}

// ListExpressions returns all expressions sorted by name.
func (s *Store) ListExpressions() []*Expression {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Expression, 0, len(s.expressions))
	for _, e := range s.expressions {
		result = append(result, e.clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// UpdateExpression replaces an expression's source. An empty description
// keeps the current one.
func (s *Store) UpdateExpression(name, source, description string) (*Expression, error) {
	parsed, diags := parseSource(source)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.expressions[name]
	if !ok {
		return nil, fmt.Errorf("expression '%s': %w", name, ErrNotFound)
	}

	e.Source = source
	e.Expr = parsed
	e.Diagnostics = diags
	e.Fingerprint = Fingerprint(source)
	if description != "" {
		e.Description = description
	}
	e.RevisionID = s.nextRevision()
	e.UpdateTime = time.Now()
	return e.clone(), nil
}

// DeleteExpression removes an expression.
func (s *Store) DeleteExpression(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.expressions[name]; !ok {
		return fmt.Errorf("expression '%s': %w", name, ErrNotFound)
	}
	delete(s.expressions, name)
	return nil
}

func (e *Expression) clone() *Expression {
	c := *e
	c.Diagnostics = append([]types.Diagnostic(nil), e.Diagnostics...)
	return &c
}

// PutEnvironment creates or replaces an environment. The variables are
// copied.
func (s *Store) PutEnvironment(id string, vars expr.Environment) *Environment {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := EnvironmentName(id)
	env := &Environment{
		Name:       name,
		Variables:  copyEnv(vars),
		UpdateTime: time.Now(),
	}
	s.environments[name] = env
	return env.clone()
}

// GetEnvironment retrieves an environment by its full name.
func (s *Store) GetEnvironment(name string) (*Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	env, ok := s.environments[name]
	if !ok {
		return nil, fmt.Errorf("environment '%s': %w", name, ErrNotFound)
	}
	return env.clone(), nil
}

// ListEnvironments returns all environments sorted by name.
func (s *Store) ListEnvironments() []*Environment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Environment, 0, len(s.environments))
	for _, env := range s.environments {
		result = append(result, env.clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// DeleteEnvironment removes an environment.
func (s *Store) DeleteEnvironment(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.environments[name]; !ok {
		return fmt.Errorf("environment '%s': %w", name, ErrNotFound)
	}
	delete(s.environments, name)
	return nil
}

func (e *Environment) clone() *Environment {
	c := *e
	c.Variables = copyEnv(e.Variables)
	return &c
}

func copyEnv(env expr.Environment) expr.Environment {
	out := make(expr.Environment, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

// CreateSheet stores a parsed sheet.
func (s *Store) CreateSheet(id, sourceCode, description string, parsed *sheet.Sheet) (*Sheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := SheetName(id)
	if _, exists := s.sheets[name]; exists {
		return nil, fmt.Errorf("sheet '%s': %w", name, ErrAlreadyExists)
	}
	if description == "" && parsed != nil {
		description = parsed.Description
	}

	sh := &Sheet{
		Name:        name,
		Description: description,
		SourceCode:  sourceCode,
		RevisionID:  s.nextRevision(),
		Fingerprint: Fingerprint(sourceCode),
		CreateTime:  time.Now(),
		Sheet:       parsed,
	}
	s.sheets[name] = sh
	c := *sh
	return &c, nil
}

// GetSheet retrieves a sheet by its full name.
func (s *Store) GetSheet(name string) (*Sheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sh, ok := s.sheets[name]
	if !ok {
		return nil, fmt.Errorf("sheet '%s': %w", name, ErrNotFound)
	}
	c := *sh
	return &c, nil
}

// ListSheets returns all sheets sorted by name.
func (s *Store) ListSheets() []*Sheet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Sheet, 0, len(s.sheets))
	for _, sh := range s.sheets {
		c := *sh
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// DeleteSheet removes a sheet and its runs.
func (s *Store) DeleteSheet(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sheets[name]; !ok {
		return fmt.Errorf("sheet '%s': %w", name, ErrNotFound)
	}
	delete(s.sheets, name)
	prefix := name + "/runs/"
	for runName := range s.runs {
		if strings.HasPrefix(runName, prefix) {
			delete(s.runs, runName)
		}
	}
	return nil
}

// CreateRun creates a new active run record for a sheet.
func (s *Store) CreateRun(sheetName string, args expr.Environment) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.sheets[sheetName]
	if !ok {
		return nil, fmt.Errorf("sheet '%s': %w", sheetName, ErrNotFound)
	}

	run := &Run{
		Name:            fmt.Sprintf("%s/runs/%s", sheetName, uuid.NewString()),
		State:           RunActive,
		Arguments:       copyEnv(args),
		StartTime:       time.Now(),
		SheetRevisionID: sh.RevisionID,
	}
	s.runs[run.Name] = run
	return run.clone(), nil
}

// GetRun retrieves a run by name.
func (s *Store) GetRun(name string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[name]
	if !ok {
		return nil, fmt.Errorf("run '%s': %w", name, ErrNotFound)
	}
	return run.clone(), nil
}

// ListRuns returns all runs of a sheet, oldest first.
func (s *Store) ListRuns(sheetName string) []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Run
	prefix := sheetName + "/runs/"
	for name, run := range s.runs {
		if strings.HasPrefix(name, prefix) {
			result = append(result, run.clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartTime.Equal(result[j].StartTime) {
			return result[i].StartTime.Before(result[j].StartTime)
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// CompleteRun marks a run as succeeded with its output.
func (s *Store) CompleteRun(name string, lines []string, vars expr.Environment, diags []types.Diagnostic) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.activeRun(name)
	if err != nil {
		return err
	}
	run.State = RunSucceeded
	run.EndTime = time.Now()
	run.Lines = append([]string(nil), lines...)
	run.Variables = copyEnv(vars)
	run.Diagnostics = append([]types.Diagnostic(nil), diags...)
	return nil
}

// FailRun marks a run as failed.
func (s *Store) FailRun(name string, runErr error, diags []types.Diagnostic) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.activeRun(name)
	if err != nil {
		return err
	}
	run.State = RunFailed
	run.EndTime = time.Now()
	run.Error = runErr.Error()
	run.Diagnostics = append([]types.Diagnostic(nil), diags...)
	return nil
}

func (s *Store) activeRun(name string) (*Run, error) {
	run, ok := s.runs[name]
	if !ok {
		return nil, fmt.Errorf("run '%s': %w", name, ErrNotFound)
	}
	if run.State != RunActive {
		return nil, fmt.Errorf("run '%s' (state: %s): %w", name, run.State, ErrNotActive)
	}
	return run, nil
}

func (r *Run) clone() *Run {
	c := *r
	c.Arguments = copyEnv(r.Arguments)
	c.Variables = copyEnv(r.Variables)
	c.Lines = append([]string(nil), r.Lines...)
	c.Diagnostics = append([]types.Diagnostic(nil), r.Diagnostics...)
	return &c
}
