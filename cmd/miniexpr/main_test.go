package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	grpcapi "github.com/lemonberrylabs/miniexpr/pkg/api/grpc"
	"github.com/lemonberrylabs/miniexpr/pkg/expr"
	"github.com/lemonberrylabs/miniexpr/pkg/store"
)

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	color.NoColor = true
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEval(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		want     string
		wantDiag string
	}{
		{"left to right", []string{"eval", "2 + 3 * 4"}, "20\n", ""},
		{"several expressions", []string{"eval", "2 ** 3", "10 % 3"}, "8\n1\n", ""},
		{"variables", []string{"eval", "--var", "x=2", "--var", "y=3", "x * y"}, "6\n", ""},
		{"tree", []string{"eval", "--tree", "--", "-2 ^ 2"}, "(-2 ^ 2)\n4\n", ""},
		{"special value", []string{"eval", "sqrt(-1)"}, "NaN\n", ""},
		{"unknown variable", []string{"eval", "x + 1"}, "1\n", "unknown variable: x"},
		{"quiet", []string{"eval", "-q", "x + 1"}, "1\n", ""},
		{"recovery", []string{"eval", "(2 +"}, "2\n", "expected a value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut, err := execute(t, tt.args...)
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
			if out != tt.want {
				t.Errorf("stdout = %q, want %q", out, tt.want)
			}
			if tt.wantDiag == "" && errOut != "" {
				t.Errorf("unexpected diagnostics: %q", errOut)
			}
			if tt.wantDiag != "" && !strings.Contains(errOut, tt.wantDiag) {
				t.Errorf("stderr = %q, want it to mention %q", errOut, tt.wantDiag)
			}
		})
	}
}

func TestEvalVarsFile(t *testing.T) {
	path := writeFile(t, "vars.yaml", "r: 2\nh: 10\n")

	out, _, err := execute(t, "eval", "--vars", path, "--var", "h=1", "r ^ 2 * h")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "4\n" {
		t.Errorf("stdout = %q, want 4", out)
	}
}

func TestEvalBadVar(t *testing.T) {
	if _, _, err := execute(t, "eval", "--var", "novalue", "1"); err == nil {
		t.Error("expected an error for a malformed --var")
	}
}

func TestRun(t *testing.T) {
	path := writeFile(t, "circle.yaml", `
vars:
  r: 2
print:
  - { expr: "r ^ 2 * PI", as: real }
  - repeat: 2
    do:
      - set: { r: r + 1 }
      - { expr: r, as: int }
`)

	out, _, err := execute(t, "run", path)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "12.566\n3\n4\n" {
		t.Errorf("stdout = %q", out)
	}
}

func TestRunInvalidSheet(t *testing.T) {
	path := writeFile(t, "bad.yaml", "unknown: 1\n")
	if _, _, err := execute(t, "run", path); err == nil {
		t.Error("expected an error for an invalid sheet")
	}
}

func TestRemote(t *testing.T) {
	s := store.New()
	if _, err := s.CreateExpression("area", "r ^ 2 * PI", ""); err != nil {
		t.Fatal(err)
	}
	s.PutEnvironment("unit", expr.Environment{"r": 1})

	srv := grpcapi.New(s, nil)
	lis, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go srv.ServeListener(lis)
	defer srv.GracefulStop()
	addr := lis.Addr().String()

	out, _, err := execute(t, "remote", "--addr", addr, "--var", "x=2", "x + 3 * 4")
	if err != nil {
		t.Fatalf("remote: %v", err)
	}
	if out != "20\n" {
		t.Errorf("stdout = %q, want 20", out)
	}

	out, _, err = execute(t, "remote", "--addr", addr, "--named", "--environment", "unit", "area")
	if err != nil {
		t.Fatalf("remote named: %v", err)
	}
	if out != "3.1415\n" {
		t.Errorf("stdout = %q, want 3.1415", out)
	}

	if _, _, err := execute(t, "remote", "--addr", addr, "--named", "missing"); err == nil {
		t.Error("expected NotFound error for a missing expression")
	}
}
