package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/miniexpr/pkg/expr"
	"github.com/lemonberrylabs/miniexpr/pkg/parser"
	"github.com/lemonberrylabs/miniexpr/pkg/runtime"
	"github.com/lemonberrylabs/miniexpr/pkg/types"
)

var (
	warnColor   = color.New(color.FgYellow)
	errorColor  = color.New(color.FgRed)
	resultColor = color.New(color.FgGreen, color.Bold)
	treeColor   = color.New(color.FgCyan)
)

func newEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval EXPR...",
		Short: "Evaluate one or more expressions",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runEval,
	}
	addVarFlags(cmd)
	cmd.Flags().Bool("tree", false, "Print the parsed tree before each result")
	cmd.Flags().BoolP("quiet", "q", false, "Suppress diagnostics")
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run SHEET",
		Short: "Run a sheet file and print its output lines",
		Args:  cobra.ExactArgs(1),
		RunE:  runSheet,
	}
	addVarFlags(cmd)
	cmd.Flags().BoolP("quiet", "q", false, "Suppress diagnostics")
	return cmd
}

func addVarFlags(cmd *cobra.Command) {
	cmd.Flags().StringArray("var", nil, "Variable binding name=value (repeatable)")
	cmd.Flags().String("vars", "", "YAML or JSON file of variable bindings")
}

// loadVars reads --vars and overlays --var bindings on top.
func loadVars(cmd *cobra.Command) (expr.Environment, error) {
	env := expr.Environment{}

	if path, _ := cmd.Flags().GetString("vars"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading vars: %w", err)
		}
		fileEnv, err := parser.ParseEnvironment(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for k, v := range fileEnv {
			env[k] = v
		}
	}

	pairs, _ := cmd.Flags().GetStringArray("var")
	flagEnv, err := parser.ParseAssignments(pairs)
	if err != nil {
		return nil, err
	}
	for k, v := range flagEnv {
		env[k] = v
	}
	return env, nil
}

// diagnosticSink prints diagnostics to w, colored by class.
func diagnosticSink(cmd *cobra.Command, w io.Writer) types.Sink {
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		return types.Discard
	}
	return func(d types.Diagnostic) {
		c := warnColor
		if d.Tag.Class() == types.ClassSyntax {
			c = errorColor
		}
		c.Fprintln(w, d.Message)
	}
}

func runEval(cmd *cobra.Command, args []string) error {
	env, err := loadVars(cmd)
	if err != nil {
		return err
	}
	showTree, _ := cmd.Flags().GetBool("tree")
	sink := diagnosticSink(cmd, cmd.ErrOrStderr())
	out := cmd.OutOrStdout()

	for _, source := range args {
		e := expr.Parse(source, sink)
		if showTree {
			treeColor.Fprintln(out, e.String())
		}
		resultColor.Fprintln(out, types.Number(e.Evaluate(env, sink)).String())
	}
	return nil
}

func runSheet(cmd *cobra.Command, args []string) error {
	env, err := loadVars(cmd)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading sheet: %w", err)
	}

	sink := diagnosticSink(cmd, cmd.ErrOrStderr())
	sh, err := parser.Parse(data, sink)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := runtime.NewEngine(sh, sink).Execute(ctx, env)
	if result != nil {
		for _, line := range result.Lines {
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
	}
	return err
}

