package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	grpcapi "github.com/lemonberrylabs/miniexpr/pkg/api/grpc"
	"github.com/lemonberrylabs/miniexpr/pkg/types"
)

func newRemoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote EXPR",
		Short: "Evaluate an expression through a running gRPC Calculator",
		Args:  cobra.ExactArgs(1),
		RunE:  runRemote,
	}
	addVarFlags(cmd)
	cmd.Flags().String("addr", "", "Calculator address (default localhost:8788, env MINIEXPR_GRPC_ADDR)")
	cmd.Flags().String("environment", "", "Stored environment to evaluate against")
	cmd.Flags().Bool("named", false, "Treat EXPR as the name of a stored expression")
	cmd.Flags().Duration("timeout", 10*time.Second, "Request timeout")
	cmd.Flags().BoolP("quiet", "q", false, "Suppress diagnostics")
	return cmd
}

func runRemote(cmd *cobra.Command, args []string) error {
	addr := envOrDefault("MINIEXPR_GRPC_ADDR", "localhost:8788")
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		addr = v
	}
	env, err := loadVars(cmd)
	if err != nil {
		return err
	}

	vars := make(map[string]interface{}, len(env))
	for k, v := range env {
		vars[k] = types.Number(v).ToGoValue()
	}
	fields := map[string]interface{}{"variables": vars}
	if envID, _ := cmd.Flags().GetString("environment"); envID != "" {
		fields["environment"] = envID
	}
	named, _ := cmd.Flags().GetBool("named")
	if named {
		fields["name"] = args[0]
	} else {
		fields["expression"] = args[0]
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	client := grpcapi.NewClient(conn)
	var resp *structpb.Struct
	if named {
		resp, err = client.EvaluateNamed(ctx, req)
	} else {
		resp, err = client.Evaluate(ctx, req)
	}
	if err != nil {
		return err
	}

	sink := diagnosticSink(cmd, cmd.ErrOrStderr())
	for _, v := range resp.GetFields()["diagnostics"].GetListValue().GetValues() {
		d := v.GetStructValue().GetFields()
		sink(types.Diagnostic{
			Tag:     types.Tag(d["tag"].GetStringValue()),
			Message: d["message"].GetStringValue(),
		})
	}

	result, err := types.NumberFromJSON(resp.GetFields()["result"].AsInterface())
	if err != nil {
		return fmt.Errorf("unexpected result: %w", err)
	}
	resultColor.Fprintln(cmd.OutOrStdout(), result.String())
	return nil
}
