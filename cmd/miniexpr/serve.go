package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/miniexpr/pkg/api"
	grpcapi "github.com/lemonberrylabs/miniexpr/pkg/api/grpc"
	"github.com/lemonberrylabs/miniexpr/pkg/store"
	"github.com/lemonberrylabs/miniexpr/pkg/types"
	"github.com/lemonberrylabs/miniexpr/web"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API, web UI and gRPC Calculator",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().Int("port", 0, "HTTP server port (default 8787, env PORT)")
	cmd.Flags().Int("grpc-port", 0, "gRPC server port (default 8788, env GRPC_PORT)")
	cmd.Flags().String("host", "", "Bind address (default 0.0.0.0, env HOST)")
	cmd.Flags().String("sheets-dir", "", "Directory of sheet YAML/JSON files to load (env SHEETS_DIR)")
	cmd.Flags().Bool("access-log", false, "Log every HTTP request")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	port := envOrDefault("PORT", "8787")
	if v, _ := cmd.Flags().GetInt("port"); v != 0 {
		port = fmt.Sprintf("%d", v)
	}

	grpcPort := envOrDefault("GRPC_PORT", "8788")
	if v, _ := cmd.Flags().GetInt("grpc-port"); v != 0 {
		grpcPort = fmt.Sprintf("%d", v)
	}

	host := envOrDefault("HOST", "0.0.0.0")
	if v, _ := cmd.Flags().GetString("host"); v != "" {
		host = v
	}

	sheetsDir := os.Getenv("SHEETS_DIR")
	if v, _ := cmd.Flags().GetString("sheets-dir"); v != "" {
		sheetsDir = v
	}
	accessLog, _ := cmd.Flags().GetBool("access-log")

	addr := fmt.Sprintf("%s:%s", host, port)
	grpcAddr := fmt.Sprintf("%s:%s", host, grpcPort)

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	s := store.New()
	server := api.New(s, api.Options{AccessLog: accessLog, Logger: &logger})

	if sheetsDir != "" {
		log.Printf("Loading sheets from %s", sheetsDir)
		if err := server.WatchDir(sheetsDir); err != nil {
			log.Printf("Warning: failed to load sheets directory: %v", err)
		}
	}

	// The web UI is optional; a template error disables it without stopping
	// the API.
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Warning: web UI disabled due to template error: %v", r)
			}
		}()
		web.New(s).Register(server.App())
	}()

	grpcServer := grpcapi.New(s, types.ZerologSink(logger, map[string]string{"transport": "grpc"}))
	go func() {
		log.Printf("gRPC server listening on %s", grpcAddr)
		if err := grpcServer.Serve(grpcAddr); err != nil {
			log.Fatalf("gRPC server error: %v", err)
		}
	}()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down miniexpr...")
		grpcServer.GracefulStop()
		if err := server.Shutdown(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	log.Printf("miniexpr listening on %s", addr)
	return server.Listen(addr)
}
