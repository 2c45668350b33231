package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nestlog/nestlog/internal/mirror"
)

var mirrorCmd = &cobra.Command{
	Use:     "mirror",
	GroupID: "sync",
	Short:   "Run the remote mirror",
}

var mirrorServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the websocket mirror server",
	Long: `Start the mirror server that devices sync through.

Each device connects with a bearer token. Tokens are mapped to identities by
the [mirror.tokens] table in config.toml; devices whose tokens map to the same
identity share one set of documents. Without a table the token itself is the
identity.

Example usage:
  nest mirror serve                        # listen on mirror.listen (127.0.0.1:8787)
  nest mirror serve --listen :9000         # all interfaces, port 9000

Clients connect to:
  ws://<host>:<port>/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		listen := cfg.Mirror.Listen
		if cmd.Flags().Changed("listen") {
			listen, _ = cmd.Flags().GetString("listen")
		}
		host, portStr, err := net.SplitHostPort(listen)
		if err != nil {
			fatalf("invalid listen address %q: %v", listen, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			fatalf("invalid port in %q", listen)
		}

		server := mirror.NewServer(&mirror.ServerConfig{
			Host:   host,
			Port:   port,
			DBPath: cfg.Mirror.DB,
			Tokens: cfg.Mirror.Tokens,
			Logger: logs.For("mirror"),
		})
		if err := server.Start(); err != nil {
			fatalf("failed to start mirror: %v", err)
		}

		fmt.Printf("Mirror server started on %s\n", server.GetAddr())
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", server.GetAddr())
		fmt.Printf("Health check: http://%s/health\n", server.GetAddr())
		fmt.Printf("Documents: %s\n", cfg.Mirror.DB)
		if len(cfg.Mirror.Tokens) == 0 {
			fmt.Println("Warning: no [mirror.tokens] configured; any token is accepted as its own identity")
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		<-ctx.Done()

		fmt.Println("\nShutting down mirror server...")
		if err := server.Stop(); err != nil {
			fatalf("error during shutdown: %v", err)
		}
		fmt.Println("Mirror server stopped")
	},
}

func init() {
	mirrorServeCmd.Flags().String("listen", "", "Address to listen on (default: mirror.listen)")

	mirrorCmd.AddCommand(mirrorServeCmd)
	rootCmd.AddCommand(mirrorCmd)
}
