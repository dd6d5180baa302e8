package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/consentd/internal/client"
	"github.com/alfredjeanlab/consentd/internal/ui"
)

var (
	serverAddr string
	httpURL    string
	transport  string
	token      string
	configPath string
	jsonOutput bool

	consentClient client.ConsentClient
)

func defaultHTTPURL() string {
	if s := os.Getenv("CONSENTD_HTTP_URL"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

func defaultServer() string {
	if s := os.Getenv("CONSENTD_SERVER"); s != "" {
		return s
	}
	return "localhost:9090"
}

// noClient is installed as PersistentPreRunE on commands that do not talk to
// a running server.
func noClient(*cobra.Command, []string) error { return nil }

var rootCmd = &cobra.Command{
	Use:           "consentd <command>",
	Short:         "Query patient consent and access-request state on the consent ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.SetColor(ui.ShouldUseColor())
		switch transport {
		case "http":
			consentClient = client.NewHTTPClient(httpURL, token)
		case "grpc":
			c, err := client.NewGRPCClient(serverAddr, token)
			if err != nil {
				return fmt.Errorf("failed to connect to server: %w", err)
			}
			consentClient = c
		default:
			return fmt.Errorf("unknown transport %q (must be http or grpc)", transport)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if consentClient != nil {
			consentClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", defaultHTTPURL(), "HTTP server URL")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", defaultServer(), "gRPC server address")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "http", "transport protocol (http or grpc)")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("CONSENTD_AUTH_TOKEN"), "bearer token for the API")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML config file (serve, index sync)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "query", Title: "Queries:"},
		&cobra.Group{ID: "index", Title: "Index:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Queries
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(consentsCmd)
	rootCmd.AddCommand(requestsCmd)
	rootCmd.AddCommand(historyCmd)

	// Index
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(auditCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
