// Command hackare is a privacy-first terminal client for
// OpenAI-compatible chat endpoints: interactive shell, share-link
// codec, sandboxed tool functions, and an embedded web UI server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hackare/hackare/internal/domain/chat"
)

const (
	appName    = "hackare"
	appVersion = "0.9.0"
)

// cliFlags carries every common flag. Flags supersede environment and
// share-link values; --offline additionally pins the egress policy.
type cliFlags struct {
	offline               bool
	allowRemoteMCP        bool
	allowRemoteEmbeddings bool
	provider              string
	apiKey                string
	baseURL               string
	model                 string
	system                string
	port                  int
	verbose               bool
	yolo                  bool
	tui                   bool
}

func main() {
	flags := &cliFlags{}

	rootCmd := &cobra.Command{
		Use:           appName + " [share-link]",
		Short:         "hacka.re: privacy-first chat for OpenAI-compatible endpoints",
		Long:          "A terminal chat client that keeps everything local: encrypted share links, namespaced storage, sandboxed tool functions, and an egress policy that never phones home.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, flags, args)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&flags.offline, "offline", false, "restrict all LLM traffic to localhost")
	pf.BoolVar(&flags.allowRemoteMCP, "allow-remote-mcp", false, "permit MCP traffic to non-localhost hosts")
	pf.BoolVar(&flags.allowRemoteEmbeddings, "allow-remote-embeddings", false, "permit embeddings traffic to non-localhost hosts")
	pf.StringVar(&flags.provider, "api-provider", "", "provider id from the catalog (openai, groq, ollama, ...)")
	pf.StringVar(&flags.apiKey, "api-key", "", "API key for the endpoint")
	pf.StringVar(&flags.baseURL, "base-url", "", "endpoint base URL")
	pf.StringVar(&flags.model, "model", "", "model id")
	pf.StringVar(&flags.system, "system", "", "base system prompt")
	pf.IntVar(&flags.port, "port", 0, "asset server port")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	rootCmd.Flags().BoolVarP(&flags.yolo, "yolo", "y", false, "dispatch tool calls without confirmation")
	rootCmd.Flags().BoolVar(&flags.tui, "tui", false, "full-screen TUI front-end")

	chatCmd := &cobra.Command{
		Use:   "chat [share-link]",
		Short: "Interactive chat shell (default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, flags, args)
		},
	}
	chatCmd.Flags().BoolVarP(&flags.yolo, "yolo", "y", false, "dispatch tool calls without confirmation")
	chatCmd.Flags().BoolVar(&flags.tui, "tui", false, "full-screen TUI front-end")
	rootCmd.AddCommand(chatCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the embedded web client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags, false)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "browse",
		Short: "Serve the embedded web client and open a browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags, true)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(chat.ExitCode(err))
	}
}
