package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "trendx",
		Short:         "Aggregate trending topics and publish posts about them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	root.AddCommand(initCmd())
	root.AddCommand(fetchCmd())
	root.AddCommand(scoreCmd())
	root.AddCommand(queueCmd())
	root.AddCommand(postCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(startCmd())

	return root
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.Context())
		},
	}
}

func fetchCmd() *cobra.Command {
	var (
		limit      int
		sources    []string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch, deduplicate and rank trends once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd.Context(), limit, sources, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "max trends to return")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "specific sources (e.g., reddit,rss,hn)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func scoreCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Show the score breakdown of stored trends",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd.Context(), limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "max trends to show")
	return cmd
}

func queueCmd() *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List the post queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueue(cmd.Context(), status, limit)
		},
	}

	cmd.Flags().StringVar(&status, "status", "pending", "pending, posted, failed or empty for all")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to show")
	return cmd
}

func postCmd() *cobra.Command {
	var (
		dryRun bool
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "post",
		Short: "Publish due queue entries now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPost(cmd.Context(), dryRun, limit)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print posts without publishing")
	cmd.Flags().IntVar(&limit, "limit", 0, "max posts (default: posts_per_hour)")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func startCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler and the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
