package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"trustd/services/ctl"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var apiBaseURL string

	cmd := &cobra.Command{
		Use:           "trustdctl",
		Short:         "Utility for submitting and inspecting trustd scoring jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&apiBaseURL, "api", envOr("TRUSTD_API_URL", "http://127.0.0.1:8080"), "Base URL of the trustd API")

	cmd.AddCommand(newIngestCommand(&apiBaseURL))
	cmd.AddCommand(newSearchCommand(&apiBaseURL))
	cmd.AddCommand(newJobsCommand(&apiBaseURL))
	cmd.AddCommand(newVerifyCommand(&apiBaseURL))
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newIngestCommand(apiBaseURL *string) *cobra.Command {
	var (
		async   bool
		parents []string
	)

	cmd := &cobra.Command{
		Use:   "ingest <package-url>",
		Short: "Submit a package for trust scoring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctl.NewClient(*apiBaseURL, nil)
			if err != nil {
				return err
			}
			out, err := client.Ingest(cmd.Context(), args[0], parents, async)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	cmd.Flags().BoolVar(&async, "async", false, "Return the job id immediately instead of waiting for a result")
	cmd.Flags().StringSliceVar(&parents, "parent", nil, "Artifact id of a base model this package derives from (repeatable)")
	return cmd
}

func newSearchCommand(apiBaseURL *string) *cobra.Command {
	var (
		searchType string
		page       int
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "search [pattern]",
		Short: "Search the registry by id, regex, or list everything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctl.NewClient(*apiBaseURL, nil)
			if err != nil {
				return err
			}
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			out, err := client.Search(cmd.Context(), searchType, query, page, limit)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	cmd.Flags().StringVar(&searchType, "type", "all", "Search type: id, regex, or all")
	cmd.Flags().IntVar(&page, "page", 0, "Page number, 1-indexed")
	cmd.Flags().IntVar(&limit, "limit", 0, "Results per page")
	return cmd
}

func newJobsCommand(apiBaseURL *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage scoring jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctl.NewClient(*apiBaseURL, nil)
			if err != nil {
				return err
			}
			out, err := client.Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "requeue <job-id>",
		Short: "Put a dead job back on the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctl.NewClient(*apiBaseURL, nil)
			if err != nil {
				return err
			}
			out, err := client.Requeue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "logs <job-id>",
		Short: "Print a download URL for the job's grader output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctl.NewClient(*apiBaseURL, nil)
			if err != nil {
				return err
			}
			url, err := client.Logs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(url)
			return nil
		},
	})

	return cmd
}

func newVerifyCommand(apiBaseURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <artifact-id>",
		Short: "Check an artifact's score signature against the publisher key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctl.NewClient(*apiBaseURL, nil)
			if err != nil {
				return err
			}
			artifact, err := ctl.Verify(cmd.Context(), client, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("ok: %s (score %.3f) signature valid\n", artifact.ID, artifact.Score)
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
