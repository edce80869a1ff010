package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	domain "github.com/williamsouzadelima/strati-audit/internal/domain/audit"
)

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "Inspect registered clients",
}

var clientsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all clients",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		var clients []*domain.Client
		if err := newAPI().get(ctx, "/api/v1/clients", &clients); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCONTACT\tCREATED")
		for _, c := range clients {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				c.ID, c.Name, orDash(c.ContactEmail), c.CreatedAt.Format("2006-01-02"))
		}
		return w.Flush()
	},
}

var waitSeconds int

var submitCmd = &cobra.Command{
	Use:   "submit <client-id>",
	Short: "Start an audit run over a client's active firewalls",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		var resp struct {
			RunID  string `json:"run_id"`
			Status string `json:"status"`
		}
		path := fmt.Sprintf("/api/v1/clients/%s/audits", url.PathEscape(args[0]))
		if err := newAPI().post(ctx, path, nil, &resp); err != nil {
			return err
		}
		fmt.Printf("run %s submitted (%s)\n", resp.RunID, resp.Status)

		if waitSeconds <= 0 {
			return nil
		}
		return awaitAndPrint(cmd.Context(), resp.RunID, waitSeconds)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show the current state of a run and its jobs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		var rr domain.RunResult
		if err := newAPI().get(ctx, "/api/v1/runs/"+url.PathEscape(args[0]), &rr); err != nil {
			return err
		}
		printRun(&rr)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a run; queued jobs are dropped, running ones torn down",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		path := fmt.Sprintf("/api/v1/runs/%s/cancel", url.PathEscape(args[0]))
		if err := newAPI().post(ctx, path, nil, nil); err != nil {
			return err
		}
		fmt.Printf("run %s cancelled\n", args[0])
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Fetch presigned download links for a run's report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		var links struct {
			JSONURL string `json:"json_url"`
			HTMLURL string `json:"html_url"`
		}
		path := fmt.Sprintf("/api/v1/runs/%s/report", url.PathEscape(args[0]))
		if err := newAPI().get(ctx, path, &links); err != nil {
			return err
		}
		fmt.Printf("json: %s\nhtml: %s\n", links.JSONURL, links.HTMLURL)
		return nil
	},
}

func init() {
	clientsCmd.AddCommand(clientsListCmd)
	submitCmd.Flags().IntVar(&waitSeconds, "wait", 0, "Block until the run finishes, up to this many seconds")
	rootCmd.AddCommand(clientsCmd, submitCmd, statusCmd, cancelCmd, reportCmd)
}

func awaitAndPrint(ctx context.Context, runID string, seconds int) error {
	// the server holds the request open; pad the local deadline past it
	ctx, cancel := context.WithTimeout(ctx, time.Duration(seconds)*time.Second+30*time.Second)
	defer cancel()

	fmt.Printf("waiting up to %ds...\n", seconds)
	var rr domain.RunResult
	path := fmt.Sprintf("/api/v1/runs/%s/result?wait_seconds=%d", url.PathEscape(runID), seconds)
	if err := newAPI().get(ctx, path, &rr); err != nil {
		return err
	}
	printRun(&rr)
	return nil
}

func printRun(rr *domain.RunResult) {
	score := "-"
	if rr.OverallScore != nil {
		score = fmt.Sprintf("%.1f", *rr.OverallScore)
	}
	fmt.Printf("run %s  client=%s  status=%s  score=%s\n", rr.RunID, rr.ClientID, rr.Status, score)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FIREWALL\tSTATE\tSCORE\tATTEMPTS\tFAILURE")
	for _, j := range rr.Jobs {
		name := j.FirewallName
		if name == "" {
			name = string(j.FirewallID)
		}
		jscore := "-"
		if j.Score != nil {
			jscore = fmt.Sprintf("%d", *j.Score)
		}
		failure := "-"
		if j.FailureKind != "" {
			failure = string(j.FailureKind)
			if j.FailureDetail != "" {
				failure += ": " + j.FailureDetail
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", name, j.State, jscore, j.Attempts, failure)
	}
	w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
