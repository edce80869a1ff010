package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "auditctl",
	Short: "Control client for the strati-audit server",
	Long: `auditctl talks to a running auditd instance over its HTTP API:
submit audit runs, follow their progress, fetch report links.`,
	SilenceUsage: true,
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	_ = godotenv.Load()
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("AUDITCTL_SERVER", "http://localhost:8080"), "Base URL of the auditd server (env AUDITCTL_SERVER)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print request details")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// api is a thin JSON client over the server's REST surface.
type api struct {
	base string
	http *http.Client
}

func newAPI() *api {
	return &api{
		base: strings.TrimRight(serverURL, "/"),
		// no client-level timeout, the blocking result read outlives any
		// sane fixed value; contexts bound each call instead
		http: &http.Client{},
	}
}

func (a *api) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+path, nil)
	if err != nil {
		return err
	}
	return a.do(req, out)
}

func (a *api) post(ctx context.Context, path string, body, out interface{}) error {
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, out)
}

func (a *api) do(req *http.Request, out interface{}) error {
	if verbose {
		fmt.Fprintf(os.Stderr, "> %s %s\n", req.Method, req.URL)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("server: %s (%s)", e.Error, resp.Status)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
