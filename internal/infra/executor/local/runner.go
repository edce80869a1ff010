package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	domain "github.com/williamsouzadelima/strati-audit/internal/domain/audit"
)

// Runner invokes the audit tool as a subprocess on this host, pointed at
// the target firewall. One invocation per Execute call; retry policy is
// the caller's concern.
type Runner struct {
	command    []string
	categories []domain.Category
	log        *logrus.Logger
}

// NewRunner builds the driver. command is the tool argv prefix, e.g.
// ["sophos-firewall-audit"] or ["python3", "sophos_firewall_audit.py"].
func NewRunner(command []string, categories []domain.Category, log *logrus.Logger) (*Runner, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("audit command is empty")
	}
	if len(categories) == 0 {
		categories = domain.DefaultCategories()
	}
	if log == nil {
		log = logrus.New()
	}
	return &Runner{command: command, categories: categories, log: log}, nil
}

// toolOptions is the YAML document the audit tool reads via --config.
type toolOptions struct {
	AuditOptions struct {
		OutputFormat      string `yaml:"output_format"`
		ParallelExecution bool   `yaml:"parallel_execution"`
		Timeout           int    `yaml:"timeout"`
		RetryAttempts     int    `yaml:"retry_attempts"`
	} `yaml:"audit_options"`
	Checks map[string]bool `yaml:"checks"`
}

func (r *Runner) writeOptionsFile(timeout time.Duration) (string, error) {
	var opts toolOptions
	opts.AuditOptions.OutputFormat = "json"
	opts.AuditOptions.ParallelExecution = false
	opts.AuditOptions.Timeout = int(timeout / time.Second)
	// the engine owns retry; the tool itself runs each check once
	opts.AuditOptions.RetryAttempts = 1
	opts.Checks = make(map[string]bool, len(r.categories))
	for _, c := range r.categories {
		opts.Checks[domain.ToolCategoryKey(c)] = true
	}

	f, err := os.CreateTemp("", "strati-audit-*.yaml")
	if err != nil {
		return "", err
	}
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(&opts); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := enc.Close(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Execute runs the tool once against desc with the given timeout and
// maps the outcome to the executor failure taxonomy.
func (r *Runner) Execute(ctx context.Context, desc domain.ConnDescriptor, timeout time.Duration) (*domain.RawOutput, error) {
	start := time.Now()

	cfgPath, err := r.writeOptionsFile(timeout)
	if err != nil {
		return nil, domain.NewExecError(domain.KindProcessExitNonZero, "write tool options", err)
	}
	defer os.Remove(cfgPath)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{}, r.command[1:]...)
	args = append(args,
		"--config", cfgPath,
		"--output-format", "json",
		"--host", desc.Host,
		"--port", strconv.Itoa(desc.Port),
		"--username", desc.Username,
		"--password", desc.Credential,
	)
	cmd := exec.CommandContext(runCtx, r.command[0], args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.WithFields(logrus.Fields{
		"firewall_id": desc.FirewallID,
		"host":        desc.Host,
		"timeout":     timeout.String(),
	}).Debug("audit tool starting")

	runErr := cmd.Run()
	duration := time.Since(start)

	// timeout and cancellation take precedence over the exit error the
	// killed process reports
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, domain.NewExecError(domain.KindTimeout,
			fmt.Sprintf("audit did not finish within %s", timeout), runCtx.Err())
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	out := &domain.RawOutput{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: duration,
	}

	if runErr != nil {
		var ee *exec.ExitError
		if errors.As(runErr, &ee) {
			out.ExitCode = ee.ExitCode()
			return nil, classifyExit(out.ExitCode, stderr.String(), runErr)
		}
		return nil, domain.NewExecError(domain.KindProcessExitNonZero, "audit tool could not start", runErr)
	}
	return out, nil
}

// classifyExit maps a non-zero tool exit to a failure kind using the
// stderr markers the tool emits.
func classifyExit(code int, stderr string, cause error) *domain.ExecError {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "could not connect"),
		strings.Contains(lower, "no route to host"):
		return domain.NewExecError(domain.KindConnectionRefused, tail(stderr), cause)
	case strings.Contains(lower, "authentication failed"),
		strings.Contains(lower, "invalid credentials"),
		strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "login failed"):
		return domain.NewExecError(domain.KindAuthenticationFail, tail(stderr), cause)
	}
	return domain.NewExecError(domain.KindProcessExitNonZero,
		fmt.Sprintf("exit %d: %s", code, tail(stderr)), cause)
}

// tail keeps stderr detail bounded so failure rows stay small.
func tail(s string) string {
	s = strings.TrimSpace(s)
	const max = 512
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
