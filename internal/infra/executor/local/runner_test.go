package local

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	domain "github.com/williamsouzadelima/strati-audit/internal/domain/audit"
)

func testDesc() domain.ConnDescriptor {
	return domain.ConnDescriptor{
		FirewallID: "fw-1",
		Host:       "10.0.0.1",
		Port:       4444,
		Username:   "auditor",
		Credential: "s3cret",
	}
}

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestNewRunnerRequiresCommand(t *testing.T) {
	_, err := NewRunner(nil, nil, nil)
	require.Error(t, err)

	r, err := NewRunner([]string{"firewall-audit"}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, domain.DefaultCategories(), r.categories)
}

func TestWriteOptionsFile(t *testing.T) {
	r, err := NewRunner([]string{"firewall-audit"}, nil, quietLog())
	require.NoError(t, err)

	path, err := r.writeOptionsFile(90 * time.Second)
	require.NoError(t, err)
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var opts toolOptions
	require.NoError(t, yaml.Unmarshal(data, &opts))

	require.Equal(t, "json", opts.AuditOptions.OutputFormat)
	require.False(t, opts.AuditOptions.ParallelExecution)
	require.Equal(t, 90, opts.AuditOptions.Timeout)
	require.Equal(t, 1, opts.AuditOptions.RetryAttempts)
	for _, c := range domain.DefaultCategories() {
		require.True(t, opts.Checks[domain.ToolCategoryKey(c)], "category %s not enabled", c)
	}
}

func TestExecuteCapturesStdout(t *testing.T) {
	// the shell script swallows the appended flags as positional args
	r, err := NewRunner([]string{"sh", "-c", `echo '{"categories":{}}'`}, nil, quietLog())
	require.NoError(t, err)

	out, err := r.Execute(context.Background(), testDesc(), 5*time.Second)
	require.NoError(t, err)
	require.JSONEq(t, `{"categories":{}}`, string(out.Stdout))
	require.Zero(t, out.ExitCode)
	require.Positive(t, out.Duration)
}

func TestExecuteClassifiesStderr(t *testing.T) {
	r, err := NewRunner([]string{"sh", "-c", `echo "Authentication failed for user" >&2; exit 3`}, nil, quietLog())
	require.NoError(t, err)

	_, err = r.Execute(context.Background(), testDesc(), 5*time.Second)
	require.Error(t, err)
	require.Equal(t, domain.KindAuthenticationFail, domain.KindOf(err))
}

func TestExecuteTimeout(t *testing.T) {
	r, err := NewRunner([]string{"sh", "-c", "sleep 10"}, nil, quietLog())
	require.NoError(t, err)

	_, err = r.Execute(context.Background(), testDesc(), 100*time.Millisecond)
	require.Error(t, err)
	require.Equal(t, domain.KindTimeout, domain.KindOf(err))
	require.Contains(t, err.Error(), "did not finish")
}

func TestExecuteCancellation(t *testing.T) {
	r, err := NewRunner([]string{"sh", "-c", "sleep 10"}, nil, quietLog())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err = r.Execute(ctx, testDesc(), 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestClassifyExit(t *testing.T) {
	cases := []struct {
		name   string
		stderr string
		want   domain.FailureKind
	}{
		{"refused", "dial tcp: connection refused", domain.KindConnectionRefused},
		{"no route", "No route to host", domain.KindConnectionRefused},
		{"could not connect", "ERROR: could not connect to 10.0.0.1", domain.KindConnectionRefused},
		{"auth", "authentication failed", domain.KindAuthenticationFail},
		{"credentials", "Invalid Credentials supplied", domain.KindAuthenticationFail},
		{"permission", "permission denied (publickey,password)", domain.KindAuthenticationFail},
		{"unknown", "panic: something else", domain.KindProcessExitNonZero},
		{"empty", "", domain.KindProcessExitNonZero},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyExit(1, tc.stderr, nil)
			require.Equal(t, tc.want, err.Kind)
		})
	}

	// the fallback keeps the exit code in the detail
	err := classifyExit(7, "boom", nil)
	require.Contains(t, err.Detail, "exit 7")
}

func TestTailBoundsStderr(t *testing.T) {
	require.Equal(t, "short", tail("  short \n"))

	long := strings.Repeat("x", 600) + "END"
	got := tail(long)
	require.True(t, strings.HasPrefix(got, "..."))
	require.True(t, strings.HasSuffix(got, "END"))
	require.Len(t, got, 515)
}
