package sshrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	domain "github.com/williamsouzadelima/strati-audit/internal/domain/audit"
)

// Runner executes the audit procedure over an SSH session on the target
// itself, authenticated with the descriptor's credentials. The session is
// torn down on cancellation or timeout instead of waiting out the remote
// process.
type Runner struct {
	command          []string
	handshakeTimeout time.Duration
	log              *logrus.Logger
}

// NewRunner builds the driver. command is the remote argv prefix.
func NewRunner(command []string, handshakeTimeout time.Duration, log *logrus.Logger) (*Runner, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("remote audit command is empty")
	}
	if handshakeTimeout <= 0 {
		handshakeTimeout = 15 * time.Second
	}
	if log == nil {
		log = logrus.New()
	}
	return &Runner{command: command, handshakeTimeout: handshakeTimeout, log: log}, nil
}

func (r *Runner) Execute(ctx context.Context, desc domain.ConnDescriptor, timeout time.Duration) (*domain.RawOutput, error) {
	start := time.Now()
	addr := desc.Addr()

	dialer := net.Dialer{Timeout: r.handshakeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyDial(err)
	}

	clientCfg := &ssh.ClientConfig{
		User: desc.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(desc.Credential),
			ssh.KeyboardInteractive(passwordResponder(desc.Credential)),
		},
		// firewall appliances present self-signed host keys; pinning is
		// the deployment's concern, not the session's
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         r.handshakeTimeout,
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") ||
			strings.Contains(err.Error(), "password") {
			return nil, domain.NewExecError(domain.KindAuthenticationFail, "ssh authentication rejected", err)
		}
		return nil, domain.NewExecError(domain.KindConnectionRefused, "ssh handshake failed", err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, domain.NewExecError(domain.KindConnectionRefused, "open ssh session", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	command := r.remoteCommand()
	r.log.WithFields(logrus.Fields{
		"firewall_id": desc.FirewallID,
		"host":        desc.Host,
		"timeout":     timeout.String(),
	}).Debug("remote audit starting")

	done := make(chan error, 1)
	if err := session.Start(command); err != nil {
		return nil, domain.NewExecError(domain.KindProcessExitNonZero, "start remote audit", err)
	}
	go func() { done <- session.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case runErr := <-done:
		duration := time.Since(start)
		out := &domain.RawOutput{
			Stdout:   stdout.Bytes(),
			Stderr:   stderr.Bytes(),
			Duration: duration,
		}
		if runErr != nil {
			var ee *ssh.ExitError
			if errors.As(runErr, &ee) {
				out.ExitCode = ee.ExitStatus()
				return nil, domain.NewExecError(domain.KindProcessExitNonZero,
					fmt.Sprintf("remote exit %d: %s", out.ExitCode, tail(stderr.String())), runErr)
			}
			return nil, domain.NewExecError(domain.KindConnectionRefused, "remote session lost", runErr)
		}
		return out, nil

	case <-timer.C:
		teardown(session, client)
		return nil, domain.NewExecError(domain.KindTimeout,
			fmt.Sprintf("remote audit did not finish within %s", timeout), nil)

	case <-ctx.Done():
		teardown(session, client)
		return nil, ctx.Err()
	}
}

// remoteCommand renders the audit invocation with shell-safe quoting.
// The session already runs on the target, so no host flags are passed.
func (r *Runner) remoteCommand() string {
	args := append([]string{}, r.command...)
	args = append(args, "--output-format", "json")
	quoted := make([]string, 0, len(args))
	for _, a := range args {
		quoted = append(quoted, shellQuote(a))
	}
	return strings.Join(quoted, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$&|;<>()*?[]#~%") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func teardown(session *ssh.Session, client *ssh.Client) {
	// best effort: signal, then drop the transport
	_ = session.Signal(ssh.SIGKILL)
	_ = session.Close()
	_ = client.Close()
}

func classifyDial(err error) *domain.ExecError {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return domain.NewExecError(domain.KindTimeout, "dial timed out", err)
	}
	return domain.NewExecError(domain.KindConnectionRefused, "dial failed", err)
}

func passwordResponder(password string) ssh.KeyboardInteractiveChallenge {
	return func(name, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	}
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	const max = 512
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
