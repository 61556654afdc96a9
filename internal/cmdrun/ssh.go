package cmdrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig describes how to reach a remote host. Exactly one of KeyFile or
// Password must be usable; both set means key first, password as fallback.
type SSHConfig struct {
	Host     string // host or host:port, port defaults to 22
	User     string
	KeyFile  string
	Password string
	Timeout  time.Duration
}

// SSH runs commands over one SSH connection, one session per command. The
// remote shell does the word splitting for Run, so command lines may use
// the remote shell's syntax.
type SSH struct {
	client *ssh.Client
}

func DialSSH(cfg SSHConfig) (*SSH, error) {
	var auth []ssh.AuthMethod
	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key %s: %w", cfg.KeyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse key %s: %w", cfg.KeyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("ssh: no auth method, need a key file or password")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	addr := cfg.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	return &SSH{client: client}, nil
}

func (s *SSH) Close() error { return s.client.Close() }

func (s *SSH) Run(ctx context.Context, line string) (Result, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return Result{}, err
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(line) }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		<-done
		return Result{Stdout: stdout.String(), Stderr: stderr.String()}, ctx.Err()
	case err = <-done:
	}

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var ee *ssh.ExitError
		if errors.As(err, &ee) {
			res.Code = ee.ExitStatus()
			return res, nil
		}
		return res, err
	}
	return res, nil
}

func (s *SSH) RunArgs(ctx context.Context, name string, args ...string) (Result, error) {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, posixQuote(name))
	for _, a := range args {
		parts = append(parts, posixQuote(a))
	}
	return s.Run(ctx, strings.Join(parts, " "))
}

// posixQuote single-quotes s for a POSIX shell when it contains anything
// the shell would interpret.
func posixQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`&|;<>(){}*?[]~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
