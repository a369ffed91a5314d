// Package ssh implements remote.Control against an OpenWrt router over SSH:
// commands run through exec sessions and files move over SFTP.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/hpconf/hpconf/pkg/cfgerrors"
	"github.com/hpconf/hpconf/pkg/remote"
)

var serviceNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Client is a remote.Control backed by one SSH connection. It connects
// lazily and reconnects after the connection is dropped.
type Client struct {
	config *Config

	connMu      sync.Mutex
	client      *ssh.Client
	connectedAt time.Time
}

var _ remote.Control = (*Client)(nil)

// NewClient creates a new router client.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect establishes the SSH connection to the router.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.getClient(ctx)
	return err
}

// Close closes the connection.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	if err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	log.Debug().Str("address", c.config.Address()).Msg("SSH connection closed")
	return nil
}

// IsConnected reports whether a connection is open.
func (c *Client) IsConnected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.client != nil
}

func (c *Client) getClient(ctx context.Context) (*ssh.Client, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.client != nil {
		if _, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil); err == nil {
			return c.client, nil
		}
		log.Warn().Msg("existing connection is dead, reconnecting")
		_ = c.client.Close()
		c.client = nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		go func() {
			select {
			case client := <-connChan:
				_ = client.Close()
			case <-errChan:
			}
		}()
		return nil, &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case err := <-errChan:
		return nil, &TransportError{
			Op:          "connect",
			Err:         err,
			IsTemporary: true,
			IsAuthError: strings.Contains(err.Error(), "unable to authenticate"),
		}
	case client := <-connChan:
		c.client = client
		c.connectedAt = time.Now()
		log.Info().Str("address", address).Msg("SSH connection established")
		return client, nil
	}
}

// run executes cmd and returns its trimmed output.
func (c *Client) run(ctx context.Context, cmd string) (stdout string, stderr string, err error) {
	startTime := time.Now()

	sshClient, err := c.getClient(ctx)
	if err != nil {
		return "", "", err
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return "", "", &TransportError{
			Op:          "exec",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(cmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		execErr = ctx.Err()
	case execErr = <-doneChan:
	}

	stdout = strings.TrimSpace(stdoutBuf.String())
	stderr = strings.TrimSpace(stderrBuf.String())

	log.Debug().
		Str("command", cmd).
		Int("stdout_len", len(stdout)).
		Int("stderr_len", len(stderr)).
		Dur("duration", time.Since(startTime)).
		Err(execErr).
		Msg("command completed")

	if execErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(execErr, &exitErr) {
			return stdout, stderr, &TransportError{
				Op:  "exec",
				Err: &exitStatusError{status: exitErr.ExitStatus(), stderr: stderr},
			}
		}
		return stdout, stderr, &TransportError{Op: "exec", Err: execErr, IsTemporary: true}
	}
	return stdout, stderr, nil
}

type exitStatusError struct {
	status int
	stderr string
}

func (e *exitStatusError) Error() string {
	return fmt.Sprintf("command exited with code %d: %s", e.status, e.stderr)
}

// withSFTP runs fn against a fresh SFTP client, abandoning it when ctx ends.
func (c *Client) withSFTP(ctx context.Context, op string, fn func(*sftp.Client) error) error {
	sshClient, err := c.getClient(ctx)
	if err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}
	defer sftpClient.Close()

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- fn(sftpClient)
	}()

	select {
	case <-ctx.Done():
		_ = sftpClient.Close()
		return &TransportError{Op: op, Err: ctx.Err(), IsTemporary: true}
	case err := <-doneChan:
		if err != nil {
			return &TransportError{Op: op, Err: err}
		}
		return nil
	}
}

// readFile returns the content of a remote file, or "" if it does not exist.
func (c *Client) readFile(ctx context.Context, remotePath string) (string, error) {
	var content []byte
	err := c.withSFTP(ctx, "read", func(client *sftp.Client) error {
		f, err := client.Open(remotePath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("failed to open %s: %w", remotePath, err)
		}
		defer f.Close()

		content, err = io.ReadAll(f)
		return err
	})
	if err != nil {
		return "", err
	}

	log.Debug().Str("remote", remotePath).Int("bytes", len(content)).Msg("file downloaded")
	return string(content), nil
}

// writeFile replaces the content of a remote file.
func (c *Client) writeFile(ctx context.Context, remotePath, content string) error {
	err := c.withSFTP(ctx, "write", func(client *sftp.Client) error {
		if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
			return fmt.Errorf("failed to create remote directory: %w", err)
		}
		f, err := client.Create(remotePath)
		if err != nil {
			return fmt.Errorf("failed to create remote file: %w", err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write remote file: %w", err)
		}
		return f.Close()
	})
	if err != nil {
		return err
	}

	log.Info().Str("remote", remotePath).Int("bytes", len(content)).Msg("file uploaded")
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.config.CommandTimeout)
}

// ServiceStatus implements remote.Control. A non-zero exit status of the
// init script means the service is not running.
func (c *Client) ServiceStatus(ctx context.Context, name string) (remote.ServiceStatus, error) {
	if !serviceNamePattern.MatchString(name) {
		return remote.ServiceStatus{}, cfgerrors.Newf(cfgerrors.KindInvalidFormat, "invalid service name %q", name)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	stdout, stderr, err := c.run(ctx, path.Join(c.config.InitDir, name)+" status")
	status := remote.ServiceStatus{Name: name, Running: stdout == "running", Detail: stdout}
	if err != nil {
		var exitErr *exitStatusError
		if errors.As(err, &exitErr) {
			if status.Detail == "" {
				status.Detail = stderr
			}
			status.Running = false
			return status, nil
		}
		return remote.ServiceStatus{}, unavailable("status", err)
	}
	return status, nil
}

// ReadNamedList implements remote.Control.
func (c *Client) ReadNamedList(ctx context.Context, id string) (string, error) {
	if !remote.ValidList(id) {
		return "", cfgerrors.Newf(cfgerrors.KindInvalidFormat, "unknown domain list %q", id)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	text, err := c.readFile(ctx, c.config.listPath(id))
	if err != nil {
		return "", unavailable("read_list", err)
	}
	return text, nil
}

// WriteNamedList implements remote.Control.
func (c *Client) WriteNamedList(ctx context.Context, id, text string) error {
	if !remote.ValidList(id) {
		return cfgerrors.Newf(cfgerrors.KindInvalidFormat, "unknown domain list %q", id)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	return unavailable("write_list", c.writeFile(ctx, c.config.listPath(id), remote.NormalizeList(text)))
}

// Secret implements remote.Control using sing-box's generate command.
func (c *Client) Secret(ctx context.Context, kind string) (string, error) {
	if !remote.ValidSecret(kind) {
		return "", cfgerrors.Newf(cfgerrors.KindInvalidFormat, "unknown secret kind %q", kind)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	stdout, _, err := c.run(ctx, c.config.SingBox+" generate "+kind)
	if err != nil {
		return "", unavailable("secret", err)
	}
	if stdout == "" {
		return "", remote.Unavailable("secret", fmt.Errorf("empty output from %s generate %s", c.config.SingBox, kind))
	}
	return stdout, nil
}

// ResourceVersion implements remote.Control. A missing version file yields
// an empty version.
func (c *Client) ResourceVersion(ctx context.Context, kind, repo string) (remote.ResourceVersion, error) {
	if !remote.ValidResource(kind) {
		return remote.ResourceVersion{}, cfgerrors.Newf(cfgerrors.KindInvalidFormat, "unknown resource %q", kind)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	text, err := c.readFile(ctx, c.config.versionPath(kind))
	if err != nil {
		return remote.ResourceVersion{}, unavailable("resource_version", err)
	}
	return remote.ResourceVersion{Kind: kind, Repo: repo, Version: strings.TrimSpace(text)}, nil
}
