package sshutil

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"

	"github.com/rileyhilliard/fleetrun/internal/errors"
)

// Exec runs a command on the remote host, writing stdout and stderr to out.
// A non-zero exit code with nil error means the command ran but failed.
// Exit code is -1 if the command couldn't be executed at all. Cancelling
// ctx signals the remote process and closes the session.
func (c *Client) Exec(ctx context.Context, cmd string, out io.Writer) (exitCode int, err error) {
	return c.run(ctx, cmd, out, out)
}

func (c *Client) run(ctx context.Context, cmd string, stdout, stderr io.Writer) (int, error) {
	if !c.IsOpen() {
		return -1, errors.New(errors.ErrSSH,
			fmt.Sprintf("Connection to %s is closed", c.Host),
			"")
	}
	session, err := c.Client.NewSession()
	if err != nil {
		return -1, errors.WrapWithCode(err, errors.ErrSSH,
			"Failed to create SSH session",
			"Connection may have been closed. Try reconnecting.")
	}
	defer session.Close()

	session.Stdout = stdout
	session.Stderr = stderr

	if err := session.Start(cmd); err != nil {
		return -1, errors.WrapWithCode(err, errors.ErrExec,
			fmt.Sprintf("Failed to execute command: %s", cmd),
			"Check if the command exists on the remote host.")
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		session.Close()
		<-done
		return -1, ctx.Err()
	}

	if err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			return exitErr.ExitStatus(), nil
		}
		return -1, errors.WrapWithCode(err, errors.ErrExec,
			fmt.Sprintf("Failed to execute command: %s", cmd),
			"Check if the command exists on the remote host.")
	}
	return 0, nil
}
