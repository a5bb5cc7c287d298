package sshutil

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rileyhilliard/fleetrun/internal/errors"
)

// Download copies remotePath to localPath. Directories are streamed as a
// tar archive and unpacked under localPath; a file lands at localPath, or
// inside it when localPath is an existing directory.
func (c *Client) Download(ctx context.Context, remotePath, localPath string) error {
	isDir, err := c.isRemoteDir(ctx, remotePath)
	if err != nil {
		return err
	}
	if isDir {
		return c.downloadDir(ctx, remotePath, localPath)
	}
	return c.downloadFile(ctx, remotePath, localPath)
}

func (c *Client) isRemoteDir(ctx context.Context, remotePath string) (bool, error) {
	code, err := c.run(ctx, "test -d "+shellQuote(remotePath), io.Discard, io.Discard)
	if err != nil {
		return false, err
	}
	return code == 0, nil
}

func (c *Client) downloadFile(ctx context.Context, remotePath, localPath string) error {
	if info, err := os.Stat(localPath); err == nil && info.IsDir() {
		localPath = filepath.Join(localPath, filepath.Base(remotePath))
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return errors.WrapWithCode(err, errors.ErrExec,
			fmt.Sprintf("Can't create %s", filepath.Dir(localPath)), "")
	}

	f, err := os.Create(localPath)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrExec,
			fmt.Sprintf("Can't write %s", localPath), "")
	}
	var stderr strings.Builder
	code, err := c.run(ctx, "cat "+shellQuote(remotePath), f, &stderr)
	closeErr := f.Close()
	if err == nil && code != 0 {
		err = errors.New(errors.ErrExec,
			fmt.Sprintf("Can't read %s on %s: %s", remotePath, c.Host, strings.TrimSpace(stderr.String())),
			"Check the path exists on the remote host")
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(localPath)
	}
	return err
}

func (c *Client) downloadDir(ctx context.Context, remotePath, localPath string) error {
	pr, pw := io.Pipe()
	var stderr strings.Builder
	done := make(chan error, 1)
	go func() {
		code, err := c.run(ctx, "tar -C "+shellQuote(remotePath)+" -cf - .", pw, &stderr)
		if err == nil && code != 0 {
			err = errors.New(errors.ErrExec,
				fmt.Sprintf("tar of %s on %s exited with code %d: %s", remotePath, c.Host, code, strings.TrimSpace(stderr.String())),
				"")
		}
		pw.CloseWithError(err)
		done <- err
	}()

	extractErr := extractTar(pr, localPath)
	pr.CloseWithError(extractErr)
	runErr := <-done
	if runErr != nil {
		return runErr
	}
	return extractErr
}

// extractTar unpacks r under dest, refusing entries that escape it.
func extractTar(r io.Reader, dest string) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}
	root, err := filepath.Abs(dest)
	if err != nil {
		return err
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(root, filepath.Clean("/"+hdr.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes %s", hdr.Name, dest)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0777)
			if err != nil {
				return err
			}
			_, err = io.Copy(f, tr)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
		}
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
