package repository

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// downloadBufferSize is the chunk size of the binary copy loop.
const downloadBufferSize = 512

// DownloadTo streams the binary at pluginURL into destination, replacing any
// existing file. On failure nothing is left at destination.
func (c *Client) DownloadTo(ctx context.Context, pluginURL, destination string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}
	if err := os.Remove(destination); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to replace %s: %w", destination, err)
	}

	out, err := os.Create(destination)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", destination, err)
	}

	written, err := c.download(ctx, pluginURL, out)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(destination)
		c.log.Error("plugin download failed", zap.String("url", pluginURL), zap.Error(err))
		return "", err
	}

	c.log.Debug("plugin downloaded", zap.String("url", pluginURL), zap.Int64("bytes", written))
	return destination, nil
}

func (c *Client) download(ctx context.Context, pluginURL string, out io.Writer) (int64, error) {
	resp, err := c.get(ctx, pluginURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	buf := make([]byte, downloadBufferSize)
	var written int64
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("failed to write download: %w", err)
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("failed to read %s: %w", pluginURL, readErr)
		}
	}
}
