package shell

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func remoteFileContents(ctx context.Context, p Provider, path string) (string, error) {
	result, err := p.Run(ctx, fmt.Sprintf("cat %s", shellQuote(path)), true, true)
	if err != nil {
		return "", fmt.Errorf("could not read %s: %w", path, err)
	}
	return result.Text(), nil
}

func remotePutFileContents(ctx context.Context, p Provider, path, content string) error {
	tmpDir, err := os.MkdirTemp("", "fabrik-put-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	tmp := filepath.Join(tmpDir, filepath.Base(path))
	if err := os.WriteFile(tmp, []byte(content), 0o600); err != nil {
		return err
	}
	return p.PutFile(ctx, tmp, path)
}

func remoteRealPath(ctx context.Context, p Provider, path string) (string, error) {
	result, err := p.Run(ctx, fmt.Sprintf("realpath %s", shellQuote(path)), true, true)
	if err != nil {
		return "", err
	}
	for i := len(result.Output) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(result.Output[i]); line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("could not resolve %s", path)
}
