// Package extract runs the external metadata extractor against staged
// content to recover an asset's logical name.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/springfiles/edgecache/internal/httperr"
)

type Extractor struct {
	binPath string
	timeout time.Duration
}

func New(binPath string, timeout time.Duration) (*Extractor, error) {
	if binPath == "" {
		return nil, errors.New("extractor binary path is required")
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Extractor{binPath: binPath, timeout: timeout}, nil
}

// Springname extracts the logical asset name from the file at path. Output
// the extractor cannot parse is a permanent failure: the same bytes will
// never parse on retry.
func (e *Extractor) Springname(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, e.binPath, path).Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", httperr.Internal("extractor timed out after %s", e.timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", httperr.BadRequest("extractor rejected %q: %s", path, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("run extractor: %w", err)
	}

	var meta struct {
		Springname string `json:"springname"`
	}
	if err := json.Unmarshal(out, &meta); err != nil {
		return "", httperr.BadRequest("extractor produced invalid json: %v", err)
	}
	if strings.TrimSpace(meta.Springname) == "" {
		return "", httperr.BadRequest("extractor produced no springname")
	}
	return meta.Springname, nil
}
