package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/speak/internal/ttypes"
)

// DefaultConvertTimeout bounds one ffmpeg run.
const DefaultConvertTimeout = 2 * time.Minute

// Converter transcodes an audio file into the container implied by dst.
type Converter interface {
	Convert(ctx context.Context, src, dst string) error
}

// FFmpegConverter converts with the ffmpeg binary.
type FFmpegConverter struct {
	// Binary defaults to "ffmpeg".
	Binary  string
	Timeout time.Duration
}

// Convert runs ffmpeg. A partially written dst is removed on failure.
func (c FFmpegConverter) Convert(ctx context.Context, src, dst string) error {
	binary := c.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultConvertTimeout
	}

	path, err := exec.LookPath(binary)
	if err != nil {
		return ttypes.ConversionError("convert", "ffmpeg is not available", ttypes.DependencyError(binary))
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "-y", "-loglevel", "error", "-i", src, dst)
	cmd.Stderr = &stderr
	log.Debug("converting audio", "src", src, "dst", dst)

	if err := cmd.Run(); err != nil {
		if rerr := os.Remove(dst); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			log.Warn("failed to remove partial output", "path", dst, "error", rerr)
		}
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		msg := fmt.Sprintf("ffmpeg could not convert to %s", ttypes.ContainerFromPath(dst))
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			msg += ": " + lastLine(tail)
		}
		return ttypes.ConversionError("convert", msg, err)
	}
	return nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
