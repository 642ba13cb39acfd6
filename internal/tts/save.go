package tts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	"github.com/rs/xid"

	"github.com/dgnsrekt/speak/internal/ttypes"
)

// Save writes the synthesized clip to the request path. When the extension
// names a container other than the provider's native one the clip is
// synthesized to a temp file first and converted with ffmpeg.
func (s *Synthesizer) Save(ctx context.Context, req *ttypes.SynthesisRequest) error {
	if req.Mode() != ttypes.ModeSave || req.Path() == "" {
		return ttypes.InvalidInputError("save", "request has no destination path")
	}

	dst, err := homedir.Expand(req.Path())
	if err != nil {
		return ttypes.InvalidInputError("save", err.Error())
	}
	dst, err = filepath.Abs(dst)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", req.Path(), err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	info := s.provider.GetInfo()
	logger := log.With("req", xid.New().String(), "provider", info.Name)

	want := ttypes.ContainerFromPath(dst)
	if want == "" || want == info.NativeFormat {
		logger.Debug("saving clip", "path", dst, "format", info.NativeFormat)
		return s.provider.SynthesizeToFile(ctx, req, dst)
	}

	f, err := os.CreateTemp(s.tempDir, "speak-save-*."+string(info.NativeFormat))
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmp := f.Name()
	f.Close()
	defer removeTemp(logger, tmp)

	if err := s.provider.SynthesizeToFile(ctx, req, tmp); err != nil {
		return err
	}
	logger.Debug("saving clip with conversion", "path", dst, "from", info.NativeFormat, "to", want)
	return s.converter.Convert(ctx, tmp, dst)
}
