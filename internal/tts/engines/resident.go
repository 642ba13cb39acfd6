package engines

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/rs/xid"

	"github.com/dgnsrekt/speak/internal/ttypes"
)

// residentStopGrace is how long a resident piper gets to exit after its
// stdin is closed before it is killed.
const residentStopGrace = 2 * time.Second

// ResidentPiperConfig describes one long-running piper instance.
type ResidentPiperConfig struct {
	Binary string
	Model  string

	// LengthScale is fixed for the life of the process; piper only takes it
	// on the command line.
	LengthScale string
}

// ResidentPiper keeps one piper process running with its model loaded.
// Requests are JSON lines on stdin; piper writes each clip to the requested
// file and echoes the path on stdout. Requests are serialized.
type ResidentPiper struct {
	binary string
	dir    string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr *tailWriter

	mu sync.Mutex

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
}

// StartResidentPiper starts piper with the model loaded and returns once the
// process is running.
func StartResidentPiper(cfg ResidentPiperConfig) (*ResidentPiper, error) {
	if cfg.Binary == "" {
		cfg.Binary = "piper"
	}
	dir, err := os.MkdirTemp("", "speak-piper-*")
	if err != nil {
		return nil, fmt.Errorf("creating piper output directory: %w", err)
	}

	args := []string{"--model", cfg.Model, "--json-input", "--output_dir", dir}
	if cfg.LengthScale != "" {
		args = append(args, "--length-scale", cfg.LengthScale)
	}
	cmd := exec.Command(cfg.Binary, args...)
	p := &ResidentPiper{
		binary: cfg.Binary,
		dir:    dir,
		cmd:    cmd,
		stderr: &tailWriter{max: 4096},
		done:   make(chan struct{}),
	}
	cmd.Stderr = p.stderr

	if p.stdin, err = cmd.StdinPipe(); err != nil {
		os.RemoveAll(dir) //nolint:errcheck
		return nil, fmt.Errorf("piper stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.RemoveAll(dir) //nolint:errcheck
		return nil, fmt.Errorf("piper stdout: %w", err)
	}
	p.stdout = bufio.NewReader(stdout)

	if err := cmd.Start(); err != nil {
		os.RemoveAll(dir) //nolint:errcheck
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, ttypes.DependencyError(cfg.Binary)
		}
		return nil, &procError{binary: cfg.Binary, err: err}
	}
	log.Debug("resident piper started", "pid", cmd.Process.Pid, "model", filepath.Base(cfg.Model), "length_scale", cfg.LengthScale)

	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// Exited reports whether the process has stopped.
func (p *ResidentPiper) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

type residentRequest struct {
	Text       string `json:"text"`
	OutputFile string `json:"output_file"`
	SpeakerID  *int   `json:"speaker_id,omitempty"`
	Speaker    string `json:"speaker,omitempty"`
}

type residentResult struct {
	path string
	err  error
}

// Synthesize returns the WAV clip for text. speaker is a numeric id or a
// speaker name; empty uses the model default. When ctx ends mid-request the
// process is stopped, since its output can no longer be matched to a request.
func (p *ResidentPiper) Synthesize(ctx context.Context, text, speaker string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Exited() {
		return nil, p.exitError()
	}

	out := filepath.Join(p.dir, xid.New().String()+".wav")
	req := residentRequest{Text: text, OutputFile: out}
	if speaker != "" {
		if id, err := strconv.Atoi(speaker); err == nil {
			req.SpeakerID = &id
		} else {
			req.Speaker = speaker
		}
	}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding piper request: %w", err)
	}
	defer os.Remove(out) //nolint:errcheck

	result := make(chan residentResult, 1)
	go func() {
		if _, err := p.stdin.Write(append(line, '\n')); err != nil {
			result <- residentResult{err: err}
			return
		}
		path, err := p.stdout.ReadString('\n')
		result <- residentResult{path: strings.TrimSpace(path), err: err}
	}()

	var res residentResult
	select {
	case res = <-result:
	case <-ctx.Done():
		p.stop()
		<-result
		return nil, ctx.Err()
	}

	if res.err != nil {
		p.stop()
		return nil, p.exitError()
	}
	if res.path != out {
		p.stop()
		return nil, &procError{binary: p.binary, err: fmt.Errorf("unexpected output %q", res.path)}
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, &procError{binary: p.binary, err: err}
	}
	if len(data) == 0 {
		return nil, ttypes.ProviderError("piper", "piper produced no audio", nil)
	}
	return data, nil
}

func (p *ResidentPiper) exitError() error {
	err := p.waitErr
	if err == nil {
		err = errors.New("exited")
	}
	return &procError{binary: p.binary, err: err, stderr: strings.TrimSpace(p.stderr.String())}
}

// stop closes stdin, waits briefly, then kills. It always reaps.
func (p *ResidentPiper) stop() {
	p.closeOnce.Do(func() {
		p.stdin.Close() //nolint:errcheck
		select {
		case <-p.done:
		case <-time.After(residentStopGrace):
			log.Warn("resident piper did not exit, killing", "pid", p.cmd.Process.Pid)
			p.cmd.Process.Kill() //nolint:errcheck
			<-p.done
		}
		if err := os.RemoveAll(p.dir); err != nil {
			log.Warn("failed to remove piper output directory", "dir", p.dir, "error", err)
		}
	})
}

// Close stops the process. A request in flight fails.
func (p *ResidentPiper) Close() error {
	p.stop()
	return nil
}

// tailWriter keeps the last max bytes written.
type tailWriter struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (w *tailWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, b...)
	if over := len(w.buf) - w.max; over > 0 {
		w.buf = append(w.buf[:0], w.buf[over:]...)
	}
	return len(b), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}
