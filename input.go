package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"

	"github.com/dgnsrekt/speak/internal/tts"
	"github.com/dgnsrekt/speak/internal/ttypes"
)

// readClipboard is replaced in tests.
var readClipboard = clipboard.ReadAll

// textSource describes where the text to speak comes from.
type textSource struct {
	args      []string
	stdin     io.Reader
	piped     bool
	clipboard bool
	markdown  bool
}

// read returns the text to synthesize. The clipboard wins over arguments,
// and arguments win over piped stdin; "-" as the only argument reads stdin.
func (s textSource) read() (string, error) {
	var text string
	switch {
	case s.clipboard:
		t, err := readClipboard()
		if err != nil {
			return "", fmt.Errorf("unable to read clipboard: %w", err)
		}
		text = t
	case len(s.args) == 1 && s.args[0] == "-", len(s.args) == 0 && s.piped:
		b, err := io.ReadAll(s.stdin)
		if err != nil {
			return "", fmt.Errorf("unable to read from stdin: %w", err)
		}
		text = string(b)
	default:
		text = strings.Join(s.args, " ")
	}

	if s.markdown {
		text = tts.PlainText(text)
	}
	if strings.TrimSpace(text) == "" {
		return "", ttypes.InvalidInputError("input", "nothing to speak").
			WithHint("pass text as an argument, on stdin, or with --clipboard")
	}
	return text, nil
}

func stdinIsPipe() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to open file: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}

// stdinSource builds a textSource reading os.Stdin when it is piped.
func stdinSource(args []string) (textSource, error) {
	piped, err := stdinIsPipe()
	if err != nil {
		return textSource{}, err
	}
	return textSource{
		args:      args,
		stdin:     os.Stdin,
		piped:     piped,
		clipboard: useClipboard,
		markdown:  isMarkdown,
	}, nil
}
