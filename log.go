package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
)

const (
	clientLogName = "speak.log"
	serverLogName = "speak-server.log"
)

func getLogFilePath(name string) (string, error) {
	dir, err := gap.NewScope(gap.User, "speak").CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func setupLog() (func() error, error) {
	return openLog(clientLogName)
}

// openLog points the default logger at a file in the user cache dir.
func openLog(name string) (func() error, error) {
	log.SetOutput(io.Discard)

	logFile, err := getLogFilePath(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	log.SetOutput(f)
	log.SetReportTimestamp(true)
	log.SetLevel(log.InfoLevel)
	return f.Close, nil
}
