package audio

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
)

// ProbeConfig holds the environment consulted by the audio probe.
type ProbeConfig struct {
	// Force overrides detection: "on"/"1"/"true" or "off"/"0"/"false".
	Force       string `env:"SPEAK_AUDIO"`
	PulseServer string `env:"PULSE_SERVER"`
	RuntimeDir  string `env:"XDG_RUNTIME_DIR"`
}

// prober is split out so tests can fake the OS and filesystem.
type prober struct {
	cfg    ProbeConfig
	goos   string
	uid    int
	exists func(path string) bool
}

// ProbeEnvironment reports whether the host can play audio through a
// streaming player. A false result sends streaming requests straight to the
// temp-file fallback.
func ProbeEnvironment() bool {
	cfg, err := env.ParseAs[ProbeConfig]()
	if err != nil {
		log.Debug("cannot parse audio environment, assuming usable", "error", err)
		return true
	}
	p := prober{cfg: cfg, goos: runtime.GOOS, uid: os.Getuid(), exists: pathExists}
	usable, reason := p.probe()
	log.Debug("audio environment probe", "usable", usable, "reason", reason)
	return usable
}

func (p prober) probe() (bool, string) {
	switch strings.ToLower(strings.TrimSpace(p.cfg.Force)) {
	case "1", "on", "true", "yes":
		return true, "forced on by SPEAK_AUDIO"
	case "0", "off", "false", "no":
		return false, "forced off by SPEAK_AUDIO"
	}

	if p.goos == "darwin" || p.goos == "windows" {
		return true, p.goos + " always has an audio device"
	}

	if p.cfg.PulseServer != "" {
		return true, "PULSE_SERVER is set"
	}

	runtimeDir := p.cfg.RuntimeDir
	if runtimeDir == "" && p.uid >= 0 {
		runtimeDir = filepath.Join("/run/user", strconv.Itoa(p.uid))
	}
	if runtimeDir != "" {
		for _, sock := range []string{"pulse/native", "pipewire-0"} {
			if p.exists(filepath.Join(runtimeDir, sock)) {
				return true, "found " + sock + " socket"
			}
		}
	}

	if p.exists("/dev/snd") {
		return true, "found /dev/snd"
	}
	return false, "no sound server socket or sound device"
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
