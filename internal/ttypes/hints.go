package ttypes

import (
	"os"
	"runtime"
	"strings"
)

// package names per distro family, keyed by tool
var linuxPackages = map[string]map[string]string{
	"ffmpeg": {"debian": "ffmpeg", "fedora": "ffmpeg", "arch": "ffmpeg"},
	"ffplay": {"debian": "ffmpeg", "fedora": "ffmpeg", "arch": "ffmpeg"},
	"mpv":    {"debian": "mpv", "fedora": "mpv", "arch": "mpv"},
	"paplay": {"debian": "pulseaudio-utils", "fedora": "pulseaudio-utils", "arch": "libpulse"},
	"aplay":  {"debian": "alsa-utils", "fedora": "alsa-utils", "arch": "alsa-utils"},
}

// InstallHint returns a one-line installation hint for an external tool.
func InstallHint(tool string) string {
	switch tool {
	case "piper":
		if runtime.GOOS == "darwin" {
			return "install with: brew install piper-tts (or download from https://github.com/rhasspy/piper/releases)"
		}
		return "download piper from https://github.com/rhasspy/piper/releases and add it to PATH"
	case "gtts-cli":
		return "install with: pipx install gtts (or pip install gtts)"
	case "afplay":
		return "afplay ships with macOS; install ffmpeg for ffplay elsewhere"
	}

	pkgs, known := linuxPackages[tool]
	if !known {
		return "install " + tool + " with your package manager"
	}

	switch runtime.GOOS {
	case "darwin":
		if tool == "mpv" {
			return "install with: brew install mpv"
		}
		return "install with: brew install ffmpeg"
	case "windows":
		return "download ffmpeg from https://ffmpeg.org/download.html and add it to PATH"
	case "linux":
		family := detectLinuxDistro()
		pkg := pkgs[family]
		if pkg == "" {
			pkg = pkgs["debian"]
		}
		switch family {
		case "debian":
			return "install with: sudo apt-get install " + pkg
		case "fedora":
			return "install with: sudo dnf install " + pkg
		case "arch":
			return "install with: sudo pacman -S " + pkg
		}
		return "install " + pkg + " with your package manager"
	default:
		return "install ffmpeg from https://ffmpeg.org/download.html"
	}
}

// detectLinuxDistro reads /etc/os-release and returns a distro family.
func detectLinuxDistro() string {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return "unknown"
	}
	content := strings.ToLower(string(data))
	switch {
	case strings.Contains(content, "ubuntu"), strings.Contains(content, "debian"):
		return "debian"
	case strings.Contains(content, "fedora"), strings.Contains(content, "rhel"), strings.Contains(content, "centos"):
		return "fedora"
	case strings.Contains(content, "arch"):
		return "arch"
	}
	return "unknown"
}
