package tts

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/speak/internal/audio"
	"github.com/dgnsrekt/speak/internal/tts/engines"
	"github.com/dgnsrekt/speak/internal/ttypes"
)

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Name         string
	Required     bool
	Installed    bool
	Path         string
	Detail       string
	Instructions string
}

// DependencyChecker checks one external dependency.
type DependencyChecker interface {
	Check() DependencyStatus
}

// SystemDependencies runs checkers in registration order.
type SystemDependencies struct {
	checkers []DependencyChecker
	Results  []DependencyStatus
}

// NewSystemDependencies creates an empty dependency check.
func NewSystemDependencies() *SystemDependencies {
	return &SystemDependencies{}
}

// AddChecker adds a dependency checker
func (sd *SystemDependencies) AddChecker(c DependencyChecker) {
	sd.checkers = append(sd.checkers, c)
}

// CheckAll checks all registered dependencies
func (sd *SystemDependencies) CheckAll() error {
	sd.Results = sd.Results[:0]
	var missing []string
	for _, c := range sd.checkers {
		status := c.Check()
		sd.Results = append(sd.Results, status)

		switch {
		case status.Required && !status.Installed:
			missing = append(missing, status.Name)
			log.Error("missing required dependency", "name", status.Name, "instructions", status.Instructions)
		case status.Installed:
			log.Debug("dependency found", "name", status.Name, "path", status.Path, "detail", status.Detail)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required dependencies: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Report renders the results for a terminal.
func (sd *SystemDependencies) Report() string {
	var (
		titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).MarginBottom(1)
		installedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
		missingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		optionalStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
		hintStyle      = lipgloss.NewStyle().Faint(true)
	)

	var report strings.Builder
	report.WriteString(titleStyle.Render("speak dependency check"))
	report.WriteString("\n\n")

	for _, s := range sd.Results {
		switch {
		case s.Installed:
			report.WriteString(installedStyle.Render("  ✓ " + s.Name + ": "))
			report.WriteString(strings.TrimSpace(s.Path + " " + s.Detail))
		case s.Required:
			report.WriteString(missingStyle.Render("  ✗ " + s.Name + ": "))
			report.WriteString("not found")
		default:
			report.WriteString(optionalStyle.Render("  ○ " + s.Name + ": "))
			report.WriteString("not found (optional)")
		}
		report.WriteString("\n")
		if !s.Installed && s.Instructions != "" {
			report.WriteString(hintStyle.Render("    " + s.Instructions))
			report.WriteString("\n")
		}
	}
	return report.String()
}

// BinaryChecker looks a tool up on PATH.
type BinaryChecker struct {
	Name     string
	Binary   string
	Required bool
	Purpose  string
}

func (c BinaryChecker) Check() DependencyStatus {
	binary := c.Binary
	if binary == "" {
		binary = c.Name
	}
	status := DependencyStatus{Name: c.Name, Required: c.Required, Detail: c.Purpose}
	if path, err := exec.LookPath(binary); err == nil {
		status.Installed = true
		status.Path = path
		return status
	}
	status.Instructions = ttypes.InstallHint(binary)
	return status
}

// PlayerChecker reports the audio players speak would use.
type PlayerChecker struct {
	Override string
}

func (c PlayerChecker) Check() DependencyStatus {
	status := DependencyStatus{Name: "audio player", Required: true}
	players, err := audio.ResolvePlayers(c.Override)
	if err != nil {
		status.Instructions = ttypes.HintOf(err)
		if status.Instructions == "" {
			status.Instructions = err.Error()
		}
		return status
	}
	names := make([]string, 0, len(players))
	for _, p := range players {
		names = append(names, p.Name)
	}
	status.Installed = true
	status.Path = players[0].Path
	status.Detail = "(" + strings.Join(names, ", ") + ")"
	return status
}

// PiperModelChecker validates the configured piper model and its sidecar.
type PiperModelChecker struct {
	Model string
}

func (c PiperModelChecker) Check() DependencyStatus {
	status := DependencyStatus{Name: "piper model"}
	if c.Model == "" {
		status.Instructions = "set piper.model in speak.yml; voices: https://github.com/rhasspy/piper/blob/master/VOICES.md"
		return status
	}
	if _, err := os.Stat(c.Model); err != nil {
		status.Instructions = "model not found: " + c.Model
		return status
	}
	cfg, err := engines.ReadModelConfig(c.Model)
	if err != nil {
		status.Instructions = err.Error()
		return status
	}
	status.Installed = true
	status.Path = c.Model
	status.Detail = fmt.Sprintf("%d Hz", cfg.SampleRate)
	return status
}

// AudioEnvironmentChecker reports whether direct streaming is possible.
type AudioEnvironmentChecker struct {
	Probe func() bool
}

func (c AudioEnvironmentChecker) Check() DependencyStatus {
	probe := c.Probe
	if probe == nil {
		probe = audio.ProbeEnvironment
	}
	status := DependencyStatus{Name: "audio environment"}
	if probe() {
		status.Installed = true
		status.Detail = "streaming enabled"
		return status
	}
	status.Instructions = "no sound server detected; playback uses temp files (set SPEAK_AUDIO=1 to force streaming)"
	return status
}

// CheckSystemDependencies builds and runs the standard checks.
func CheckSystemDependencies(playerOverride, piperBinary, piperModel string) (*SystemDependencies, error) {
	if piperBinary == "" {
		piperBinary = "piper"
	}
	deps := NewSystemDependencies()
	deps.AddChecker(PlayerChecker{Override: playerOverride})
	deps.AddChecker(AudioEnvironmentChecker{})
	deps.AddChecker(BinaryChecker{Name: "ffmpeg", Purpose: "(format conversion)"})
	deps.AddChecker(BinaryChecker{Name: "piper", Binary: piperBinary, Purpose: "(offline voices)"})
	deps.AddChecker(PiperModelChecker{Model: piperModel})
	deps.AddChecker(BinaryChecker{Name: "gtts-cli", Purpose: "(Google voices)"})
	return deps, deps.CheckAll()
}
