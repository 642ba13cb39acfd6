package audio

import (
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-shellwords"

	"github.com/dgnsrekt/speak/internal/ttypes"
)

// FilePlaceholder is replaced with the clip path in custom player commands.
const FilePlaceholder = "{file}"

// Player describes how to launch one audio-output program.
type Player struct {
	Name string
	Path string

	// streamArgs builds stdin arguments; nil when the player cannot read stdin.
	streamArgs func(ttypes.FormatHint) []string

	// fileArgs builds file-mode arguments; nil when the player cannot take a path.
	fileArgs func(path string) []string

	// accepts reports whether the player can decode the given container.
	accepts func(ttypes.Container) bool
}

// CanStream reports whether the player can decode hint from stdin.
func (p Player) CanStream(hint ttypes.FormatHint) bool {
	return p.streamArgs != nil && p.accepts(hint.Container)
}

// CanPlayFile reports whether the player can play a file of the given container.
func (p Player) CanPlayFile(c ttypes.Container) bool {
	return p.fileArgs != nil && (c == "" || p.accepts(c))
}

// StreamCommand returns the argv for stdin playback.
func (p Player) StreamCommand(hint ttypes.FormatHint) []string {
	return append([]string{p.Path}, p.streamArgs(hint)...)
}

// FileCommand returns the argv for file playback.
func (p Player) FileCommand(path string) []string {
	return append([]string{p.Path}, p.fileArgs(path)...)
}

func anyContainer(ttypes.Container) bool { return true }

func containers(cs ...ttypes.Container) func(ttypes.Container) bool {
	return func(c ttypes.Container) bool {
		for _, ok := range cs {
			if c == ok {
				return true
			}
		}
		return false
	}
}

func channelLayout(hint ttypes.FormatHint) string {
	if hint.ChannelsOrMono() == 2 {
		return "stereo"
	}
	return "mono"
}

// knownPlayers is the preference order used by DetectPlayer.
var knownPlayers = []Player{
	{
		Name: "ffplay",
		streamArgs: func(hint ttypes.FormatHint) []string {
			args := []string{"-nodisp", "-autoexit", "-loglevel", "error"}
			if hint.Container == ttypes.ContainerPCM {
				args = append(args, "-f", "s16le",
					"-ar", strconv.Itoa(hint.SampleRate),
					"-ch_layout", channelLayout(hint))
			}
			return append(args, "-i", "-")
		},
		fileArgs: func(path string) []string {
			return []string{"-nodisp", "-autoexit", "-loglevel", "error", path}
		},
		accepts: anyContainer,
	},
	{
		Name: "mpv",
		streamArgs: func(hint ttypes.FormatHint) []string {
			args := []string{"--no-video", "--really-quiet", "--no-terminal"}
			if hint.Container == ttypes.ContainerPCM {
				args = append(args, "--demuxer=rawaudio",
					"--demuxer-rawaudio-format=s16le",
					"--demuxer-rawaudio-rate="+strconv.Itoa(hint.SampleRate),
					"--demuxer-rawaudio-channels="+strconv.Itoa(hint.ChannelsOrMono()))
			}
			return append(args, "-")
		},
		fileArgs: func(path string) []string {
			return []string{"--no-video", "--really-quiet", "--no-terminal", path}
		},
		accepts: anyContainer,
	},
	{
		Name: "afplay",
		fileArgs: func(path string) []string {
			return []string{path}
		},
		accepts: containers(ttypes.ContainerMP3, ttypes.ContainerWAV),
	},
	{
		Name: "paplay",
		streamArgs: func(hint ttypes.FormatHint) []string {
			return []string{"--raw", "--format=s16le",
				"--rate=" + strconv.Itoa(hint.SampleRate),
				"--channels=" + strconv.Itoa(hint.ChannelsOrMono())}
		},
		fileArgs: func(path string) []string {
			return []string{path}
		},
		accepts: containers(ttypes.ContainerPCM, ttypes.ContainerWAV),
	},
	{
		Name: "aplay",
		streamArgs: func(hint ttypes.FormatHint) []string {
			return []string{"-q", "-t", "raw", "-f", "S16_LE",
				"-r", strconv.Itoa(hint.SampleRate),
				"-c", strconv.Itoa(hint.ChannelsOrMono()), "-"}
		},
		fileArgs: func(path string) []string {
			return []string{"-q", path}
		},
		accepts: containers(ttypes.ContainerPCM, ttypes.ContainerWAV),
	},
}

// KnownPlayerNames lists supported player binaries in preference order.
func KnownPlayerNames() []string {
	names := make([]string, len(knownPlayers))
	for i, p := range knownPlayers {
		names[i] = p.Name
	}
	return names
}

// DetectPlayers returns every installed known player in preference order.
func DetectPlayers() []Player {
	var found []Player
	for _, p := range knownPlayers {
		if p.Name == "afplay" && runtime.GOOS != "darwin" {
			continue
		}
		path, err := exec.LookPath(p.Name)
		if err != nil {
			continue
		}
		p.Path = path
		found = append(found, p)
	}
	return found
}

// ParsePlayerCommand builds a player from a shell-style command line.
// Stream mode runs the command as given with {file} replaced by "-";
// file mode substitutes the clip path, or appends it when no placeholder is present.
func ParsePlayerCommand(line string) (Player, error) {
	args, err := shellwords.Parse(line)
	if err != nil {
		return Player{}, ttypes.InvalidInputError("player", fmt.Sprintf("cannot parse player command %q: %v", line, err))
	}
	if len(args) == 0 {
		return Player{}, ttypes.InvalidInputError("player", "player command is empty")
	}

	path, err := exec.LookPath(args[0])
	if err != nil {
		return Player{}, ttypes.DependencyError(args[0])
	}

	rest := args[1:]
	hasPlaceholder := false
	for _, a := range rest {
		if strings.Contains(a, FilePlaceholder) {
			hasPlaceholder = true
			break
		}
	}

	substitute := func(with string) []string {
		out := make([]string, len(rest))
		for i, a := range rest {
			out[i] = strings.ReplaceAll(a, FilePlaceholder, with)
		}
		return out
	}

	return Player{
		Name: args[0],
		Path: path,
		streamArgs: func(ttypes.FormatHint) []string {
			return substitute("-")
		},
		fileArgs: func(file string) []string {
			if hasPlaceholder {
				return substitute(file)
			}
			return append(substitute(file), file)
		},
		accepts: anyContainer,
	}, nil
}

// Players is an ordered set of candidate output programs.
type Players []Player

// ResolvePlayers returns the configured override, or every detected player.
// A DependencyError is returned when nothing usable is installed.
func ResolvePlayers(override string) (Players, error) {
	if strings.TrimSpace(override) != "" {
		p, err := ParsePlayerCommand(override)
		if err != nil {
			return nil, err
		}
		log.Debug("using configured player", "player", p.Name, "path", p.Path)
		return Players{p}, nil
	}

	found := DetectPlayers()
	if len(found) == 0 {
		e := ttypes.DependencyError("audio player")
		e.Message = "no audio player found (tried " + strings.Join(KnownPlayerNames(), ", ") + ")"
		e.Hint = ttypes.InstallHint("ffplay")
		return nil, e
	}
	log.Debug("detected audio players", "count", len(found), "preferred", found[0].Name)
	return found, nil
}

// ForStream picks the first player able to decode hint from stdin.
func (ps Players) ForStream(hint ttypes.FormatHint) (Player, bool) {
	for _, p := range ps {
		if p.CanStream(hint) {
			return p, true
		}
	}
	return Player{}, false
}

// ForFile picks the first player able to play a file of container c.
func (ps Players) ForFile(c ttypes.Container) (Player, bool) {
	for _, p := range ps {
		if p.CanPlayFile(c) {
			return p, true
		}
	}
	return Player{}, false
}
