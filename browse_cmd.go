package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/speak/internal/preview"
	"github.com/dgnsrekt/speak/internal/tts/engines"
	"github.com/dgnsrekt/speak/internal/ttypes"
	"github.com/dgnsrekt/speak/ui"
)

const defaultSampleText = "The quick brown fox jumps over the lazy dog."

var (
	sampleText  string
	browseMouse bool

	browseCmd = &cobra.Command{
		Use:     "browse",
		Aliases: []string{"voices"},
		Short:   "Browse and preview voices",
		Long: paragraph(fmt.Sprintf("\nList every voice speak can find and %s them. "+
			"Press enter to hear a sample; pressing it twice on the same voice does nothing.", keyword("preview"))),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			voices := discoverVoices(cfg)
			if len(voices) == 0 {
				return ttypes.InvalidInputError("browse", "no voices found; set piper.model or piper.voices_dir, or an OpenAI API key")
			}

			a := newApp(cfg)
			previewer := preview.New(a.playPreview, preview.WithStopOutput(a.stopOutput))
			defer previewer.Stop()

			p := ui.NewProgram(cmd.Context(), ui.Config{
				Voices:      voices,
				SampleText:  sampleText,
				EnableMouse: browseMouse,
			}, previewer)
			_, err := p.Run()
			return err
		},
	}
)

// discoverVoices lists piper models next to the configured model and in the
// voices directory, then the remote providers that are usable.
func discoverVoices(s settings) []ui.Voice {
	piper := string(ttypes.ProviderPiper)
	if s.provider() == ttypes.ProviderCached {
		piper = string(ttypes.ProviderCached)
	}

	var dirs []string
	if s.Piper.Model != "" {
		if model, err := homedir.Expand(s.Piper.Model); err == nil {
			dirs = append(dirs, filepath.Dir(model))
		}
	}
	if s.Piper.VoicesDir != "" {
		if dir, err := homedir.Expand(s.Piper.VoicesDir); err == nil {
			dirs = append(dirs, dir)
		}
	}

	var voices []ui.Voice
	seen := make(map[string]bool)
	for _, dir := range dirs {
		models, err := filepath.Glob(filepath.Join(dir, "*.onnx"))
		if err != nil {
			continue
		}
		sort.Strings(models)
		for _, m := range models {
			abs, err := filepath.Abs(m)
			if err != nil || seen[abs] {
				continue
			}
			if fi, err := os.Stat(abs); err != nil || fi.IsDir() {
				continue
			}
			seen[abs] = true
			voices = append(voices, ui.Voice{
				Name:     strings.TrimSuffix(filepath.Base(abs), ".onnx"),
				Provider: piper,
				ID:       abs,
			})
		}
	}
	log.Debug("discovered piper voices", "dirs", dirs, "count", len(voices))

	if s.OpenAI.APIKey != "" {
		for _, v := range engines.OpenAIVoices {
			voices = append(voices, ui.Voice{
				Name:     "openai " + v,
				Provider: string(ttypes.ProviderOpenAI),
				ID:       v,
			})
		}
	}

	lang := s.GTTS.Language
	if lang == "" {
		lang = "en"
	}
	voices = append(voices, ui.Voice{
		Name:     "gtts " + lang,
		Provider: string(ttypes.ProviderGTTS),
	})
	return voices
}

func init() {
	browseCmd.Flags().StringVar(&sampleText, "sample", defaultSampleText, "text spoken for each preview")
	browseCmd.Flags().BoolVar(&browseMouse, "mouse", false, "enable mouse wheel scrolling")
}
