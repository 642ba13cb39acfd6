// Package main provides the entry point for the speak CLI application.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/speak/internal/tts"
	"github.com/dgnsrekt/speak/internal/ttypes"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	envKeyReplacer = strings.NewReplacer(".", "_")

	configFile   string
	useClipboard bool
	isMarkdown   bool
	params       map[string]string

	// cfg is decoded once flags are parsed.
	cfg settings

	rootCmd = &cobra.Command{
		Use:   "speak [TEXT]",
		Short: "Speak text aloud from the command line",
		Long: paragraph(
			fmt.Sprintf("\nSpeak text %s with piper, gtts or openai voices, or save it to a file.", keyword("aloud")),
		),
		Example: paragraph("speak \"hello world\"\necho hello | speak\nspeak --clipboard --markdown\nspeak -p openai -v nova \"hi\""),
		SilenceErrors:    true,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.ArbitraryArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

func validateOptions(*cobra.Command) error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file %s: %w", configFile, err)
		}
	}

	s, err := loadSettings(viper.GetViper())
	if err != nil {
		return err
	}
	cfg = s

	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Debug("configuration loaded", "file", viper.ConfigFileUsed(), "provider", cfg.Provider, "cache", cfg.cacheAddr())

	for k := range params {
		if strings.TrimSpace(k) == "" {
			return ttypes.InvalidInputError("param", "empty parameter name")
		}
	}
	return nil
}

func execute(cmd *cobra.Command, args []string) error {
	src, err := stdinSource(args)
	if err != nil {
		return err
	}
	text, err := src.read()
	if err != nil {
		return err
	}

	req, err := ttypes.NewStreamRequest(text, cfg.Voice, params)
	if err != nil {
		return err
	}
	return newApp(cfg).speak(cmd.Context(), cfg.provider(), req)
}

// printError writes err and its remediation hint, once.
func printError(err error) {
	fmt.Fprintln(os.Stderr, errorLabel("Error:"), err.Error())
	if hint := tts.Hint(err); hint != "" {
		fmt.Fprintln(os.Stderr, faint("  "+hint))
	}
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error("command failed", "error", err)
		printError(err)
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	setDefaults(viper.GetViper())
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().StringP("provider", "p", "", "synthesis provider (piper, cached, gtts, openai)")
	rootCmd.PersistentFlags().StringP("voice", "v", "", "voice name or piper model path")
	rootCmd.PersistentFlags().String("player", "", "audio player command, e.g. \"mpv --no-video {file}\"")
	rootCmd.PersistentFlags().Bool("debug", false, "write debug logs")
	rootCmd.PersistentFlags().StringToStringVar(&params, "param", nil, "provider parameter, e.g. --param speed=1.2")
	rootCmd.PersistentFlags().BoolVarP(&useClipboard, "clipboard", "c", false, "speak the clipboard contents")
	rootCmd.PersistentFlags().BoolVarP(&isMarkdown, "markdown", "m", false, "treat the input as markdown and speak its text")

	_ = viper.BindPFlag("provider", rootCmd.PersistentFlags().Lookup("provider"))
	_ = viper.BindPFlag("voice", rootCmd.PersistentFlags().Lookup("voice"))
	_ = viper.BindPFlag("player", rootCmd.PersistentFlags().Lookup("player"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(saveCmd, voiceCmd, browseCmd, doctorCmd, configCmd, manCmd)
}
