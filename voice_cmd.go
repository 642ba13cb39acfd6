package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/speak/internal/cache"
	"github.com/dgnsrekt/speak/internal/cacheproto"
	"github.com/dgnsrekt/speak/internal/voicecache"
)

var (
	unloadAll   bool
	statusYAML  bool
	serveAddr   string
	serveIdle   time.Duration
	serveNoClip bool

	voiceCmd = &cobra.Command{
		Use:   "voice",
		Short: "Manage voices held by the voice cache server",
		Long: paragraph(fmt.Sprintf("\nThe voice cache server keeps piper voices %s between invocations. "+
			"It is started on demand and runs until %s.", keyword("loaded"), keyword("speak voice shutdown"))),
	}

	voiceLoadCmd = &cobra.Command{
		Use:   "load MODEL...",
		Short: "Load piper voices into the cache server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newApp(cfg).client
			for _, path := range args {
				if err := client.LoadVoice(cmd.Context(), path); err != nil {
					return err
				}
				fmt.Println("Loaded", path)
			}
			return nil
		},
	}

	voiceUnloadCmd = &cobra.Command{
		Use:   "unload [MODEL...]",
		Short: "Unload voices from the cache server",
		Args: func(_ *cobra.Command, args []string) error {
			if unloadAll == (len(args) > 0) {
				return errors.New("pass model paths or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newApp(cfg).client
			if unloadAll {
				n, err := client.UnloadAll(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("Unloaded %d %s\n", n, plural(n, "voice", "voices"))
				return nil
			}
			for _, path := range args {
				if err := client.UnloadVoice(cmd.Context(), path); err != nil {
					return err
				}
				fmt.Println("Unloaded", path)
			}
			return nil
		},
	}

	voiceStatusCmd = &cobra.Command{
		Use:     "status",
		Aliases: []string{"list", "ls"},
		Short:   "List voices loaded in the cache server",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			voices := newApp(cfg).client.ListVoices(cmd.Context())
			if statusYAML {
				return writeVoicesYAML(os.Stdout, voices)
			}
			writeVoicesTable(os.Stdout, voices, time.Now(), term.IsTerminal(int(os.Stdout.Fd())))
			return nil
		},
	}

	voiceServeCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the voice cache server in the foreground",
		Long: paragraph("\nRun the voice cache server in the foreground. speak starts it in the background " +
			"on demand, so this is mostly useful for debugging."),
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	voiceShutdownCmd = &cobra.Command{
		Use:   "shutdown",
		Short: "Stop the voice cache server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := newApp(cfg).client
			if !client.Ping(cmd.Context()) {
				fmt.Println("Voice cache server is not running")
				return nil
			}
			if err := client.Shutdown(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Voice cache server stopped")
			return nil
		},
	}
)

func runServe(cmd *cobra.Command, _ []string) error {
	closer, err := openLog(serverLogName)
	if err != nil {
		return err
	}
	defer closer() //nolint:errcheck
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.cacheAddr()
	}
	idle := cfg.Cache.IdleTimeout
	if cmd.Flags().Changed("idle-timeout") {
		idle = serveIdle
	}

	srvCfg := voicecache.ServerConfig{
		Loader:      voicecache.PiperLoader{Binary: cfg.Piper.Binary},
		IdleTimeout: idle,
		Watch:       cfg.Cache.Watch,
	}
	if !serveNoClip {
		clipCfg, err := cfg.clipConfig()
		if err != nil {
			return err
		}
		clips, err := cache.NewClipCache(clipCfg)
		if err != nil {
			log.Warn("clip cache disabled", "error", err)
		} else {
			defer clips.Close() //nolint:errcheck
			srvCfg.Clips = clips
		}
	}

	srv, err := voicecache.NewServer(srvCfg)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(cmd.Context(), addr)
}

func writeVoicesYAML(w io.Writer, voices []cacheproto.VoiceInfo) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(struct {
		Voices []cacheproto.VoiceInfo `yaml:"voices"`
	}{voices}); err != nil {
		return fmt.Errorf("unable to encode voices: %w", err)
	}
	return enc.Close()
}

func writeVoicesTable(w io.Writer, voices []cacheproto.VoiceInfo, now time.Time, styled bool) {
	if len(voices) == 0 {
		fmt.Fprintln(w, "No voices loaded")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := "VOICE\tLOADED\tMEMORY"
	if styled {
		header = keyword(header)
	}
	fmt.Fprintln(tw, header)
	for _, v := range voices {
		mem := "-"
		if v.MemoryMB != nil {
			mem = humanize.IBytes(uint64(*v.MemoryMB * (1 << 20)))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Path, humanize.RelTime(v.LoadedAt, now, "ago", "from now"), mem)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%d %s loaded\n", len(voices), plural(len(voices), "voice", "voices"))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func init() {
	voiceUnloadCmd.Flags().BoolVarP(&unloadAll, "all", "a", false, "unload every voice")
	voiceStatusCmd.Flags().BoolVar(&statusYAML, "yaml", false, "print voices as YAML")
	voiceServeCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from cache.host and cache.port)")
	voiceServeCmd.Flags().DurationVar(&serveIdle, "idle-timeout", 0, "exit after this long without connections")
	voiceServeCmd.Flags().BoolVar(&serveNoClip, "no-clip-cache", false, "do not memoize synthesized clips")

	voiceCmd.AddCommand(voiceLoadCmd, voiceUnloadCmd, voiceStatusCmd, voiceServeCmd, voiceShutdownCmd)
}
