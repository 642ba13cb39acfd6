package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/speak/internal/ttypes"
)

var saveCmd = &cobra.Command{
	Use:   "save PATH [TEXT]",
	Short: "Synthesize text to an audio file",
	Long: paragraph(fmt.Sprintf("\n%s synthesized speech to PATH. The extension picks the format; "+
		"anything other than the provider's own format is converted with ffmpeg.", keyword("Save"))),
	Example: paragraph("speak save hello.wav \"hello world\"\ncat notes.md | speak save -m notes.mp3"),
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := stdinSource(args[1:])
		if err != nil {
			return err
		}
		text, err := src.read()
		if err != nil {
			return err
		}

		req, err := ttypes.NewSaveRequest(text, cfg.Voice, params, args[0])
		if err != nil {
			return err
		}
		if err := newApp(cfg).save(cmd.Context(), cfg.provider(), req); err != nil {
			return err
		}
		fmt.Println("Saved", args[0])
		return nil
	},
}
