package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/speak/internal/tts"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check external tools speak depends on",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		deps, err := tts.CheckSystemDependencies(cfg.Player, cfg.Piper.Binary, cfg.Piper.Model)
		fmt.Print(deps.Report())

		client := newApp(cfg).client
		if client.Ping(cmd.Context()) {
			fmt.Printf("\n  voice cache server: running on %s\n", client.Addr())
		} else {
			fmt.Println(faint(fmt.Sprintf("\n  voice cache server: not running (%s)", client.Addr())))
		}
		return err
	},
}
