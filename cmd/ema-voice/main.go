// Command ema-voice talks to a voice agent through the local microphone and
// speakers, showing the transcript in the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ema-voice",
	Short: "Have a voice conversation with an agent",
	Long: `ema-voice runs a voice conversation on this machine: the microphone is
transcribed, the agent answers and its response is spoken through the
speakers. The configuration is read from ~/.config/ema-voice/config.toml
unless --config or EMA_CONFIG points elsewhere.`,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the TOML configuration")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(recordCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
