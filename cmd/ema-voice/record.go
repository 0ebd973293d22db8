package main

import (
	"errors"
	"fmt"

	"github.com/koscakluka/ema-voice/core/config"
	"github.com/koscakluka/ema-voice/core/telephony/twilio"
	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record <call-sid>",
	Short: "Start recording a phone call",
	Long: `Asks Twilio to record both channels of an ongoing call. The finished
recording is reported to --callback, which can be the webhook served by
"ema-voice run --webhook-addr".`,
	Args: cobra.ExactArgs(1),
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().String("callback", "", "URL Twilio reports the finished recording to")
}

func runRecord(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	callback, _ := cmd.Flags().GetString("callback")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Recording.AccountSID == "" || cfg.Recording.AuthToken == "" {
		return errors.New("twilio account sid and auth token are required to record calls")
	}

	var opts []twilio.ClientOption
	if cfg.Recording.BaseURL != "" {
		opts = append(opts, twilio.WithBaseURL(cfg.Recording.BaseURL))
	}
	client := twilio.NewClient(cfg.Recording.AccountSID, cfg.Recording.AuthToken, opts...)

	recording, err := client.StartRecording(cmd.Context(), args[0], callback)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "recording %s started (%s)\n", recording.SID, recording.Status)
	return nil
}
