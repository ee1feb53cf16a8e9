// Package main is a command line client for the voice relay. It streams a
// raw PCM16 16 kHz mono file to /ws in real time, prints transcripts and
// replies, and writes each spoken reply to disk.
//
// Usage:
//
//	voiceclient --audio question.pcm --out replies/
package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := defaultOptions()

	cmd := &cobra.Command{
		Use:   "voiceclient",
		Short: "Talk to the voice relay from a PCM file",
		Long: `Streams a raw PCM16 16 kHz mono file to the voice relay in 100ms frames,
prints transcripts and assistant replies, and writes every reply's audio
to the output directory.

When JWT_SECRET is set the client signs its own session token.

Examples:
  voiceclient --audio question.pcm
  voiceclient --url ws://voice.local:8080/ws --audio question.pcm --turns 2`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(opts.verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			return run(cmd.Context(), opts, logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.url, "url", opts.url, "voice relay websocket URL")
	flags.StringVar(&opts.audioPath, "audio", "", "raw PCM16 16 kHz mono file to stream")
	flags.StringVar(&opts.outDir, "out", opts.outDir, "directory for received reply audio")
	flags.StringVar(&opts.token, "token", os.Getenv("VOICE_TOKEN"), "session token; minted from JWT_SECRET when empty")
	flags.StringVar(&opts.clientID, "client-id", opts.clientID, "client id placed in a minted token")
	flags.IntVar(&opts.turns, "turns", opts.turns, "replies to wait for before exiting")
	flags.DurationVar(&opts.frame, "frame", opts.frame, "duration of each streamed frame")
	flags.DurationVar(&opts.trailingSilence, "silence", opts.trailingSilence, "silence streamed after the file")
	flags.DurationVar(&opts.timeout, "timeout", opts.timeout, "give up after this long")
	flags.BoolVar(&opts.endTurn, "end-turn", opts.endTurn, "send end_turn after the audio")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log protocol details")
	_ = cmd.MarkFlagRequired("audio")

	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return config.Build()
}

func decodeAudio(payload string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(payload)
}
