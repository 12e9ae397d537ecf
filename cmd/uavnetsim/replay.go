package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"uavnetsim/internal/scenario"
	"uavnetsim/internal/transport"
)

var (
	replayInput string
	replayAddr  string
	replaySpeed float64
	replayWait  time.Duration
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay recorded messages",
	Long:  "replay publishes the messages of a JSONL recording, keeping their original spacing.",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger(nil)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pub := transport.NewPublisher(transport.Options{Log: log})
		if err := pub.Bind(replayAddr); err != nil {
			return err
		}
		defer pub.Close()
		if replayWait > 0 {
			wctx, cancel := context.WithTimeout(ctx, replayWait)
			err := waitForPeer(wctx, pub, log)
			cancel()
			if err != nil {
				return err
			}
		}

		n, err := scenario.ReplayFile(ctx, replayInput, pub, replaySpeed)
		log.Info("replay finished", "input", replayInput, "messages", n)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to the JSONL recording")
	replayCmd.Flags().StringVar(&replayAddr, "addr", "tcp://*:5556", "Address to bind the publisher on")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier")
	replayCmd.Flags().DurationVar(&replayWait, "wait", 10*time.Second, "How long to wait for a subscriber before replaying (0 skips)")
	replayCmd.MarkFlagRequired("input")
}
