package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"uavnetsim/internal/transport"
	"uavnetsim/internal/wire"
)

var (
	publishAddr    string
	publishTopic   string
	publishPayload string
	publishWait    time.Duration
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a single message",
	Long:  "publish binds a publisher, waits for a subscriber and sends one topic-tagged message.",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger(nil)
		if err != nil {
			return err
		}
		if publishTopic == "" {
			return fmt.Errorf("--topic is required")
		}
		if publishTopic == wire.TopicNetwork {
			if _, err := wire.ParseNetworkUpdate(publishPayload); err != nil {
				return err
			}
		}
		pub := transport.NewPublisher(transport.Options{Log: log})
		if err := pub.Bind(publishAddr); err != nil {
			return err
		}
		defer pub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), publishWait)
		defer cancel()
		if err := waitForPeer(ctx, pub, log); err != nil {
			return err
		}
		pub.Publish(publishTopic, publishPayload)
		// let the write loop flush before closing
		time.Sleep(100 * time.Millisecond)
		log.Info("message published", "topic", publishTopic, "sent", pub.Stats().Sent)
		return nil
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishAddr, "addr", "tcp://*:5556", "Address to bind the publisher on")
	publishCmd.Flags().StringVar(&publishTopic, "topic", wire.TopicNetwork, "Message topic")
	publishCmd.Flags().StringVar(&publishPayload, "payload", `{"meanDelay":0,"meanJitter":0,"packetLoss":0}`, "Message payload")
	publishCmd.Flags().DurationVar(&publishWait, "wait", 10*time.Second, "How long to wait for a subscriber")
}

// waitForPeer blocks until pub has at least one subscriber or ctx is done.
func waitForPeer(ctx context.Context, pub *transport.Publisher, log *slog.Logger) error {
	select {
	case <-pub.Ready():
	case <-ctx.Done():
		return fmt.Errorf("publisher not ready: %w", ctx.Err())
	}
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for pub.Stats().Peers == 0 {
		log.Debug("waiting for subscriber", "addr", pub.Addr())
		select {
		case <-ctx.Done():
			return fmt.Errorf("no subscriber connected to %s: %w", pub.Addr(), ctx.Err())
		case <-t.C:
		}
	}
	return nil
}
