package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/calyxlabs/calyx/internal/config"
	"github.com/calyxlabs/calyx/internal/events"
)

var tailTopic string

var tailCmd = &cobra.Command{
	Use:     "tail",
	Short:   "Stream events from the bus to stdout",
	GroupID: "admin",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.NATSURL == "" {
			return errors.New("CALYX_NATS_URL is not set")
		}

		sub, err := events.NewNATSSubscriber(cfg.NATSURL, nil)
		if err != nil {
			return err
		}
		defer sub.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		msgs, err := sub.Listen(ctx, tailTopic)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "listening on %s (ctrl-c to stop)\n", tailTopic)
		for m := range msgs {
			fmt.Printf("%s %s\n", m.Subject, m.Data)
		}
		return nil
	},
}

func init() {
	tailCmd.Flags().StringVar(&tailTopic, "topic", "calyx.>", "subject filter to subscribe to")
}
