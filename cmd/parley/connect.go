package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dcrodman/parley/internal/chat"
	"github.com/dcrodman/parley/internal/core"
	"github.com/dcrodman/parley/internal/network"
	"github.com/dcrodman/parley/internal/packets"
)

func connectCmd() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "connect [identity]",
		Short: "Join a chat server from the terminal",
		Long: `Join a chat server from the terminal. Lines typed are sent to the room.

  /history [n]  show the last n messages
  /quit         leave`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := core.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Client.Address = address
			}
			if len(args) == 1 {
				cfg.Client.Identity = args[0]
			}
			if cfg.Client.Identity == "" {
				return errors.New("an identity is required, either as an argument or client.identity")
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return connect(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&address, "address", "a", "", "Server to connect to (overrides client.address)")
	return cmd
}

func connect(ctx context.Context, cfg *core.Config) error {
	logger, err := core.NewLogger(cfg)
	if err != nil {
		return err
	}

	opts := append(cfg.ClientOptions(logger, nil),
		network.WithPackets(chat.Packets()...),
		network.WithHook(network.AuthenticationAccepted, func(c *network.Connection) {
			fmt.Printf("connected to %s as %s\n", c.RemoteAddr(), c.Name())
		}),
		network.WithHook(network.Disconnected, func(c *network.Connection) {
			reason, detail := c.DisconnectReason()
			if reason != packets.Custom {
				detail = reason.Message()
			}
			fmt.Printf("disconnected: %s\n", detail)
		}),
		network.WithHook(network.Reconnect, func(*network.Connection) {
			fmt.Printf("reconnecting in %s\n", cfg.Client.RetryDelay)
		}),
	)
	client, err := network.NewClient(cfg.Client.Address, cfg.Client.Identity, opts...)
	if err != nil {
		return err
	}
	defer client.Stop()

	console := chat.NewConsole(client, os.Stdin, os.Stdout)
	if err := client.Start(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- console.Run(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}
