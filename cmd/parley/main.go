// The parley command runs the chat server or connects to one as a client.
//
// Commands:
//
//	serve:   runs the server with the chat room attached
//	connect: joins a server's chat room from the terminal
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "parley",
		Short: "Chat over the parley packet protocol",
		Long: `parley runs a chat room over a length-framed TCP packet protocol. Clients
authenticate with an identity (and the server's token, if it has one) and
everything typed into the console is relayed to every member of the room.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./", "Path to the directory containing config.yaml")
	rootCmd.AddCommand(serveCmd(), connectCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// signalContext is cancelled by Ctrl-C or SIGTERM so that we can shut down cleanly.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
