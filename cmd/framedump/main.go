// The framedump command prints the parley packets recorded in a pcap capture.
//
//	framedump -port 7410 session.pcap
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dcrodman/parley/internal/chat"
	"github.com/dcrodman/parley/internal/debug"
	"github.com/dcrodman/parley/internal/packets"
)

var (
	port    = flag.Uint("port", 7410, "Port the server was listening on")
	hexDump = flag.Bool("hex", false, "Print the raw bytes of every frame")
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		exit("usage: framedump [-port N] [-hex] file.pcap")
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		exit("error opening capture: %v", err)
	}
	defer f.Close()

	captured, err := debug.ReadCapture(f, uint16(*port), packets.MustRegistry(chat.Packets()...))
	for _, c := range captured {
		direction := "client -> server"
		if c.FromServer {
			direction = "server -> client"
		}

		if c.Err != nil {
			fmt.Printf("[%s] %s: %v\n", c.Flow, direction, c.Err)
		} else {
			fmt.Printf("[%s] %s: %s (%d bytes)\n", c.Flow, direction, c.Info.Name, len(c.Frame))
			fmt.Print(debug.DumpPacket(c.Packet))
		}
		if *hexDump {
			debug.HexDump(os.Stdout, c.Frame)
		}
		fmt.Println()
	}
	if err != nil {
		exit("%v", err)
	}
}

func exit(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
