// Package debug has tools for looking at parley traffic: packet and frame dumps
// and decoding of frames recorded in pcap captures.
package debug

import (
	"fmt"
	"io"
	"strconv"

	"github.com/davecgh/go-spew/spew"

	"github.com/dcrodman/parley/internal/packets"
)

const displayWidth = 16

var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// DumpPacket returns a multi-line rendering of every field of p.
func DumpPacket(p packets.Packet) string {
	return dumpConfig.Sdump(p)
}

// HexDump writes data to w in two columns, one for bytes and the other for
// their ascii representation.
func HexDump(w io.Writer, data []byte) {
	for offset := 0; offset < len(data); offset += displayWidth {
		end := offset + displayWidth
		if end > len(data) {
			end = len(data)
		}
		writeLine(w, data[offset:end], offset)
	}
}

// Write one line of data.
func writeLine(w io.Writer, data []byte, offset int) {
	fmt.Fprintf(w, "(%04X) ", offset)
	for i, b := range data {
		if i == 8 {
			// Visual aid - spacing between groups of 8 bytes.
			fmt.Fprint(w, "  ")
		}
		fmt.Fprintf(w, "%02x ", b)
	}
	// Fill in the gap if we don't have enough bytes to fill the line.
	for i := len(data); i < displayWidth; i++ {
		if i == 8 {
			fmt.Fprint(w, "  ")
		}
		fmt.Fprint(w, "   ")
	}
	fmt.Fprint(w, "    ")
	// Display the print characters as-is, others as periods.
	for _, b := range data {
		if b < 0x80 && strconv.IsPrint(rune(b)) {
			fmt.Fprintf(w, "%c", b)
		} else {
			fmt.Fprint(w, ".")
		}
	}
	fmt.Fprintln(w)
}
