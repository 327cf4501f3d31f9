// Command canopend runs a single CANopen node (NMT + SDO server) against
// a host CAN interface, and offers an EDS export/import utility for the
// node's Object Dictionary.
package main

import (
	"os"

	"github.com/henrikbrixandersen/canopen/cmd/canopend/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
