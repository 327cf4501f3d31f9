package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	canopen "github.com/henrikbrixandersen/canopen"
	"github.com/henrikbrixandersen/canopen/pkg/can"
	_ "github.com/henrikbrixandersen/canopen/pkg/can/socketcan"
	_ "github.com/henrikbrixandersen/canopen/pkg/can/virtual"
	"github.com/henrikbrixandersen/canopen/pkg/nmt"
	"github.com/henrikbrixandersen/canopen/pkg/od"
)

var (
	runIface   string
	runChannel string
	runNodeID  uint8
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Initialize and run a CANopen node",
	RunE:  runNode,
}

func init() {
	runCmd.Flags().StringVar(&runIface, "iface", "virtual", `CAN backend ("socketcan" or "virtual")`)
	runCmd.Flags().StringVar(&runChannel, "channel", "can0", "CAN channel name/interface")
	var nodeID uint8 = 1
	runNodeID = nodeID
	runCmd.Flags().Uint8Var(&runNodeID, "node-id", nodeID, "CANopen node ID (1-127)")
}

func runNode(cmd *cobra.Command, args []string) error {
	bus, err := can.NewBus(runIface, runChannel, 0)
	if err != nil {
		return fmt.Errorf("canopend: create CAN bus: %w", err)
	}

	dictionary := defaultDictionary()

	node := canopen.New(slog.Default())
	if err := node.Init(dictionary, bus, runNodeID, []uint8{1}); err != nil {
		return fmt.Errorf("canopend: init node: %w", err)
	}

	node.NMT().AddStateChangeCallback(&nmt.StateCallback{Handler: func(_ *nmt.NMT, state nmt.State, nodeID uint8) {
		slog.Info("nmt state change", "node_id", nodeID, "state", state.String())
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		cancel()
	}()

	if err := node.Enable(); err != nil {
		return fmt.Errorf("canopend: enable node: %w", err)
	}

	node.Run(ctx)
	return nil
}

// defaultDictionary builds the minimal communication-profile objects
// every CANopen node exposes: device type, error register, and identity.
func defaultDictionary() *od.Dictionary {
	dict := od.New(slog.Default())
	_, _ = dict.AddVariable(od.IndexDeviceType, "device type", od.Unsigned32, 32, od.NewAttribute(od.AccessRO, od.PDONone, false), 4, []byte{0, 0, 0, 0})
	_, _ = dict.AddVariable(od.IndexErrorRegister, "error register", od.Unsigned8, 8, od.NewAttribute(od.AccessRO, od.PDONone, false), 1, []byte{0})
	members := []od.ArrayMember{
		{DataType: od.Unsigned32, Bits: 32, Attr: od.NewAttribute(od.AccessRO, od.PDONone, false), Size: 4}, // vendor ID
		{DataType: od.Unsigned32, Bits: 32, Attr: od.NewAttribute(od.AccessRO, od.PDONone, false), Size: 4}, // product code
		{DataType: od.Unsigned32, Bits: 32, Attr: od.NewAttribute(od.AccessRO, od.PDONone, false), Size: 4}, // revision number
		{DataType: od.Unsigned32, Bits: 32, Attr: od.NewAttribute(od.AccessRO, od.PDONone, false), Size: 4}, // serial number
	}
	_, _ = dict.AddArray(od.IndexIdentity, "identity object", members)
	return dict
}
