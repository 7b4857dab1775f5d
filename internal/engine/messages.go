package engine

import (
	"github.com/fenwick-audio/aurad/internal/format"
	"github.com/fenwick-audio/aurad/internal/iodev"
	"github.com/fenwick-audio/aurad/internal/stream"
	"github.com/google/uuid"
)

// CmdKind identifies a main->engine pipe message, per spec §4.4 step 4
// ("add stream, remove stream, add device, remove device, dump, …") and
// §4.5/§4.7's attachment and reattach protocols.
type CmdKind int

const (
	CmdAddStream CmdKind = iota
	CmdRmStream
	CmdAddDevice
	CmdRmDevice
	CmdDump
	CmdSetVolume
	CmdAddLoopbackTap
)

// Cmd is a single main->engine message. Exactly one reply is sent on
// Reply before the next Cmd is processed (spec §5 "Ordering guarantees":
// "the engine sends a single reply per message before consuming the
// next").
type Cmd struct {
	Kind CmdKind

	Stream    *stream.RStream
	StreamID  stream.ID
	Device    iodev.Device
	DeviceDir iodev.Direction
	Volume    float32

	// LoopbackTap and TapTarget are used by CmdAddLoopbackTap: LoopbackTap
	// is registered against the output device identified by TapTarget, per
	// spec §4.3 "Loopback device".
	LoopbackTap *iodev.LoopbackDevice
	TapTarget   uuid.UUID

	Reply chan Reply
}

// Reply is the engine's response to a Cmd.
type Reply struct {
	Err error
	// Dump is populated only for CmdDump.
	Dump *Snapshot
}

// Snapshot is a read-only point-in-time view of engine state, returned by
// CmdDump for diagnostics and tests.
type Snapshot struct {
	Devices []DeviceSnapshot
}

type DeviceSnapshot struct {
	ID        string
	Name      string
	Direction iodev.Direction
	State     iodev.State
	Format    format.Format
	NumStreams int
}

// ReattachNotice is delivered to whatever collaborator owns client
// sessions when a device is torn down out from under its attached
// streams (spec §4.7 "STREAM_REATTACH"). The engine does not itself
// speak the control protocol (§1 non-goal); it publishes these notices on
// a channel for the control-socket server to forward.
type ReattachNotice struct {
	StreamHandle uuid.UUID
}
