// Package control implements the external boundary from spec §6: the
// control socket's length-prefixed message framing and just enough of an
// accept loop to drive a stream from CREATED through CONNECTED_READY and
// hand it to the engine. Full attach/enumerate/volume-policy semantics
// live outside this package's scope (spec §1).
package control

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MsgID identifies a control socket message, per spec §6.
type MsgID uint32

const (
	// Client -> server.
	ConnectStream MsgID = iota + 1
	DisconnectStream
	SwitchIodev
	SetSystemVolume
	SetSystemMute
	SetSystemCaptureGain
	SetNodeAttr
	SelectNode
	ReloadDSP

	// Server -> client.
	ClientConnected
	StreamConnected
	StreamReattach
	IodevList
	VolumeUpdate
	ClientListUpdate
)

func (id MsgID) String() string {
	switch id {
	case ConnectStream:
		return "CONNECT_STREAM"
	case DisconnectStream:
		return "DISCONNECT_STREAM"
	case SwitchIodev:
		return "SWITCH_IODEV"
	case SetSystemVolume:
		return "SET_SYSTEM_VOLUME"
	case SetSystemMute:
		return "SET_SYSTEM_MUTE"
	case SetSystemCaptureGain:
		return "SET_SYSTEM_CAPTURE_GAIN"
	case SetNodeAttr:
		return "SET_NODE_ATTR"
	case SelectNode:
		return "SELECT_NODE"
	case ReloadDSP:
		return "RELOAD_DSP"
	case ClientConnected:
		return "CLIENT_CONNECTED"
	case StreamConnected:
		return "STREAM_CONNECTED"
	case StreamReattach:
		return "STREAM_REATTACH"
	case IodevList:
		return "IODEV_LIST"
	case VolumeUpdate:
		return "VOLUME_UPDATE"
	case ClientListUpdate:
		return "CLIENT_LIST_UPDATE"
	default:
		return "UNKNOWN"
	}
}

// Msg is one length-prefixed control socket message: a 32-bit length
// (total bytes including itself), a 32-bit id, and a payload.
type Msg struct {
	ID      MsgID
	Payload []byte
}

const headerSize = 8 // length + id

// ErrTruncated is returned when a message's declared length doesn't fit
// what was actually readable; per spec §7 this is a PROTOCOL error.
var ErrTruncated = fmt.Errorf("control: truncated or malformed message")

// WriteMsg writes a length-prefixed message.
func WriteMsg(w io.Writer, m Msg) error {
	total := headerSize + len(m.Payload)
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(m.ID))
	copy(buf[8:], m.Payload)
	_, err := w.Write(buf)
	return err
}

// ReadMsg reads one length-prefixed message. maxLen bounds the payload
// size accepted, guarding against a hostile or corrupt length field.
func ReadMsg(r io.Reader, maxLen int) (Msg, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Msg{}, err
	}
	total := binary.LittleEndian.Uint32(hdr[0:4])
	id := MsgID(binary.LittleEndian.Uint32(hdr[4:8]))

	if int(total) < headerSize || int(total) > maxLen+headerSize {
		return Msg{}, ErrTruncated
	}

	payload := make([]byte, int(total)-headerSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Msg{}, ErrTruncated
	}

	return Msg{ID: id, Payload: payload}, nil
}

// EncodeU32Payload is a small helper for the many message kinds whose
// payload is just one or two uint32 fields (SET_SYSTEM_VOLUME, client ids,
// etc).
func EncodeU32Payload(vals ...uint32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}

// DecodeU32Payload is the inverse of EncodeU32Payload.
func DecodeU32Payload(buf []byte) ([]uint32, error) {
	if len(buf)%4 != 0 {
		return nil, ErrTruncated
	}
	out := make([]uint32, len(buf)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return out, nil
}
