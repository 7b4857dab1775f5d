// Package ids holds the audio-socket message ids and framing shared
// between the engine (which writes REQUEST_DATA/DATA_READY) and the
// control package's socket server (which owns the actual accept loop).
// Split out from internal/control to let internal/engine depend on just
// the wire format without importing the socket server itself.
package ids

import (
	"encoding/binary"
	"io"
)

// AudioMsgID identifies a fixed-size audio socket message, per spec §6
// "Audio socket": "{id: u32, frames: u32, error: i32}".
type AudioMsgID uint32

const (
	// RequestData is sent server->client on playback streams to prompt
	// the client to fill more of the shm ring.
	RequestData AudioMsgID = iota + 1
	// DataReady is sent in either direction: server->client on capture
	// streams when a shm half has filled, client->server to acknowledge.
	DataReady
)

// AudioMsg is the fixed-size audio socket message from spec §6.
type AudioMsg struct {
	ID     AudioMsgID
	Frames uint32
	Error  int32
}

const audioMsgSize = 4 + 4 + 4

// WriteAudioMsg writes a fixed-size audio socket message.
func WriteAudioMsg(w io.Writer, m AudioMsg) error {
	var buf [audioMsgSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.ID))
	binary.LittleEndian.PutUint32(buf[4:8], m.Frames)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(m.Error))
	_, err := w.Write(buf[:])
	return err
}

// ReadAudioMsg reads a fixed-size audio socket message.
func ReadAudioMsg(r io.Reader) (AudioMsg, error) {
	var buf [audioMsgSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return AudioMsg{}, err
	}
	return AudioMsg{
		ID:     AudioMsgID(binary.LittleEndian.Uint32(buf[0:4])),
		Frames: binary.LittleEndian.Uint32(buf[4:8]),
		Error:  int32(binary.LittleEndian.Uint32(buf[8:12])),
	}, nil
}
