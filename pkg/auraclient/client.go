// Package auraclient implements the minimal client side of spec.md §6's
// handshake: one control thread, plus a listening audio socket per
// stream that the server dials into. It exists purely so the control and
// audio socket wire framing has a real exerciser in tests (spec.md §5
// "for completeness... the protocol requires symmetric behavior") — it
// is not a general client SDK, and does not implement device
// enumeration, volume control, or any other policy surface.
package auraclient

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/fenwick-audio/aurad/internal/control"
	"github.com/fenwick-audio/aurad/internal/control/ids"
	"github.com/fenwick-audio/aurad/internal/format"
)

// connectTimeout mirrors cras_client_connect's ~500ms global connect
// timeout across bounded retries (spec.md §5).
const connectTimeout = 500 * time.Millisecond

// Client is a connected control-socket session.
type Client struct {
	conn      net.Conn
	socketDir string
	audioName string

	clientID     uint16
	stateVersion uint32
	nextSeqGuess uint16
}

// Dial connects to the control socket under socketDir and completes the
// CLIENT_CONNECTED handshake.
func Dial(socketDir, ctrlName, audioName string) (*Client, error) {
	path := filepath.Join(socketDir, ctrlName)

	deadline := time.Now().Add(connectTimeout)
	var conn net.Conn
	var err error
	for {
		conn, err = net.Dial("unix", path)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("auraclient: connect timed out: %w", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	msg, err := control.ReadMsg(conn, 64)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("auraclient: read CLIENT_CONNECTED: %w", err)
	}
	if msg.ID != control.ClientConnected {
		conn.Close()
		return nil, fmt.Errorf("auraclient: expected CLIENT_CONNECTED, got %v", msg.ID)
	}
	vals, err := control.DecodeU32Payload(msg.Payload)
	if err != nil || len(vals) != 2 {
		conn.Close()
		return nil, fmt.Errorf("auraclient: malformed CLIENT_CONNECTED payload")
	}

	return &Client{
		conn:         conn,
		socketDir:    socketDir,
		audioName:    audioName,
		clientID:     uint16(vals[0]),
		stateVersion: vals[1],
	}, nil
}

// Close ends the control session.
func (c *Client) Close() error { return c.conn.Close() }

// DisconnectStream sends DISCONNECT_STREAM for the given stream id.
func (c *Client) DisconnectStream(id uint32) error {
	return control.WriteMsg(c.conn, control.Msg{
		ID:      control.DisconnectStream,
		Payload: control.EncodeU32Payload(id),
	})
}

// StateVersion is the server-state seqlock counter sampled at connect
// time (spec §6 "clients must refuse to attach on mismatch").
func (c *Client) StateVersion() uint32 { return c.stateVersion }

// Stream is a connected playback or capture stream's client-side handle.
type Stream struct {
	ID        uint32
	audioConn net.Conn
}

// ConnectStream requests a new stream of the given direction and format,
// binds the audio socket the server will dial, and completes the
// handshake through STREAM_CONNECTED.
func (c *Client) ConnectStream(direction int, f format.Format, bufferFrames, cbThreshold, minCbLevel int, flags uint32) (*Stream, error) {
	// The sequence number is assigned by the server as the low 16 bits of
	// the returned stream id; we don't know it before asking, so the
	// audio socket listener must be bound using the id the server tells
	// us about in STREAM_CONNECTED. To avoid a chicken-and-egg race we
	// instead pre-bind on the next sequence number the server is
	// expected to hand out: callers issuing ConnectStream serially (the
	// only pattern this client supports) keep this in lock-step with the
	// server's per-client counter, which starts at zero.
	seq := c.nextSeqGuess
	audioPath := filepath.Join(c.socketDir, fmt.Sprintf("%s-%d-%d", c.audioName, c.clientID, seq))
	_ = os.Remove(audioPath)
	ln, err := net.Listen("unix", audioPath)
	if err != nil {
		return nil, fmt.Errorf("auraclient: bind audio socket: %w", err)
	}
	defer ln.Close()

	req := control.EncodeU32Payload(
		uint32(direction),
		uint32(f.Rate),
		uint32(f.Channels),
		uint32(f.SampleFormat),
		uint32(bufferFrames),
		uint32(cbThreshold),
		uint32(minCbLevel),
		flags,
	)
	if err := control.WriteMsg(c.conn, control.Msg{ID: control.ConnectStream, Payload: req}); err != nil {
		return nil, fmt.Errorf("auraclient: send CONNECT_STREAM: %w", err)
	}

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	acceptCh := make(chan acceptResult, 1)
	go func() {
		conn, err := ln.Accept()
		acceptCh <- acceptResult{conn, err}
	}()

	reply, err := control.ReadMsg(c.conn, 64)
	if err != nil {
		return nil, fmt.Errorf("auraclient: read STREAM_CONNECTED: %w", err)
	}
	if reply.ID != control.StreamConnected {
		return nil, fmt.Errorf("auraclient: expected STREAM_CONNECTED, got %v", reply.ID)
	}
	vals, err := control.DecodeU32Payload(reply.Payload)
	if err != nil || len(vals) != 4 {
		return nil, fmt.Errorf("auraclient: malformed STREAM_CONNECTED payload")
	}
	if vals[3] != 0 {
		return nil, fmt.Errorf("auraclient: stream connect failed, server err=%d", vals[3])
	}

	select {
	case res := <-acceptCh:
		if res.err != nil {
			return nil, fmt.Errorf("auraclient: accept audio socket: %w", res.err)
		}
		c.nextSeqGuess++
		return &Stream{ID: vals[0], audioConn: res.conn}, nil
	case <-time.After(connectTimeout):
		return nil, fmt.Errorf("auraclient: server never dialed audio socket")
	}
}

// WaitRequestData blocks for a REQUEST_DATA message from the server.
func (s *Stream) WaitRequestData() error {
	msg, err := ids.ReadAudioMsg(s.audioConn)
	if err != nil {
		return err
	}
	if msg.ID != ids.RequestData {
		return fmt.Errorf("auraclient: expected REQUEST_DATA, got %v", msg.ID)
	}
	return nil
}

// WaitDataReady blocks for a DATA_READY message from the server.
func (s *Stream) WaitDataReady() error {
	msg, err := ids.ReadAudioMsg(s.audioConn)
	if err != nil {
		return err
	}
	if msg.ID != ids.DataReady {
		return fmt.Errorf("auraclient: expected DATA_READY, got %v", msg.ID)
	}
	return nil
}

// Close releases the stream's audio socket connection.
func (s *Stream) Close() error { return s.audioConn.Close() }
