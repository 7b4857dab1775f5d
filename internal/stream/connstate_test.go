package stream

import (
	"testing"

	"github.com/fenwick-audio/aurad/internal/format"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStream() *RStream {
	return New(NewID(1, 1), Out, format.Format{
		SampleFormat: format.S16LE,
		Rate:         48000,
		Channels:     2,
		Layout:       format.StereoLayout,
	}, 4096, 512, 64, 0)
}

func TestConnState_HappyPath(t *testing.T) {
	s := newTestStream()
	require.Equal(t, Created, s.State())

	require.NoError(t, Transition(s, AwaitingConnect))
	require.NoError(t, Transition(s, ConnectedReady))
	require.NoError(t, Transition(s, AttachedRunning))
	require.NoError(t, Transition(s, Detaching))
	require.NoError(t, Transition(s, Dead))
	assert.Equal(t, Dead, s.State())
}

func TestConnState_RejectsSkippingStates(t *testing.T) {
	s := newTestStream()
	err := Transition(s, AttachedRunning)
	require.Error(t, err)
	var illegal *ErrIllegalTransition
	assert.ErrorAs(t, err, &illegal)
	assert.Equal(t, Created, s.State())
}

func TestConnState_DeadIsTerminal(t *testing.T) {
	s := newTestStream()
	require.NoError(t, Transition(s, AwaitingConnect))
	require.NoError(t, Transition(s, ConnectedReady))
	require.NoError(t, Transition(s, Detaching))
	require.NoError(t, Transition(s, Dead))

	err := Transition(s, AwaitingConnect)
	assert.Error(t, err)
}

func TestConnState_AwaitingConnectCanFailToDead(t *testing.T) {
	s := newTestStream()
	require.NoError(t, Transition(s, AwaitingConnect))
	require.NoError(t, Transition(s, Dead))
}
