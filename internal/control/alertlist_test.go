package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlertList_CoalescesRepeatedPends(t *testing.T) {
	a := NewAlertList()
	a.Pend(VolumeUpdate)
	a.Pend(VolumeUpdate)
	a.Pend(VolumeUpdate)

	pending := a.Drain()
	assert.Equal(t, []MsgID{VolumeUpdate}, pending)
}

func TestAlertList_DrainClearsPending(t *testing.T) {
	a := NewAlertList()
	a.Pend(VolumeUpdate)
	a.Drain()
	assert.Nil(t, a.Drain())
}

func TestAlertList_PreservesFirstRaisedOrder(t *testing.T) {
	a := NewAlertList()
	a.Pend(IodevList)
	a.Pend(VolumeUpdate)
	a.Pend(IodevList)

	assert.Equal(t, []MsgID{IodevList, VolumeUpdate}, a.Drain())
}
