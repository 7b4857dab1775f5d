package control

import "github.com/fenwick-audio/aurad/internal/control/ids"

// Audio socket message types, per spec §6: fixed-size {id: u32, frames:
// u32, error: i32}. The wire format itself lives in internal/control/ids
// so internal/engine can write REQUEST_DATA/DATA_READY without importing
// this package (which in turn imports internal/engine to drive the
// accept loop) — these aliases just let control package callers spell
// the same names without reaching into the ids subpackage directly.
type (
	AudioMsgID = ids.AudioMsgID
	AudioMsg   = ids.AudioMsg
)

const (
	RequestData = ids.RequestData
	DataReady   = ids.DataReady
)

var (
	WriteAudioMsg = ids.WriteAudioMsg
	ReadAudioMsg  = ids.ReadAudioMsg
)
