package shm

import (
	"fmt"
	"math/rand"

	"golang.org/x/sys/unix"
)

// PosixRing wraps a Ring whose two halves are backed by POSIX shared
// memory (shm_open + mmap), so a second process (the client) can map the
// same region. Spec §3 "Lifecycle": created by the server with a POSIX shm
// key when a stream connects; destroyed on disconnect.
type PosixRing struct {
	*Ring
	Key  string
	fds  [2]int
	maps [2][]byte
}

// NewPosixKey produces a process-unique shm object name, analogous to the
// keys CRAS hands back in CLIENT_CONNECTED / STREAM_CONNECTED (spec §6).
func NewPosixKey(prefix string) string {
	return fmt.Sprintf("/aurad-%s-%08x", prefix, rand.Uint32())
}

// NewPosixRing creates (or opens, if create is false) the two POSIX shm
// objects backing a ring's halves and maps them into this process. The
// caller is responsible for getting the same key to the peer process (via
// the control/audio socket handshake, spec §6).
func NewPosixRing(key string, frameBytes, usedSize int, create bool) (*PosixRing, error) {
	pr := &PosixRing{Key: key}
	flags := unix.O_RDWR
	if create {
		flags |= unix.O_CREAT | unix.O_EXCL
	}

	for half := 0; half < 2; half++ {
		name := fmt.Sprintf("%s-%d", key, half)
		fd, err := unix.ShmOpen(name, flags, 0600)
		if err != nil {
			pr.closeOpened(half)
			return nil, fmt.Errorf("shm: open half %d: %w", half, err)
		}
		pr.fds[half] = fd
		if create {
			if err := unix.Ftruncate(fd, int64(usedSize)); err != nil {
				pr.closeOpened(half + 1)
				return nil, fmt.Errorf("shm: truncate half %d: %w", half, err)
			}
		}
		data, err := unix.Mmap(fd, 0, usedSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			pr.closeOpened(half + 1)
			return nil, fmt.Errorf("shm: mmap half %d: %w", half, err)
		}
		pr.maps[half] = data
	}

	pr.Ring = &Ring{data: [2][]byte{pr.maps[0], pr.maps[1]}}
	pr.Ring.hdr.FrameBytes = frameBytes
	pr.Ring.hdr.UsedSize = usedSize
	return pr, nil
}

func (pr *PosixRing) closeOpened(n int) {
	for i := 0; i < n; i++ {
		if pr.maps[i] != nil {
			_ = unix.Munmap(pr.maps[i])
		}
		if pr.fds[i] != 0 {
			_ = unix.Close(pr.fds[i])
		}
	}
}

// Unlink removes the backing shm objects. Called once by whichever side
// created them, on stream teardown.
func (pr *PosixRing) Unlink() error {
	var firstErr error
	for half := 0; half < 2; half++ {
		name := fmt.Sprintf("%s-%d", pr.Key, half)
		if err := unix.ShmUnlink(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close unmaps and closes the fds, then marks the Ring torn down.
func (pr *PosixRing) Close() {
	pr.Ring.Close()
	for half := 0; half < 2; half++ {
		if pr.maps[half] != nil {
			_ = unix.Munmap(pr.maps[half])
		}
		if pr.fds[half] != 0 {
			_ = unix.Close(pr.fds[half])
		}
	}
}
