package auraclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDial_TimesOutWhenNothingListens(t *testing.T) {
	dir := t.TempDir()

	start := time.Now()
	_, err := Dial(dir, "control", "audio")
	elapsed := time.Since(start)

	assert.Error(t, err)
	assert.Less(t, elapsed, 2*time.Second)
}
