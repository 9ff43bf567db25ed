package sandbox

import (
	"bytes"
	"strings"
)

const (
	outputTruncatedMarker = "\n... [Output truncated - exceeded %s limit]"
	errorTruncatedMarker  = "\n... [Error output truncated - exceeded %s limit]"
)

// cappedBuffer accumulates at most limit bytes, then appends a marker once.
// It is not safe for concurrent use; the engine guards it.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	marker    string
	truncated bool
}

func newCappedBuffer(limit int, marker string) *cappedBuffer {
	return &cappedBuffer{limit: limit, marker: marker}
}

// write appends p and reports whether this call pushed the buffer past its limit.
func (b *cappedBuffer) write(p []byte) (overflowed bool) {
	if b.truncated {
		return false
	}
	room := b.limit - b.buf.Len()
	if len(p) <= room {
		b.buf.Write(p)
		return false
	}
	if room > 0 {
		b.buf.Write(p[:room])
	}
	b.buf.WriteString(b.marker)
	b.truncated = true
	return true
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}

// dropNoise removes whole lines that contain any of the markers.
// Chunks are filtered independently, so a marker split across two chunks is kept.
func dropNoise(chunk []byte, markers []string) []byte {
	if len(markers) == 0 || !containsAny(chunk, markers) {
		return chunk
	}
	lines := strings.SplitAfter(string(chunk), "\n")
	var kept strings.Builder
	for _, line := range lines {
		if line == "" || containsAny([]byte(line), markers) {
			continue
		}
		kept.WriteString(line)
	}
	return []byte(kept.String())
}

func containsAny(b []byte, markers []string) bool {
	for _, m := range markers {
		if bytes.Contains(b, []byte(m)) {
			return true
		}
	}
	return false
}
