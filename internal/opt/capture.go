package opt

import (
	"bytes"
	"io"
	"sync"
)

// The diagnostic stream is process-wide: every solver writes its progress
// text to Diagnostics, which forwards to the current destination.
var (
	captureMu sync.Mutex

	destMu sync.RWMutex
	dest   io.Writer = io.Discard
)

type diagnosticWriter struct{}

func (diagnosticWriter) Write(p []byte) (int, error) {
	destMu.RLock()
	w := dest
	destMu.RUnlock()
	return w.Write(p)
}

// Diagnostics is the process-wide solver diagnostic stream.
var Diagnostics io.Writer = diagnosticWriter{}

// SetOutput replaces the destination of the diagnostic stream and returns
// the previous one. A nil writer discards output.
func SetOutput(w io.Writer) io.Writer {
	if w == nil {
		w = io.Discard
	}
	destMu.Lock()
	defer destMu.Unlock()
	prev := dest
	dest = w
	return prev
}

// Capture redirects the diagnostic stream into a private buffer for the
// duration of fn and returns everything written to it. Captures are
// exclusive: a second Capture blocks until the first has finished. The
// previous destination is restored on every exit path, panics included.
func Capture(fn func() error) (string, error) {
	captureMu.Lock()
	defer captureMu.Unlock()

	buf := new(bytes.Buffer)
	prev := SetOutput(&lockedBuffer{buf: buf})
	defer SetOutput(prev)

	err := fn()
	return buf.String(), err
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf *bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}
