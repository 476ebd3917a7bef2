package opt

import (
	"bytes"
	"strconv"
	"strings"
)

// iterationHook consumes the solver's tabular progress stream and fires
// once per accepted iteration. The table has one ten-column row per
// iteration whose first column is the iteration number; header lines,
// the iteration-0 row and the shorter abnormal-exit row are ignored.
type iterationHook struct {
	pending []byte
	last    int
	fire    func(iter int)
}

func newIterationHook(fire func(iter int)) *iterationHook {
	return &iterationHook{fire: fire}
}

func (h *iterationHook) Write(p []byte) (int, error) {
	h.pending = append(h.pending, p...)
	for {
		i := bytes.IndexByte(h.pending, '\n')
		if i < 0 {
			break
		}
		h.line(string(h.pending[:i]))
		h.pending = h.pending[i+1:]
	}
	return len(p), nil
}

// Flush handles a final line without a trailing newline.
func (h *iterationHook) Flush() {
	if len(h.pending) > 0 {
		h.line(string(h.pending))
		h.pending = nil
	}
}

func (h *iterationHook) line(s string) {
	fields := strings.Fields(s)
	if len(fields) != 10 {
		return
	}
	iter, err := strconv.Atoi(fields[0])
	if err != nil || iter <= h.last {
		return
	}
	h.last = iter
	h.fire(iter)
}
