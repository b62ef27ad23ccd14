package execution

import (
	"bytes"
	"strings"

	"github.com/rs/zerolog"
)

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}

// lineLogger forwards complete output lines to the debug log as they
// arrive, buffering partial lines across writes.
type lineLogger struct {
	log zerolog.Logger
	rem []byte
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.rem = append(w.rem, p...)
	for {
		idx := bytes.IndexByte(w.rem, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(w.rem[:idx]), "\r")
		w.rem = w.rem[idx+1:]
		if line != "" {
			w.log.Debug().Str("line", line).Msg("Command output")
		}
	}
	return len(p), nil
}
