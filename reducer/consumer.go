package reducer

import (
	"bufio"
	"io"
	"strings"

	"whitewall/event"
)

// Consume reads an SSE body and folds every event into the given run
// state until a done event or end of stream. Keep-alive comment lines
// and malformed payloads are skipped. A stream that terminates without
// a done event counts as a transport failure: the returned state is no
// longer running and carries a synthetic failure log entry.
func Consume(r io.Reader, s RunState) RunState {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			// blank separators and ": keepalive" comments
			continue
		}
		ev, err := event.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")))
		if err != nil {
			continue
		}
		s = Apply(s, ev)
		if ev.Kind() == event.KindDone {
			return s
		}
	}
	return Fail(s, "Connection lost -- run interrupted")
}
