package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// maxLineBytes bounds a single event line. Fail events carry whole stack
// traces, so the limit is well above bufio's default.
const maxLineBytes = 4 * 1024 * 1024

// DecodeError reports a line that could not be parsed as an event. It keeps
// the raw line so the operator can see exactly what the runner emitted.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed event line %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ViolationError reports an event whose type falls outside the set that is
// valid at the current protocol position. With no request IDs, a single
// out-of-order event desynchronizes every later exchange, so callers must
// treat this as fatal for the whole session.
type ViolationError struct {
	Expected []string
	Actual   string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("protocol violation: expected %s, got %q", strings.Join(e.Expected, " or "), e.Actual)
}

// Encoder writes events to the runner. Writes go straight to the underlying
// writer with no buffering of its own: the runner blocks on each read, so a
// deferred write would deadlock the exchange.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes ev as a single line.
func (e *Encoder) Encode(ev Event) error {
	buf, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding %q event: %w", ev.Type, err)
	}
	buf = append(buf, '\n')
	if _, err := e.w.Write(buf); err != nil {
		return fmt.Errorf("writing %q event: %w", ev.Type, err)
	}
	return nil
}

// Signal writes a bare newline. The runner idles on a blocking read after
// discovery; the empty line is the wake-up that starts execution.
func (e *Encoder) Signal() error {
	if _, err := io.WriteString(e.w, "\n"); err != nil {
		return fmt.Errorf("writing start signal: %w", err)
	}
	return nil
}

// Decoder reads events from the runner, one line at a time.
type Decoder struct {
	scanner *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Decoder{scanner: sc}
}

// Decode blocks until one full line arrives and parses it. A closed stream
// returns io.EOF; anything unparseable returns a DecodeError carrying the
// raw line.
func (d *Decoder) Decode() (Event, error) {
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			return Event{}, fmt.Errorf("reading event line: %w", err)
		}
		return Event{}, io.EOF
	}
	line := d.scanner.Text()
	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return Event{}, &DecodeError{Line: line, Err: err}
	}
	if ev.Type == "" {
		return Event{}, &DecodeError{Line: line, Err: errors.New("missing event type")}
	}
	return ev, nil
}
