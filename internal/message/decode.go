package message

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// MaxLineSize bounds a single input line.
const MaxLineSize = 1 << 20

// LineError reports an input line that could not be decoded. Decoding can
// continue with the next line after a LineError.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Decoder reads JSON-lines messages. Blank lines and lines starting with '#'
// are skipped.
type Decoder struct {
	scanner *bufio.Scanner
	line    int
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &Decoder{scanner: scanner}
}

// Next returns the next message. It returns io.EOF at the end of input, a
// *LineError for a malformed line, and any other error from the reader.
func (d *Decoder) Next() (Message, error) {
	for d.scanner.Scan() {
		d.line++
		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			return Message{}, &LineError{Line: d.line, Err: err}
		}
		return m, nil
	}
	if err := d.scanner.Err(); err != nil {
		return Message{}, fmt.Errorf("failed to read input: %w", err)
	}
	return Message{}, io.EOF
}

// Line returns the number of the last line read.
func (d *Decoder) Line() int { return d.line }

// Encoder writes messages as JSON lines.
type Encoder struct {
	enc *json.Encoder
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode writes m followed by a newline.
func (e *Encoder) Encode(m Message) error {
	return e.enc.Encode(m)
}
