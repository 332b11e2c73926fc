package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// MaxLineLength bounds a single header or request line.
const MaxLineLength = 64 * 1024

type Verb int

const (
	VerbGet Verb = iota + 1
	VerbPing
)

func (v Verb) String() string {
	switch v {
	case VerbGet:
		return "GET"
	case VerbPing:
		return "PING"
	default:
		return fmt.Sprintf("Verb(%d)", int(v))
	}
}

// Request is one parsed command line. Path is the raw, untrusted path
// exactly as the caller sent it.
type Request struct {
	Verb Verb
	Path string
}

// Line renders the request as it is sent on the wire.
func (r Request) Line() string {
	if r.Verb == VerbPing {
		return "PING\n"
	}
	return "GET " + r.Path + "\n"
}

// ParseRequest parses a request line. The verb is case-insensitive, and
// everything after the first whitespace run is the path.
func ParseRequest(line string) (Request, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Request{}, ErrEmptyRequest
	}
	if strings.EqualFold(line, "PING") {
		return Request{Verb: VerbPing}, nil
	}

	i := strings.IndexFunc(line, unicode.IsSpace)
	if i < 0 {
		return Request{}, Errorf(KindBadRequest, "missing path in %q", line)
	}
	verb, path := line[:i], strings.TrimLeftFunc(line[i:], unicode.IsSpace)
	if !strings.EqualFold(verb, "GET") {
		return Request{}, Errorf(KindBadRequest, "unknown verb %q", verb)
	}
	return Request{Verb: VerbGet, Path: path}, nil
}

// ReadLine reads up to and including the next newline and returns the
// line with surrounding whitespace trimmed. A final line without newline
// is returned with a nil error; io.EOF is returned only when nothing was
// read.
func ReadLine(r *bufio.Reader) (string, error) {
	var buf bytes.Buffer
	for {
		chunk, err := r.ReadSlice('\n')
		buf.Write(chunk)
		if buf.Len() > MaxLineLength {
			return "", Errorf(KindBadRequest, "line exceeds %d bytes", MaxLineLength)
		}
		switch {
		case err == nil:
			return strings.TrimSpace(buf.String()), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && buf.Len() > 0:
			return strings.TrimSpace(buf.String()), nil
		default:
			return "", err
		}
	}
}

// ReadRequest reads and parses one request line.
func ReadRequest(r *bufio.Reader) (Request, error) {
	line, err := ReadLine(r)
	if errors.Is(err, io.EOF) {
		return Request{}, ErrEmptyRequest
	}
	if err != nil {
		return Request{}, err
	}
	return ParseRequest(line)
}
