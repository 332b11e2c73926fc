package protocol

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	Pong     = "PONG"
	NotFound = "NOTFOUND"
	OK       = "OK"
	Found    = "FOUND"
	Match    = "MATCH"
	Only     = "ONLY"
	Diff     = "DIFF"
	ErrReply = "ERR"
)

// Source identifies which store a FOUND ONLY payload came from.
type Source int

const (
	SourceLocal  Source = 1
	SourceRemote Source = 2
)

// WriteFrame writes a header line followed by the payloads in order. The
// header must already carry the payload lengths.
func WriteFrame(w io.Writer, header string, payloads ...[]byte) (int64, error) {
	var written int64
	n, err := io.WriteString(w, header+"\n")
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("could not write header %q: %w", header, err)
	}
	for _, p := range payloads {
		n, err = w.Write(p)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("could not write payload: %w", err)
		}
	}
	return written, nil
}

func StoreFoundHeader(size int64) string {
	return fmt.Sprintf("%s %d", OK, size)
}

func MatchHeader(size int) string {
	return fmt.Sprintf("%s %s %d", Found, Match, size)
}

func OnlyHeader(which Source, size int) string {
	return fmt.Sprintf("%s %s %d %d", Found, Only, which, size)
}

func DiffHeader(localSize, remoteSize int) string {
	return fmt.Sprintf("%s %s %d %d", Found, Diff, localSize, remoteSize)
}

// ParseStoreHeader interprets a Store Node reply line. It returns the
// announced size and true for "OK <size>", false for NOTFOUND, and an
// error for anything else.
func ParseStoreHeader(line string) (int64, bool, error) {
	switch {
	case line == "":
		return 0, false, Errorf(KindRemoteUnreachable, "empty reply")
	case line == NotFound:
		return 0, false, nil
	case strings.HasPrefix(line, OK+" "):
		size, err := parseSize(strings.TrimSpace(strings.TrimPrefix(line, OK+" ")))
		if err != nil {
			return 0, false, err
		}
		return size, true, nil
	default:
		return 0, false, Errorf(KindRemoteUnreachable, "unexpected reply %q", line)
	}
}

type HeaderKind int

const (
	HeaderUnknown HeaderKind = iota
	HeaderNotFound
	HeaderMatch
	HeaderOnly
	HeaderDiff
	HeaderErr
	HeaderPong
)

// Header is a decoded Orchestrator reply line.
type Header struct {
	Kind   HeaderKind
	Which  Source
	Sizes  []int64
	Reason string
	Raw    string
}

// ParseHeader decodes an Orchestrator reply line by its literal prefix.
// Unknown text yields HeaderUnknown with a nil error; a known prefix with
// malformed fields yields an error.
func ParseHeader(line string) (Header, error) {
	h := Header{Raw: line}
	switch {
	case line == NotFound:
		h.Kind = HeaderNotFound
	case line == Pong:
		h.Kind = HeaderPong
	case strings.HasPrefix(line, Found+" "+Match+" "):
		h.Kind = HeaderMatch
		sizes, err := parseSizes(strings.Fields(line)[2:], 1)
		if err != nil {
			return h, err
		}
		h.Sizes = sizes
	case strings.HasPrefix(line, Found+" "+Only+" "):
		h.Kind = HeaderOnly
		fields := strings.Fields(line)[2:]
		if len(fields) != 2 {
			return h, Errorf(KindBadRequest, "malformed header %q", line)
		}
		switch fields[0] {
		case "1":
			h.Which = SourceLocal
		case "2":
			h.Which = SourceRemote
		default:
			return h, Errorf(KindBadRequest, "unknown source %q in header %q", fields[0], line)
		}
		sizes, err := parseSizes(fields[1:], 1)
		if err != nil {
			return h, err
		}
		h.Sizes = sizes
	case strings.HasPrefix(line, Found+" "+Diff+" "):
		h.Kind = HeaderDiff
		sizes, err := parseSizes(strings.Fields(line)[2:], 2)
		if err != nil {
			return h, err
		}
		h.Sizes = sizes
	case strings.HasPrefix(line, ErrReply+" "):
		h.Kind = HeaderErr
		h.Reason = strings.TrimSpace(strings.TrimPrefix(line, ErrReply+" "))
	default:
		h.Kind = HeaderUnknown
	}
	return h, nil
}

func parseSizes(fields []string, want int) ([]int64, error) {
	if len(fields) != want {
		return nil, Errorf(KindBadRequest, "expected %d sizes, got %d", want, len(fields))
	}
	sizes := make([]int64, 0, want)
	for _, f := range fields {
		size, err := parseSize(f)
		if err != nil {
			return nil, err
		}
		sizes = append(sizes, size)
	}
	return sizes, nil
}

func parseSize(s string) (int64, error) {
	size, err := strconv.ParseInt(s, 10, 64)
	if err != nil || size < 0 {
		return 0, Errorf(KindBadRequest, "invalid size %q", s)
	}
	return size, nil
}

// ReadExact reads n bytes from r. On a short read it returns the bytes
// it got together with an ErrTruncated error. The buffer grows with the
// data actually received, not with the declared size.
func ReadExact(r io.Reader, n int64) ([]byte, error) {
	var buf bytes.Buffer
	got, err := io.CopyN(&buf, r, n)
	if got < n {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return buf.Bytes(), Wrap(KindTruncated, fmt.Errorf("read %d of %d bytes: %w", got, n, err))
	}
	return buf.Bytes(), nil
}
