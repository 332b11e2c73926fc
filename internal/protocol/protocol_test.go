package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Request
		wantErr error
	}{
		{name: "empty", line: "", wantErr: ErrEmptyRequest},
		{name: "whitespace only", line: " \t\r\n", wantErr: ErrEmptyRequest},
		{name: "ping", line: "PING", want: Request{Verb: VerbPing}},
		{name: "ping lower case", line: "ping\r\n", want: Request{Verb: VerbPing}},
		{name: "get", line: "GET /foo.txt\n", want: Request{Verb: VerbGet, Path: "/foo.txt"}},
		{name: "get mixed case", line: "gEt a/b", want: Request{Verb: VerbGet, Path: "a/b"}},
		{name: "get with extra spaces", line: "GET    /x  ", want: Request{Verb: VerbGet, Path: "/x"}},
		{name: "path keeps inner spaces", line: "GET /my file.txt", want: Request{Verb: VerbGet, Path: "/my file.txt"}},
		{name: "get without path", line: "GET", wantErr: ErrBadRequest},
		{name: "unknown verb", line: "PUT /x", wantErr: ErrBadRequest},
		{name: "ping with argument", line: "PING now", wantErr: ErrBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest(tt.line)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestRequestLine(t *testing.T) {
	require.Equal(t, "PING\n", Request{Verb: VerbPing}.Line())
	require.Equal(t, "GET /a b\n", Request{Verb: VerbGet, Path: "/a b"}.Line())
}

func TestReadLine(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr error
	}{
		{name: "single line", input: "OK 5\nhello", want: []string{"OK 5"}},
		{name: "line without newline", input: "NOTFOUND", want: []string{"NOTFOUND"}},
		{name: "two lines", input: "a\nb\n", want: []string{"a", "b"}},
		{name: "nothing", input: "", wantErr: errors.New("EOF")},
		{name: "too long", input: strings.Repeat("x", MaxLineLength+10) + "\n", wantErr: ErrBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bufio.NewReaderSize(strings.NewReader(tt.input), 16)
			if tt.wantErr != nil {
				_, err := ReadLine(r)
				require.Error(t, err)
				if errors.Is(tt.wantErr, ErrBadRequest) {
					require.ErrorIs(t, err, ErrBadRequest)
				}
				return
			}
			for _, want := range tt.want {
				got, err := ReadLine(r)
				require.NoError(t, err)
				require.Equal(t, want, got)
			}
		})
	}
}

func TestReadRequestOnClosedStream(t *testing.T) {
	_, err := ReadRequest(bufio.NewReader(strings.NewReader("")))
	require.ErrorIs(t, err, ErrEmptyRequest)
}

func TestParseStoreHeader(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantSize  int64
		wantFound bool
		wantErr   bool
	}{
		{name: "ok", line: "OK 12", wantSize: 12, wantFound: true},
		{name: "ok zero", line: "OK 0", wantFound: true},
		{name: "not found", line: "NOTFOUND"},
		{name: "empty", line: "", wantErr: true},
		{name: "err reply", line: "ERR InvalidPath", wantErr: true},
		{name: "negative size", line: "OK -1", wantErr: true},
		{name: "garbage size", line: "OK many", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, found, err := ParseStoreHeader(tt.line)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantSize, size)
			require.Equal(t, tt.wantFound, found)
		})
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Header
		wantErr bool
	}{
		{name: "not found", line: "NOTFOUND", want: Header{Kind: HeaderNotFound}},
		{name: "pong", line: "PONG", want: Header{Kind: HeaderPong}},
		{name: "match", line: "FOUND MATCH 5", want: Header{Kind: HeaderMatch, Sizes: []int64{5}}},
		{name: "only local", line: "FOUND ONLY 1 3", want: Header{Kind: HeaderOnly, Which: SourceLocal, Sizes: []int64{3}}},
		{name: "only remote", line: "FOUND ONLY 2 4", want: Header{Kind: HeaderOnly, Which: SourceRemote, Sizes: []int64{4}}},
		{name: "diff", line: "FOUND DIFF 2 3", want: Header{Kind: HeaderDiff, Sizes: []int64{2, 3}}},
		{name: "err", line: "ERR InvalidPath", want: Header{Kind: HeaderErr, Reason: "InvalidPath"}},
		{name: "unknown", line: "HELLO THERE", want: Header{Kind: HeaderUnknown}},
		{name: "only with bad source", line: "FOUND ONLY 3 4", wantErr: true},
		{name: "diff with one size", line: "FOUND DIFF 2", wantErr: true},
		{name: "match with bad size", line: "FOUND MATCH x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHeader(tt.line)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.want.Raw = tt.line
			require.Equal(t, tt.want, got)
		})
	}
}

func TestHeadersRoundTrip(t *testing.T) {
	for _, line := range []string{MatchHeader(5), OnlyHeader(SourceLocal, 3), OnlyHeader(SourceRemote, 4), DiffHeader(2, 3)} {
		h, err := ParseHeader(line)
		require.NoError(t, err)
		require.NotEqual(t, HeaderUnknown, h.Kind, line)
	}
	require.Equal(t, "FOUND ONLY 2 4", OnlyHeader(SourceRemote, 4))
	require.Equal(t, "OK 7", StoreFoundHeader(7))
}

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteFrame(&buf, DiffHeader(2, 3), []byte("AA"), []byte("BBB"))
	require.NoError(t, err)
	require.Equal(t, "FOUND DIFF 2 3\nAABBB", buf.String())
	require.Equal(t, int64(buf.Len()), n)
}

func TestReadExact(t *testing.T) {
	data, err := ReadExact(strings.NewReader("helloworld"), 5)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	data, err = ReadExact(strings.NewReader("abc"), 10)
	require.ErrorIs(t, err, ErrTruncated)
	require.Equal(t, []byte("abc"), data)

	data, err = ReadExact(strings.NewReader(""), 0)
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestErrors(t *testing.T) {
	err := Errorf(KindInvalidPath, "bad %s", "path")
	require.ErrorIs(t, err, ErrInvalidPath)
	require.NotErrorIs(t, err, ErrBadRequest)
	require.Equal(t, KindInvalidPath, KindOf(err))
	require.Equal(t, KindInternal, KindOf(errors.New("boom")))

	reply, ok := Reply(err)
	require.True(t, ok)
	require.Equal(t, "ERR InvalidPath", reply)

	_, ok = Reply(Wrap(KindRemoteTimeout, errors.New("slow")))
	require.False(t, ok)
}
