package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/torfstack/twin/internal/config"
	"github.com/torfstack/twin/internal/db"
	"github.com/torfstack/twin/internal/store"
)

// recordingJournal collects entries from concurrent handlers.
type recordingJournal struct {
	mu      sync.Mutex
	entries []db.Entry
}

func (j *recordingJournal) Record(_ context.Context, e db.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *recordingJournal) Entries() []db.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.entries)
}

type failingJournal struct{}

func (failingJournal) Record(context.Context, db.Entry) error {
	return errors.New("disk full")
}

func TestOrchestratorScenarios(t *testing.T) {
	storeAddr := startStore(t, map[string]string{
		"match.txt":  "hello",
		"remote.txt": "xyzw",
		"diff.txt":   "BBB",
	})
	journal := &recordingJournal{}
	addr := startOrchestrator(t, storeAddr, map[string]string{
		"match.txt": "hello",
		"local.txt": "abc",
		"diff.txt":  "AA",
	}, WithJournal(journal))

	tests := []struct {
		name    string
		request string
		want    string
	}{
		{name: "match", request: "GET /match.txt\n", want: "FOUND MATCH 5\nhello"},
		{name: "only local", request: "GET /local.txt\n", want: "FOUND ONLY 1 3\nabc"},
		{name: "only remote", request: "GET /remote.txt\n", want: "FOUND ONLY 2 4\nxyzw"},
		{name: "diff", request: "GET /diff.txt\n", want: "FOUND DIFF 2 3\nAABBB"},
		{name: "neither", request: "GET /nowhere.txt\n", want: "NOTFOUND\n"},
		{name: "traversal", request: "GET /../../etc/passwd\n", want: "ERR InvalidPath\n"},
		{name: "bad request", request: "FETCH /match.txt\n", want: "ERR BadRequest\n"},
		{name: "ping", request: "PING\n", want: "PONG\n"},
		{name: "empty line", request: "\n", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, string(roundTrip(t, addr, tt.request)))
		})
	}

	outcomes := make(map[string]string)
	for _, e := range journal.Entries() {
		outcomes[e.Path] = e.Outcome
	}
	require.Equal(t, map[string]string{
		"/match.txt":   "match",
		"/local.txt":   "only_local",
		"/remote.txt":  "only_remote",
		"/diff.txt":    "diff",
		"/nowhere.txt": "not_found",
	}, outcomes)
}

func TestOrchestratorStoreUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := ln.Addr().String()
	require.NoError(t, ln.Close())

	addr := startOrchestrator(t, deadAddr, map[string]string{"local.txt": "abc"})
	require.Equal(t, "FOUND ONLY 1 3\nabc", string(roundTrip(t, addr, "GET /local.txt\n")))
	require.Equal(t, "NOTFOUND\n", string(roundTrip(t, addr, "GET /other.txt\n")))
}

func TestOrchestratorStoreRejectsPath(t *testing.T) {
	// the store answers ERR for a path the orchestrator accepts; that is
	// indistinguishable from absent
	fetcher := fetcherFunc(func(context.Context, string) ([]byte, error) {
		return nil, errors.New("ERR InvalidPath")
	})
	addr := startOrchestrator(t, "127.0.0.1:1", map[string]string{"f": "local"}, WithFetcher(fetcher))
	require.Equal(t, "FOUND ONLY 1 5\nlocal", string(roundTrip(t, addr, "GET f\n")))
}

func TestOrchestratorTruncatedStorePayloadIsPresent(t *testing.T) {
	storeAddr := serveRaw(t, "OK 5\nhel")
	addr := startOrchestrator(t, storeAddr, map[string]string{"f": "hello"})
	require.Equal(t, "FOUND DIFF 5 3\nhellohel", string(roundTrip(t, addr, "GET /f\n")))
}

func TestOrchestratorJournalFailureDoesNotAffectReply(t *testing.T) {
	fetcher := fetcherFunc(func(context.Context, string) ([]byte, error) {
		return []byte("local"), nil
	})
	addr := startOrchestrator(t, "127.0.0.1:1", map[string]string{"f": "local"}, WithFetcher(fetcher), WithJournal(failingJournal{}))
	require.Equal(t, "FOUND MATCH 5\nlocal", string(roundTrip(t, addr, "GET /f\n")))
}

func TestOrchestratorForwardsRawPath(t *testing.T) {
	seen := make(chan string, 1)
	fetcher := fetcherFunc(func(_ context.Context, path string) ([]byte, error) {
		seen <- path
		return []byte("r"), nil
	})
	addr := startOrchestrator(t, "127.0.0.1:1", nil, WithFetcher(fetcher))
	require.Equal(t, "FOUND ONLY 2 1\nr", string(roundTrip(t, addr, "get //dir/./x\n")))
	require.Equal(t, "//dir/./x", <-seen)
}

func TestOrchestratorIdempotent(t *testing.T) {
	storeAddr := startStore(t, map[string]string{"f": "one"})
	addr := startOrchestrator(t, storeAddr, map[string]string{"f": "two"})
	first := roundTrip(t, addr, "GET /f\n")
	require.Equal(t, "FOUND DIFF 3 3\ntwoone", string(first))
	for i := 0; i < 5; i++ {
		require.Equal(t, first, roundTrip(t, addr, "GET /f\n"))
	}
}

func TestOrchestratorConcurrentRequests(t *testing.T) {
	storeAddr := startStore(t, map[string]string{"f": "same"})
	addr := startOrchestrator(t, storeAddr, map[string]string{"f": "same"})

	results := make(chan string, 20)
	for i := 0; i < 20; i++ {
		go func() {
			results <- string(roundTripNoFail(addr, "GET /f\n"))
		}()
	}
	for i := 0; i < 20; i++ {
		require.Equal(t, "FOUND MATCH 4\nsame", <-results)
	}
}

func TestNewRequiresPeer(t *testing.T) {
	cfg := config.Default().Orchestrator
	cfg.FilesDir = t.TempDir()
	_, err := New(cfg)
	require.Error(t, err)
}

type fetcherFunc func(ctx context.Context, path string) ([]byte, error)

func (f fetcherFunc) Fetch(ctx context.Context, path string) ([]byte, error) {
	return f(ctx, path)
}

func writeTree(t *testing.T, files map[string]string) string {
	dir := filepath.Join(t.TempDir(), "files")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func startStore(t *testing.T, files map[string]string) string {
	cfg := config.Default().Store
	cfg.FilesDir = writeTree(t, files)
	cfg.Timeout = 2 * time.Second
	node, err := store.New(cfg)
	require.NoError(t, err)
	return serve(t, node.Serve)
}

func startOrchestrator(t *testing.T, peerAddr string, files map[string]string, opts ...Option) string {
	host, port, err := net.SplitHostPort(peerAddr)
	require.NoError(t, err)
	p, err := net.LookupPort("tcp", port)
	require.NoError(t, err)

	cfg := config.Default().Orchestrator
	cfg.FilesDir = writeTree(t, files)
	cfg.PeerHost = host
	cfg.PeerPort = p
	cfg.Timeout = time.Second
	node, err := New(cfg, opts...)
	require.NoError(t, err)
	return serve(t, node.Serve)
}

func serve(t *testing.T, run func(context.Context, net.Listener) error) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return ln.Addr().String()
}

func roundTrip(t *testing.T, addr, request string) []byte {
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = conn.Write([]byte(request))
	require.NoError(t, err)
	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	return data
}

func roundTripNoFail(addr, request string) []byte {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err = conn.Write([]byte(request)); err != nil {
		return nil
	}
	data, _ := io.ReadAll(conn)
	return data
}

// serveRaw answers every connection with reply after reading the request
// line, then closes it.
func serveRaw(t *testing.T, reply string) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				if _, err := bufio.NewReader(conn).ReadString('\n'); err != nil {
					return
				}
				_, _ = io.WriteString(conn, reply)
			}()
		}
	}()
	return ln.Addr().String()
}
