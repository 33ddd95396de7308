package repl_test

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ojeval/internal/cli/command"
	httpclient "ojeval/internal/cli/http"
	"ojeval/internal/cli/repl"
	"ojeval/internal/cli/state"
	"ojeval/internal/notify"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeServer answers create with a pending submission and reports it
// running for the first polls, then accepted.
func fakeServer(t *testing.T, runningPolls int32) (*httptest.Server, *atomic.Int32, *atomic.Value) {
	t.Helper()
	var polls atomic.Int32
	var auth atomic.Value
	auth.Store("")
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/submissions", func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusAccepted)
		_, _ = fmt.Fprint(w, `{"code":10000,"message":"Success","data":{"id":"s1","generation":1,"status":"pending"}}`)
	})
	mux.HandleFunc("GET /api/v1/submissions/s1/status", func(w http.ResponseWriter, r *http.Request) {
		status, score := "running", 0
		if polls.Add(1) > runningPolls {
			status, score = "accepted", 100
		}
		_, _ = fmt.Fprintf(w, `{"code":10000,"message":"Success","data":{"submissionId":"s1","status":%q,"generation":1,"score":%d,"statusMessage":""}}`, status, score)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls, &auth
}

func newSession(t *testing.T, baseURL string, poll notify.PollerConfig, out *syncBuffer) (*repl.Session, string) {
	t.Helper()
	statePath := filepath.Join(t.TempDir(), "state.json")
	tokenState := &state.TokenState{AccessToken: "tok"}
	var session *repl.Session
	client := httpclient.New(baseURL, time.Second, func() string { return session.Token() })
	session = repl.NewWithWriter(client, notify.NewPoller(client, poll), command.Registry(), tokenState, statePath, false, out)
	return session, statePath
}

func TestCreateAndWatchInForeground(t *testing.T) {
	t.Parallel()
	srv, _, auth := fakeServer(t, 2)
	out := &syncBuffer{}
	session, _ := newSession(t, srv.URL, notify.PollerConfig{Interval: 5 * time.Millisecond, MaxAttempts: 10}, out)

	input := "submission create problem=p1 lang=python code='print(1)' watch=true\nexit\n"
	session.Run(context.Background(), strings.NewReader(input))

	if got := auth.Load().(string); got != "Bearer tok" {
		t.Fatalf("unexpected authorization header %q", got)
	}
	if !strings.Contains(out.String(), "s1 [gen 1] accepted score=100") {
		t.Fatalf("missing final snapshot in output:\n%s", out.String())
	}
}

func TestWatchHandsOffToBackground(t *testing.T) {
	t.Parallel()
	srv, _, _ := fakeServer(t, 3)
	out := &syncBuffer{}
	session, statePath := newSession(t, srv.URL, notify.PollerConfig{
		Interval:              time.Millisecond,
		MaxAttempts:           2,
		BackgroundInterval:    5 * time.Millisecond,
		BackgroundMaxAttempts: 20,
	}, out)

	reader, writer := newPipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		session.Run(context.Background(), reader)
	}()
	writer <- "submission watch s1\n"

	deadline := time.After(2 * time.Second)
	for !strings.Contains(out.String(), "accepted score=100") || !strings.Contains(out.String(), "watching in the background") {
		select {
		case <-deadline:
			t.Fatalf("background poll never finished:\n%s", out.String())
		case <-time.After(5 * time.Millisecond):
		}
	}
	st, err := state.Load(statePath)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if len(st.Watching) != 0 {
		t.Fatalf("finished watch still saved: %v", st.Watching)
	}
	writer <- "exit\n"
	<-done
}

// chanReader feeds lines written to a channel.
type chanReader struct {
	lines <-chan string
	buf   []byte
}

func newPipe() (*chanReader, chan<- string) {
	ch := make(chan string, 4)
	return &chanReader{lines: ch}, ch
}

func (r *chanReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		r.buf = []byte(<-r.lines)
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}
