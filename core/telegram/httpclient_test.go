package telegram

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

type scriptedTransport struct {
	errs   []error
	calls  int
	bodies []string
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.calls++
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		s.bodies = append(s.bodies, string(data))
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("{}"))}, nil
}

func dialErr() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
}

func TestReplayTransportRetriesReplayableBody(t *testing.T) {
	next := &scriptedTransport{errs: []error{dialErr()}}
	rt := &replayTransport{next: next, retries: 2, backoff: time.Millisecond}

	req, _ := http.NewRequest(http.MethodPost, "https://api.telegram.org/botX/sendMessage", bytes.NewBufferString(`{"a":1}`))
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	resp.Body.Close()
	if next.calls != 2 {
		t.Fatalf("calls = %d, want 2", next.calls)
	}
	if next.bodies[1] != `{"a":1}` {
		t.Fatalf("replayed body = %q", next.bodies[1])
	}
}

func TestReplayTransportSkipsStreamingBody(t *testing.T) {
	next := &scriptedTransport{errs: []error{dialErr()}}
	rt := &replayTransport{next: next, retries: 2, backoff: time.Millisecond}

	pr, pw := io.Pipe()
	go func() {
		_, _ = pw.Write([]byte("upload"))
		_ = pw.Close()
	}()
	req, _ := http.NewRequest(http.MethodPost, "https://api.telegram.org/botX/sendDocument", pr)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected the dial error")
	}
	if next.calls != 1 {
		t.Fatalf("calls = %d, want 1", next.calls)
	}
}

func TestReplayTransportPermanentError(t *testing.T) {
	next := &scriptedTransport{errs: []error{errors.New("tls: bad certificate")}}
	rt := &replayTransport{next: next, retries: 3, backoff: time.Millisecond}
	req, _ := http.NewRequest(http.MethodGet, "https://api.telegram.org/botX/getMe", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("expected error")
	}
	if next.calls != 1 {
		t.Fatalf("calls = %d, want 1", next.calls)
	}
}
