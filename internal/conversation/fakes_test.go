package conversation

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m3rciful/sessiongen/internal/lock"
	"github.com/m3rciful/sessiongen/internal/mtproto"
	"github.com/m3rciful/sessiongen/internal/session"
)

type fakeClient struct {
	path string

	connectErr error
	requestErr error
	signIn     mtproto.Result
	passwords  map[string]mtproto.Result
	signInWait time.Duration

	connects    atomic.Int32
	requests    atomic.Int32
	signIns     atomic.Int32
	checks      atomic.Int32
	disconnects atomic.Int32
}

func (c *fakeClient) Connect(context.Context) error {
	c.connects.Add(1)
	if c.connectErr != nil {
		return c.connectErr
	}
	// the real client persists its auth key as soon as it connects
	return os.WriteFile(c.path, []byte("session"), 0o600)
}

func (c *fakeClient) RequestCode(context.Context, string) error {
	c.requests.Add(1)
	return c.requestErr
}

func (c *fakeClient) SignIn(context.Context, string, string) mtproto.Result {
	c.signIns.Add(1)
	if c.signInWait > 0 {
		time.Sleep(c.signInWait)
	}
	return c.signIn
}

func (c *fakeClient) CheckPassword(_ context.Context, password string) mtproto.Result {
	c.checks.Add(1)
	if r, ok := c.passwords[password]; ok {
		return r
	}
	return mtproto.Result{Outcome: mtproto.WrongPassword, Err: errors.New("invalid password")}
}

func (c *fakeClient) Disconnect() error {
	c.disconnects.Add(1)
	return nil
}

type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeClient
	// configure is applied to every new client
	configure func(*fakeClient)
}

func (f *fakeFactory) New(path string) (mtproto.Client, error) {
	c := &fakeClient{path: path, signIn: mtproto.Result{Outcome: mtproto.Success}}
	if f.configure != nil {
		f.configure(c)
	}
	f.mu.Lock()
	f.clients = append(f.clients, c)
	f.mu.Unlock()
	return c, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fakeFactory) last() *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}

type sentDoc struct {
	chatID  int64
	path    string
	caption string
}

type fakeMessenger struct {
	mu     sync.Mutex
	texts  map[int64][]string
	docs   []sentDoc
	docErr error
	// onDocument runs before a document send is recorded
	onDocument func(path string)
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{texts: make(map[int64][]string)}
}

func (m *fakeMessenger) SendText(_ context.Context, chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts[chatID] = append(m.texts[chatID], text)
	return nil
}

func (m *fakeMessenger) SendDocument(_ context.Context, chatID int64, path, caption string) error {
	if m.onDocument != nil {
		m.onDocument(path)
	}
	if m.docErr != nil {
		return m.docErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = append(m.docs, sentDoc{chatID: chatID, path: path, caption: caption})
	return nil
}

func (m *fakeMessenger) textsFor(chatID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts[chatID]...)
}

func (m *fakeMessenger) lastText(chatID int64) string {
	texts := m.textsFor(chatID)
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func (m *fakeMessenger) docCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

type harness struct {
	t       *testing.T
	svc     *Service
	msgr    *fakeMessenger
	factory *fakeFactory
	store   *session.Store
	locker  *lock.Memory
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	store, err := session.NewStore(t.TempDir(), session.DefaultSuffix)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	h := &harness{
		t:       t,
		msgr:    newFakeMessenger(),
		factory: &fakeFactory{},
		store:   store,
		locker:  lock.NewMemory(),
	}
	opts := Options{
		Store:     store,
		Factory:   h.factory,
		Messenger: h.msgr,
		Locker:    h.locker,
	}
	for _, m := range mutate {
		m(&opts)
	}
	svc, err := NewService(opts)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	h.svc = svc
	return h
}

func (h *harness) send(chatID int64, text string) {
	h.svc.Dispatch(context.Background(), Message{ChatID: chatID, UserID: chatID, Text: text})
}

func (h *harness) state(chatID int64) (State, bool) {
	c, ok := h.svc.Registry().Get(chatID)
	if !ok {
		return 0, false
	}
	return c.State, true
}

func (h *harness) expectState(chatID int64, want State) {
	h.t.Helper()
	got, ok := h.state(chatID)
	if !ok {
		h.t.Fatalf("chat %d has no conversation, want %s", chatID, want)
	}
	if got != want {
		h.t.Fatalf("chat %d state = %s, want %s", chatID, got, want)
	}
}

func (h *harness) expectGone(chatID int64) {
	h.t.Helper()
	if _, ok := h.svc.Registry().Get(chatID); ok {
		h.t.Fatalf("chat %d still registered", chatID)
	}
}

func (h *harness) expectLastText(chatID int64, want string) {
	h.t.Helper()
	if got := h.msgr.lastText(chatID); got != want {
		h.t.Fatalf("last reply = %q, want %q", got, want)
	}
}
