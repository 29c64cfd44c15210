package conversation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/m3rciful/sessiongen/internal/mtproto"
)

const (
	chatA = int64(1001)
	chatB = int64(2002)
	phone = "+919876543210"
)

func (h *harness) toCode(chatID int64) *fakeClient {
	h.t.Helper()
	h.send(chatID, "/gensession")
	h.expectState(chatID, AwaitingPhone)
	h.send(chatID, phone)
	h.expectState(chatID, AwaitingCode)
	return h.factory.last()
}

func TestScenarioPlainSignIn(t *testing.T) {
	h := newHarness(t)
	var disconnectedBeforeSend bool
	h.msgr.onDocument = func(string) {
		disconnectedBeforeSend = h.factory.last().disconnects.Load() == 1
	}
	client := h.toCode(chatA)

	h.send(chatA, "12345")

	h.expectGone(chatA)
	if client.signIns.Load() != 1 || client.disconnects.Load() != 1 {
		t.Fatalf("sign-ins = %d, disconnects = %d", client.signIns.Load(), client.disconnects.Load())
	}
	if !disconnectedBeforeSend {
		t.Fatal("client must be disconnected before the file is sent")
	}
	if h.msgr.docCount() != 1 {
		t.Fatalf("documents = %d", h.msgr.docCount())
	}
	doc := h.msgr.docs[0]
	if doc.chatID != chatA || filepath.Base(doc.path) != "919876543210.session" || doc.caption != msgCaption {
		t.Fatalf("unexpected document %+v", doc)
	}
	if h.locker.Held(doc.path) {
		t.Fatal("artifact claim not released")
	}
	if _, err := os.Stat(doc.path); err != nil {
		t.Fatalf("artifact should be retained by default: %v", err)
	}
	if h.svc.Registry().lockCount() != 0 {
		t.Fatal("chat lock leaked")
	}
}

func TestScenarioSecondFactor(t *testing.T) {
	h := newHarness(t)
	h.factory.configure = func(c *fakeClient) {
		c.signIn = mtproto.Result{Outcome: mtproto.NeedSecondFactor}
		c.passwords = map[string]mtproto.Result{"hunter2": {Outcome: mtproto.Success}}
	}
	client := h.toCode(chatA)

	h.send(chatA, "12345")
	h.expectState(chatA, AwaitingSecondFactor)
	h.expectLastText(chatA, msgNeedPassword)

	h.send(chatA, "wrong")
	h.expectState(chatA, AwaitingSecondFactor)
	h.expectLastText(chatA, msgWrongPassword)

	h.send(chatA, "hunter2")
	h.expectGone(chatA)
	if h.msgr.docCount() != 1 {
		t.Fatalf("documents = %d", h.msgr.docCount())
	}
	if client.signIns.Load() != 1 || client.checks.Load() != 2 || client.disconnects.Load() != 1 {
		t.Fatalf("sign-ins = %d, checks = %d, disconnects = %d",
			client.signIns.Load(), client.checks.Load(), client.disconnects.Load())
	}
}

func TestScenarioInvalidCode(t *testing.T) {
	h := newHarness(t)
	h.factory.configure = func(c *fakeClient) {
		c.signIn = mtproto.Result{Outcome: mtproto.InvalidCode, Err: errors.New("PHONE_CODE_INVALID")}
	}
	client := h.toCode(chatA)

	h.send(chatA, "00000")

	h.expectGone(chatA)
	h.expectLastText(chatA, msgInvalidCode)
	if client.disconnects.Load() != 1 {
		t.Fatalf("disconnects = %d", client.disconnects.Load())
	}
	if h.msgr.docCount() != 0 {
		t.Fatal("no artifact may be delivered")
	}
	if _, err := os.Stat(client.path); !os.IsNotExist(err) {
		t.Fatalf("abandoned artifact should be removed, stat err = %v", err)
	}
}

func TestExpiredAndTransportErrorsAbort(t *testing.T) {
	cases := []struct {
		name string
		res  mtproto.Result
		want string
	}{
		{"expired", mtproto.Result{Outcome: mtproto.ExpiredCode}, msgExpiredCode},
		{"transport", mtproto.Result{Outcome: mtproto.TransportError, Err: errors.New("eof")}, msgSignInFailed},
		{"unexpected wrong password", mtproto.Result{Outcome: mtproto.WrongPassword}, msgSignInFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.factory.configure = func(c *fakeClient) { c.signIn = tc.res }
			client := h.toCode(chatA)
			h.send(chatA, "12345")
			h.expectGone(chatA)
			h.expectLastText(chatA, tc.want)
			if client.disconnects.Load() != 1 {
				t.Fatalf("disconnects = %d", client.disconnects.Load())
			}
		})
	}
}

func TestPasswordTransportErrorAborts(t *testing.T) {
	h := newHarness(t)
	h.factory.configure = func(c *fakeClient) {
		c.signIn = mtproto.Result{Outcome: mtproto.NeedSecondFactor}
		c.passwords = map[string]mtproto.Result{"pw": {Outcome: mtproto.TransportError, Err: errors.New("eof")}}
	}
	client := h.toCode(chatA)
	h.send(chatA, "12345")
	h.send(chatA, "pw")
	h.expectGone(chatA)
	h.expectLastText(chatA, msgPasswordFailed)
	if client.disconnects.Load() != 1 {
		t.Fatalf("disconnects = %d", client.disconnects.Load())
	}
}

func TestScenarioCancelThenRestart(t *testing.T) {
	h := newHarness(t)
	first := h.toCode(chatA)

	h.send(chatA, "/cancel")
	h.expectGone(chatA)
	h.expectLastText(chatA, msgCancelled)
	if first.disconnects.Load() != 1 {
		t.Fatalf("disconnects = %d", first.disconnects.Load())
	}
	if h.locker.Held(first.path) {
		t.Fatal("claim not released on cancel")
	}

	// a second cancel is harmless and does not touch the released client
	h.send(chatA, "/cancel")
	h.expectLastText(chatA, msgCancelled)
	if first.disconnects.Load() != 1 {
		t.Fatalf("disconnects after second cancel = %d", first.disconnects.Load())
	}

	h.send(chatA, "/gensession")
	h.expectState(chatA, AwaitingPhone)
	h.send(chatA, phone)
	h.expectState(chatA, AwaitingCode)
	if h.factory.count() != 2 || h.factory.last() == first {
		t.Fatal("expected a fresh client for the new conversation")
	}
}

func TestCancelFromEveryState(t *testing.T) {
	states := map[string]func(h *harness){
		"phone": func(h *harness) { h.send(chatA, "/gensession") },
		"code":  func(h *harness) { h.toCode(chatA) },
		"password": func(h *harness) {
			h.factory.configure = func(c *fakeClient) { c.signIn = mtproto.Result{Outcome: mtproto.NeedSecondFactor} }
			h.toCode(chatA)
			h.send(chatA, "12345")
			h.expectState(chatA, AwaitingSecondFactor)
		},
	}
	for name, setup := range states {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			setup(h)
			h.send(chatA, "/cancel")
			h.expectGone(chatA)
			if c := h.factory.last(); c != nil && c.disconnects.Load() != 1 {
				t.Fatalf("disconnects = %d", c.disconnects.Load())
			}
		})
	}
}

func TestScenarioConcurrentSameChat(t *testing.T) {
	h := newHarness(t)
	h.factory.configure = func(c *fakeClient) { c.signInWait = 20 * time.Millisecond }
	client := h.toCode(chatA)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.send(chatA, "12345")
		}()
	}
	wg.Wait()

	if client.signIns.Load() != 1 {
		t.Fatalf("sign-ins = %d, want exactly 1", client.signIns.Load())
	}
	if h.msgr.docCount() != 1 {
		t.Fatalf("documents = %d", h.msgr.docCount())
	}
	h.expectGone(chatA)
}

func TestConcurrentChatsIndependent(t *testing.T) {
	h := newHarness(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		chatID := int64(100 + i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.send(chatID, "/gensession")
			h.send(chatID, fmt.Sprintf("+4479460%04d", chatID))
			h.send(chatID, "12345")
		}()
	}
	wg.Wait()
	if h.svc.Registry().Len() != 0 {
		t.Fatalf("registry len = %d", h.svc.Registry().Len())
	}
	if h.msgr.docCount() != 8 {
		t.Fatalf("documents = %d", h.msgr.docCount())
	}
}

func TestInvalidPhoneReprompts(t *testing.T) {
	h := newHarness(t)
	h.send(chatA, "/gensession")
	for _, in := range []string{"919876543210", "+12345", "hello", "  ", "+../x", "+12/34567", "+1234567\x00", "+../probe"} {
		h.send(chatA, in)
		h.expectState(chatA, AwaitingPhone)
		h.expectLastText(chatA, msgInvalidPhone)
	}
	if h.factory.count() != 0 {
		t.Fatal("no client may be created for malformed input")
	}
}

func TestPhoneCannotReachOutsideStore(t *testing.T) {
	h := newHarness(t)
	parent := filepath.Dir(h.store.Dir())
	victim := filepath.Join(parent, "probe.session-keep")
	if err := os.WriteFile(victim, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Cleanup(func() { _ = os.Remove(victim) })

	h.send(chatA, "/gensession")
	h.send(chatA, "+../probe")
	h.expectState(chatA, AwaitingPhone)
	h.send(chatA, "/cancel")

	if _, err := os.Stat(victim); err != nil {
		t.Fatalf("file outside the store touched: %v", err)
	}
	if h.factory.count() != 0 {
		t.Fatalf("clients created = %d", h.factory.count())
	}
}

func TestGenSessionWhileActive(t *testing.T) {
	h := newHarness(t)
	client := h.toCode(chatA)
	before, _ := h.svc.Registry().Get(chatA)

	h.send(chatA, "/gensession")

	after, _ := h.svc.Registry().Get(chatA)
	if before != after {
		t.Fatal("conversation was replaced")
	}
	h.expectState(chatA, AwaitingCode)
	h.expectLastText(chatA, msgAlreadyActive)
	if client.disconnects.Load() != 0 {
		t.Fatal("active client must not be released")
	}
}

func TestCommandsDuringConversation(t *testing.T) {
	h := newHarness(t)
	client := h.toCode(chatA)

	h.send(chatA, "/start")
	h.expectLastText(chatA, msgWelcome)
	h.send(chatA, "/help")
	h.expectLastText(chatA, msgInProgress)
	h.expectState(chatA, AwaitingCode)
	if client.signIns.Load() != 0 {
		t.Fatal("commands must not be fed to the code handler")
	}
}

func TestIdleCommands(t *testing.T) {
	h := newHarness(t)
	h.send(chatA, "/start")
	h.expectLastText(chatA, msgWelcome)
	h.send(chatA, "/cancel")
	h.expectLastText(chatA, msgCancelled)

	n := len(h.msgr.textsFor(chatA))
	h.send(chatA, "just chatting")
	h.send(chatA, "/unknown")
	if len(h.msgr.textsFor(chatA)) != n {
		t.Fatal("stray text without a conversation must be ignored")
	}
	h.expectGone(chatA)
}

func TestPhoneRejectedByBackend(t *testing.T) {
	h := newHarness(t)
	h.factory.configure = func(c *fakeClient) {
		c.requestErr = fmt.Errorf("%w: PHONE_NUMBER_INVALID", mtproto.ErrPhoneInvalid)
	}
	h.send(chatA, "/gensession")
	h.send(chatA, phone)
	h.expectGone(chatA)
	h.expectLastText(chatA, msgPhoneRejected)
	if c := h.factory.last(); c.disconnects.Load() != 1 {
		t.Fatalf("disconnects = %d", c.disconnects.Load())
	}
}

func TestFloodWaitAndConnectFailure(t *testing.T) {
	h := newHarness(t)
	h.factory.configure = func(c *fakeClient) {
		c.requestErr = &mtproto.FloodWaitError{Wait: 90 * time.Second}
	}
	h.send(chatA, "/gensession")
	h.send(chatA, phone)
	h.expectGone(chatA)
	h.expectLastText(chatA, fmt.Sprintf(msgFloodWait, 90*time.Second))

	h.factory.configure = func(c *fakeClient) { c.connectErr = errors.New("dial tcp: refused") }
	h.send(chatA, "/gensession")
	h.send(chatA, phone)
	h.expectGone(chatA)
	h.expectLastText(chatA, msgSendCodeFailed)
	if c := h.factory.last(); c.requests.Load() != 0 || c.disconnects.Load() != 1 {
		t.Fatalf("requests = %d, disconnects = %d", c.requests.Load(), c.disconnects.Load())
	}
}

func TestSamePhoneAcrossChatsIsSerialized(t *testing.T) {
	h := newHarness(t)
	h.toCode(chatA)

	h.send(chatB, "/gensession")
	h.send(chatB, "+91 98-76-54-32-10")
	h.expectState(chatB, AwaitingPhone)
	h.expectLastText(chatB, msgPhoneBusy)
	if h.factory.count() != 1 {
		t.Fatalf("clients = %d", h.factory.count())
	}

	h.send(chatA, "/cancel")
	h.send(chatB, phone)
	h.expectState(chatB, AwaitingCode)
}

func TestDeleteAfterSend(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.DeleteAfterSend = true })
	h.msgr.onDocument = func(path string) {
		_ = os.WriteFile(path+"-journal", []byte("j"), 0o600)
	}
	client := h.toCode(chatA)
	h.send(chatA, "12345")

	if h.msgr.docCount() != 1 {
		t.Fatalf("documents = %d", h.msgr.docCount())
	}
	for _, p := range []string{client.path, client.path + "-journal"} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s should be deleted after send", p)
		}
	}
}

func TestDeliveryFailureStillTearsDown(t *testing.T) {
	h := newHarness(t)
	h.msgr.docErr = errors.New("telegram: 500")
	client := h.toCode(chatA)
	h.send(chatA, "12345")

	h.expectGone(chatA)
	h.expectLastText(chatA, msgDeliverFailed)
	if client.signIns.Load() != 1 || client.disconnects.Load() != 1 {
		t.Fatalf("sign-ins = %d, disconnects = %d", client.signIns.Load(), client.disconnects.Load())
	}
	if _, err := os.Stat(client.path); err != nil {
		t.Fatalf("artifact must stay on disk after failed delivery: %v", err)
	}
}

func TestDeliveryNotFound(t *testing.T) {
	h := newHarness(t)
	client := h.toCode(chatA)
	if err := os.Remove(client.path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	h.send(chatA, "12345")
	h.expectGone(chatA)
	h.expectLastText(chatA, msgNotFound)
	if h.msgr.docCount() != 0 {
		t.Fatal("nothing should be sent")
	}
}

func TestReaperTimesOutIdleConversation(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.IdleTimeout = time.Minute })
	client := h.toCode(chatA)
	h.send(chatB, "/gensession")

	ctx := context.Background()
	if n := h.svc.ReapIdle(ctx, time.Now()); n != 0 {
		t.Fatalf("reaped %d fresh conversations", n)
	}
	if n := h.svc.ReapIdle(ctx, time.Now().Add(2*time.Minute)); n != 2 {
		t.Fatalf("reaped = %d, want 2", n)
	}
	h.expectGone(chatA)
	h.expectGone(chatB)
	h.expectLastText(chatA, msgTimedOut)
	if client.disconnects.Load() != 1 {
		t.Fatalf("disconnects = %d", client.disconnects.Load())
	}

	h.send(chatA, "12345")
	h.expectLastText(chatA, msgExpired)
	n := len(h.msgr.textsFor(chatA))
	h.send(chatA, "12345")
	if len(h.msgr.textsFor(chatA)) != n {
		t.Fatal("tombstone must be consumed once")
	}
}

func TestReaperSkipsBusyChat(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.IdleTimeout = time.Minute })
	h.toCode(chatA)
	h.send(chatB, "/gensession")

	unlock := h.svc.Registry().Lock(chatA)
	done := make(chan int, 1)
	go func() { done <- h.svc.ReapIdle(context.Background(), time.Now().Add(2*time.Minute)) }()
	var n int
	select {
	case n = <-done:
	case <-time.After(time.Second):
		unlock()
		t.Fatal("reaper blocked on a busy chat")
	}
	unlock()
	if n != 1 {
		t.Fatalf("reaped = %d, want 1", n)
	}
	h.expectState(chatA, AwaitingCode)
	h.expectGone(chatB)
}

func TestShutdownAbortsAll(t *testing.T) {
	h := newHarness(t)
	a := h.toCode(chatA)
	h.send(chatB, "/gensession")

	h.svc.Shutdown(context.Background())

	if h.svc.Registry().Len() != 0 {
		t.Fatalf("registry len = %d", h.svc.Registry().Len())
	}
	if a.disconnects.Load() != 1 {
		t.Fatalf("disconnects = %d", a.disconnects.Load())
	}
	h.expectLastText(chatB, msgShuttingDown)
}

func TestParseCommand(t *testing.T) {
	cases := map[string]string{
		"/start":             CmdStart,
		"  /GenSession  ":    CmdGenSession,
		"/cancel@SessionBot": CmdCancel,
		"/gensession extra":  CmdGenSession,
		"+919876543210":      "",
		"12345":              "",
		"":                   "",
	}
	for in, want := range cases {
		if got := ParseCommand(in); got != want {
			t.Fatalf("ParseCommand(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	if _, err := NewService(Options{}); err == nil {
		t.Fatal("expected error")
	}
}
