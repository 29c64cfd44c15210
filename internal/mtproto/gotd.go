package mtproto

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"
)

const disconnectWait = 10 * time.Second

// GotdFactory creates clients backed by github.com/gotd/td.
type GotdFactory struct {
	AppID   int
	AppHash string
	// Timeout bounds each backend call; zero disables the bound.
	Timeout time.Duration
	Logger  *zap.Logger
}

// New implements Factory.
func (f *GotdFactory) New(artifactPath string) (Client, error) {
	if f.AppID <= 0 || f.AppHash == "" {
		return nil, fmt.Errorf("mtproto: app credentials are not configured")
	}
	log := f.Logger
	if log == nil {
		log = zap.NewNop()
	}
	c := telegram.NewClient(f.AppID, f.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: artifactPath},
		Logger:         log.Named("mtproto"),
	})
	return &gotdClient{client: c, timeout: f.Timeout}, nil
}

// gotdClient keeps the gotd Run loop alive in the background between updates.
type gotdClient struct {
	client  *telegram.Client
	timeout time.Duration

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan error
	codeHash string
}

func (c *gotdClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	c.cancel, c.done = cancel, done
	c.mu.Unlock()

	go func() {
		done <- c.client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return nil
		})
	}()

	select {
	case <-ready:
		return nil
	case err := <-done:
		done <- err
		if err == nil {
			err = errors.New("client stopped")
		}
		return fmt.Errorf("mtproto: connect: %w", err)
	case <-ctx.Done():
		return fmt.Errorf("mtproto: connect: %w", ctx.Err())
	}
}

func (c *gotdClient) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *gotdClient) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

func (c *gotdClient) RequestCode(ctx context.Context, phone string) error {
	if !c.connected() {
		return ErrNotConnected
	}
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	sent, err := c.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return classifySendCode(err)
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return fmt.Errorf("mtproto: unexpected sent code type %T", sent)
	}
	c.mu.Lock()
	c.codeHash = code.PhoneCodeHash
	c.mu.Unlock()
	return nil
}

func (c *gotdClient) SignIn(ctx context.Context, phone, code string) Result {
	if !c.connected() {
		return Result{Outcome: TransportError, Err: ErrNotConnected}
	}
	c.mu.Lock()
	hash := c.codeHash
	c.mu.Unlock()

	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	_, err := c.client.Auth().SignIn(ctx, phone, code, hash)
	return classifySignIn(err)
}

func (c *gotdClient) CheckPassword(ctx context.Context, password string) Result {
	if !c.connected() {
		return Result{Outcome: TransportError, Err: ErrNotConnected}
	}
	ctx, cancel := c.callCtx(ctx)
	defer cancel()
	_, err := c.client.Auth().Password(ctx, password)
	return classifyPassword(err)
}

// Disconnect stops the Run loop and waits for the session to be flushed.
func (c *gotdClient) Disconnect() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mtproto: disconnect: %w", err)
		}
		return nil
	case <-time.After(disconnectWait):
		return fmt.Errorf("mtproto: disconnect: timed out after %s", disconnectWait)
	}
}

func classifySendCode(err error) error {
	if err == nil {
		return nil
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &FloodWaitError{Wait: wait, Err: err}
	}
	if tgerr.Is(err, "PHONE_NUMBER_INVALID", "PHONE_NUMBER_BANNED", "PHONE_NUMBER_FLOOD") {
		return fmt.Errorf("%w: %w", ErrPhoneInvalid, err)
	}
	return fmt.Errorf("mtproto: send code: %w", err)
}

func classifySignIn(err error) Result {
	switch {
	case err == nil:
		return Result{Outcome: Success}
	case errors.Is(err, auth.ErrPasswordAuthNeeded):
		return Result{Outcome: NeedSecondFactor}
	case tgerr.Is(err, "PHONE_CODE_INVALID", "PHONE_CODE_EMPTY"):
		return Result{Outcome: InvalidCode, Err: err}
	case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		return Result{Outcome: ExpiredCode, Err: err}
	default:
		return Result{Outcome: TransportError, Err: err}
	}
}

func classifyPassword(err error) Result {
	switch {
	case err == nil:
		return Result{Outcome: Success}
	case errors.Is(err, auth.ErrPasswordInvalid), tgerr.Is(err, "PASSWORD_HASH_INVALID"):
		return Result{Outcome: WrongPassword, Err: err}
	default:
		return Result{Outcome: TransportError, Err: err}
	}
}
