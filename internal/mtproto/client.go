// Package mtproto wraps the account login handshake against the Telegram backend.
package mtproto

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Outcome is the result of a sign-in step.
type Outcome int

const (
	// TransportError covers every failure that is not a known backend verdict.
	TransportError Outcome = iota
	Success
	NeedSecondFactor
	InvalidCode
	ExpiredCode
	WrongPassword
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case NeedSecondFactor:
		return "need_second_factor"
	case InvalidCode:
		return "invalid_code"
	case ExpiredCode:
		return "expired_code"
	case WrongPassword:
		return "wrong_password"
	default:
		return "transport_error"
	}
}

// Result pairs an Outcome with the underlying error, if any.
type Result struct {
	Outcome Outcome
	Err     error
}

var (
	// ErrPhoneInvalid means the backend rejected the phone number.
	ErrPhoneInvalid = errors.New("mtproto: phone number invalid")
	// ErrFloodWait means the backend asked us to back off.
	ErrFloodWait = errors.New("mtproto: flood wait")
	// ErrNotConnected is returned by calls made before Connect.
	ErrNotConnected = errors.New("mtproto: not connected")
)

// FloodWaitError carries the backoff requested by the backend.
type FloodWaitError struct {
	Wait time.Duration
	Err  error
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("mtproto: flood wait %s", e.Wait)
}

func (e *FloodWaitError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrFloodWait) match.
func (e *FloodWaitError) Is(target error) bool { return target == ErrFloodWait }

// Client is one login attempt bound to a single artifact path.
// Disconnect must be safe to call more than once and before Connect.
type Client interface {
	Connect(ctx context.Context) error
	RequestCode(ctx context.Context, phone string) error
	SignIn(ctx context.Context, phone, code string) Result
	CheckPassword(ctx context.Context, password string) Result
	Disconnect() error
}

// Factory builds a Client that writes its session to artifactPath.
type Factory interface {
	New(artifactPath string) (Client, error)
}
