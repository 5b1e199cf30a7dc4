package qzlogin

import (
	"context"
	"log/slog"
	"sync"
)

// LoginMethod names a login flow in notifications and aggregate errors.
type LoginMethod string

const (
	MethodQR LoginMethod = "qr"
	MethodUP LoginMethod = "up"
)

// LoginSuccess is emitted after a flow obtained a cookie set.
type LoginSuccess struct {
	Uin    int64
	Method LoginMethod
}

// LoginFailed is emitted for every flow that failed, even when another
// flow succeeds afterwards.
type LoginFailed struct {
	Uin     int64
	Method  LoginMethod
	Message string
}

// Notifier is a typed callback registry. Delivery is fire-and-forget: a
// slow or panicking observer never blocks or fails the login flow.
type Notifier struct {
	mu      sync.RWMutex
	success []func(LoginSuccess)
	failed  []func(LoginFailed)
}

// OnLoginSuccess registers an observer for successful logins.
func (n *Notifier) OnLoginSuccess(fn func(LoginSuccess)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.success = append(n.success, fn)
}

// OnLoginFailed registers an observer for failed login attempts.
func (n *Notifier) OnLoginFailed(fn func(LoginFailed)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, fn)
}

func (n *Notifier) emitSuccess(msg LoginSuccess) {
	if n == nil {
		return
	}
	n.mu.RLock()
	observers := make([]func(LoginSuccess), len(n.success))
	copy(observers, n.success)
	n.mu.RUnlock()
	for _, fn := range observers {
		go runObserver(func() { fn(msg) })
	}
}

func (n *Notifier) emitFailed(msg LoginFailed) {
	if n == nil {
		return
	}
	n.mu.RLock()
	observers := make([]func(LoginFailed), len(n.failed))
	copy(observers, n.failed)
	n.mu.RUnlock()
	for _, fn := range observers {
		go runObserver(func() { fn(msg) })
	}
}

func runObserver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("login observer panicked", "panic", r)
		}
	}()
	fn()
}

// Hooks are human-input callbacks consumed by the login flows. Every field
// is optional; flows that need a missing hook fail explicitly instead of
// hanging.
type Hooks struct {
	// QrFetched hands a freshly issued QR png to the caller for display.
	// refreshed counts the QR codes issued before this one.
	QrFetched func(png []byte, refreshed int)

	// GetSmsCode asks the user for the dynamic code sent to their phone.
	// Returning an empty code aborts the password login.
	GetSmsCode func(ctx context.Context, uin int64, phone, nickname string) (string, error)

	// SolveSelectCaptcha receives the instruction text and candidate images
	// of an image-select challenge and returns 1-based indices of the
	// chosen images.
	SolveSelectCaptcha func(ctx context.Context, instruction string, images [][]byte) ([]int, error)
}
