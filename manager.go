package qzlogin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// QrStrategy orders the login methods a Manager tries.
type QrStrategy string

const (
	// StrategyForce uses QR login only.
	StrategyForce QrStrategy = "force"
	// StrategyPrefer tries QR first, then password.
	StrategyPrefer QrStrategy = "prefer"
	// StrategyAllow tries password first, then QR.
	StrategyAllow QrStrategy = "allow"
	// StrategyForbid uses password login only.
	StrategyForbid QrStrategy = "forbid"
)

// Loginable is one login flow the manager can drive.
type Loginable interface {
	Login(ctx context.Context) (map[string]string, error)
	Method() LoginMethod
}

// Manager owns the cookie cache and coalesces concurrent login demands
// onto a single attempt. API callers go through EnsureFresh and Gtk; only
// one goroutine at a time runs the configured flows.
type Manager struct {
	cfg      *Config
	client   *Client
	notifier *Notifier
	flows    []Loginable

	mu        sync.Mutex
	cookies   map[string]string
	lastLogin time.Time
}

// NewManager wires the flows selected by cfg.Strategy. hooks and notifier
// may be nil; flows that need a missing hook fail explicitly.
func NewManager(cfg *Config, client *Client, hooks *Hooks, notifier *Notifier) *Manager {
	up := NewUpLogin(client, cfg, hooks, NewGojaEngine())
	qr := NewQrLogin(client, cfg, hooks)

	var flows []Loginable
	switch cfg.Strategy {
	case StrategyForce:
		flows = []Loginable{qr}
	case StrategyPrefer:
		flows = []Loginable{qr, up}
	case StrategyForbid:
		flows = []Loginable{up}
	default:
		flows = []Loginable{up, qr}
	}
	return &Manager{
		cfg:      cfg,
		client:   client,
		notifier: notifier,
		flows:    flows,
	}
}

// Cookies returns the cached cookie set, nil before the first login.
func (m *Manager) Cookies() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cookies
}

// Gtk returns the current per-request auth tag, 0 when not logged in.
func (m *Manager) Gtk() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Gtk(m.cookies["p_skey"])
}

// SetCookies seeds the cache, e.g. from a persisted cookie file.
func (m *Manager) SetCookies(cookies map[string]string) error {
	m.mu.Lock()
	m.cookies = cookies
	m.lastLogin = time.Now()
	m.mu.Unlock()
	return m.client.SetJarCookies(m.cfg.Endpoint.Qzone, cookies)
}

// EnsureFresh returns a cookie set newer than staleAfter, running the
// configured login flows if needed. Concurrent callers coalesce: whoever
// takes the lock first drives the login, the rest block and reuse its
// result.
func (m *Manager) EnsureFresh(ctx context.Context, staleAfter time.Time) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// another caller may have logged in while we waited on the lock
	if m.cookies != nil && m.lastLogin.After(staleAfter) {
		return m.cookies, nil
	}

	cookies, method, err := m.runFlows(ctx)
	if err != nil {
		return nil, err
	}
	m.cookies = cookies
	m.lastLogin = time.Now()
	if err := m.client.SetJarCookies(m.cfg.Endpoint.Qzone, cookies); err != nil {
		return nil, err
	}
	m.notifier.emitSuccess(LoginSuccess{Uin: m.cfg.Uin, Method: method})
	return cookies, nil
}

// runFlows tries each configured flow in order. Recoverable failures fall
// through to the next flow; a user break is remembered and re-raised only
// if nothing succeeds.
func (m *Manager) runFlows(ctx context.Context) (map[string]string, LoginMethod, error) {
	var userBreak error
	tried := make([]string, 0, len(m.flows))

	for _, flow := range m.flows {
		method := flow.Method()
		tried = append(tried, string(method))

		cookies, err := flow.Login(ctx)
		if err == nil {
			return cookies, method, nil
		}
		slog.Warn("login flow failed", "method", method, "err", err)
		m.notifier.emitFailed(LoginFailed{Uin: m.cfg.Uin, Method: method, Message: err.Error()})

		// only a user break is worth re-raising; every other failure kind
		// just means this method cannot serve and the next one might
		if TypeOf(err) == UserBreakError {
			userBreak = err
		}
	}

	if userBreak != nil {
		return nil, "", userBreak
	}
	return nil, "", NewProtocolError(StatusInvalidArguments, allFailedHint(tried))
}

func allFailedHint(tried []string) string {
	hint := "you may be rate-limited, retry later"
	for _, t := range tried {
		if t == string(MethodQR) {
			hint = "password login may be restricted; scan the QR code promptly on retry"
			break
		}
	}
	return fmt.Sprintf("all login methods failed (%s): %s", strings.Join(tried, ", "), hint)
}
