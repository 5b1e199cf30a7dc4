package qzlogin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/dop251/goja"
)

// ScriptEnv seeds the anti-automation script with the parameters the real
// browser environment would expose.
type ScriptEnv struct {
	UserAgent  string
	IP         string
	Referer    string
	MouseTrack [][2]int // nil for challenges without a drag phase
}

// Fingerprint is the output of the portal's obfuscated collect script.
type Fingerprint struct {
	Data string // opaque encoded blob ("collect")
	Info string // json-ish info blob ("eks")
}

// ScriptEngine executes the portal's anti-automation script in a sandbox.
// Implementations are collaborators; the library only depends on this
// contract.
type ScriptEngine interface {
	Collect(ctx context.Context, script string, env ScriptEnv) (*Fingerprint, error)
}

// GojaEngine runs the collect script inside a goja javascript runtime with
// a minimal browser shim.
type GojaEngine struct{}

// NewGojaEngine returns the default in-process script engine.
func NewGojaEngine() *GojaEngine { return &GojaEngine{} }

const browserShim = `
var window = {};
window.window = window;
window.navigator = { appName: "Netscape", webdriver: false };
window.document = {
	cookie: "",
	createElement: function () { return {}; },
	getElementById: function () { return null; },
	addEventListener: function () {},
};
window.location = {};
window.screen = { width: 1920, height: 1080, colorDepth: 24 };
window.addEventListener = function () {};
window.setTimeout = function (f) { return 0; };
window.clearTimeout = function () {};
var navigator = window.navigator;
var document = window.document;
var location = window.location;
var screen = window.screen;
`

func (e *GojaEngine) Collect(ctx context.Context, script string, env ScriptEnv) (*Fingerprint, error) {
	vm := goja.New()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	if _, err := vm.RunString(browserShim); err != nil {
		return nil, fmt.Errorf("init browser shim: %w", err)
	}

	envJSON, _ := json.Marshal(map[string]any{
		"ua":         env.UserAgent,
		"ip":         env.IP,
		"referer":    env.Referer,
		"mouseTrack": env.MouseTrack,
	})
	prelude := fmt.Sprintf(`
window.navigator.userAgent = %q;
window.location.href = %q;
window.__env = %s;
`, env.UserAgent, env.Referer, envJSON)
	if _, err := vm.RunString(prelude); err != nil {
		return nil, fmt.Errorf("seed script env: %w", err)
	}

	if _, err := vm.RunString(script); err != nil {
		return nil, fmt.Errorf("run collect script: %w", err)
	}

	if env.MouseTrack != nil {
		track, _ := json.Marshal(env.MouseTrack)
		set := fmt.Sprintf(`if (window.TDC && window.TDC.setData) window.TDC.setData({ ft: "qf_7P_n_H", mouseTrack: %s });`, track)
		if _, err := vm.RunString(set); err != nil {
			return nil, fmt.Errorf("set mouse track: %w", err)
		}
	}

	dataVal, err := vm.RunString(`window.TDC && window.TDC.getData ? String(window.TDC.getData(!0)) : ""`)
	if err != nil {
		return nil, fmt.Errorf("tdc getData: %w", err)
	}
	infoVal, err := vm.RunString(`window.TDC && window.TDC.getInfo ? JSON.stringify(window.TDC.getInfo()) : "{}"`)
	if err != nil {
		return nil, fmt.Errorf("tdc getInfo: %w", err)
	}

	data, err := url.QueryUnescape(dataVal.String())
	if err != nil {
		data = dataVal.String()
	}
	if data == "" {
		return nil, NewParseError("collect script produced no data", nil)
	}
	return &Fingerprint{Data: data, Info: infoVal.String()}, nil
}
