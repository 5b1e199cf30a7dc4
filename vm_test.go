package qzlogin

import (
	"context"
	"strings"
	"testing"
)

const fakeTdcScript = `
window.TDC = {
	_track: null,
	getData: function (b) { return "blob%20" + (this._track ? this._track.length : 0); },
	getInfo: function () { return { info: "i-1" }; },
	setData: function (d) { if (d && d.mouseTrack) this._track = d.mouseTrack; },
};
`

func TestGojaEngineCollect(t *testing.T) {
	e := NewGojaEngine()
	fp, err := e.Collect(context.Background(), fakeTdcScript, ScriptEnv{
		UserAgent:  DefaultUA,
		IP:         "127.0.0.1",
		Referer:    "https://t.captcha.qq.com/cap_union_new_show",
		MouseTrack: [][2]int{{8, 40}, {20, 40}, {96, 40}},
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	// url-unescaped, and the mouse track must have reached setData
	if fp.Data != "blob 3" {
		t.Fatalf("data = %q", fp.Data)
	}
	if !strings.Contains(fp.Info, "i-1") {
		t.Fatalf("info = %q", fp.Info)
	}
}

func TestGojaEngineNoData(t *testing.T) {
	e := NewGojaEngine()
	_, err := e.Collect(context.Background(), `window.TDC = { getData: function () { return ""; }, getInfo: function () { return {}; } };`, ScriptEnv{})
	if TypeOf(err) != ParseError {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGojaEngineInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := NewGojaEngine()
	if _, err := e.Collect(ctx, `for (;;) {}`, ScriptEnv{}); err == nil {
		t.Fatal("expected interrupt error")
	}
}
