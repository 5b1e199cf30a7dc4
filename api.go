package qzlogin

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

const (
	feedsCountPath     = "/proxy/domain/g.qzone.qq.com/cgi-bin/friendshow/cgi_get_feeds_count"
	emotionPublishPath = "/proxy/domain/taotao.qzone.qq.com/cgi-bin/emotion_cgi_publish_v6"
)

// Most web Qzone endpoints wrap their json in a `callback({...})` shim.
var responseCallbackRe = regexp.MustCompile(`(?si)callback\(\s*(\{.*\})\s*\)`)

// QzoneAPI issues authenticated calls against the Qzone web endpoints.
// Every call carries the g_tk tag derived from the current cookie and is
// wrapped so that one expired-session failure triggers exactly one
// relogin and one retry.
type QzoneAPI struct {
	client *Client
	cfg    *Config
	login  *Manager
}

func NewQzoneAPI(client *Client, cfg *Config, login *Manager) *QzoneAPI {
	return &QzoneAPI{client: client, cfg: cfg, login: login}
}

func (a *QzoneAPI) gtk() (int, error) {
	if g := a.login.Gtk(); g != 0 {
		return g, nil
	}
	return 0, &QzoneError{QzCode: -3000, Message: "no login"}
}

// call performs one authenticated request and unwraps the jsonp envelope.
func (a *QzoneAPI) call(ctx context.Context, path string, params, form url.Values) (gjson.Result, error) {
	gtk, err := a.gtk()
	if err != nil {
		return gjson.Result{}, err
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("g_tk", strconv.Itoa(gtk))

	var resp *Response
	if form == nil {
		resp, err = a.client.Get(ctx, a.cfg.Endpoint.Qzone+path, params)
	} else {
		resp, err = a.client.PostForm(ctx, a.cfg.Endpoint.Qzone+path+"?"+params.Encode(), form)
	}
	if err != nil {
		return gjson.Result{}, err
	}

	text := resp.Text()
	if m := responseCallbackRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	body := gjson.Parse(text)
	if code := body.Get("code"); code.Exists() && code.Int() != 0 {
		msg := body.Get("message").String()
		if msg == "" {
			msg = body.Get("msg").String()
		}
		return gjson.Result{}, &QzoneError{QzCode: int(code.Int()), Message: msg}
	}
	return body, nil
}

// withRelogin retries fn once after a recognized session-expiry failure,
// running the login manager in between. Unrelated failures propagate
// untouched, and a second expiry does too.
func (a *QzoneAPI) withRelogin(ctx context.Context, fn func() error) error {
	start := time.Now()
	err := fn()
	if err == nil || !authExpired(err) {
		return err
	}
	slog.Info("session expired, relogin", "uin", a.cfg.Uin, "err", err)
	if _, err := a.login.EnsureFresh(ctx, start); err != nil {
		return err
	}
	return fn()
}

// GetFeedsCount fetches the per-category unread counters. Calling it
// periodically also keeps the session cookie alive.
func (a *QzoneAPI) GetFeedsCount(ctx context.Context) (map[string]int, error) {
	var counts map[string]int
	err := a.withRelogin(ctx, func() error {
		params := url.Values{
			"uin": {strconv.FormatInt(a.cfg.Uin, 10)},
			"rd":  {strconv.FormatFloat(rand.Float64(), 'f', -1, 64)},
		}
		body, err := a.call(ctx, feedsCountPath, params, nil)
		if err != nil {
			return err
		}
		counts = make(map[string]int)
		body.Get("data").ForEach(func(k, v gjson.Result) bool {
			if v.Type == gjson.Number {
				counts[k.String()] = int(v.Int())
			}
			return true
		})
		return nil
	})
	return counts, err
}

// EmotionPublish posts a text-only feed and returns its tid.
func (a *QzoneAPI) EmotionPublish(ctx context.Context, content string) (string, error) {
	var tid string
	err := a.withRelogin(ctx, func() error {
		uin := strconv.FormatInt(a.cfg.Uin, 10)
		form := url.Values{
			"syn_tweet_verson": {"1"},
			"paramstr":         {"1"},
			"who":              {"1"},
			"con":              {content},
			"feedversion":      {"1"},
			"ver":              {"1"},
			"ugc_right":        {"1"},
			"to_sign":          {"0"},
			"hostuin":          {uin},
			"code_version":     {"1"},
			"format":           {"json"},
			"qzreferrer":       {fmt.Sprintf("%s/%s", a.cfg.Endpoint.Qzone, uin)},
		}
		body, err := a.call(ctx, emotionPublishPath, nil, form)
		if err != nil {
			return err
		}
		tid = body.Get("tid").String()
		if tid == "" {
			return NewParseError("publish response carried no tid", nil)
		}
		return nil
	})
	return tid, err
}
