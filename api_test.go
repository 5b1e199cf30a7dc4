package qzlogin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// qzonePortal mocks the authenticated web Qzone endpoints behind a login
// manager whose only flow is a fake.
type qzonePortal struct {
	srv  *httptest.Server
	mgr  *Manager
	api  *QzoneAPI
	flow *fakeFlow

	feedsCalls   int32
	publishCalls int32
	feedsReply   func(call int) string
}

func startQzonePortal(t *testing.T) *qzonePortal {
	t.Helper()
	p := &qzonePortal{}
	p.feedsReply = func(int) string {
		return `callback({"code":0,"data":{"friendFeeds_new_cnt":3,"newfans_uncare_cnt":2,"myFeed_uncare_cnt":0,"note":"ignored"}})`
	}

	mux := http.NewServeMux()
	mux.HandleFunc(feedsCountPath, func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&p.feedsCalls, 1))
		if r.URL.Query().Get("g_tk") == "" {
			t.Error("feeds call without g_tk")
		}
		fmt.Fprint(w, p.feedsReply(n))
	})
	mux.HandleFunc(emotionPublishPath, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&p.publishCalls, 1)
		r.ParseForm()
		if r.PostForm.Get("con") == "" {
			fmt.Fprint(w, `{"code":-10000,"message":"内容为空"}`)
			return
		}
		fmt.Fprint(w, `{"code":0,"tid":"tid-123"}`)
	})
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)

	cfg := newPortalConfig(p.srv.URL)
	client := newPortalClient(t)
	p.flow = &fakeFlow{method: MethodUP, login: func(ctx context.Context) (map[string]string, error) {
		return map[string]string{"p_skey": "fresh-skey"}, nil
	}}
	p.mgr = &Manager{cfg: cfg, client: client, flows: []Loginable{p.flow}}
	p.api = NewQzoneAPI(client, cfg, p.mgr)
	return p
}

func TestFeedsCount(t *testing.T) {
	p := startQzonePortal(t)
	if err := p.mgr.SetCookies(map[string]string{"p_skey": "seeded"}); err != nil {
		t.Fatalf("seed cookies: %v", err)
	}

	counts, err := p.api.GetFeedsCount(context.Background())
	if err != nil {
		t.Fatalf("feeds count: %v", err)
	}
	if counts["friendFeeds_new_cnt"] != 3 || counts["newfans_uncare_cnt"] != 2 {
		t.Fatalf("counts = %v", counts)
	}
	if _, ok := counts["note"]; ok {
		t.Fatal("non-numeric field kept")
	}
	if atomic.LoadInt32(&p.flow.calls) != 0 {
		t.Fatal("relogin ran despite valid session")
	}
}

func TestAPILoginOnDemand(t *testing.T) {
	p := startQzonePortal(t)

	// no seeded cookies: the first gtk lookup fails, which must trigger
	// exactly one login and one retry
	counts, err := p.api.GetFeedsCount(context.Background())
	if err != nil {
		t.Fatalf("feeds count: %v", err)
	}
	if len(counts) == 0 {
		t.Fatal("empty counts")
	}
	if n := atomic.LoadInt32(&p.flow.calls); n != 1 {
		t.Fatalf("login ran %d times, want 1", n)
	}
}

func TestAPIReloginOnExpiredSession(t *testing.T) {
	p := startQzonePortal(t)
	if err := p.mgr.SetCookies(map[string]string{"p_skey": "stale"}); err != nil {
		t.Fatalf("seed cookies: %v", err)
	}
	p.feedsReply = func(call int) string {
		if call == 1 {
			return `callback({"code":-3000,"message":"请先登录"})`
		}
		return `callback({"code":0,"data":{"friendFeeds_new_cnt":1}})`
	}

	counts, err := p.api.GetFeedsCount(context.Background())
	if err != nil {
		t.Fatalf("feeds count: %v", err)
	}
	if counts["friendFeeds_new_cnt"] != 1 {
		t.Fatalf("counts = %v", counts)
	}
	if n := atomic.LoadInt32(&p.feedsCalls); n != 2 {
		t.Fatalf("endpoint hit %d times, want 2", n)
	}
	if n := atomic.LoadInt32(&p.flow.calls); n != 1 {
		t.Fatalf("login ran %d times, want 1", n)
	}
}

func TestAPIReloginNotRepeated(t *testing.T) {
	p := startQzonePortal(t)
	if err := p.mgr.SetCookies(map[string]string{"p_skey": "stale"}); err != nil {
		t.Fatalf("seed cookies: %v", err)
	}
	p.feedsReply = func(int) string {
		return `callback({"code":-3000,"message":"请先登录"})`
	}

	_, err := p.api.GetFeedsCount(context.Background())
	var qe *QzoneError
	if !errors.As(err, &qe) || qe.QzCode != -3000 {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := atomic.LoadInt32(&p.feedsCalls); n != 2 {
		t.Fatalf("endpoint hit %d times, want 2", n)
	}
	if n := atomic.LoadInt32(&p.flow.calls); n != 1 {
		t.Fatalf("login ran %d times, want 1", n)
	}
}

func TestEmotionPublish(t *testing.T) {
	p := startQzonePortal(t)
	if err := p.mgr.SetCookies(map[string]string{"p_skey": "seeded"}); err != nil {
		t.Fatalf("seed cookies: %v", err)
	}

	tid, err := p.api.EmotionPublish(context.Background(), "今天天气不错")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if tid != "tid-123" {
		t.Fatalf("tid = %q", tid)
	}

	_, err = p.api.EmotionPublish(context.Background(), "")
	var qe *QzoneError
	if !errors.As(err, &qe) || qe.QzCode != -10000 {
		t.Fatalf("unexpected error: %v", err)
	}
}
