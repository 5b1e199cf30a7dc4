package qzlogin

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"testing"
	"time"
)

func TestHexAdd(t *testing.T) {
	cases := []struct {
		prefix string
		n      int
		want   string
	}{
		{"", 42, "42"},
		{"abc#", 7, "abc#7"},
		{"ff", 1, "100"},
		{"0a", 5, "f"},
	}
	for _, c := range cases {
		if got := hexAdd(c.prefix, c.n); got != c.want {
			t.Fatalf("hexAdd(%q, %d) = %q, want %q", c.prefix, c.n, got, c.want)
		}
	}
}

const slidePrehandle = `_aq_596882({"sess":"s-1","uip":"1.2.3.4","data":{"comm_captcha_cfg":{"tdc_path":"/tdc.js","pow_cfg":{"prefix":"pow#","md5":"d41d8cd98f00b204e9800998ecf8427e"}},"dyn_show_info":{"bg_elem_cfg":{"img_url":"/bg.png"},"sprite_url":"/sprite.png","fg_elem_list":[{"id":1,"sprite_pos":[0,100]},{"id":2,"move_cfg":{"data_type":["DynAnswerType_POS"]},"sprite_pos":[10,20],"size_2d":[48,56],"init_pos":[8,40]}]}}})`

func TestParsePrehandleSlide(t *testing.T) {
	m := prehandleRe.FindStringSubmatch(slidePrehandle)
	if m == nil {
		t.Fatal("callback regex did not match")
	}
	s, err := parsePrehandle(m[1])
	if err != nil {
		t.Fatalf("parse prehandle: %v", err)
	}
	if s.kind != kindSlide {
		t.Fatalf("kind = %d, want slide", s.kind)
	}
	if s.sess != "s-1" || s.uip != "1.2.3.4" || s.tdcPath != "/tdc.js" {
		t.Fatalf("session fields wrong: %+v", s)
	}
	if s.powPfx != "pow#" || s.powHash == "" {
		t.Fatalf("pow config wrong: %+v", s)
	}
	if s.spriteRect.Min.X != 10 || s.spriteRect.Min.Y != 20 ||
		s.spriteRect.Dx() != 48 || s.spriteRect.Dy() != 56 {
		t.Fatalf("sprite rect = %v", s.spriteRect)
	}
	if s.initPos.X != 8 || s.initPos.Y != 40 {
		t.Fatalf("init pos = %v", s.initPos)
	}
	if s.dataType != "DynAnswerType_POS" {
		t.Fatalf("data type = %q", s.dataType)
	}
}

const selectPrehandle = `{"sess":"s-2","uip":"::1","data":{"comm_captcha_cfg":{"tdc_path":"/tdc.js","pow_cfg":{"prefix":"","md5":"00000000000000000000000000000000"}},"dyn_show_info":{"instruction":"请选择所有的路灯","bg_elem_cfg":{"img_url":"/composite.png","click_cfg":{"data_type":["DynAnswerType_IMG_SELECT"]}},"json_payload":"{\"select_region_list\":[{\"id\":11,\"range\":[0,0,60,60]},{\"id\":12,\"range\":[60,0,120,60]}],\"picture_ids\":[11,12]}"}}}`

func TestParsePrehandleSelect(t *testing.T) {
	s, err := parsePrehandle(selectPrehandle)
	if err != nil {
		t.Fatalf("parse prehandle: %v", err)
	}
	if s.kind != kindSelect {
		t.Fatalf("kind = %d, want select", s.kind)
	}
	if s.instruction != "请选择所有的路灯" {
		t.Fatalf("instruction = %q", s.instruction)
	}
	if len(s.regions) != 2 || s.regions[1].id != 12 {
		t.Fatalf("regions wrong: %+v", s.regions)
	}
	if len(s.pictureIDs) != 2 {
		t.Fatalf("picture ids wrong: %+v", s.pictureIDs)
	}
	if s.dataType != "DynAnswerType_IMG_SELECT" {
		t.Fatalf("data type = %q", s.dataType)
	}
}

func TestParsePrehandleNoPow(t *testing.T) {
	if _, err := parsePrehandle(`{"sess":"x","data":{"comm_captcha_cfg":{}}}`); err == nil {
		t.Fatal("expected error without pow config")
	}
}

func TestSolveWorkload(t *testing.T) {
	const answer = 1337
	prefix := "unit#"
	sum := md5.Sum([]byte(fmt.Sprintf("%s%d", prefix, answer)))

	c := &Captcha{}
	s := &captchaSession{powPfx: prefix, powHash: hex.EncodeToString(sum[:])}
	if err := c.SolveWorkload(context.Background(), s, 10*time.Second); err != nil {
		t.Fatalf("solve workload: %v", err)
	}
	if s.powAns != answer {
		t.Fatalf("answer = %d, want %d", s.powAns, answer)
	}
	if s.powDur < 50 {
		t.Fatalf("duration %dms below floor", s.powDur)
	}

	// cached: changing the target must not trigger a recompute
	s.powHash = "ffffffffffffffffffffffffffffffff"
	if err := c.SolveWorkload(context.Background(), s, time.Second); err != nil {
		t.Fatalf("cached solve: %v", err)
	}
	if s.powAns != answer {
		t.Fatalf("cached answer changed: %d", s.powAns)
	}
}

func TestSolveWorkloadTimeout(t *testing.T) {
	c := &Captcha{}
	// unreachable target
	s := &captchaSession{powPfx: "x", powHash: "not-a-real-md5-target-value-0000"}
	err := c.SolveWorkload(context.Background(), s, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout")
	}
	if TypeOf(err) != WorkloadError {
		t.Fatalf("unexpected error type: %v", err)
	}
}

func TestSolveWorkloadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &Captcha{}
	s := &captchaSession{powPfx: "x", powHash: "not-a-real-md5-target-value-0000"}
	err := c.SolveWorkload(ctx, s, 10*time.Second)
	if TypeOf(err) != UserBreakError {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSolveAnswerSelectNoHook(t *testing.T) {
	c := &Captcha{hooks: &Hooks{}}
	s := &captchaSession{kind: kindSelect}
	err := c.SolveAnswer(context.Background(), s)
	if TypeOf(err) != UserBreakError {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSolveAnswerSelect(t *testing.T) {
	c := &Captcha{hooks: &Hooks{
		SolveSelectCaptcha: func(ctx context.Context, instruction string, images [][]byte) ([]int, error) {
			return []int{2, 1}, nil
		},
	}}
	s := &captchaSession{
		kind:       kindSelect,
		pictureIDs: []int64{101, 202},
		regionImgs: [][]byte{{1}, {2}},
	}
	if err := c.SolveAnswer(context.Background(), s); err != nil {
		t.Fatalf("solve answer: %v", err)
	}
	if s.answer != "202,101" {
		t.Fatalf("answer = %q", s.answer)
	}
}
