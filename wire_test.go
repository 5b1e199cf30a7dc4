package qzlogin

import "testing"

func TestParseCheckResp(t *testing.T) {
	text := `ptui_checkVC('1','!XYZ','\x00\x65\x00\x02','s1s2s3','0','drvs01','sid9')`
	r, err := parseCheckResp(text)
	if err != nil {
		t.Fatalf("parse check: %v", err)
	}
	if r.Code != StatusNeedCaptcha {
		t.Fatalf("code = %d, want %d", r.Code, StatusNeedCaptcha)
	}
	if r.VerifyCode != "!XYZ" || r.VerifySession != "s1s2s3" {
		t.Fatalf("verify fields wrong: %+v", r)
	}
	if r.Ptdrvs != "drvs01" || r.Session != "sid9" {
		t.Fatalf("session fields wrong: %+v", r)
	}
	if got := r.Salt(); got != "\x00\x65\x00\x02" {
		t.Fatalf("salt = %q", got)
	}
}

func TestParseCheckRespMalformed(t *testing.T) {
	if _, err := parseCheckResp("ptui_checkVC('0','a')"); err == nil {
		t.Fatal("expected error for short arg list")
	} else if TypeOf(err) != ParseError {
		t.Fatalf("unexpected error type: %v", err)
	}
}

func TestParseLoginResp(t *testing.T) {
	text := `ptuiCB('0','0','https://ptlogin2.qzone.qq.com/check_sig?p=1','0','登录成功！','昵称')`
	r, err := parseLoginResp(text)
	if err != nil {
		t.Fatalf("parse login: %v", err)
	}
	if r.Code != StatusAuthenticated {
		t.Fatalf("code = %d", r.Code)
	}
	if r.URL != "https://ptlogin2.qzone.qq.com/check_sig?p=1" {
		t.Fatalf("url = %q", r.URL)
	}
	if r.Msg != "登录成功！" || r.Nickname != "昵称" {
		t.Fatalf("msg/nickname wrong: %+v", r)
	}
}

func TestParseLoginRespWaiting(t *testing.T) {
	text := `ptuiCB('66','0','','0','二维码未失效。','')`
	r, err := parseLoginResp(text)
	if err != nil {
		t.Fatalf("parse poll: %v", err)
	}
	if r.Code != StatusWaiting {
		t.Fatalf("code = %d, want %d", r.Code, StatusWaiting)
	}
}
