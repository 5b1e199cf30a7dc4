package qzlogin

import (
	"net/http"
	"testing"
	"time"
)

// newPortalConfig points every endpoint at a mock portal.
func newPortalConfig(base string) *Config {
	cfg := NewDefaultConfig()
	cfg.Uin = 123456789
	cfg.QR.MaxRefresh = 2
	cfg.QR.PollInterval = 10 * time.Millisecond
	cfg.HTTPOpts.Timeout = 10 * time.Second
	cfg.HTTPOpts.PowTimeout = 5 * time.Second
	cfg.Endpoint = Endpoints{
		Xlogin:  base,
		Ptlogin: base,
		Ui:      base,
		Captcha: base,
		Qzone:   base,
	}
	return cfg
}

func newPortalClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(HTTPOptions{Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func setPortalCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{Name: name, Value: value, Path: "/"})
}
