package qzlogin

import (
	"time"
)

// Config collects everything the login flows need. Endpoint bases are
// configurable so tests can point the client at a mock portal.
type Config struct {
	// Account
	Uin      int64  `toml:"uin"`      // QQ number
	Password string `toml:"password"` // plain password, empty disables up login

	// Login behavior
	Strategy   QrStrategy `toml:"strategy"`    // method order, see QrStrategy
	CookieFile string     `toml:"cookie_file"` // cookie persistence path, empty disables

	QR       QROptions   `toml:"qr"`
	HTTPOpts HTTPOptions `toml:"http_opts"`
	Endpoint Endpoints   `toml:"endpoint"`
}

// QROptions controls the QR polling loop.
type QROptions struct {
	MaxRefresh   int           `toml:"max_refresh"`   // server-driven expiries before giving up
	PollInterval time.Duration `toml:"poll_interval"` // delay between two status polls
}

// HTTPOptions controls the HTTP client adapter.
type HTTPOptions struct {
	Timeout    time.Duration `toml:"timeout"`
	UserAgent  string        `toml:"user_agent"`
	Proxy      string        `toml:"proxy"`       // optional forward proxy URL
	PowTimeout time.Duration `toml:"pow_timeout"` // proof-of-work budget
}

// Endpoints are the portal base URLs. Only tests should change these.
type Endpoints struct {
	Xlogin  string `toml:"xlogin"`  // login page (issues pt_login_sig)
	Ptlogin string `toml:"ptlogin"` // check/login/ptqrshow/ptqrlogin
	Ui      string `toml:"ui"`      // send_sms_code
	Captcha string `toml:"captcha"` // tcaptcha prehandle/verify + image CDN
	Qzone   string `toml:"qzone"`   // authenticated API host
}

// NewDefaultConfig returns production defaults against the real portal.
func NewDefaultConfig() *Config {
	return &Config{
		Strategy: StrategyAllow,
		QR: QROptions{
			MaxRefresh:   6,
			PollInterval: 3 * time.Second,
		},
		HTTPOpts: HTTPOptions{
			Timeout:    30 * time.Second,
			UserAgent:  DefaultUA,
			PowTimeout: 30 * time.Second,
		},
		Endpoint: Endpoints{
			Xlogin:  "https://xui.ptlogin2.qq.com",
			Ptlogin: "https://ssl.ptlogin2.qq.com",
			Ui:      "https://ui.ptlogin2.qq.com",
			Captcha: "https://t.captcha.qq.com",
			Qzone:   "https://user.qzone.qq.com",
		},
	}
}
