package qzlogin

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UpLogin drives the username/password flow: check, optional captcha,
// optional sms verification, submit, redirect follow.
type UpLogin struct {
	client  *Client
	cfg     *Config
	encoder PasswordEncoder
	engine  ScriptEngine
	hooks   *Hooks
}

func NewUpLogin(client *Client, cfg *Config, hooks *Hooks, engine ScriptEngine) *UpLogin {
	return &UpLogin{
		client:  client,
		cfg:     cfg,
		encoder: NewTeaEncoder(cfg.Password),
		engine:  engine,
		hooks:   hooks,
	}
}

func (u *UpLogin) Method() LoginMethod { return MethodUP }

// upSession is one password login attempt. Never reused.
type upSession struct {
	createTime time.Time
	loginSig   string
	deviceID   string

	check  *CheckResp
	verify *VerifyResult

	smsTicket string
	smsCode   string

	// every submission status seen, oldest first
	history []StatusCode
}

func (s *upSession) pastCode() StatusCode {
	if len(s.history) == 0 {
		return StatusAuthenticated
	}
	return s.history[len(s.history)-1]
}

// verifyCode returns the captcha ticket once one was earned, else the
// check-phase verify code.
func (s *upSession) verifyCode() string {
	if s.verify != nil {
		return s.verify.Randstr
	}
	return s.check.VerifyCode
}

func (s *upSession) verifySession() string {
	if s.verify != nil {
		return s.verify.Ticket
	}
	return s.check.VerifySession
}

// loginPageURL is the xlogin page address. It doubles as the captcha
// entry_url and the referer of every subsequent call.
func (u *UpLogin) loginPageURL() string {
	params := url.Values{
		"proxy_url":         {QzoneProxy.ProxyURL},
		"appid":             {strconv.Itoa(QzoneApp.AppID)},
		"daid":              {strconv.Itoa(QzoneApp.DaID)},
		"style":             {"40"},
		"s_url":             {QzoneProxy.SURL},
		"target":            {"self"},
		"hide_title_bar":    {"1"},
		"low_login":         {"0"},
		"qlogin_auto_login": {"1"},
		"no_verifyimg":      {"1"},
		"link_target":       {"blank"},
	}
	return u.cfg.Endpoint.Xlogin + "/cgi-bin/xlogin?" + params.Encode()
}

// New fetches the login page, which sets the pt_login_sig cookie every
// later call must echo.
func (u *UpLogin) New(ctx context.Context) (*upSession, error) {
	resp, err := u.client.Get(ctx, u.loginPageURL(), nil)
	if err != nil {
		return nil, err
	}
	sig := resp.Cookie("pt_login_sig")
	if sig == "" {
		sig = u.client.JarCookie(u.cfg.Endpoint.Xlogin, "pt_login_sig")
	}
	if sig == "" {
		return nil, NewParseError("login page set no pt_login_sig cookie", nil)
	}
	u.client.SetReferer(u.cfg.Endpoint.Xlogin + "/")
	return &upSession{
		createTime: time.Now(),
		loginSig:   sig,
		deviceID:   deviceID(),
	}, nil
}

// Check asks the portal whether this account can submit directly or needs
// a captcha first.
func (u *UpLogin) Check(ctx context.Context, s *upSession) error {
	params := url.Values{
		"regmaster":  {""},
		"pt_tea":     {"2"},
		"pt_vcode":   {"1"},
		"uin":        {strconv.FormatInt(u.cfg.Uin, 10)},
		"appid":      {strconv.Itoa(QzoneApp.AppID)},
		"js_type":    {"1"},
		"login_sig":  {s.loginSig},
		"u1":         {QzoneProxy.SURL},
		"r":          {strconv.FormatFloat(rand.Float64(), 'f', -1, 64)},
		"pt_uistyle": {"40"},
	}
	resp, err := u.client.Get(ctx, u.cfg.Endpoint.Ptlogin+"/check", params)
	if err != nil {
		return err
	}
	check, err := parseCheckResp(resp.Text())
	if err != nil {
		return err
	}
	s.check = check
	return nil
}

// passCaptcha runs a captcha session and stores its ticket. The ticket
// supersedes the check-phase verify code on every later submission.
func (u *UpLogin) passCaptcha(ctx context.Context, s *upSession) error {
	solver := newCaptcha(u.client, u.cfg, u.engine, u.hooks, s.check.Session, u.loginPageURL())
	r, err := solver.Verify(ctx)
	if err != nil {
		return err
	}
	if r.Ticket == "" {
		return NewProtocolError(StatusNeedCaptcha, "captcha verified but no ticket issued")
	}
	s.verify = r
	return nil
}

func (u *UpLogin) trySubmit(ctx context.Context, s *upSession) (*LoginResp, error) {
	p, err := u.encoder.Encode(s.check.Salt(), s.verifyCode())
	if err != nil {
		return nil, err
	}
	action := 2
	if s.verify != nil {
		action = 3
	}
	params := url.Values{
		"u":                   {strconv.FormatInt(u.cfg.Uin, 10)},
		"p":                   {p},
		"verifycode":          {s.verifyCode()},
		"pt_vcode_v1":         {boolInt(s.verify != nil)},
		"pt_verifysession_v1": {s.verifySession()},
		"pt_randsalt":         {strconv.Itoa(s.check.IsRandSalt)},
		"u1":                  {QzoneProxy.SURL},
		"ptredirect":          {"0"},
		"h":                   {"1"},
		"t":                   {"1"},
		"g":                   {"1"},
		"from_ui":             {"1"},
		"ptlang":              {"2052"},
		"action":              {fmt.Sprintf("%d-%d-%d", action, 1+rand.Intn(2), time.Now().UnixMilli())},
		"js_type":             {"1"},
		"login_sig":           {s.loginSig},
		"pt_uistyle":          {"40"},
		"aid":                 {strconv.Itoa(QzoneApp.AppID)},
		"daid":                {strconv.Itoa(QzoneApp.DaID)},
		"ptdrvs":              {s.check.Ptdrvs},
		"sid":                 {s.check.Session},
		"o1vId":               {s.deviceID},
	}
	if s.smsCode != "" {
		params.Set("pt_sms_code", s.smsCode)
		params.Set("pt_sms_ticket", s.smsTicket)
	}
	resp, err := u.client.Get(ctx, u.cfg.Endpoint.Ptlogin+"/login", params)
	if err != nil {
		return nil, err
	}
	r, err := parseLoginResp(resp.Text())
	if err != nil {
		return nil, err
	}
	if r.Code == StatusNeedSmsVerify {
		s.smsTicket = resp.Cookie("pt_sms_ticket")
	}
	return r, nil
}

// sendSmsCode asks the portal to text the dynamic code to the account's
// bound phone.
func (u *UpLogin) sendSmsCode(ctx context.Context, s *upSession) error {
	params := url.Values{
		"bkn":           {""},
		"uin":           {strconv.FormatInt(u.cfg.Uin, 10)},
		"aid":           {strconv.Itoa(QzoneApp.AppID)},
		"pt_sms_ticket": {s.smsTicket},
	}
	resp, err := u.client.Get(ctx, u.cfg.Endpoint.Ui+"/ssl/send_sms_code", params)
	if err != nil {
		return err
	}
	args := parseQuotedArgs(resp.Text())
	if len(args) < 2 {
		return NewParseError("malformed sms send response", nil)
	}
	if code, _ := strconv.Atoi(args[0]); code != smsSentCode {
		return NewProtocolError(StatusCode(code), args[1])
	}
	return nil
}

// Login runs the whole flow and returns the harvested cookie set.
func (u *UpLogin) Login(ctx context.Context) (map[string]string, error) {
	if u.cfg.Password == "" {
		return nil, NewUserBreakError("no password configured", nil)
	}
	s, err := u.New(ctx)
	if err != nil {
		return nil, err
	}
	if err := u.Check(ctx, s); err != nil {
		return nil, err
	}
	switch s.check.Code {
	case StatusAuthenticated, StatusWrongPassword:
		// directly submittable
	case StatusNeedCaptcha:
		slog.Warn("captcha required", "uin", u.cfg.Uin)
		if err := u.passCaptcha(ctx, s); err != nil {
			return nil, err
		}
	default:
		return nil, NewProtocolError(s.check.Code, "login pre-check refused this account")
	}

	for {
		resp, err := u.trySubmit(ctx, s)
		if err != nil {
			return nil, err
		}
		past := s.pastCode()
		s.history = append(s.history, resp.Code)

		switch resp.Code {
		case StatusAuthenticated:
			slog.Info("password login accepted", "uin", u.cfg.Uin, "nickname", resp.Nickname)
			return followLoginURL(ctx, u.client, resp.URL)
		case StatusNeedSmsVerify:
			if past == StatusNeedSmsVerify {
				return nil, NewProtocolError(resp.Code, "portal keeps demanding sms verification")
			}
			if u.hooks == nil || u.hooks.GetSmsCode == nil {
				return nil, NewUserBreakError("sms verification demanded but no sms code hook registered", nil)
			}
			if err := u.sendSmsCode(ctx, s); err != nil {
				return nil, err
			}
			code, err := u.hooks.GetSmsCode(ctx, u.cfg.Uin, resp.Msg, resp.Nickname)
			if err != nil {
				return nil, NewUserBreakError("sms code hook failed", err)
			}
			if len(strings.TrimSpace(code)) < 4 {
				return nil, NewUserBreakError("no usable sms code supplied", nil)
			}
			s.smsCode = strings.TrimSpace(code)
		default:
			return nil, NewProtocolError(resp.Code, resp.Msg)
		}
	}
}

// followLoginURL follows the portal's post-login redirect once and harvests
// the cookie set it carries. The 302 is the expected answer here.
func followLoginURL(ctx context.Context, c *Client, loginURL string) (map[string]string, error) {
	if loginURL == "" {
		return nil, NewParseError("authenticated response carried no redirect url", nil)
	}
	resp, err := c.Get(ctx, loginURL, nil, 302, 200)
	if err != nil {
		return nil, err
	}
	cookies := resp.Cookies()
	if cookies["p_skey"] == "" {
		return nil, NewParseError("redirect set no p_skey cookie", nil)
	}
	return cookies, nil
}

func deviceID() string {
	sum := md5.Sum([]byte(uuid.NewString()))
	return hex.EncodeToString(sum[:])
}

func boolInt(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
