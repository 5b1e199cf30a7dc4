package qzlogin

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

const prehandleCallback = "_aq_596882"

var prehandleRe = regexp.MustCompile(prehandleCallback + `\((\{.*\})\)`)

type challengeKind int

const (
	kindSlide challengeKind = iota
	kindSelect
)

// Captcha drives one tcaptcha challenge from prehandle to a verification
// ticket. A fresh session is created per challenge; nothing is reused.
type Captcha struct {
	client *Client
	cfg    *Config
	engine ScriptEngine
	hooks  *Hooks

	sid      string
	entryURL string
}

func newCaptcha(client *Client, cfg *Config, engine ScriptEngine, hooks *Hooks, sid, entryURL string) *Captcha {
	return &Captcha{
		client:   client,
		cfg:      cfg,
		engine:   engine,
		hooks:    hooks,
		sid:      sid,
		entryURL: entryURL,
	}
}

// captchaSession holds everything parsed, fetched and computed for a
// single challenge.
type captchaSession struct {
	kind challengeKind

	sess     string // prehandle session token
	uip      string
	tdcPath  string
	powPfx   string
	powHash  string
	dataType string

	// slide
	bgURL      string
	spriteURL  string
	spriteRect image.Rectangle
	initPos    image.Point

	// select
	instruction string
	regions     []selectRegion
	pictureIDs  []int64

	// fetched problem
	bgImg      []byte
	spriteImg  []byte
	regionImgs [][]byte

	// computed
	powDone bool
	powAns  int
	powDur  int // milliseconds, floored at 50
	answer  string
	track   [][2]int
}

type selectRegion struct {
	id  int64
	box image.Rectangle
}

// VerifyResult is the verification endpoint's structured answer.
type VerifyResult struct {
	Code    int
	Randstr string
	Ticket  string
	Msg     string
}

// Verify runs the whole challenge: prehandle, image fetch, proof-of-work,
// answer, fingerprint and submission. The returned ticket supersedes the
// check-phase verify session in the login flow.
func (c *Captcha) Verify(ctx context.Context) (*VerifyResult, error) {
	sess, err := c.Prehandle(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.FetchProblem(ctx, sess); err != nil {
		return nil, err
	}
	if err := c.SolveWorkload(ctx, sess, c.cfg.HTTPOpts.PowTimeout); err != nil {
		return nil, err
	}
	if err := c.SolveAnswer(ctx, sess); err != nil {
		return nil, err
	}
	fp, err := c.CollectFingerprint(ctx, sess)
	if err != nil {
		return nil, err
	}
	r, err := c.Submit(ctx, sess, fp)
	if err != nil {
		return nil, err
	}
	if r.Code != 0 {
		desc, ok := captchaStatusDescription[r.Code]
		if !ok {
			desc = r.Msg
		}
		return nil, NewProtocolError(StatusNeedCaptcha, fmt.Sprintf("captcha verify failed (%d): %s", r.Code, desc))
	}
	slog.Info("captcha verified", "sid", c.sid)
	return r, nil
}

// Prehandle fetches and parses the challenge configuration.
func (c *Captcha) Prehandle(ctx context.Context) (*captchaSession, error) {
	params := url.Values{
		"aid":            {strconv.Itoa(QzoneApp.AppID)},
		"accver":         {"1"},
		"protocol":       {"https"},
		"noheader":       {"1"},
		"showtype":       {"embed"},
		"enableDarkMode": {"0"},
		"grayscale":      {"1"},
		"clientype":      {"2"},
		"sess":           {""},
		"fb":             {"1"},
		"aged":           {"0"},
		"enableAged":     {"0"},
		"elder_captcha":  {"0"},
		"wb":             {"2"},
		"subsid":         {"1"},
		"ua":             {base64.StdEncoding.EncodeToString([]byte(c.client.UserAgent()))},
		"sid":            {c.sid},
		"entry_url":      {c.entryURL},
		"lang":           {"zh-CN"},
		"callback":       {prehandleCallback},
	}
	resp, err := c.client.Get(ctx, c.cfg.Endpoint.Captcha+"/cap_union_prehandle", params)
	if err != nil {
		return nil, err
	}
	m := prehandleRe.FindStringSubmatch(resp.Text())
	if m == nil {
		return nil, NewParseError("prehandle response is not a jsonp callback", nil)
	}
	return parsePrehandle(m[1])
}

func parsePrehandle(raw string) (*captchaSession, error) {
	root := gjson.Parse(raw)
	data := root.Get("data")
	if !data.Exists() {
		return nil, NewParseError("prehandle response has no captcha data", nil)
	}
	common := data.Get("comm_captcha_cfg")
	render := data.Get("dyn_show_info")

	s := &captchaSession{
		sess:     root.Get("sess").String(),
		uip:      root.Get("uip").String(),
		tdcPath:  common.Get("tdc_path").String(),
		powPfx:   common.Get("pow_cfg.prefix").String(),
		powHash:  common.Get("pow_cfg.md5").String(),
		dataType: "DynAnswerType_UC",
	}
	if s.powHash == "" {
		return nil, NewParseError("prehandle response has no pow config", nil)
	}

	if render.Get("json_payload").Exists() {
		return parseSelectRender(s, render)
	}
	return parseSlideRender(s, render)
}

func parseSlideRender(s *captchaSession, render gjson.Result) (*captchaSession, error) {
	s.kind = kindSlide
	s.bgURL = render.Get("bg_elem_cfg.img_url").String()
	s.spriteURL = render.Get("sprite_url").String()

	sprites := render.Get("fg_elem_list").Array()
	piece, ok := lo.Find(sprites, func(r gjson.Result) bool {
		return r.Get("move_cfg").Exists()
	})
	if !ok {
		return nil, NewParseError("no movable sprite in slide config", nil)
	}
	pos := piece.Get("sprite_pos").Array()
	size := piece.Get("size_2d").Array()
	init := piece.Get("init_pos").Array()
	if len(pos) < 2 || len(size) < 2 || len(init) < 2 {
		return nil, NewParseError("malformed sprite geometry", nil)
	}
	x, y := int(pos[0].Int()), int(pos[1].Int())
	w, h := int(size[0].Int()), int(size[1].Int())
	s.spriteRect = image.Rect(x, y, x+w, y+h)
	s.initPos = image.Pt(int(init[0].Int()), int(init[1].Int()))
	if dt := piece.Get("move_cfg.data_type").Array(); len(dt) > 0 {
		s.dataType = dt[0].String()
	}
	if s.bgURL == "" || s.spriteURL == "" {
		return nil, NewParseError("slide config misses image urls", nil)
	}
	return s, nil
}

func parseSelectRender(s *captchaSession, render gjson.Result) (*captchaSession, error) {
	s.kind = kindSelect
	s.bgURL = render.Get("bg_elem_cfg.img_url").String()
	s.instruction = render.Get("instruction").String()
	if dt := render.Get("bg_elem_cfg.click_cfg.data_type").Array(); len(dt) > 0 {
		s.dataType = dt[0].String()
	}

	// json_payload arrives as an embedded json string
	payload := gjson.Parse(render.Get("json_payload").String())
	for _, r := range payload.Get("select_region_list").Array() {
		rng := r.Get("range").Array()
		if len(rng) < 4 {
			return nil, NewParseError("malformed select region", nil)
		}
		s.regions = append(s.regions, selectRegion{
			id: r.Get("id").Int(),
			box: image.Rect(
				int(rng[0].Int()), int(rng[1].Int()),
				int(rng[2].Int()), int(rng[3].Int())),
		})
	}
	s.pictureIDs = lo.Map(payload.Get("picture_ids").Array(), func(r gjson.Result, _ int) int64 {
		return r.Int()
	})
	if s.bgURL == "" || len(s.regions) == 0 || len(s.pictureIDs) == 0 {
		return nil, NewParseError("select config misses regions", nil)
	}
	return s, nil
}

// FetchProblem downloads the challenge images from the captcha CDN.
func (c *Captcha) FetchProblem(ctx context.Context, s *captchaSession) error {
	fetch := func(rel string) ([]byte, error) {
		resp, err := c.client.Get(ctx, c.cfg.Endpoint.Captcha+rel, nil)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}

	bg, err := fetch(s.bgURL)
	if err != nil {
		return err
	}
	s.bgImg = bg

	switch s.kind {
	case kindSlide:
		sprite, err := fetch(s.spriteURL)
		if err != nil {
			return err
		}
		s.spriteImg = sprite
	case kindSelect:
		composite, err := decodeNRGBA(bg)
		if err != nil {
			return NewParseError("decode select composite", err)
		}
		byID := make(map[int64][]byte, len(s.regions))
		for _, region := range s.regions {
			if !region.box.In(composite.Rect) {
				return NewParseError("select region out of bounds", nil)
			}
			var buf bytes.Buffer
			if err := png.Encode(&buf, cropNRGBA(composite, region.box)); err != nil {
				return NewParseError("encode select region", err)
			}
			byID[region.id] = buf.Bytes()
		}
		s.regionImgs = make([][]byte, 0, len(s.pictureIDs))
		for _, id := range s.pictureIDs {
			img, ok := byID[id]
			if !ok {
				return NewParseError("select picture id without region", nil)
			}
			s.regionImgs = append(s.regionImgs, img)
		}
	}
	return nil
}

// SolveWorkload brute-forces the proof-of-work. The answer is cached in
// the session: the workload is deterministic per challenge, so a retry
// after a timeout continues to make sense, but recomputing never does.
func (c *Captcha) SolveWorkload(ctx context.Context, s *captchaSession, timeout time.Duration) error {
	if s.powDone {
		return nil
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)
	start := time.Now()

	prefix := []byte(s.powPfx)
	for n := 0; ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return NewUserBreakError("proof-of-work interrupted", err)
			}
			if time.Now().After(deadline) {
				return NewWorkloadError(fmt.Sprintf("proof-of-work not solved within %s", timeout), nil)
			}
		}
		sum := md5.Sum(strconv.AppendInt(prefix[:len(prefix):len(prefix)], int64(n), 10))
		if hex.EncodeToString(sum[:]) == s.powHash {
			s.powAns = n
			break
		}
	}
	elapsed := int(time.Since(start).Milliseconds())
	if elapsed < 50 {
		elapsed = 50
	}
	s.powDur = elapsed
	s.powDone = true
	slog.Debug("workload solved", "answer", s.powAns, "duration_ms", s.powDur)
	return nil
}

// SolveAnswer computes the challenge answer: the slide offset via template
// matching, or the user's picture choices for a select challenge.
func (c *Captcha) SolveAnswer(ctx context.Context, s *captchaSession) error {
	switch s.kind {
	case kindSlide:
		jig, err := NewJigsaw(s.bgImg, s.spriteImg, s.spriteRect, s.initPos.Y)
		if err != nil {
			return err
		}
		left, err := jig.Left()
		if err != nil {
			return err
		}
		if left <= s.initPos.X {
			return NewParseError("slide match landed left of the piece", nil)
		}
		s.answer = fmt.Sprintf("%d,%d", left, s.initPos.Y)
		s.track = imitateDrag(s.initPos.X, left, s.initPos.Y)
	case kindSelect:
		if c.hooks == nil || c.hooks.SolveSelectCaptcha == nil {
			return NewUserBreakError("no select captcha solver registered", nil)
		}
		chosen, err := c.hooks.SolveSelectCaptcha(ctx, s.instruction, s.regionImgs)
		if err != nil {
			return err
		}
		if len(chosen) == 0 {
			return NewUserBreakError("select captcha solver chose nothing", nil)
		}
		ids := make([]string, 0, len(chosen))
		for _, i := range chosen {
			if i < 1 || i > len(s.pictureIDs) {
				return NewParseError("select answer index out of range", nil)
			}
			ids = append(ids, strconv.FormatInt(s.pictureIDs[i-1], 10))
		}
		s.answer = joinComma(ids)
	}
	return nil
}

func joinComma(parts []string) string {
	var b bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p)
	}
	return b.String()
}

// CollectFingerprint downloads the tdc script and runs it in the script
// engine to obtain the environment collect blob.
func (c *Captcha) CollectFingerprint(ctx context.Context, s *captchaSession) (*Fingerprint, error) {
	if c.engine == nil {
		return nil, NewUserBreakError("no script engine available for fingerprint collection", nil)
	}
	resp, err := c.client.Get(ctx, c.cfg.Endpoint.Captcha+s.tdcPath, nil)
	if err != nil {
		return nil, err
	}
	env := ScriptEnv{
		UserAgent:  c.client.UserAgent(),
		IP:         s.uip,
		Referer:    c.cfg.Endpoint.Captcha + "/cap_union_new_show",
		MouseTrack: s.track,
	}
	return c.engine.Collect(ctx, resp.Text(), env)
}

// Submit posts the completed challenge for verification.
func (c *Captcha) Submit(ctx context.Context, s *captchaSession, fp *Fingerprint) (*VerifyResult, error) {
	ansBlob, err := json.Marshal([]map[string]any{{
		"elem_id": 1,
		"type":    s.dataType,
		"data":    s.answer,
	}})
	if err != nil {
		return nil, NewParseError("marshal captcha answer", err)
	}
	form := url.Values{
		"collect":       {fp.Data},
		"tlg":           {strconv.Itoa(len(fp.Data))},
		"eks":           {fp.Info},
		"sess":          {s.sess},
		"ans":           {string(ansBlob)},
		"pow_answer":    {hexAdd(s.powPfx, s.powAns)},
		"pow_calc_time": {strconv.Itoa(s.powDur)},
	}
	resp, err := c.client.PostForm(ctx, c.cfg.Endpoint.Captcha+"/cap_union_new_verify", form)
	if err != nil {
		return nil, err
	}
	body := gjson.Parse(resp.Text())
	code, err := strconv.Atoi(body.Get("errorCode").String())
	if err != nil {
		return nil, NewParseError("verify response has no error code", err)
	}
	return &VerifyResult{
		Code:    code,
		Randstr: body.Get("randstr").String(),
		Ticket:  body.Get("ticket").String(),
		Msg:     body.Get("errMessage").String(),
	}, nil
}

// hexAdd appends a pow answer to its prefix the way the captcha page
// scripts do: a '#'-terminated prefix gets the decimal answer appended,
// an empty prefix is replaced by it, anything else is treated as a hex
// number and summed.
func hexAdd(prefix string, n int) string {
	switch {
	case prefix == "":
		return strconv.Itoa(n)
	case prefix[len(prefix)-1] == '#':
		return prefix + strconv.Itoa(n)
	}
	v, err := strconv.ParseUint(prefix, 16, 64)
	if err != nil {
		return prefix + strconv.Itoa(n)
	}
	return strconv.FormatUint(v+uint64(n), 16)
}
