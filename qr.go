package qzlogin

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strconv"
	"time"
)

// QrLogin issues a QR code and polls the portal until it is scanned,
// expires, or the caller gives up. Cancellation goes through the context;
// a user-requested refresh goes through Refresh.
type QrLogin struct {
	client *Client
	cfg    *Config
	hooks  *Hooks

	refresh chan struct{}
}

func NewQrLogin(client *Client, cfg *Config, hooks *Hooks) *QrLogin {
	return &QrLogin{
		client:  client,
		cfg:     cfg,
		hooks:   hooks,
		refresh: make(chan struct{}, 1),
	}
}

func (q *QrLogin) Method() LoginMethod { return MethodQR }

// Refresh asks the running loop to fetch a new QR code at the next poll
// tick. Safe to call from any goroutine at any time, including before the
// first code is issued; a refresh requested this way does not count
// against the expiry budget.
func (q *QrLogin) Refresh() {
	select {
	case q.refresh <- struct{}{}:
	default:
	}
}

// qrCode is one issued QR image with its signing token.
type qrCode struct {
	png []byte
	sig string
}

// Show fetches a fresh QR code from the portal.
func (q *QrLogin) Show(ctx context.Context) (*qrCode, error) {
	params := url.Values{
		"appid":      {strconv.Itoa(QzoneApp.AppID)},
		"e":          {"2"},
		"l":          {"M"},
		"s":          {"3"},
		"d":          {"72"},
		"v":          {"4"},
		"t":          {strconv.FormatFloat(rand.Float64(), 'f', -1, 64)},
		"daid":       {strconv.Itoa(QzoneApp.DaID)},
		"pt_3rd_aid": {"0"},
	}
	resp, err := q.client.Get(ctx, q.cfg.Endpoint.Ptlogin+"/ptqrshow", params)
	if err != nil {
		return nil, err
	}
	sig := resp.Cookie("qrsig")
	if sig == "" {
		return nil, NewParseError("qr show set no qrsig cookie", nil)
	}
	return &qrCode{png: resp.Body, sig: sig}, nil
}

// Poll queries the scan status of the current QR code once.
func (q *QrLogin) Poll(ctx context.Context, qr *qrCode) (*LoginResp, error) {
	params := url.Values{
		"u1":         {QzoneProxy.SURL},
		"ptqrtoken":  {strconv.Itoa(ptqrtoken(qr.sig))},
		"ptredirect": {"0"},
		"h":          {"1"},
		"t":          {"1"},
		"g":          {"1"},
		"from_ui":    {"1"},
		"ptlang":     {"2052"},
		"js_type":    {"1"},
		"login_sig":  {""},
		"pt_uistyle": {"40"},
		"aid":        {strconv.Itoa(QzoneApp.AppID)},
		"daid":       {strconv.Itoa(QzoneApp.DaID)},
		"has_onekey": {"1"},
		"pt_3rd_aid": {"0"},
	}
	resp, err := q.client.Get(ctx, q.cfg.Endpoint.Ptlogin+"/ptqrlogin", params)
	if err != nil {
		return nil, err
	}
	return parseLoginResp(resp.Text())
}

// Login runs the polling loop until the code is scanned and confirmed.
// Server-driven expiries count against QROptions.MaxRefresh; refreshes
// requested through Refresh do not. Context cancellation is observed
// within one poll interval.
func (q *QrLogin) Login(ctx context.Context) (map[string]string, error) {
	refreshed := 0 // codes issued before the current one
	expiries := 0  // server-driven expiries, bounded by MaxRefresh

	issue := func() (*qrCode, error) {
		qr, err := q.Show(ctx)
		if err != nil {
			return nil, err
		}
		if q.hooks != nil && q.hooks.QrFetched != nil {
			q.hooks.QrFetched(qr.png, refreshed)
		}
		refreshed++
		return qr, nil
	}

	qr, err := issue()
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(q.cfg.QR.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, NewUserBreakError("qr login cancelled", ctx.Err())
		case <-q.refresh:
			if qr, err = issue(); err != nil {
				return nil, err
			}
			continue
		case <-ticker.C:
		}

		resp, err := q.Poll(ctx, qr)
		if err != nil {
			return nil, err
		}
		switch resp.Code {
		case StatusWaiting, StatusScanned:
			// keep polling
		case StatusExpired:
			expiries++
			if expiries >= q.cfg.QR.MaxRefresh {
				return nil, NewWorkloadError(
					fmt.Sprintf("qr not scanned after %d codes", q.cfg.QR.MaxRefresh), nil)
			}
			if qr, err = issue(); err != nil {
				return nil, err
			}
		case StatusAuthenticated:
			slog.Info("qr scan confirmed", "nickname", resp.Nickname)
			return followLoginURL(ctx, q.client, resp.URL)
		default:
			return nil, NewProtocolError(resp.Code, resp.Msg)
		}
	}
}
