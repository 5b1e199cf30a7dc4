package qzlogin

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// Client is the cookie-jar-backed HTTP adapter shared by the login flows
// and the authenticated API layer. Redirects are never followed
// automatically: a 302 is protocol signal in the xlogin flow, not an error.
type Client struct {
	hc      tls_client.HttpClient
	ua      string
	referer string
}

// NewClient builds a browser-profiled client with a fresh cookie jar.
func NewClient(opts HTTPOptions) (*Client, error) {
	jar := tls_client.NewCookieJar()
	tlsOpts := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(int(opts.Timeout.Seconds())),
		tls_client.WithClientProfile(profiles.Chrome_133),
		tls_client.WithRandomTLSExtensionOrder(),
		tls_client.WithNotFollowRedirects(),
		tls_client.WithCookieJar(jar),
	}
	if opts.Proxy != "" {
		tlsOpts = append(tlsOpts, tls_client.WithProxyUrl(opts.Proxy))
	}

	hc, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), tlsOpts...)
	if err != nil {
		return nil, fmt.Errorf("build http client: %w", err)
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUA
	}
	return &Client{hc: hc, ua: ua, referer: "https://i.qq.com/"}, nil
}

// UserAgent returns the UA header sent with every request.
func (c *Client) UserAgent() string { return c.ua }

// SetReferer changes the default Referer for subsequent requests.
func (c *Client) SetReferer(referer string) { c.referer = referer }

// Response is a fully-read portal response.
type Response struct {
	Status  int
	Header  http.Header
	Body    []byte
	cookies []*http.Cookie
}

// Text returns the body decoded as a string.
func (r *Response) Text() string { return string(r.Body) }

// Cookie returns the value of a cookie set by this response, or "".
func (r *Response) Cookie(name string) string {
	for _, ck := range r.cookies {
		if ck.Name == name && ck.Value != "" {
			return ck.Value
		}
	}
	return ""
}

// Cookies returns all cookies set by this response as a name→value map.
func (r *Response) Cookies() map[string]string {
	m := make(map[string]string, len(r.cookies))
	for _, ck := range r.cookies {
		if ck.Value != "" {
			m[ck.Name] = ck.Value
		}
	}
	return m
}

// Get issues a GET with the given query params, accepting only the listed
// statuses (200 when empty).
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values, accept ...int) (*Response, error) {
	target := rawURL
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		target = rawURL + sep + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, accept...)
}

// PostForm issues an application/x-www-form-urlencoded POST.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values, accept ...int) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, accept...)
}

func (c *Client) do(req *http.Request, accept ...int) (*Response, error) {
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("DNT", "1")
	if c.referer != "" && req.Header.Get("Referer") == "" {
		req.Header.Set("Referer", c.referer)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, NewNetworkError("request failed", err)
	}
	defer resp.Body.Close()

	body := http.DecompressBody(resp)
	data, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return nil, NewNetworkError("read response body", err)
	}

	if len(accept) == 0 {
		accept = []int{http.StatusOK}
	}
	ok := false
	for _, s := range accept {
		if resp.StatusCode == s {
			ok = true
			break
		}
	}
	if !ok {
		return nil, NewNetworkError("unexpected status", &StatusError{Status: resp.StatusCode, URL: req.URL.String()})
	}

	return &Response{
		Status:  resp.StatusCode,
		Header:  resp.Header,
		Body:    data,
		cookies: resp.Cookies(),
	}, nil
}

// JarCookie reads the current value of a cookie from the jar for the given
// URL, or "" if absent.
func (c *Client) JarCookie(rawURL, name string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	for _, ck := range c.hc.GetCookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

// SetJarCookies injects cookies into the jar for the given URL. Used when
// restoring a persisted cookie set.
func (c *Client) SetJarCookies(rawURL string, cookies map[string]string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	cks := make([]*http.Cookie, 0, len(cookies))
	for name, value := range cookies {
		cks = append(cks, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	c.hc.SetCookies(u, cks)
	return nil
}
