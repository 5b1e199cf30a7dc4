package qzlogin

import (
	"regexp"
	"strconv"
	"strings"
)

// The ptlogin2 endpoints answer with a javascript callback whose arguments
// are single-quoted strings, e.g. ptui_checkVC('1','...','\x00\x00',...).
var quotedArgRe = regexp.MustCompile(`'(.*?)'[,\)]`)

func parseQuotedArgs(text string) []string {
	ms := quotedArgRe.FindAllStringSubmatch(text, -1)
	args := make([]string, len(ms))
	for i, m := range ms {
		args[i] = m[1]
	}
	return args
}

// CheckResp is the pre-check result of the password login flow.
type CheckResp struct {
	Code          StatusCode
	VerifyCode    string
	SaltRepr      string
	VerifySession string
	IsRandSalt    int
	Ptdrvs        string
	Session       string
}

// Salt decodes the `\x4e\x84...` representation to the raw salt string.
func (r *CheckResp) Salt() string {
	parts := strings.Split(r.SaltRepr, `\x`)
	var b strings.Builder
	for _, p := range parts[1:] {
		n, err := strconv.ParseUint(p, 16, 32)
		if err != nil {
			continue
		}
		b.WriteRune(rune(n))
	}
	return b.String()
}

func parseCheckResp(text string) (*CheckResp, error) {
	args := parseQuotedArgs(text)
	if len(args) < 7 {
		return nil, NewParseError("malformed check response", nil)
	}
	code, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, NewParseError("non-numeric check code", err)
	}
	isRand, _ := strconv.Atoi(args[4])
	return &CheckResp{
		Code:          StatusCode(code),
		VerifyCode:    args[1],
		SaltRepr:      args[2],
		VerifySession: args[3],
		IsRandSalt:    isRand,
		Ptdrvs:        args[5],
		Session:       args[6],
	}, nil
}

// LoginResp is one submission result of the password login flow. The QR
// poll response shares the same argument layout.
type LoginResp struct {
	Code     StatusCode
	URL      string
	Msg      string
	Nickname string
}

func parseLoginResp(text string) (*LoginResp, error) {
	args := parseQuotedArgs(text)
	if len(args) < 6 {
		return nil, NewParseError("malformed login response", nil)
	}
	code, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, NewParseError("non-numeric login code", err)
	}
	return &LoginResp{
		Code:     StatusCode(code),
		URL:      args[2],
		Msg:      args[4],
		Nickname: args[5],
	}, nil
}
