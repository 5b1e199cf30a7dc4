package qzlogin

// App identifies a Tencent login application (appid + daid pair).
type App struct {
	AppID int
	DaID  int
}

// Proxy holds the redirect pages used by the xlogin flow. ProxyURL is
// embedded in the login page request, SURL is where the portal redirects
// after a successful authentication.
type Proxy struct {
	ProxyURL string
	SURL     string
}

// Built-in web Qzone application.
var (
	QzoneApp   = App{AppID: 549000912, DaID: 5}
	QzoneProxy = Proxy{
		ProxyURL: "https://qzs.qq.com/qzone/v6/portal/proxy.html",
		SURL:     "https://qzs.qzone.qq.com/qzone/v5/loginsucc.html?para=izone",
	}
)

// StatusCode is a numeric status returned by the ptlogin2 endpoints.
type StatusCode int

// Portal status codes observed in check/login/poll responses.
const (
	StatusAuthenticated StatusCode = 0

	// QR polling
	StatusExpired StatusCode = 65
	StatusWaiting StatusCode = 66
	StatusScanned StatusCode = 67

	// Password login
	StatusNeedCaptcha      StatusCode = 1
	StatusWrongPassword    StatusCode = 3
	StatusInvalidArguments StatusCode = 7
	StatusForceQR          StatusCode = 10005
	StatusNeedSmsVerify    StatusCode = 10009
	StatusRiskyNetwork     StatusCode = 23003
)

// smsSentCode is the acknowledge code of the send_sms_code endpoint.
const smsSentCode = 10012

// DefaultUA mimics a desktop Chrome; the portal rejects obvious bot agents.
const DefaultUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/102.0.5005.124 Safari/537.36 Edg/102.0.1245.44"

// AndroidUA is used when the h5 endpoints are selected.
const AndroidUA = "Mozilla/5.0 (Linux; Android 12; M2012K11AC Build/SKQ1.220303.001) AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/102.0.5005.78 Mobile Safari/537.36"

// captchaStatusDescription maps tcaptcha verify error codes to a
// human-readable hint. Codes absent from this table fall back to the
// errMessage field of the verify response.
var captchaStatusDescription = map[int]string{
	1:    "verify timeout",
	2:    "invalid verify request",
	3:    "captcha rejected",
	8:    "verify session expired",
	9:    "hybrid verify required",
	15:   "workload answer rejected",
	16:   "generic verify error",
	21:   "fingerprint blob rejected",
	100:  "captcha appid mismatch",
	104:  "invalid captcha answer format",
	1001: "too many failed attempts",
}
