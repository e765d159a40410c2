package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/BaSui01/warmtransfer/internal/httpx"
	"github.com/BaSui01/warmtransfer/types"
	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	twapi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"
)

const providerName = "twilio"

var e164Pattern = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// CallHandle 外呼结果
type CallHandle struct {
	CallSID     string    `json:"call_sid"`
	Status      string    `json:"status"`
	PhoneNumber string    `json:"phone_number"`
	RoomName    string    `json:"room_name"`
	Agent       string    `json:"agent,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Gateway 电话外呼网关。外呼不纳入转接状态机。
type Gateway interface {
	Dial(ctx context.Context, phoneNumber, room, agent string) (*CallHandle, error)
}

// Config Twilio 配置
type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	// BaseURL 非空且不是 https://api.twilio.com 时，请求改写到该地址
	BaseURL string
	// CallbackURL 非空时 Twilio 从 {CallbackURL}/{room} 获取 TwiML，否则内联
	CallbackURL string
	Timeout     time.Duration
}

// TwilioGateway 通过 Twilio Calls 接口发起外呼
type TwilioGateway struct {
	cfg    Config
	rest   *twilio.RestClient
	now    func() time.Time
	logger *zap.Logger
}

var _ Gateway = (*TwilioGateway)(nil)

// NewTwilioGateway 创建外呼网关，transport 为 nil 时使用加固的 TLS Transport
func NewTwilioGateway(cfg Config, transport http.RoundTripper, logger *zap.Logger) *TwilioGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if transport == nil {
		transport = httpx.SecureTransport()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/")); err == nil && base.Host != "" && base.Host != "api.twilio.com" {
		transport = &rewriteTransport{base: base, next: transport}
	}

	c := &twclient.Client{
		Credentials: twclient.NewCredentials(cfg.AccountSID, cfg.AuthToken),
		HTTPClient:  &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}
	c.SetAccountSid(cfg.AccountSID)

	return &TwilioGateway{
		cfg:    cfg,
		rest:   twilio.NewRestClientWithParams(twilio.ClientParams{Client: c}),
		now:    time.Now,
		logger: logger.With(zap.String("component", "telephony"), zap.String("provider", providerName)),
	}
}

// rewriteTransport 把发往 Twilio 的请求改写到自定义地址
type rewriteTransport struct {
	base *url.URL
	next http.RoundTripper
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = t.base.Scheme
	out.URL.Host = t.base.Host
	out.URL.Path = t.base.Path + req.URL.Path
	out.Host = t.base.Host
	return t.next.RoundTrip(out)
}

// ValidatePhoneNumber 校验 E.164 号码
func ValidatePhoneNumber(phone string) error {
	if !e164Pattern.MatchString(phone) {
		return types.Errorf(types.ErrValidation, "phone number %q is not in E.164 format", phone)
	}
	return nil
}

// Dial 拨打号码并将通话接入房间。Twilio 客户端不接收 context，取消只在发起前生效。
func (g *TwilioGateway) Dial(ctx context.Context, phoneNumber, room, agent string) (*CallHandle, error) {
	if err := ValidatePhoneNumber(phoneNumber); err != nil {
		return nil, err
	}
	if err := types.ValidateRoomName(room); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.ErrTimeout, "dial cancelled").WithCause(err).WithProvider(providerName)
	}

	params := &twapi.CreateCallParams{}
	params.SetPathAccountSid(g.cfg.AccountSID)
	params.SetTo(phoneNumber)
	params.SetFrom(g.cfg.FromNumber)
	if g.cfg.CallbackURL != "" {
		params.SetUrl(strings.TrimRight(g.cfg.CallbackURL, "/") + "/" + url.PathEscape(room))
		params.SetMethod(http.MethodPost)
	} else {
		doc, err := ConnectTwiML(room, "")
		if err != nil {
			return nil, err
		}
		params.SetTwiml(doc)
	}

	call, err := g.rest.Api.CreateCall(params)
	if err != nil {
		return nil, mapError(err)
	}
	if call == nil || call.Sid == nil || *call.Sid == "" {
		return nil, types.NewError(types.ErrExternalService, "invalid dial response").WithProvider(providerName)
	}
	status := ""
	if call.Status != nil {
		status = *call.Status
	}

	g.logger.Info("call initiated",
		zap.String("call_sid", *call.Sid),
		zap.String("call_status", status),
		zap.String("room", room),
		zap.String("agent", agent))

	return &CallHandle{
		CallSID:     *call.Sid,
		Status:      status,
		PhoneNumber: phoneNumber,
		RoomName:    room,
		Agent:       agent,
		CreatedAt:   g.now(),
	}, nil
}

// mapError 将 Twilio REST 错误转换为服务错误码
func mapError(err error) error {
	var te *twclient.TwilioRestError
	if errors.As(err, &te) {
		return types.Errorf(types.ErrExternalService, "twilio returned status %d (code %d): %s", te.Status, te.Code, te.Message).
			WithCause(err).
			WithHTTPStatus(te.Status).
			WithRetryable(httpx.IsRetryableStatus(te.Status)).
			WithProvider(providerName)
	}
	return types.NewError(types.ErrExternalService, "dial failed").
		WithCause(err).WithRetryable(true).WithProvider(providerName)
}

// =============================================================================
// 📞 TwiML
// =============================================================================

// ConnectTwiML 生成接入房间的 TwiML，房间名作为会议名；summary 非空时先播报摘要
func ConnectTwiML(room, summary string) (string, error) {
	var verbs []twiml.Element
	if summary != "" {
		verbs = append(verbs,
			&twiml.VoiceSay{Message: "Warm transfer summary: " + summary},
			&twiml.VoicePause{Length: "1"},
		)
	}
	verbs = append(verbs,
		&twiml.VoiceSay{Message: "Connecting you to the next available agent."},
		&twiml.VoiceDial{InnerElements: []twiml.Element{&twiml.VoiceConference{Name: room}}},
	)

	doc, err := twiml.Voice(verbs)
	if err != nil {
		return "", types.NewError(types.ErrInternalError, "failed to render twiml").WithCause(err)
	}
	return doc, nil
}
