package notify

import (
	"context"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendGrid sends notifications as plain-text email.
type SendGrid struct {
	key        string
	host       string
	from       *sgmail.Email
	subjPrefix string
	logger     *zap.Logger
}

var _ Notifier = (*SendGrid)(nil)

func NewSendGrid(key, appName, fromEmail string, logger *zap.Logger) *SendGrid {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendGrid{
		key:        key,
		host:       sendgridHost,
		from:       sgmail.NewEmail(appName, fromEmail),
		subjPrefix: "[" + appName + "] ",
		logger:     logger,
	}
}

// WithHost points the client at another API host.
func (s *SendGrid) WithHost(host string) *SendGrid {
	s.host = host
	return s
}

func (s *SendGrid) Send(ctx context.Context, m Message) bool {
	if m.To == "" {
		s.logger.Warn("sendgrid: message without recipient", zap.String("subject", m.Subject))
		return false
	}
	if err := ctx.Err(); err != nil {
		s.logger.Warn("sendgrid: context done", zap.String("to", m.To), zap.Error(err))
		return false
	}

	req := sendgrid.GetRequest(s.key, sendgridEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(m))

	res, err := sendgrid.API(req)
	if err != nil {
		s.logger.Warn("sendgrid: request failed", zap.String("to", m.To), zap.Error(err))
		return false
	}
	if res.StatusCode >= http.StatusBadRequest {
		s.logger.Warn("sendgrid: rejected",
			zap.String("to", m.To),
			zap.Int("status", res.StatusCode),
			zap.String("body", res.Body),
		)
		return false
	}
	return true
}

func (s *SendGrid) prepare(m Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + m.Subject
	p.AddTos(sgmail.NewEmail(m.Name, m.To))

	mail := sgmail.NewV3Mail()
	mail.SetFrom(s.from)
	mail.AddPersonalizations(p)
	mail.AddContent(sgmail.NewContent("text/plain", m.Body))
	return mail
}
