package notify

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

// SESAPI is the slice of the SES v2 client the sender uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends emails via AWS SES v2.
type SESSender struct {
	client           SESAPI
	from             string
	configurationSet string
	logger           *logging.Logger
}

type SESConfig struct {
	FromEmail string
	FromName  string
	// ConfigurationSet routes bounce and complaint events; optional.
	ConfigurationSet string
}

// NewSESSender returns nil without a client.
func NewSESSender(client SESAPI, cfg SESConfig, logger *logging.Logger) *SESSender {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "MediCareX"
	}
	return &SESSender{
		client:           client,
		from:             fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail),
		configurationSet: cfg.ConfigurationSet,
		logger:           logger.With("component", "notify.ses"),
	}
}

// SES rejects these permanently; everything else is retried.
var sesPermanentCodes = map[string]bool{
	"MessageRejected":                    true,
	"MailFromDomainNotVerifiedException": true,
	"AccountSuspendedException":          true,
	"SendingPausedException":             true,
	"BadRequestException":                true,
}

func (s *SESSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: SES client not configured")
	}

	body := &types.Body{}
	if msg.Text != "" {
		body.Text = utf8Content(msg.Text)
	}
	if msg.HTML != "" {
		body.Html = utf8Content(msg.HTML)
	}
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{Subject: utf8Content(msg.Subject), Body: body},
		},
		EmailTags: sesTags(msg),
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	output, err := s.client.SendEmail(ctx, input)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && sesPermanentCodes[apiErr.ErrorCode()] {
			s.logger.Warn("SES rejected message", "code", apiErr.ErrorCode(), "category", msg.Category)
			return fmt.Errorf("%w: %s", ErrRejected, apiErr.ErrorMessage())
		}
		return fmt.Errorf("notify: SES send: %w", err)
	}

	s.logger.Info("email sent", "category", msg.Category, "message_id", aws.ToString(output.MessageId))
	return nil
}

func utf8Content(s string) *types.Content {
	return &types.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

var sesTagUnsafe = regexp.MustCompile(`[^A-Za-z0-9_\-.@]`)

// sesTags maps Category and Tags onto SES message tags, which only allow a
// restricted character set.
func sesTags(msg EmailMessage) []types.MessageTag {
	var tags []types.MessageTag
	if msg.Category != "" {
		tags = append(tags, types.MessageTag{Name: aws.String("category"), Value: aws.String(sesTagUnsafe.ReplaceAllString(msg.Category, "_"))})
	}
	for _, k := range sortedKeys(msg.Tags) {
		tags = append(tags, types.MessageTag{
			Name:  aws.String(sesTagUnsafe.ReplaceAllString(k, "_")),
			Value: aws.String(sesTagUnsafe.ReplaceAllString(msg.Tags[k], "_")),
		})
	}
	return tags
}

var _ EmailSender = (*SESSender)(nil)
