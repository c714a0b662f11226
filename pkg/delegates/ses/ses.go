// Package ses delivers send-email actions through Amazon SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/dukex/crmflow/pkg/actions"
)

const (
	name          = "ses"
	defaultRegion = "us-east-1"
	charset       = "UTF-8"
)

var ErrFromAddress = errors.New("ses from address is required")

// API is the part of the SES client the sender uses.
type API interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type Config struct {
	Region    string
	From      string
	AccessKey string
	SecretKey string
	// ConfigurationSet is attached to every message when set.
	ConfigurationSet string
}

type Sender struct {
	api    API
	cfg    Config
	logger *slog.Logger
}

func New(api API, cfg Config, logger *slog.Logger) (*Sender, error) {
	if cfg.From == "" {
		return nil, ErrFromAddress
	}

	return &Sender{api: api, cfg: cfg, logger: logger.With("module", "ses")}, nil
}

// NewFromConfig builds the SES client from the default AWS configuration
// chain. Static credentials are used when both keys are set.
func NewFromConfig(ctx context.Context, cfg Config, logger *slog.Logger) (*Sender, error) {
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return New(sesv2.NewFromConfig(awsCfg), cfg, logger)
}

func (s *Sender) Send(ctx context.Context, msg actions.Message) (actions.SendResult, error) {
	if msg.To == "" {
		return actions.SendResult{}, actions.Permanent(name, "send", actions.ErrRecipientMissing)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.cfg.From),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String(charset)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String(charset)},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("tenant_id"), Value: aws.String(tagValue(msg.TenantID))},
			{Name: aws.String("entity_id"), Value: aws.String(tagValue(msg.EntityID))},
		},
	}

	if s.cfg.ConfigurationSet != "" {
		input.ConfigurationSetName = aws.String(s.cfg.ConfigurationSet)
	}

	out, err := s.api.SendEmail(ctx, input)
	if err != nil {
		s.logger.WarnContext(ctx, "send failed", "entity_id", msg.EntityID, "error", err)

		return actions.SendResult{}, classify(err)
	}

	result := actions.SendResult{ProviderMessageID: aws.ToString(out.MessageId)}

	s.logger.DebugContext(ctx, "email sent", "entity_id", msg.EntityID, "message_id", result.ProviderMessageID)

	return result, nil
}

// classify marks rejections of the message or the account as permanent.
// Throttling, timeouts and service errors stay retryable.
func classify(err error) error {
	var (
		badRequest   *types.BadRequestException
		rejected     *types.MessageRejected
		notVerified  *types.MailFromDomainNotVerifiedException
		suspended    *types.AccountSuspendedException
		paused       *types.SendingPausedException
		notFound     *types.NotFoundException
		limitReached *types.LimitExceededException
	)

	switch {
	case errors.As(err, &badRequest),
		errors.As(err, &rejected),
		errors.As(err, &notVerified),
		errors.As(err, &suspended),
		errors.As(err, &paused),
		errors.As(err, &notFound),
		errors.As(err, &limitReached):
		return actions.Permanent(name, "send", err)
	default:
		return actions.Transient(name, "send", err)
	}
}

// tagValue keeps message tags within the characters SES accepts.
func tagValue(v string) string {
	if v == "" {
		return "none"
	}

	out := make([]rune, 0, len(v))

	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}

	return string(out)
}
