package adapter

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/notify"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// SES delivers email through AWS SES.
type SES struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

// NewSES creates the email adapter.
func NewSES(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SES, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SES{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Send sends one email. Subject falls back to a generic one when the
// template declared none.
func (s *SES) Send(ctx context.Context, contact, body, subject string) (notify.SendOutcome, error) {
	if subject == "" {
		subject = "Notification"
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{contact},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		// Provider errors are treated as transient; the retry layers bound
		// how often they are re-attempted.
		return notify.SendOutcome{}, notify.NewError(notify.CodeProviderTransient, "ses send failed", err)
	}

	s.logger.Info("email sent via SES",
		zap.String("to", contact),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return notify.SendOutcome{ProviderMessageID: aws.ToString(result.MessageId)}, nil
}

// ValidateContact applies a basic email shape check.
func (s *SES) ValidateContact(contact string) bool {
	return emailPattern.MatchString(contact)
}
