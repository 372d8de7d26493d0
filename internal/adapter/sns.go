package adapter

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/notify"
)

// SNS delivers SMS through AWS SNS.
type SNS struct {
	client *sns.Client
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

// NewSNS creates the SMS adapter.
func NewSNS(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNS, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SNS{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Send publishes one SMS. The subject is ignored; SMS carries no subject.
func (s *SNS) Send(ctx context.Context, contact, body, _ string) (notify.SendOutcome, error) {
	input := &sns.PublishInput{
		PhoneNumber: aws.String(contact),
		Message:     aws.String(body),
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return notify.SendOutcome{}, notify.NewError(notify.CodeProviderTransient, "sns publish failed", err)
	}

	s.logger.Info("sms sent via SNS",
		zap.String("phone_number", contact),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return notify.SendOutcome{ProviderMessageID: aws.ToString(result.MessageId)}, nil
}

// ValidateContact checks the contact is a plausible phone number: 10 to 15
// digits once separators are stripped.
func (s *SNS) ValidateContact(contact string) bool {
	return validPhone(contact)
}

func validPhone(contact string) bool {
	digits := 0
	for _, r := range contact {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 10 && digits <= 15
}
