package sender

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/unablepath/memospark-notify/internal/notify"
)

// SESSender delivers reminders by email for users who denied push
// permission but opted into the email channel.
type SESSender struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

// emailTarget is the notification Data convention for this channel.
type emailTarget struct {
	To string `json:"to"`
}

// NewSESSender creates an email sender via AWS SES.
func NewSESSender(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for SES: %w", err)
	}

	return &SESSender{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Send delivers the notification as a plain-text email.
func (s *SESSender) Send(ctx context.Context, n *notify.Notification) error {
	if n.Channel != notify.ChannelEmail {
		return fmt.Errorf("SES sender only supports email, got: %s", n.Channel)
	}

	var target emailTarget
	if len(n.Data) > 0 {
		if err := json.Unmarshal(n.Data, &target); err != nil {
			return fmt.Errorf("invalid email data: %w", err)
		}
	}
	if target.To == "" {
		return fmt.Errorf("email data missing 'to' field")
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{target.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(n.Title),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(n.Body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email sent via SES",
		zap.String("id", n.ID.String()),
		zap.String("to", target.To),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

// SupportsChannel checks if this sender supports the email channel.
func (s *SESSender) SupportsChannel(channel string) bool {
	return channel == notify.ChannelEmail
}
