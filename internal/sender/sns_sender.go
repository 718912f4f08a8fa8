package sender

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/unablepath/memospark-notify/internal/notify"
)

// SNSSender delivers mobile push through AWS SNS platform endpoints,
// for clients registered with APNs/FCM directly instead of the vendor
// push service.
type SNSSender struct {
	client *sns.Client
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

// mobilePushTarget is the notification Data convention for this channel.
type mobilePushTarget struct {
	EndpointARN string `json:"endpoint_arn"`
}

// NewSNSSender creates an SNS sender for mobile push notifications.
func NewSNSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for SNS: %w", err)
	}

	return &SNSSender{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Send publishes the notification to the device's platform endpoint.
func (s *SNSSender) Send(ctx context.Context, n *notify.Notification) error {
	if n.Channel != notify.ChannelMobilePush {
		return fmt.Errorf("SNS sender only supports mobile push, got: %s", n.Channel)
	}

	var target mobilePushTarget
	if len(n.Data) > 0 {
		if err := json.Unmarshal(n.Data, &target); err != nil {
			return fmt.Errorf("invalid mobile push data: %w", err)
		}
	}
	if target.EndpointARN == "" {
		return fmt.Errorf("mobile push data missing endpoint_arn")
	}

	message, err := json.Marshal(map[string]string{
		"title": n.Title,
		"body":  n.Body,
		"type":  string(n.Type),
		"id":    n.ID.String(),
	})
	if err != nil {
		return fmt.Errorf("marshal mobile push message: %w", err)
	}

	result, err := s.client.Publish(ctx, &sns.PublishInput{
		TargetArn: aws.String(target.EndpointARN),
		Message:   aws.String(string(message)),
	})
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("mobile push sent via SNS",
		zap.String("id", n.ID.String()),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

// SupportsChannel checks if this sender supports the mobile push channel.
func (s *SNSSender) SupportsChannel(channel string) bool {
	return channel == notify.ChannelMobilePush
}
