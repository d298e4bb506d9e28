package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/medicarex-booking/internal/config"
	"github.com/wolfman30/medicarex-booking/internal/directory"
	"github.com/wolfman30/medicarex-booking/internal/notify"
	"github.com/wolfman30/medicarex-booking/internal/observability/metrics"
	"github.com/wolfman30/medicarex-booking/internal/payments"
	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

// BuildDirectory picks the HTTP directory when a base URL is set and the static
// seed otherwise. A Redis client adds a read-through cache in front of either.
func BuildDirectory(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) (directory.Directory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	var dir directory.Directory
	switch {
	case strings.TrimSpace(cfg.DirectoryBaseURL) != "":
		dir = directory.NewHTTPDirectory(cfg.DirectoryBaseURL, cfg.DirectoryToken)
		logger.Info("using HTTP directory", "base_url", cfg.DirectoryBaseURL)
	case strings.TrimSpace(cfg.DirectorySeedFile) != "":
		f, err := os.Open(cfg.DirectorySeedFile)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: open directory seed: %w", err)
		}
		defer f.Close()
		static, err := directory.LoadStaticDirectory(f)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		dir = static
		logger.Info("using static directory", "seed", cfg.DirectorySeedFile)
	default:
		logger.Warn("no directory configured; every doctor lookup will miss")
		dir = directory.NewStaticDirectory()
	}

	if redisClient != nil {
		return directory.NewCachedDirectory(dir, redisClient, cfg.DirectoryCacheTTL, logger), nil
	}
	return dir, nil
}

// BuildGateways registers every configured gateway behind retries. Stripe is
// the default when both are present.
func BuildGateways(cfg *appconfig.Config, m *metrics.BookingMetrics, logger *logging.Logger) (*payments.Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	policy := payments.DefaultRetryPolicy()
	if cfg.GatewayRetryMaxElapsed > 0 {
		policy.MaxElapsed = cfg.GatewayRetryMaxElapsed
	}

	var gateways []payments.Gateway
	if cfg.StripeSecretKey != "" {
		stripe := payments.NewStripeAdapter(cfg.StripeSecretKey, cfg.StripeWebhookSecret, logger).
			WithPublishableKey(cfg.StripePublishableKey)
		if cfg.StripeBaseURL != "" {
			stripe = stripe.WithBaseURL(cfg.StripeBaseURL)
		}
		gateways = append(gateways, payments.NewRetryingGateway(stripe, policy, m, logger))
	}
	if cfg.RazorpayKeyID != "" {
		razorpay := payments.NewRazorpayAdapter(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.RazorpayWebhookSecret, logger)
		if cfg.RazorpayBaseURL != "" {
			razorpay = razorpay.WithBaseURL(cfg.RazorpayBaseURL)
		}
		gateways = append(gateways, payments.NewRetryingGateway(razorpay, policy, m, logger))
	}
	if len(gateways) == 0 {
		return nil, fmt.Errorf("bootstrap: no payment gateway configured")
	}
	return payments.NewRegistry(gateways...), nil
}

// BuildEmailSender returns the configured provider. Anything other than
// sendgrid or ses logs instead of sending.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (notify.EmailSender, error) {
	switch cfg.EmailProvider {
	case "sendgrid":
		return notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger), nil
	case "ses":
		if awsCfg == nil {
			return nil, fmt.Errorf("bootstrap: ses requires aws config")
		}
		return notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
			FromEmail:        cfg.SESFromEmail,
			FromName:         cfg.SendGridFromName,
			ConfigurationSet: cfg.SESConfigSet,
		}, logger), nil
	default:
		return notify.NewStubEmailSender(logger), nil
	}
}

// BuildReceiptStore returns an S3-backed receipt archive, or nil without a bucket.
func BuildReceiptStore(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.ReceiptStore {
	if cfg.ReceiptsBucket == "" || awsCfg == nil {
		return nil
	}
	client := s3.NewFromConfig(*awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.AWSEndpointOverride != ""
	})
	return notify.NewS3ReceiptStore(client, cfg.ReceiptsBucket, logger)
}

// LoadAWS loads AWS config only when a component needs it.
func LoadAWS(ctx context.Context, cfg *appconfig.Config) (*aws.Config, error) {
	if !NeedsAWS(cfg) {
		return nil, nil
	}
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
	}
	return &awsCfg, nil
}
