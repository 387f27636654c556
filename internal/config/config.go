package config

import "github.com/kelseyhightower/envconfig"

type Config struct {
	// ----------------------------
	// WhatsApp Cloud API
	// ----------------------------
	WhatsAppAPIBase    string `envconfig:"WHATSAPP_API_BASE" default:"https://graph.facebook.com/v19.0"`
	WhatsAppToken      string `envconfig:"WHATSAPP_TOKEN" default:""`
	WhatsAppPhoneID    string `envconfig:"WHATSAPP_PHONE_NUMBER_ID" default:""`
	WebhookVerifyToken string `envconfig:"WHATSAPP_WEBHOOK_VERIFY_TOKEN" default:""`
	WebhookAppSecret   string `envconfig:"WHATSAPP_APP_SECRET" default:""`
	DisableCloudSend   bool   `envconfig:"DISABLE_CLOUD_SEND" default:"false"`
	SendTimeoutSeconds int    `envconfig:"SEND_TIMEOUT_SECONDS" default:"15"`
	SendRetryAttempts  int    `envconfig:"SEND_RETRY_ATTEMPTS" default:"3"`

	// ----------------------------
	// Dispatcher
	// ----------------------------
	CronSecret        string `envconfig:"CRON_SECRET" required:"true"`
	JobLimit          int    `envconfig:"JOB_LIMIT" default:"25"`
	LeadsPerJobLimit  int    `envconfig:"LEADS_PER_JOB_LIMIT" default:"200"`
	SendConcurrency   int    `envconfig:"SEND_CONCURRENCY" default:"4"`
	SendRatePerSecond int    `envconfig:"SEND_RATE_PER_SECOND" default:"10"`
	DailySendLimit    int    `envconfig:"DAILY_SEND_LIMIT" default:"10000"`
	PerPhoneDaily     int    `envconfig:"PER_PHONE_DAILY_LIMIT" default:"5"`

	// ----------------------------
	// PayU
	// ----------------------------
	PayUMerchantKey  string  `envconfig:"PAYU_MERCHANT_KEY" default:""`
	PayUMerchantSalt string  `envconfig:"PAYU_MERCHANT_SALT" default:""`
	PayUBaseURL      string  `envconfig:"PAYU_BASE_URL" default:"https://secure.payu.in"`
	ProcessingFeePct float64 `envconfig:"PROCESSING_FEE_PCT" default:"3.3"`

	// ----------------------------
	// Currency
	// ----------------------------
	USDRate float64 `envconfig:"USD_RATE" default:"0.012"`
	NPRRate float64 `envconfig:"NPR_RATE" default:"1.6"`

	// ----------------------------
	// Ops alerts (SMTP)
	// ----------------------------
	SMTPHost   string `envconfig:"SMTP_HOST" default:""`
	SMTPPort   int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser   string `envconfig:"SMTP_USER" default:""`
	SMTPPass   string `envconfig:"SMTP_PASSWORD" default:""`
	AlertFrom  string `envconfig:"ALERT_FROM" default:"alerts@sankalp.local"`
	AlertEmail string `envconfig:"ALERT_EMAIL" default:""`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort string `envconfig:"API_PORT" default:"8080"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Database
	// ----------------------------
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
}

func Load() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return &cfg, err
}
