package service

type Config struct {
	DatabaseUri             string  `envconfig:"DATABASE_URI" required:"true"`
	DatabaseMaxConns        int     `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseMaxIdleConns    int     `envconfig:"DATABASE_MAX_IDLE_CONNS" default:"5"`
	DatabaseConnMaxLifetime int     `envconfig:"DATABASE_CONN_MAX_LIFETIME" default:"1800"` // 30 minutes
	DatabaseTimeout         int     `envconfig:"DATABASE_TIMEOUT" default:"60"`             // 60 seconds
	SentryDSN               string  `envconfig:"SENTRY_DSN"`
	SentryTracesSampleRate  float64 `envconfig:"SENTRY_TRACES_SAMPLE_RATE"`
	LogFilePath             string  `envconfig:"LOG_FILE_PATH"`
	Host                    string  `envconfig:"HOST" default:"localhost:3000"`
	Port                    int     `envconfig:"PORT" default:"3000"`
	DefaultRateLimit        int     `envconfig:"DEFAULT_RATE_LIMIT" default:"10"`
	StrictRateLimit         int     `envconfig:"STRICT_RATE_LIMIT" default:"10"`
	BurstRateLimit          int     `envconfig:"BURST_RATE_LIMIT" default:"1"`
	EnablePrometheus        bool    `envconfig:"ENABLE_PROMETHEUS" default:"false"`
	PrometheusPort          int     `envconfig:"PROMETHEUS_PORT" default:"9092"`

	// invoice creation bounds, in minutes
	MinPaymentWindow int64 `envconfig:"MIN_PAYMENT_WINDOW" default:"30"`
	MaxPaymentWindow int64 `envconfig:"MAX_PAYMENT_WINDOW" default:"1440"`

	// reconciliation
	MaxReconcileRetries int `envconfig:"MAX_RECONCILE_RETRIES" default:"5"`

	// webhook delivery
	WebhookWorkers      int `envconfig:"WEBHOOK_WORKERS" default:"4"`
	WebhookMaxAttempts  int `envconfig:"WEBHOOK_MAX_ATTEMPTS" default:"6"`
	WebhookPollInterval int `envconfig:"WEBHOOK_POLL_INTERVAL" default:"10"` // in seconds
	WebhookTimeout      int `envconfig:"WEBHOOK_TIMEOUT" default:"30"`       // in seconds

	// expiry sweeper
	SweepInterval int `envconfig:"SWEEP_INTERVAL" default:"60"` // in seconds

	// deposit observation source: "http", "rabbitmq" or "both"
	DepositConsumerType string `envconfig:"DEPOSIT_CONSUMER_TYPE" default:"http"`

	RabbitMQUri                  string `envconfig:"RABBITMQ_URI"`
	RabbitMQDepositExchange      string `envconfig:"RABBITMQ_DEPOSIT_EXCHANGE" default:"chain_deposit"`
	RabbitMQInvoiceExchange      string `envconfig:"RABBITMQ_INVOICE_EXCHANGE" default:"gateway_invoice"`
	RabbitMQDepositConsumerQueue string `envconfig:"RABBITMQ_DEPOSIT_CONSUMER_QUEUE_NAME" default:"chain_deposit_consumer"`
}
