package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type GatewayConfig struct {
	// STORE_DRIVER=memory keeps everything in process; DB_DSN is then unused.
	StoreDriver             string `envconfig:"STORE_DRIVER" default:"postgres"`
	DBDSN                   string `envconfig:"DB_DSN"`
	DBPoolMaxConns          int32  `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBPoolMinConns          int32  `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBPoolMaxConnLifetime   string `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:"30m"`
	DBPoolMaxConnIdleTime   string `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:"5m"`
	DBPoolHealthCheckPeriod string `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD" default:"30s"`
	Port                    string `envconfig:"PORT" default:"3001"`
	LogFormat               string `envconfig:"LOG_FORMAT" default:"auto"`
	APIKey                  string `envconfig:"API_KEY"`

	// whatsapp or simulated
	Transport            string        `envconfig:"TRANSPORT" default:"whatsapp"`
	SessionDBDialect     string        `envconfig:"SESSION_DB_DIALECT" default:"sqlite3"`
	SessionDBDSN         string        `envconfig:"SESSION_DB_DSN" default:"file:wagate-session.db?_foreign_keys=on"`
	MaxReconnectAttempts int           `envconfig:"MAX_RECONNECT_ATTEMPTS" default:"5"`
	ReconnectDelay       time.Duration `envconfig:"RECONNECT_DELAY" default:"3s"`
	PrintQR              bool          `envconfig:"PRINT_QR" default:"true"`

	// send protection
	SendRPS            float64       `envconfig:"SEND_RPS" default:"5"`
	SendBurst          int           `envconfig:"SEND_BURST" default:"10"`
	SendTimeout        time.Duration `envconfig:"SEND_TIMEOUT" default:"20s"`
	BreakerMaxFailures uint32        `envconfig:"BREAKER_MAX_FAILURES" default:"10"`
	BreakerOpenFor     time.Duration `envconfig:"BREAKER_OPEN_FOR" default:"20s"`

	AckWorkers       int    `envconfig:"ACK_WORKERS" default:"8"`
	AckBuffer        int    `envconfig:"ACK_BUFFER" default:"256"`
	AckWebhookSecret string `envconfig:"ACK_WEBHOOK_SECRET"`

	// live updates
	WSBuffer          int    `envconfig:"WS_BUFFER" default:"64"`
	NATSURL           string `envconfig:"NATS_URL"`
	NATSSubjectPrefix string `envconfig:"NATS_SUBJECT_PREFIX" default:"wagate.events"`

	// ack relay; empty ACK_QUEUE_URL reconciles in process
	AckQueueURL        string `envconfig:"ACK_QUEUE_URL"`
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

type AckProcessorConfig struct {
	DBDSN                   string `envconfig:"DB_DSN" required:"true"`
	DBPoolMaxConns          int32  `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBPoolMinConns          int32  `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBPoolMaxConnLifetime   string `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:"30m"`
	DBPoolMaxConnIdleTime   string `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:"5m"`
	DBPoolHealthCheckPeriod string `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD" default:"30s"`
	Port                    string `envconfig:"PORT" default:"8081"`
	LogFormat               string `envconfig:"LOG_FORMAT" default:"json"`

	// AWS / SQS
	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	AckQueueURL        string `envconfig:"ACK_QUEUE_URL" required:"true"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
	SQSWaitTime        int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs         int32  `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout      int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`

	Concurrency int `envconfig:"ACK_CONCURRENCY" default:"8"`

	NATSURL           string `envconfig:"NATS_URL"`
	NATSSubjectPrefix string `envconfig:"NATS_SUBJECT_PREFIX" default:"wagate.events"`
}

func (c GatewayConfig) Validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DBDSN == "" {
			return fmt.Errorf("DB_DSN is required when STORE_DRIVER=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.Transport {
	case "whatsapp":
		if c.SessionDBDialect != "sqlite3" && c.SessionDBDialect != "postgres" {
			return fmt.Errorf("unknown SESSION_DB_DIALECT %q", c.SessionDBDialect)
		}
	case "simulated":
	default:
		return fmt.Errorf("unknown TRANSPORT %q", c.Transport)
	}
	if c.AckWorkers <= 0 {
		return fmt.Errorf("ACK_WORKERS must be positive")
	}
	return nil
}

func LoadGateway() GatewayConfig {
	var cfg GatewayConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func LoadAckProcessor() AckProcessorConfig {
	var cfg AckProcessorConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
