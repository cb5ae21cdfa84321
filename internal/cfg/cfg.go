package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"
)

// Config holds the service-level settings. It satisfies the common
// cfg.Registerable and cfg.Validatable interfaces.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	HelpdeskDomain      string
	HelpdeskAPIKey      string
	HelpdeskMaxPages    int
	FetchTimeoutSeconds int
	CloseTimeoutSeconds int

	LookbackHours      int
	AutoCloseThreshold time.Duration
	PairWorkers        int
	ResolveInterval    time.Duration

	DatabaseURL string
	SQLitePath  string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	EmailTo      string

	SlackWebhookURL string

	KafkaBrokers string
	KafkaTopic   string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required by the resolve endpoint (empty = open)")

	fs.StringVar(&c.HelpdeskDomain, "helpdesk-domain", "", "FreshService domain, e.g. example.freshservice.com")
	fs.StringVar(&c.HelpdeskAPIKey, "helpdesk-api-key", "", "FreshService API key")
	fs.IntVar(&c.HelpdeskMaxPages, "helpdesk-max-pages", 50, "maximum ticket pages fetched per run (1..1000)")
	fs.IntVar(&c.FetchTimeoutSeconds, "fetch-timeout-seconds", 120, "timeout for fetching all ticket pages (1..600)")
	fs.IntVar(&c.CloseTimeoutSeconds, "close-timeout-seconds", 30, "timeout per ticket close call (1..300)")

	fs.IntVar(&c.LookbackHours, "lookback-hours", 24, "default ticket lookback window in hours (1..720)")
	fs.DurationVar(&c.AutoCloseThreshold, "auto-close-threshold", 5*time.Minute, "maximum firing/resolved gap for auto-close (0 < d <= 24h)")
	fs.IntVar(&c.PairWorkers, "pair-workers", 4, "parallel workers for pair scanning (1..64)")
	fs.DurationVar(&c.ResolveInterval, "resolve-interval", 0, "run resolve on this interval (0 = disabled, otherwise >= 1m)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for run history")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "", "SQLite file for run history when no database URL is set (empty = in-memory store)")

	fs.StringVar(&c.SMTPHost, "smtp-host", "smtp.gmail.com", "SMTP server host")
	fs.IntVar(&c.SMTPPort, "smtp-port", 587, "SMTP server port (STARTTLS)")
	fs.StringVar(&c.SMTPUsername, "smtp-username", "", "SMTP username (empty = email disabled)")
	fs.StringVar(&c.SMTPPassword, "smtp-password", "", "SMTP password")
	fs.StringVar(&c.SMTPFrom, "smtp-from", "", "sender address (default = smtp username)")
	fs.StringVar(&c.EmailTo, "email-to", "", "comma-separated manual review recipients")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for manual review digests")

	fs.StringVar(&c.KafkaBrokers, "kafka-brokers", "", "comma-separated Kafka brokers for run events (empty = disabled)")
	fs.StringVar(&c.KafkaTopic, "kafka-topic", "settle.runs", "Kafka topic for run events")
}

// EmailEnabled reports whether any SMTP credential was supplied.
func (c *Config) EmailEnabled() bool {
	return c.SMTPUsername != "" || c.SMTPPassword != "" || c.EmailTo != ""
}

// EmailRecipients splits EmailTo.
func (c *Config) EmailRecipients() []string {
	return splitList(c.EmailTo)
}

// Brokers splits KafkaBrokers.
func (c *Config) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Helpdesk credentials are required to fetch and close tickets
	if c.HelpdeskDomain == "" {
		errs = append(errs, errors.New("HELPDESK_DOMAIN is required"))
	}
	if c.HelpdeskAPIKey == "" {
		errs = append(errs, errors.New("HELPDESK_API_KEY is required"))
	}
	if c.HelpdeskMaxPages <= 0 || c.HelpdeskMaxPages > 1000 {
		errs = append(errs, fmt.Errorf("invalid HELPDESK_MAX_PAGES %d (must be 1..1000)", c.HelpdeskMaxPages))
	}
	if c.FetchTimeoutSeconds <= 0 || c.FetchTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid FETCH_TIMEOUT_SECONDS %d (must be 1..600)", c.FetchTimeoutSeconds))
	}
	if c.CloseTimeoutSeconds <= 0 || c.CloseTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid CLOSE_TIMEOUT_SECONDS %d (must be 1..300)", c.CloseTimeoutSeconds))
	}

	// Pairing
	if c.LookbackHours <= 0 || c.LookbackHours > 720 {
		errs = append(errs, fmt.Errorf("invalid LOOKBACK_HOURS %d (must be 1..720)", c.LookbackHours))
	}
	if c.AutoCloseThreshold <= 0 || c.AutoCloseThreshold > 24*time.Hour {
		errs = append(errs, fmt.Errorf("invalid AUTO_CLOSE_THRESHOLD %s (must be > 0 and <= 24h)", c.AutoCloseThreshold))
	}
	if c.PairWorkers <= 0 || c.PairWorkers > 64 {
		errs = append(errs, fmt.Errorf("invalid PAIR_WORKERS %d (must be 1..64)", c.PairWorkers))
	}
	if c.ResolveInterval < 0 || (c.ResolveInterval > 0 && c.ResolveInterval < time.Minute) {
		errs = append(errs, fmt.Errorf("invalid RESOLVE_INTERVAL %s (must be 0 or >= 1m)", c.ResolveInterval))
	}

	// Run history: one backend at most
	if c.DatabaseURL != "" && c.SQLitePath != "" {
		errs = append(errs, errors.New("DATABASE_URL and SQLITE_PATH are mutually exclusive"))
	}

	// Email is all-or-nothing
	if c.EmailEnabled() {
		if c.SMTPHost == "" {
			errs = append(errs, errors.New("SMTP_HOST is required when email is enabled"))
		}
		if c.SMTPUsername == "" || c.SMTPPassword == "" {
			errs = append(errs, errors.New("SMTP_USERNAME and SMTP_PASSWORD are required when email is enabled"))
		}
		if len(c.EmailRecipients()) == 0 {
			errs = append(errs, errors.New("EMAIL_TO is required when email is enabled"))
		}
		if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
			errs = append(errs, fmt.Errorf("invalid SMTP_PORT %d (must be 1..65535)", c.SMTPPort))
		}
	}

	// Kafka topic is required once brokers are set
	if len(c.Brokers()) > 0 && c.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
