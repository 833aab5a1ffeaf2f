package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Enabled    bool             `yaml:"enabled" mapstructure:"enabled"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Detect     DetectConfig     `yaml:"detect" mapstructure:"detect"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Score      ScoreConfig      `yaml:"score" mapstructure:"score"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Automation AutomationConfig `yaml:"automation" mapstructure:"automation"`
	CRM        CRMConfig        `yaml:"crm" mapstructure:"crm"`
	NATS       NATSConfig       `yaml:"nats" mapstructure:"nats"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// DetectConfig configures intent detection.
type DetectConfig struct {
	// Threshold is the confidence cutoff between low and medium intent.
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
	// ContextTurns bounds the message window scanned for sustained interest.
	ContextTurns int `yaml:"context_turns" mapstructure:"context_turns"`
	// Weights overrides the per-category keyword weights by category name.
	Weights map[string]int `yaml:"weights" mapstructure:"weights"`
}

// ExtractConfig configures entity extraction.
type ExtractConfig struct {
	InterestMaxChars int `yaml:"interest_max_chars" mapstructure:"interest_max_chars"`
	InterestTurns    int `yaml:"interest_turns" mapstructure:"interest_turns"`
}

// ScoreConfig configures lead scoring.
type ScoreConfig struct {
	Threshold  int            `yaml:"threshold" mapstructure:"threshold"`
	IntentBase map[string]int `yaml:"intent_base" mapstructure:"intent_base"`
	Bonuses    BonusConfig    `yaml:"bonuses" mapstructure:"bonuses"`
}

// BonusConfig holds the scoring bonus/penalty weights.
type BonusConfig struct {
	DecisionMaker  int `yaml:"decision_maker" mapstructure:"decision_maker"`
	UrgencyHigh    int `yaml:"urgency_high" mapstructure:"urgency_high"`
	UrgencyMedium  int `yaml:"urgency_medium" mapstructure:"urgency_medium"`
	ICPIndustry    int `yaml:"icp_industry" mapstructure:"icp_industry"`
	ICPCompanySize int `yaml:"icp_company_size" mapstructure:"icp_company_size"`
	HasContact     int `yaml:"has_contact" mapstructure:"has_contact"`
	NoContact      int `yaml:"no_contact" mapstructure:"no_contact"`
	CompanyKnown   int `yaml:"company_known" mapstructure:"company_known"`
}

// PipelineConfig configures the per-turn orchestrator.
type PipelineConfig struct {
	DebounceWindowSecs int  `yaml:"debounce_window_secs" mapstructure:"debounce_window_secs"`
	PIIRedaction       bool `yaml:"pii_redaction" mapstructure:"pii_redaction"`
	FollowupEnabled    bool `yaml:"followup_enabled" mapstructure:"followup_enabled"`
}

// DebounceWindow returns the debounce window as a duration.
func (c PipelineConfig) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceWindowSecs) * time.Second
}

// NotifyConfig configures qualified-lead notification channels.
type NotifyConfig struct {
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	WebhookSecret         string  `yaml:"webhook_secret" mapstructure:"webhook_secret"`
	ChatOpsURL            string  `yaml:"chatops_url" mapstructure:"chatops_url"`
	MaxDailyNotifications int     `yaml:"max_daily_notifications" mapstructure:"max_daily_notifications"`
	TimeoutSecs           int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts           int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	OutboundRPS           float64 `yaml:"outbound_rps" mapstructure:"outbound_rps"`
	MaxConcurrent         int     `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// AutomationConfig configures the rule engine.
type AutomationConfig struct {
	RulesFile string `yaml:"rules_file" mapstructure:"rules_file"`
}

// CRMConfig configures the Salesforce auto-assign action.
type CRMConfig struct {
	AutoAssign bool   `yaml:"auto_assign" mapstructure:"auto_assign"`
	ClientID   string `yaml:"client_id" mapstructure:"client_id"`
	Username   string `yaml:"username" mapstructure:"username"`
	KeyPath    string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL   string `yaml:"login_url" mapstructure:"login_url"`
	RateRPS    float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
}

// NATSConfig configures the async turn-event consumer.
type NATSConfig struct {
	URL     string `yaml:"url" mapstructure:"url"`
	Subject string `yaml:"subject" mapstructure:"subject"`
	Queue   string `yaml:"queue" mapstructure:"queue"`
}

// ServerConfig configures the HTTP ingest server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADSENSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("enabled", true)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leadsense.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("detect.threshold", 0.6)
	v.SetDefault("detect.context_turns", 10)
	v.SetDefault("extract.interest_max_chars", 500)
	v.SetDefault("extract.interest_turns", 3)
	v.SetDefault("score.threshold", 70)
	v.SetDefault("score.intent_base", map[string]int{"high": 75, "medium": 50, "low": 20})
	v.SetDefault("score.bonuses.decision_maker", 15)
	v.SetDefault("score.bonuses.urgency_high", 10)
	v.SetDefault("score.bonuses.urgency_medium", 5)
	v.SetDefault("score.bonuses.icp_industry", 8)
	v.SetDefault("score.bonuses.icp_company_size", 7)
	v.SetDefault("score.bonuses.has_contact", 5)
	v.SetDefault("score.bonuses.no_contact", -15)
	v.SetDefault("score.bonuses.company_known", 5)
	v.SetDefault("pipeline.debounce_window_secs", 300)
	v.SetDefault("pipeline.pii_redaction", true)
	v.SetDefault("pipeline.followup_enabled", false)
	v.SetDefault("notify.max_daily_notifications", 100)
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("notify.max_attempts", 3)
	v.SetDefault("notify.outbound_rps", 10)
	v.SetDefault("notify.max_concurrent", 8)
	v.SetDefault("crm.login_url", "https://login.salesforce.com")
	v.SetDefault("crm.rate_rps", 5)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject", "leadsense.turns.>")
	v.SetDefault("nats.queue", "leadsense")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
