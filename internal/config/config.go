package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"MarketScanner/internal/model"
)

// Notification channels.
const (
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
	ChannelBoth     = "both"
	ChannelLog      = "log"
)

// Config holds all application configuration.
type Config struct {
	DataDir  string `yaml:"data_dir"`
	Universe struct {
		URL     string   `yaml:"url"`
		File    string   `yaml:"file"`
		Symbols []string `yaml:"symbols"`
	} `yaml:"universe"`
	MarketData struct {
		BaseURL     string        `yaml:"base_url"`
		Period      string        `yaml:"period"`
		Interval    string        `yaml:"interval"`
		MaxAttempts int           `yaml:"max_attempts"`
		BaseDelay   time.Duration `yaml:"base_delay"`
		MinPause    time.Duration `yaml:"min_pause"`
		MaxPause    time.Duration `yaml:"max_pause"`
	} `yaml:"market_data"`
	Scan struct {
		MinMarketCap   float64 `yaml:"min_market_cap"`
		LookbackDays   int     `yaml:"lookback_days"`
		MomentumMinPct float64 `yaml:"momentum_min_pct"`
		MomentumMaxPct float64 `yaml:"momentum_max_pct"`
	} `yaml:"scan"`
	Ledger struct {
		Backend       string `yaml:"backend"`
		CrossoverFile string `yaml:"crossover_file"`
		HighsFile     string `yaml:"highs_file"`
		SQLitePath    string `yaml:"sqlite_path"`
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
		Namespace     string `yaml:"namespace"`
	} `yaml:"ledger"`
	Notify struct {
		Channel       string `yaml:"channel"`
		Separate      bool   `yaml:"separate"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"notify"`
	Email struct {
		SMTPHost string `yaml:"smtp_host"`
		SMTPPort int    `yaml:"smtp_port"`
		Sender   string `yaml:"sender"`
		Receiver string `yaml:"receiver"`
		Password string `yaml:"password"`
	} `yaml:"email"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Schedule struct {
		ScanCron string `yaml:"scan_cron"`
	} `yaml:"schedule"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	StateFile   string `yaml:"state_file"`
	MetricsAddr string `yaml:"metrics_addr"`
	RunOnStart  bool   `yaml:"run_on_start"`
	Proxy       string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.DataDir, "DATA_DIR")
	setString(&cfg.Email.Sender, "EMAIL_SENDER")
	setString(&cfg.Email.Receiver, "EMAIL_RECEIVER")
	setString(&cfg.Email.Password, "EMAIL_PASSWORD")
	setString(&cfg.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&cfg.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	setString(&cfg.Proxy, "HTTPS_PROXY")
	setString(&cfg.Schedule.ScanCron, "SCAN_CRON")
	setString(&cfg.Ledger.Backend, "LEDGER_BACKEND")
	setString(&cfg.Ledger.RedisAddr, "REDIS_ADDR")
	setString(&cfg.Ledger.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.Database.SQLitePath, "SQLITE_PATH")
	setString(&cfg.MetricsAddr, "METRICS_ADDR")
	setString(&cfg.Notify.Channel, "NOTIFY_CHANNEL")
	if v := os.Getenv("RUN_ON_START"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("RUN_ON_START: %w", err)
		}
		cfg.RunOnStart = b
	}
	if v := os.Getenv("UNIVERSE_SYMBOLS"); v != "" {
		cfg.Universe.Symbols = strings.Split(v, ",")
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.MarketData.Period == "" {
		c.MarketData.Period = "2y"
	}
	if c.MarketData.Interval == "" {
		c.MarketData.Interval = "1d"
	}
	if c.MarketData.MaxAttempts == 0 {
		c.MarketData.MaxAttempts = 5
	}
	if c.MarketData.BaseDelay == 0 {
		c.MarketData.BaseDelay = 2 * time.Second
	}
	if c.MarketData.MinPause == 0 && c.MarketData.MaxPause == 0 {
		c.MarketData.MinPause = time.Second
		c.MarketData.MaxPause = 2 * time.Second
	}
	if c.Scan.MinMarketCap == 0 {
		c.Scan.MinMarketCap = 5_000_000_000
	}
	if c.Scan.LookbackDays == 0 {
		c.Scan.LookbackDays = 20
	}
	if c.Scan.MomentumMinPct == 0 {
		c.Scan.MomentumMinPct = 5
	}
	if c.Scan.MomentumMaxPct == 0 {
		c.Scan.MomentumMaxPct = 10
	}
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = "csv"
	}
	if c.Notify.Channel == "" {
		c.Notify.Channel = ChannelEmail
	}
	if c.Notify.SubjectPrefix == "" {
		c.Notify.SubjectPrefix = "Market Summary"
	}
	if c.Email.SMTPHost == "" {
		c.Email.SMTPHost = "smtp.gmail.com"
	}
	if c.Email.SMTPPort == 0 {
		c.Email.SMTPPort = 465
	}
	if c.Schedule.ScanCron == "" {
		c.Schedule.ScanCron = "0 30 22 * * 1-5"
	}
	if c.StateFile == "" {
		c.StateFile = filepath.Join(c.DataDir, "run_state.json")
	}
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	switch c.Notify.Channel {
	case ChannelEmail, ChannelTelegram, ChannelBoth, ChannelLog:
	default:
		return fmt.Errorf("notify.channel must be one of email, telegram, both, log")
	}
	if c.UsesEmail() {
		if c.Email.Sender == "" || c.Email.Receiver == "" {
			return fmt.Errorf("email.sender and email.receiver are required")
		}
		if c.Email.Password == "" {
			return fmt.Errorf("email.password is required")
		}
	}
	if c.UsesTelegram() {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required")
		}
	}
	switch c.Ledger.Backend {
	case "csv", "memory", "sqlite":
	case "redis":
		if c.Ledger.RedisAddr == "" {
			return fmt.Errorf("ledger.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown ledger.backend %q", c.Ledger.Backend)
	}
	if c.Scan.MomentumMinPct > c.Scan.MomentumMaxPct {
		return fmt.Errorf("scan.momentum_min_pct must not exceed scan.momentum_max_pct")
	}
	if c.Scan.LookbackDays < 1 {
		return fmt.Errorf("scan.lookback_days must be positive")
	}
	if _, err := model.PeriodStart(c.MarketData.Period, time.Now()); err != nil {
		return fmt.Errorf("market_data.period: %w", err)
	}
	if c.MarketData.MinPause > c.MarketData.MaxPause {
		return fmt.Errorf("market_data.min_pause must not exceed market_data.max_pause")
	}
	return nil
}

// UsesEmail reports whether reports go out by email.
func (c *Config) UsesEmail() bool {
	return c.Notify.Channel == ChannelEmail || c.Notify.Channel == ChannelBoth
}

// UsesTelegram reports whether reports go out to Telegram.
func (c *Config) UsesTelegram() bool {
	return c.Notify.Channel == ChannelTelegram || c.Notify.Channel == ChannelBoth
}
