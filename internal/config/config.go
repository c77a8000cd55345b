package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envBaseURL              = "SLOT_BASE_URL"
	envConfigPath           = "SLOT_CONFIG_PATH"
	envOutputDir            = "SLOT_OUTPUT_DIR"
	envPollInterval         = "SLOT_POLL_INTERVAL"
	envWindowStart          = "SLOT_WINDOW_START"
	envWindowEnd            = "SLOT_WINDOW_END"
	envTimezone             = "SLOT_TIMEZONE"
	envForce                = "SLOT_FORCE"
	envFacility             = "SLOT_FACILITY"
	envLogLevel             = "SLOT_LOG_LEVEL"
	envHistoryLimit         = "SLOT_HISTORY_LIMIT"
	envDiscordWebhookURL    = "SLOT_DISCORD_WEBHOOK_URL"
	envDiscordMentionUserID = "SLOT_DISCORD_MENTION_USER_ID"
	envDiscordUseEveryone   = "SLOT_DISCORD_USE_EVERYONE"
	envDiscordUseHere       = "SLOT_DISCORD_USE_HERE"
	envDiscordThreadID      = "SLOT_DISCORD_THREAD_ID"
	envDiscordWait          = "SLOT_DISCORD_WAIT"
	envDiscordUserAgent     = "SLOT_DISCORD_USER_AGENT"
	envSlackWebhookURL      = "SLOT_SLACK_WEBHOOK_URL"
	envSlackMention         = "SLOT_SLACK_MENTION"
	envWebhookURL           = "SLOT_WEBHOOK_URL"
	envWebhookTemplate      = "SLOT_WEBHOOK_TEMPLATE"
	envDryRun               = "SLOT_DRY_RUN"
	envHealthPort           = "SLOT_HEALTH_PORT"
	envMetricsPort          = "SLOT_METRICS_PORT"
	envJournalPath          = "SLOT_JOURNAL_PATH"
	envBrowserURL           = "SLOT_BROWSER_URL"
	envHeadless             = "SLOT_HEADLESS"
	envBlockResources       = "SLOT_BLOCK_RESOURCES"
)

// Keywords accepted by SLOT_SLACK_MENTION besides a member id such as U012AB3CD.
const (
	SlackMentionChannel = "channel"
	SlackMentionHere    = "here"
)

const (
	defaultConfigPath   = "config.yaml"
	defaultOutputDir    = "snapshots"
	defaultPollInterval = 15 * time.Minute
	defaultWindowStart  = 5
	defaultWindowEnd    = 23
	defaultTimezone     = "Asia/Tokyo"
	defaultLogLevel     = "info"
	defaultHistoryLimit = 30
	defaultHealthPort   = 8080
	defaultMetricsPort  = 9090
	defaultJournalName  = "journal.db"
)

// Config describes runtime configuration loaded from the environment.
type Config struct {
	BaseURL      string
	ConfigPath   string
	OutputDir    string
	PollInterval time.Duration
	WindowStart  int
	WindowEnd    int
	Timezone     string
	Force        bool
	Facility     string
	LogLevel     string
	HistoryLimit int

	DiscordWebhookURL    string
	DiscordMentionUserID string
	DiscordUseEveryone   bool
	DiscordUseHere       bool
	DiscordThreadID      string
	DiscordWait          bool
	DiscordUserAgent     string
	SlackWebhookURL      string
	SlackMention         string
	WebhookURL           string
	WebhookTemplate      string
	DryRun               bool

	HealthPort  int
	MetricsPort int
	JournalPath string

	BrowserURL     string
	Headless       bool
	BlockResources bool
}

// Load reads configuration from environment variables and a local .env file if present.
// Existing environment variables take precedence over values in .env.
func Load() (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ConfigPath:     defaultConfigPath,
		OutputDir:      defaultOutputDir,
		PollInterval:   defaultPollInterval,
		WindowStart:    defaultWindowStart,
		WindowEnd:      defaultWindowEnd,
		Timezone:       defaultTimezone,
		LogLevel:       defaultLogLevel,
		HistoryLimit:   defaultHistoryLimit,
		DiscordWait:    true,
		HealthPort:     defaultHealthPort,
		MetricsPort:    defaultMetricsPort,
		Headless:       true,
		BlockResources: true,
	}

	stringVars := map[string]*string{
		envBaseURL:              &cfg.BaseURL,
		envConfigPath:           &cfg.ConfigPath,
		envOutputDir:            &cfg.OutputDir,
		envTimezone:             &cfg.Timezone,
		envFacility:             &cfg.Facility,
		envLogLevel:             &cfg.LogLevel,
		envDiscordWebhookURL:    &cfg.DiscordWebhookURL,
		envDiscordMentionUserID: &cfg.DiscordMentionUserID,
		envDiscordThreadID:      &cfg.DiscordThreadID,
		envDiscordUserAgent:     &cfg.DiscordUserAgent,
		envSlackWebhookURL:      &cfg.SlackWebhookURL,
		envSlackMention:         &cfg.SlackMention,
		envWebhookURL:           &cfg.WebhookURL,
		envWebhookTemplate:      &cfg.WebhookTemplate,
		envJournalPath:          &cfg.JournalPath,
		envBrowserURL:           &cfg.BrowserURL,
	}
	for key, target := range stringVars {
		if value, ok := lookupTrimmed(key); ok && value != "" {
			*target = value
		}
	}

	boolVars := map[string]*bool{
		envForce:              &cfg.Force,
		envDiscordUseEveryone: &cfg.DiscordUseEveryone,
		envDiscordUseHere:     &cfg.DiscordUseHere,
		envDiscordWait:        &cfg.DiscordWait,
		envDryRun:             &cfg.DryRun,
		envHeadless:           &cfg.Headless,
		envBlockResources:     &cfg.BlockResources,
	}
	for key, target := range boolVars {
		if err := lookupBool(key, target); err != nil {
			return Config{}, err
		}
	}

	intVars := map[string]*int{
		envWindowStart:  &cfg.WindowStart,
		envWindowEnd:    &cfg.WindowEnd,
		envHistoryLimit: &cfg.HistoryLimit,
		envHealthPort:   &cfg.HealthPort,
		envMetricsPort:  &cfg.MetricsPort,
	}
	for key, target := range intVars {
		if err := lookupInt(key, target); err != nil {
			return Config{}, err
		}
	}

	if value, ok := lookupTrimmed(envPollInterval); ok {
		interval, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envPollInterval, err)
		}
		if interval <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than zero", envPollInterval)
		}
		cfg.PollInterval = interval
	}

	if cfg.JournalPath == "" {
		cfg.JournalPath = filepath.Join(cfg.OutputDir, defaultJournalName)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.BaseURL == "" {
		return errors.New("SLOT_BASE_URL is required")
	}
	if err := validateURL(c.BaseURL, envBaseURL); err != nil {
		return err
	}

	optionalURLs := map[string]string{
		envDiscordWebhookURL: c.DiscordWebhookURL,
		envSlackWebhookURL:   c.SlackWebhookURL,
		envWebhookURL:        c.WebhookURL,
		envBrowserURL:        c.BrowserURL,
	}
	for name, value := range optionalURLs {
		if value == "" {
			continue
		}
		if err := validateURL(value, name); err != nil {
			return err
		}
	}

	if c.WindowStart < 0 || c.WindowStart > 23 {
		return fmt.Errorf("%s must be between 0 and 23", envWindowStart)
	}
	if c.WindowEnd < 0 || c.WindowEnd > 23 {
		return fmt.Errorf("%s must be between 0 and 23", envWindowEnd)
	}
	if c.WindowStart > c.WindowEnd {
		return fmt.Errorf("%s must not be after %s", envWindowStart, envWindowEnd)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid %s: %w", envTimezone, err)
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("%s cannot be negative", envHistoryLimit)
	}
	for name, port := range map[string]int{envHealthPort: c.HealthPort, envMetricsPort: c.MetricsPort} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%s must be between 0 and 65535", name)
		}
	}
	if c.DiscordMentionUserID != "" {
		if _, err := strconv.ParseUint(c.DiscordMentionUserID, 10, 64); err != nil {
			return fmt.Errorf("invalid %s: must be a numeric user id", envDiscordMentionUserID)
		}
	}
	if c.SlackMention != "" && !validSlackMention(c.SlackMention) {
		return fmt.Errorf("invalid %s: use channel, here or a member id", envSlackMention)
	}
	if c.WebhookTemplate != "" && c.WebhookURL == "" {
		return fmt.Errorf("%s requires %s", envWebhookTemplate, envWebhookURL)
	}
	return nil
}

var slackMemberID = regexp.MustCompile(`^[UW][A-Z0-9]{2,}$`)

func validSlackMention(value string) bool {
	switch value {
	case SlackMentionChannel, SlackMentionHere:
		return true
	}
	return slackMemberID.MatchString(value)
}

// Location returns the time zone the execution window is evaluated in.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func lookupBool(key string, target *bool) error {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*target = parsed
	return nil
}

func lookupInt(key string, target *int) error {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*target = parsed
	return nil
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}

// JournalPathFromEnv resolves the journal location without requiring the crawl settings.
func JournalPathFromEnv() (string, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return "", err
	}
	if value, ok := lookupTrimmed(envJournalPath); ok && value != "" {
		return value, nil
	}
	dir := defaultOutputDir
	if value, ok := lookupTrimmed(envOutputDir); ok && value != "" {
		dir = value
	}
	return filepath.Join(dir, defaultJournalName), nil
}
