package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Dispatch  DispatchConfig
	WhatsApp  WhatsAppConfig
	Trigger   TriggerConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type SchedulerConfig struct {
	Interval time.Duration
	// Deadline bounds one dispatch run; it must stay under Interval so runs
	// never overlap. Zero means 80% of Interval.
	Deadline time.Duration
}

type DispatchConfig struct {
	BatchSize   int
	Concurrency int
}

type WhatsAppConfig struct {
	APIBaseURL       string
	AccessToken      string
	PhoneNumberID    string
	DefaultLanguage  string
	WelcomeTemplate  string
	FallbackTemplate string
	// VerifyToken authenticates the provider's webhook verification handshake.
	VerifyToken string
}

type TriggerConfig struct {
	// Token is the shared-secret bearer token required on the dispatch
	// trigger and the other mutating endpoints.
	Token string
}

func LoadAll() (*Config, error) {
	var errs []error

	postgresURL, err := requireEnv("POSTGRES_URL")
	if err != nil {
		errs = append(errs, err)
	}
	accessToken, err := requireEnv("WHATSAPP_ACCESS_TOKEN")
	if err != nil {
		errs = append(errs, err)
	}
	phoneNumberID, err := requireEnv("WHATSAPP_PHONE_NUMBER_ID")
	if err != nil {
		errs = append(errs, err)
	}
	triggerToken, err := requireEnv("DISPATCH_TRIGGER_TOKEN")
	if err != nil {
		errs = append(errs, err)
	}

	intervalSec, err := getEnvInt("SCHED_INTERVAL_SECONDS", 120)
	if err != nil {
		errs = append(errs, err)
	}
	deadlineSec, err := getEnvInt("SCHED_RUN_DEADLINE_SECONDS", 0)
	if err != nil {
		errs = append(errs, err)
	}
	batchSize, err := getEnvInt("DISPATCH_BATCH_SIZE", 50)
	if err != nil {
		errs = append(errs, err)
	}
	concurrency, err := getEnvInt("DISPATCH_CONCURRENCY", 4)
	if err != nil {
		errs = append(errs, err)
	}

	redisCfg, err := loadRedisConfig()
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: postgresURL,
		},
		Redis: redisCfg,
		Scheduler: SchedulerConfig{
			Interval: time.Duration(intervalSec) * time.Second,
			Deadline: time.Duration(deadlineSec) * time.Second,
		},
		Dispatch: DispatchConfig{
			BatchSize:   batchSize,
			Concurrency: concurrency,
		},
		WhatsApp: WhatsAppConfig{
			APIBaseURL:       getEnv("WHATSAPP_API_BASE_URL", "https://graph.facebook.com/v19.0"),
			AccessToken:      accessToken,
			PhoneNumberID:    phoneNumberID,
			DefaultLanguage:  getEnv("WHATSAPP_DEFAULT_LANGUAGE", "en_US"),
			WelcomeTemplate:  getEnv("WHATSAPP_WELCOME_TEMPLATE", "welcome"),
			FallbackTemplate: getEnv("WHATSAPP_FALLBACK_TEMPLATE", "generic_notification"),
			VerifyToken:      getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		},
		Trigger: TriggerConfig{
			Token: triggerToken,
		},
	}

	errs = append(errs, validate(cfg)...)

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	ttlSec, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttlSec) * time.Second,
	}, nil
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Dispatch.BatchSize <= 0 {
		errs = append(errs, errors.New("DISPATCH_BATCH_SIZE must be > 0"))
	}
	if cfg.Dispatch.Concurrency <= 0 {
		errs = append(errs, errors.New("DISPATCH_CONCURRENCY must be > 0"))
	}
	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SCHED_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Scheduler.Deadline > cfg.Scheduler.Interval {
		errs = append(errs, errors.New("SCHED_RUN_DEADLINE_SECONDS must not exceed SCHED_INTERVAL_SECONDS"))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	if len(nonNil) == 0 {
		return nil
	}
	return errors.Join(nonNil...)
}
