// Package config — конфигурация retasc.
//
// Файл YAML ищется по флагу --config или переменной RETASC_CONFIG.
// Секреты и адреса инфраструктуры переопределяются переменными окружения:
//
//	RETASC_RULES_PATH      — rules_path
//	RETASC_JIRA_TOKEN      — токен Jira (только из окружения)
//	RETASC_OPENSHIFT_TOKEN — токен OpenShift (только из окружения)
//	DB_URL                 — database_url
//	RABBITMQ_URL           — rabbitmq_url
//	API_PORT               — порт serve.addr
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath — переменная окружения с путём к файлу конфигурации.
const EnvConfigPath = "RETASC_CONFIG"

// ErrInvalidConfig — конфигурация не прошла проверку.
var ErrInvalidConfig = errors.New("invalid config")

// Config — конфигурация прогона и сервиса.
type Config struct {
	RulesPath               string `yaml:"rules_path"`
	JiraTemplatePath        string `yaml:"jira_template_path"`
	PipelineRunTemplatePath string `yaml:"pipeline_run_template_path"`

	ProductPagesURL string `yaml:"product_pages_url"`

	JiraURL          string            `yaml:"jira_url"`
	JiraToken        string            `yaml:"-"`
	JiraLabelPrefix  string            `yaml:"jira_label_prefix"`
	JiraManagedLabel string            `yaml:"jira_managed_label"`
	JiraFields       map[string]string `yaml:"jira_fields"`

	OpenShiftAPIURL             string `yaml:"openshift_api_url"`
	OpenShiftToken              string `yaml:"-"`
	PipelineRunDefaultNamespace string `yaml:"pipeline_run_default_namespace"`
	PipelineRunNamePrefix       string `yaml:"pipeline_run_name_prefix"`
	OpenShiftOCImage            string `yaml:"openshift_oc_image"`

	// Таймауты в секундах.
	ConnectTimeout     float64 `yaml:"connect_timeout"`
	ReadTimeout        float64 `yaml:"read_timeout"`
	JiraConnectTimeout float64 `yaml:"jira_connect_timeout"`
	JiraReadTimeout    float64 `yaml:"jira_read_timeout"`

	HTTPRetries int `yaml:"http_retries"`
	Concurrency int `yaml:"concurrency"`

	// Prune — закрывать ли брошенные управляемые issue после прогона.
	Prune *bool `yaml:"prune"`

	DatabaseURL string `yaml:"database_url"`
	RabbitMQURL string `yaml:"rabbitmq_url"`

	Serve ServeConfig `yaml:"serve"`
}

// ServeConfig — параметры режима serve.
type ServeConfig struct {
	Addr string `yaml:"addr"`

	// Schedule — cron-выражение периодических прогонов (robfig/cron).
	Schedule string `yaml:"schedule"`

	// WatchRules — перечитывать правила при изменении файлов.
	WatchRules *bool `yaml:"watch_rules"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() *Config {
	return &Config{
		RulesPath:             "rules",
		JiraLabelPrefix:       "retasc-id-",
		JiraManagedLabel:      "retasc-managed",
		PipelineRunNamePrefix: "retasc-",
		OpenShiftOCImage:      "quay.io/openshift/origin-cli:latest",
		ConnectTimeout:        15,
		ReadTimeout:           30,
		JiraConnectTimeout:    15,
		JiraReadTimeout:       60,
		HTTPRetries:           5,
		Concurrency:           4,
		Serve: ServeConfig{
			Addr:     ":8080",
			Schedule: "@hourly",
		},
	}
}

// Load читает конфигурацию из path (или RETASC_CONFIG) и применяет
// переменные окружения. Пустой путь без RETASC_CONFIG — только
// значения по умолчанию и окружение.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RETASC_RULES_PATH"); v != "" {
		c.RulesPath = v
	}
	if v := os.Getenv("RETASC_JIRA_TOKEN"); v != "" {
		c.JiraToken = v
	}
	if v := os.Getenv("RETASC_OPENSHIFT_TOKEN"); v != "" {
		c.OpenShiftToken = v
	}
	if v := os.Getenv("DB_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		c.RabbitMQURL = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		c.Serve.Addr = ":" + v
	}
}

// Validate проверяет обязательные поля и диапазоны.
func (c *Config) Validate() error {
	var errs []error
	if c.RulesPath == "" {
		errs = append(errs, errors.New("rules_path is required"))
	}
	if c.JiraLabelPrefix == "" {
		errs = append(errs, errors.New("jira_label_prefix must not be empty"))
	}
	if c.JiraManagedLabel == "" {
		errs = append(errs, errors.New("jira_managed_label must not be empty"))
	}
	if c.Concurrency < 0 {
		errs = append(errs, errors.New("concurrency must not be negative"))
	}
	if c.HTTPRetries < 0 {
		errs = append(errs, errors.New("http_retries must not be negative"))
	}
	for name, v := range map[string]float64{
		"connect_timeout":      c.ConnectTimeout,
		"read_timeout":         c.ReadTimeout,
		"jira_connect_timeout": c.JiraConnectTimeout,
		"jira_read_timeout":    c.JiraReadTimeout,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// PruneEnabled сообщает, включён ли проход закрытия (по умолчанию да).
func (c *Config) PruneEnabled() bool {
	return c.Prune == nil || *c.Prune
}

// WatchRules сообщает, следить ли за файлами правил в serve (по умолчанию да).
func (c *Config) WatchRules() bool {
	return c.Serve.WatchRules == nil || *c.Serve.WatchRules
}

// Seconds переводит секунды из конфигурации в time.Duration.
func Seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
