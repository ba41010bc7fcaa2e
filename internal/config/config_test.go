package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
rules_path: examples/rules
jira_url: https://jira.example.com
jira_fields:
  summary: summary
  story_points: customfield_12345
openshift_oc_image: registry.example.com/origin-cli:4.18
connect_timeout: 2.5
concurrency: 8
prune: false
serve:
  schedule: "*/15 * * * *"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "examples/rules", cfg.RulesPath)
	assert.Equal(t, "https://jira.example.com", cfg.JiraURL)
	assert.Equal(t, "customfield_12345", cfg.JiraFields["story_points"])
	assert.Equal(t, 2500*time.Millisecond, Seconds(cfg.ConnectTimeout))
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, "registry.example.com/origin-cli:4.18", cfg.OpenShiftOCImage)
	assert.False(t, cfg.PruneEnabled())
	assert.True(t, cfg.WatchRules())
	assert.Equal(t, "*/15 * * * *", cfg.Serve.Schedule)

	// значения по умолчанию сохраняются
	assert.Equal(t, "retasc-id-", cfg.JiraLabelPrefix)
	assert.Equal(t, "retasc-managed", cfg.JiraManagedLabel)
	assert.Equal(t, ":8080", cfg.Serve.Addr)
}

func TestLoad_Env(t *testing.T) {
	path := writeConfig(t, "rules_path: rules\ndatabase_url: postgres://file\n")
	t.Setenv(EnvConfigPath, path)
	t.Setenv("RETASC_JIRA_TOKEN", "jira-secret")
	t.Setenv("RETASC_OPENSHIFT_TOKEN", "oc-secret")
	t.Setenv("DB_URL", "postgres://env")
	t.Setenv("RABBITMQ_URL", "amqp://env")
	t.Setenv("API_PORT", "9090")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "jira-secret", cfg.JiraToken)
	assert.Equal(t, "oc-secret", cfg.OpenShiftToken)
	assert.Equal(t, "postgres://env", cfg.DatabaseURL)
	assert.Equal(t, "amqp://env", cfg.RabbitMQURL)
	assert.Equal(t, ":9090", cfg.Serve.Addr)
}

func TestLoad_TokensNotReadFromFile(t *testing.T) {
	path := writeConfig(t, "rules_path: rules\njira_token: leaked\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.JiraToken)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty prefix", "jira_label_prefix: ''\n"},
		{"negative concurrency", "concurrency: -1\n"},
		{"negative timeout", "read_timeout: -5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "rules_path: [\n"))
	require.Error(t, err)
}
