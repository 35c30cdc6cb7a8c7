package container

import (
	"context"
	"testing"
	"time"

	"deanalyse/adapters/coercer"
	"deanalyse/internal/config"
	"deanalyse/internal/sandbox"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: "0", UploadRateLimit: 10, ChatRateLimit: 30},
		LLM:    config.LLMConfig{Provider: "openai"},
		Sandbox: config.SandboxConfig{
			Mode:          sandbox.ModeInProcess,
			Timeout:       time.Second,
			MemoryLimitMB: 64,
			MaxConcurrent: 2,
		},
		Session:  config.SessionConfig{Retention: time.Hour, SweepInterval: time.Minute, RetainRows: true},
		Coercion: coercer.CoercionConfig{DetectTemporal: true},
	}
}

func TestNewWithoutModel(t *testing.T) {
	defer goleak.VerifyNone(t)

	c, err := New(context.Background(), testConfig(), nil)
	require.NoError(t, err)

	assert.Nil(t, c.LLM)
	assert.Nil(t, c.KPIs)
	assert.Nil(t, c.DB)
	assert.NotNil(t, c.Prompts)
	assert.NotNil(t, c.Upload)
	assert.NotNil(t, c.QA)
	assert.Equal(t, sandbox.ModeInProcess, c.Executor.Mode())

	require.NoError(t, c.Shutdown(context.Background()))
}

func TestNewWithSQLiteLedger(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.Database = config.DatabaseConfig{Driver: "sqlite"}
	cfg.LLM.APIKey = "sk-test"

	c, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, c.DB)
	assert.NotNil(t, c.LLM)
	assert.NotNil(t, c.KPIs)

	summary, err := c.Usage.GetSummary(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Zero(t, summary.RequestCount)

	require.NoError(t, c.Shutdown(context.Background()))
	assert.Nil(t, c.DB)
}

func TestNewRejectsBadSandboxMode(t *testing.T) {
	cfg := testConfig()
	cfg.Sandbox.Mode = "docker"
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil, nil)
	assert.Error(t, err)
}
