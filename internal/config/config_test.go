package config

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestLoadExecutorConfigDefaults(t *testing.T) {
	viper.Reset()
	cfg := LoadExecutorConfig()
	assert.Equal(t, "none", cfg.Mode)
	assert.Equal(t, 1, cfg.MaxAttempts)
}

func TestLoadExecutorConfigOverride(t *testing.T) {
	viper.Reset()
	viper.Set("executor.retry.mode", "fixed_delay")
	viper.Set("executor.retry.max_attempts", 3)
	cfg := LoadExecutorConfig()
	assert.Equal(t, "fixed_delay", cfg.Mode)
	assert.Equal(t, 3, cfg.MaxAttempts)
}

func TestLoadRiskConfig(t *testing.T) {
	viper.Reset()
	viper.Set("risk.max_open_positions", 10)
	cfg := LoadRiskConfig()
	assert.Equal(t, 10, cfg.MaxOpenPositions)
}

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	viper.Reset()
	entry := NewLogger("test")
	assert.Equal(t, "test", entry.Data["component"])
	assert.Equal(t, logrus.InfoLevel, entry.Logger.GetLevel())
}
