package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	trkerrors "git.home.luguber.info/inful/fencewatch/internal/errors"
)

func requireConfigField(t *testing.T, err error, category trkerrors.ErrorCategory, field string) {
	t.Helper()
	require.Error(t, err)
	var te *trkerrors.TrackerError
	require.ErrorAs(t, err, &te)
	require.Equal(t, category, te.Category)
	require.Equal(t, field, te.Context["field"])
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesEngineDefaults(t *testing.T) {
	path := writeConfig(t, `
session:
  user_number: "01011112222"
server:
  base_url: https://safety.example.com
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, RoleUser, cfg.Session.Role)
	require.Equal(t, 2*time.Second, cfg.Tracking.ForegroundInterval)
	require.Equal(t, 15*time.Second, cfg.Tracking.BackgroundInterval)
	require.Equal(t, 10*time.Second, cfg.Tracking.GeofenceCheckInterval)
	require.Equal(t, 2*time.Minute, cfg.Tracking.CacheRefreshInterval)
	require.Equal(t, time.Minute, cfg.Tracking.MidnightPollInterval)
	require.Equal(t, 30*time.Second, cfg.Tracking.StaleFixMaxAge)
	require.Equal(t, 100.0, cfg.Tracking.EnterRadiusM)
	require.Equal(t, 150.0, cfg.Tracking.ExitRadiusM)
	require.Equal(t, 30*time.Second, cfg.Tracking.EntryLockTTL)
	require.Equal(t, 5*time.Second, cfg.Tracking.LifecycleStaleness)
	require.Equal(t, RetryBackoffExponential, cfg.Restart.Backoff)
	require.Equal(t, time.Second, cfg.Restart.Initial)
	require.Equal(t, 4*time.Second, cfg.Restart.Max)
	require.Equal(t, 3, cfg.Restart.MaxRetries)
	require.Equal(t, "gpsd", cfg.Provider.Kind)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("FW_TEST_KEY", "sekrit")
	path := writeConfig(t, `
session:
  user_number: "01011112222"
  api_key: ${FW_TEST_KEY}
server:
  base_url: https://safety.example.com
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "sekrit", cfg.Session.APIKey)
}

func TestValidateRejectsInvertedRadii(t *testing.T) {
	path := writeConfig(t, `
session:
  user_number: "01011112222"
server:
  base_url: https://safety.example.com
tracking:
  enter_radius_m: 200
  exit_radius_m: 150
`)
	_, err := Load(path)
	requireConfigField(t, err, trkerrors.CategoryValidation, "tracking.exit_radius_m")
}

func TestValidateSupporterNeedsTarget(t *testing.T) {
	path := writeConfig(t, `
session:
  user_number: "01011112222"
  role: supporter
server:
  base_url: https://safety.example.com
`)
	_, err := Load(path)
	requireConfigField(t, err, trkerrors.CategoryConfig, "session.target_user")
}

func TestValidateReplayNeedsPath(t *testing.T) {
	path := writeConfig(t, `
session:
  user_number: "01011112222"
server:
  base_url: https://safety.example.com
provider:
  kind: replay
`)
	_, err := Load(path)
	requireConfigField(t, err, trkerrors.CategoryConfig, "provider.replay_path")
}

func TestValidateRequiresUserNumber(t *testing.T) {
	path := writeConfig(t, `
server:
  base_url: https://safety.example.com
`)
	_, err := Load(path)
	requireConfigField(t, err, trkerrors.CategoryConfig, "session.user_number")
}

func TestLoadMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	_, err := Load(missing)
	require.Error(t, err)
	require.True(t, trkerrors.IsCategory(err, trkerrors.CategoryConfig))
	var te *trkerrors.TrackerError
	require.ErrorAs(t, err, &te)
	require.Equal(t, missing, te.Context["path"])
}

func TestNormalizers(t *testing.T) {
	require.Equal(t, LogLevelInfo, NormalizeLogLevel("bogus"))
	require.Equal(t, LogLevelDebug, NormalizeLogLevel(" DEBUG "))
	require.Equal(t, LogFormatText, NormalizeLogFormat(""))
	require.Equal(t, LogFormatJSON, NormalizeLogFormat("JSON"))
	require.Equal(t, RetryBackoffExponential, NormalizeRetryBackoff("Exponential"))
	require.Equal(t, RetryBackoffMode(""), NormalizeRetryBackoff("cubic"))
}
