package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wildgrid/camsync/internal/common"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 12*time.Hour, cfg.CollectionsTTL)
	require.Equal(t, 2*time.Minute, cfg.LockMaxHold)
	require.Equal(t, -7*time.Hour, cfg.DefaultUTCOffset)
}

func TestValidateRejectsMissingTimeout(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()
	cfg.UploadsTTL = 0

	err := cfg.Validate()
	require.Error(t, err)
	require.True(t, errors.Is(err, common.ErrConfiguration))
}

func TestValidateRejectsNegativePollAttempts(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()
	cfg.PollAttempts = -1

	require.ErrorIs(t, cfg.Validate(), common.ErrConfiguration)
}

func TestOriginDerivedFromEndpoint(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()

	derived := cfg.Origin()
	require.Len(t, derived, 16)
	require.Equal(t, derived, cfg.Origin(), "derivation must be stable")

	cfg.OriginID = "explicit"
	require.Equal(t, "explicit", cfg.Origin())
}

func TestParseFlags_AbsentFlagKeepsOverlayedTTLs(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()
	// As if a JSON overlay configured a short uploads window.
	cfg.UploadsTTL = 15 * time.Minute

	parseFlagArgs(cfg, []string{"-c", "conf.json"})

	require.Equal(t, 15*time.Minute, cfg.UploadsTTL)
	require.Equal(t, 12*time.Hour, cfg.CollectionsTTL)
}

func TestParseFlags_TTLsAreIndependent(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()

	parseFlagArgs(cfg, []string{"-t", "30"})
	require.Equal(t, 30*time.Minute, cfg.CollectionsTTL)
	require.Equal(t, 12*time.Hour, cfg.UploadsTTL)

	parseFlagArgs(cfg, []string{"-s", "15"})
	require.Equal(t, 30*time.Minute, cfg.CollectionsTTL)
	require.Equal(t, 15*time.Minute, cfg.UploadsTTL)
}

func TestParseFlags_DurationsAndAdmins(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()

	parseFlagArgs(cfg, []string{"-l", "90", "-w", "120", "-a", "root,ops"})

	require.Equal(t, 90*time.Second, cfg.LockMaxHold)
	require.Equal(t, 120*time.Second, cfg.PollBudget)
	require.Equal(t, []string{"root", "ops"}, cfg.AdminUsers)
}

func TestPollBaseTriangularSum(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()
	cfg.PollBudget = 5 * time.Minute
	cfg.PollAttempts = 10

	base := cfg.PollBase()

	var total time.Duration
	for i := 1; i <= cfg.PollAttempts; i++ {
		total += time.Duration(i) * base
	}
	require.InDelta(t, cfg.PollBudget.Seconds(), total.Seconds(), 1.0,
		"triangular schedule should approximate the budget")
}
