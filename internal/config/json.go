package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/wildgrid/camsync/internal/common"
	"github.com/wildgrid/camsync/internal/flagx"
	"github.com/wildgrid/camsync/internal/timex"
)

// JsonConfig is the JSON-file shape of Config. Interval fields use
// timex.Duration so both "12h" strings and integer nanoseconds parse.
// Absent fields leave the defaults untouched.
type JsonConfig struct {
	DatabaseDSN      *string         `json:"database_dsn"`
	S3Endpoint       *string         `json:"s3_endpoint"`
	S3Region         *string         `json:"s3_region"`
	S3User           *string         `json:"s3_user"`
	S3Secret         *string         `json:"s3_secret"`
	S3SecretSealed   *string         `json:"s3_secret_sealed"`
	OriginID         *string         `json:"origin_id"`
	CollectionsTTL   *timex.Duration `json:"collections_ttl"`
	UploadsTTL       *timex.Duration `json:"uploads_ttl"`
	SpeciesStatsTTL  *timex.Duration `json:"species_stats_ttl"`
	ConfigTTL        *timex.Duration `json:"config_ttl"`
	LockMaxHold      *timex.Duration `json:"lock_max_hold"`
	PollBudget       *timex.Duration `json:"poll_budget"`
	PollAttempts     *int            `json:"poll_attempts"`
	FetchWorkers     *int            `json:"fetch_workers"`
	DefaultUTCOffset *timex.Duration `json:"default_utc_offset"`
	AdminUsers       *[]string       `json:"admin_users"`
}

// parseJson overlays values from the JSON file named by -c/-config, when
// given. A file that cannot be read or parsed is a deployment mistake.
func parseJson(config *Config) error {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return nil
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", common.ErrConfiguration, jsonConfigFile, err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("%w: parsing %s: %v", common.ErrConfiguration, jsonConfigFile, err)
	}

	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setDuration := func(dst *time.Duration, src *timex.Duration) {
		if src != nil {
			*dst = src.Duration
		}
	}

	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.S3Endpoint, c.S3Endpoint)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3User, c.S3User)
	setString(&config.S3Secret, c.S3Secret)
	setString(&config.S3SecretSealed, c.S3SecretSealed)
	setString(&config.OriginID, c.OriginID)
	setDuration(&config.CollectionsTTL, c.CollectionsTTL)
	setDuration(&config.UploadsTTL, c.UploadsTTL)
	setDuration(&config.SpeciesStatsTTL, c.SpeciesStatsTTL)
	setDuration(&config.ConfigTTL, c.ConfigTTL)
	setDuration(&config.LockMaxHold, c.LockMaxHold)
	setDuration(&config.PollBudget, c.PollBudget)
	setDuration(&config.DefaultUTCOffset, c.DefaultUTCOffset)
	if c.PollAttempts != nil {
		config.PollAttempts = *c.PollAttempts
	}
	if c.FetchWorkers != nil {
		config.FetchWorkers = *c.FetchWorkers
	}
	if c.AdminUsers != nil {
		config.AdminUsers = *c.AdminUsers
	}

	return nil
}
