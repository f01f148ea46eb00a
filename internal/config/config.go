// Package config loads the system configuration (REINVESTMENT_PERCENT,
// SUPABASE_URL/SUPABASE_SERVICE_ROLE_KEY, exchange credentials, plus
// risk/grid/server defaults) via viper, overlaying environment variables
// and an optional config file on top of defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/atlas-desktop/grid-trading-backend/pkg/types"
)

// Load reads the system configuration from an optional file at path (empty
// skips file loading) plus environment variables, overlaying both on the
// built-in defaults.
func Load(path string) (types.SystemConfig, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := types.DefaultSystemConfig()
	v.SetDefault("reinvestment_percent", defaults.ReinvestmentPercent.String())
	v.SetDefault("rate_limit_per_minute", defaults.RateLimitPerMinute)
	v.SetDefault("server.host", defaults.Server.Host)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("server.websocket_path", defaults.Server.WebSocketPath)
	v.SetDefault("server.read_timeout_sec", defaults.Server.ReadTimeoutSec)
	v.SetDefault("server.write_timeout_sec", defaults.Server.WriteTimeoutSec)
	v.SetDefault("server.enable_metrics", defaults.Server.EnableMetrics)

	v.BindEnv("supabase_url", "SUPABASE_URL")
	v.BindEnv("supabase_service_role_key", "SUPABASE_SERVICE_ROLE_KEY")
	v.BindEnv("exchange.api_key", "EXCHANGE_API_KEY")
	v.BindEnv("exchange.api_secret", "EXCHANGE_API_SECRET")
	v.BindEnv("reinvestment_percent", "REINVESTMENT_PERCENT")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return types.SystemConfig{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := defaults
	cfg.SupabaseURL = v.GetString("supabase_url")
	cfg.SupabaseServiceRoleKey = v.GetString("supabase_service_role_key")
	cfg.Exchange.APIKey = v.GetString("exchange.api_key")
	cfg.Exchange.APISecret = v.GetString("exchange.api_secret")
	cfg.RateLimitPerMinute = v.GetInt("rate_limit_per_minute")

	if raw := v.GetString("reinvestment_percent"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return types.SystemConfig{}, fmt.Errorf("config: invalid reinvestment_percent %q: %w", raw, err)
		}
		cfg.ReinvestmentPercent = parsed
	}

	cfg.Server.Host = v.GetString("server.host")
	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.WebSocketPath = v.GetString("server.websocket_path")
	cfg.Server.ReadTimeoutSec = v.GetInt("server.read_timeout_sec")
	cfg.Server.WriteTimeoutSec = v.GetInt("server.write_timeout_sec")
	cfg.Server.EnableMetrics = v.GetBool("server.enable_metrics")

	if v.IsSet("grids") {
		var grids []types.GridConfig
		if err := v.UnmarshalKey("grids", &grids); err != nil {
			return types.SystemConfig{}, fmt.Errorf("config: parse grids: %w", err)
		}
		cfg.Grids = grids
	}

	return cfg, nil
}
