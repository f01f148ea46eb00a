package types

import "github.com/shopspring/decimal"

// RiskConfig holds the fixed thresholds the Risk Manager gates trades
// against. Defaults match the system's existing risk posture.
type RiskConfig struct {
	MaxPortfolioExposure   decimal.Decimal `mapstructure:"max_portfolio_exposure"`
	MinCashReserves        decimal.Decimal `mapstructure:"min_cash_reserves"`
	MaxSingleAssetExposure decimal.Decimal `mapstructure:"max_single_asset_exposure"`
	MaxSectorExposure      decimal.Decimal `mapstructure:"max_sector_exposure"`
	MaxPairwiseCorrelation decimal.Decimal `mapstructure:"max_pairwise_correlation"`
	MinDailyVolume         decimal.Decimal `mapstructure:"min_daily_volume"`
	MaxOrderVsDailyVolume  decimal.Decimal `mapstructure:"max_order_vs_daily_volume"`

	DrawdownWarning   decimal.Decimal `mapstructure:"drawdown_warning"`
	DrawdownReduction decimal.Decimal `mapstructure:"drawdown_reduction"`
	DrawdownEmergency decimal.Decimal `mapstructure:"drawdown_emergency"`
	DrawdownCritical  decimal.Decimal `mapstructure:"drawdown_critical"`
	ReductionFactor   decimal.Decimal `mapstructure:"reduction_factor"`

	ResetConfirmationToken string `mapstructure:"reset_confirmation_token"`
}

// DefaultRiskConfig returns the default risk thresholds.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxPortfolioExposure:   decimal.NewFromFloat(0.80),
		MinCashReserves:        decimal.NewFromFloat(0.20),
		MaxSingleAssetExposure: decimal.NewFromFloat(0.05),
		MaxSectorExposure:      decimal.NewFromFloat(0.30),
		MaxPairwiseCorrelation: decimal.NewFromFloat(0.80),
		MinDailyVolume:         decimal.NewFromInt(1_000_000),
		MaxOrderVsDailyVolume:  decimal.NewFromFloat(0.05),

		DrawdownWarning:   decimal.NewFromFloat(0.05),
		DrawdownReduction: decimal.NewFromFloat(0.10),
		DrawdownEmergency: decimal.NewFromFloat(0.15),
		DrawdownCritical:  decimal.NewFromFloat(0.20),
		ReductionFactor:   decimal.NewFromFloat(0.25),

		ResetConfirmationToken: "CONFIRM_RESET_EMERGENCY_STOP",
	}
}

// GridConfig parameterizes a single trading pair's grid geometry.
type GridConfig struct {
	TradingPair  TradingPair     `mapstructure:"trading_pair"`
	GridRange    decimal.Decimal `mapstructure:"grid_range"`
	GridLevels   int             `mapstructure:"grid_levels"`
	OrderSize    decimal.Decimal `mapstructure:"order_size"`
	DeadZoneLow  decimal.Decimal `mapstructure:"dead_zone_low"`
	DeadZoneHigh decimal.Decimal `mapstructure:"dead_zone_high"`
}

// DefaultGridConfig returns a grid config with dead-zone bounds of 0.1% on
// either side of the reference price.
func DefaultGridConfig(pair TradingPair) GridConfig {
	return GridConfig{
		TradingPair:  pair,
		GridRange:    decimal.NewFromFloat(0.10),
		GridLevels:   10,
		OrderSize:    decimal.NewFromFloat(0.01),
		DeadZoneLow:  decimal.NewFromFloat(0.999),
		DeadZoneHigh: decimal.NewFromFloat(1.001),
	}
}

// ServerConfig configures the HTTP status/control + WebSocket surface.
type ServerConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	WebSocketPath  string `mapstructure:"websocket_path"`
	ReadTimeoutSec int    `mapstructure:"read_timeout_sec"`
	WriteTimeoutSec int   `mapstructure:"write_timeout_sec"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
}

// DefaultServerConfig returns sane HTTP server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		WebSocketPath:   "/ws",
		ReadTimeoutSec:  15,
		WriteTimeoutSec: 15,
		EnableMetrics:   true,
	}
}

// ExchangeCredentials is the opaque key/secret pair the exchange client
// requires.
type ExchangeCredentials struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// SystemConfig is the full configuration surface for the trading backend.
type SystemConfig struct {
	ReinvestmentPercent decimal.Decimal `mapstructure:"reinvestment_percent"`

	SupabaseURL            string `mapstructure:"supabase_url"`
	SupabaseServiceRoleKey string `mapstructure:"supabase_service_role_key"`

	Exchange ExchangeCredentials `mapstructure:"exchange"`

	Risk   RiskConfig   `mapstructure:"risk"`
	Server ServerConfig `mapstructure:"server"`
	Grids  []GridConfig `mapstructure:"grids"`

	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
}

// MockPersistence reports whether persistence credentials are absent, in
// which case the system runs in mock-persistence mode.
func (c SystemConfig) MockPersistence() bool {
	return c.SupabaseURL == "" || c.SupabaseServiceRoleKey == ""
}

// DefaultSystemConfig returns the full set of defaults; callers overlay
// environment/file values on top via internal/config.
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		ReinvestmentPercent: decimal.NewFromInt(70),
		Risk:                DefaultRiskConfig(),
		Server:              DefaultServerConfig(),
		RateLimitPerMinute:  60,
	}
}
