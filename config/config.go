package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds everything a run needs: process-level settings plus the
// strategy knobs. Loaded once at startup and treated as immutable for the
// duration of the run.
type Config struct {
	Symbol           string `json:"symbol"`
	DecisionInterval int    `json:"decision_interval"` // seconds between live cycles
	DryRun           bool   `json:"dry_run"`

	DataDir   string `json:"data_dir"`
	StateFile string `json:"state_file"`
	DBPath    string `json:"db_path"`

	LogLevel  string `json:"log_level"`
	LogOutput string `json:"log_output"` // console | file | both
	LogFile   string `json:"log_file"`

	OracleProvider string `json:"oracle_provider"` // openai | deepseek | rules
	OracleModel    string `json:"oracle_model"`
	OracleAPIKey   string `json:"-"`
	OracleBaseURL  string `json:"oracle_base_url"`
	OracleTimeout  int    `json:"oracle_timeout"` // seconds

	Strategy Strategy `json:"strategy"`
}

// Strategy is the knob set consumed by the trigger evaluator and the
// decision engine.
type Strategy struct {
	Budget          float64 `json:"budget"`
	DCAPercentage   float64 `json:"dca_percentage"`
	ATRMultiplier   float64 `json:"atr_multiplier"`
	PositionSizePct float64 `json:"position_size_pct"`
	MaxDrawdownPct  float64 `json:"max_drawdown_pct"`
	RSIOversold     float64 `json:"rsi_oversold"`
	RSIOverbought   float64 `json:"rsi_overbought"`
	EnableDCA       bool    `json:"enable_dca"`
	EnableATRStops  bool    `json:"enable_atr_stops"`
	EnableLLM       bool    `json:"enable_llm"`
	MinLotBTC       float64 `json:"min_lot_btc"`

	MinConfidence      int     `json:"min_confidence"`      // oracle actions below this are ignored
	CashReservePct     float64 `json:"cash_reserve_pct"`    // BUY/PROFIT scaled down to keep this much of budget in cash
	BuyCashCapPct      float64 `json:"buy_cash_cap_pct"`    // oversized buys capped to this share of available cash
	ProfitSecurePct    float64 `json:"profit_secure_pct"`   // share of excess over threshold that may be secured per cycle
	SafeguardLiquidate bool    `json:"safeguard_liquidate"` // sell everything when the drawdown safeguard fires
}

func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()

	return &Config{
		Symbol:           "BTCUSDT",
		DecisionInterval: 300,
		DryRun:           true,

		DataDir:   filepath.Join(currentDir, "data"),
		StateFile: filepath.Join(currentDir, "data", "ledger.json"),
		DBPath:    filepath.Join(currentDir, "data", "dcapilot.db"),

		LogLevel:  "info",
		LogOutput: "console",
		LogFile:   filepath.Join(currentDir, "logs", "dcapilot.log"),

		OracleProvider: "rules",
		OracleModel:    "deepseek-chat",
		OracleTimeout:  30,

		Strategy: Strategy{
			Budget:          10000,
			DCAPercentage:   3.0,
			ATRMultiplier:   1.5,
			PositionSizePct: 10.0,
			MaxDrawdownPct:  20.0,
			RSIOversold:     30,
			RSIOverbought:   70,
			EnableDCA:       true,
			EnableATRStops:  true,
			EnableLLM:       false,
			MinLotBTC:       0.0001,

			MinConfidence:      60,
			CashReservePct:     30.0,
			BuyCashCapPct:      95.0,
			ProfitSecurePct:    50.0,
			SafeguardLiquidate: false,
		},
	}
}

// Load builds a config from defaults, .env and environment variables.
func Load() *Config {
	cfg := DefaultConfig()

	_ = godotenv.Load()
	cfg.loadFromEnv()

	return cfg
}

func (c *Config) loadFromEnv() {
	setString(&c.Symbol, "DCAPILOT_SYMBOL")
	setInt(&c.DecisionInterval, "DCAPILOT_DECISION_INTERVAL")
	setBool(&c.DryRun, "DCAPILOT_DRY_RUN")

	setString(&c.DataDir, "DCAPILOT_DATA_DIR")
	setString(&c.StateFile, "DCAPILOT_STATE_FILE")
	setString(&c.DBPath, "DCAPILOT_DB_PATH")

	setString(&c.LogLevel, "DCAPILOT_LOG_LEVEL")
	setString(&c.LogOutput, "DCAPILOT_LOG_OUTPUT")
	setString(&c.LogFile, "DCAPILOT_LOG_FILE")

	setString(&c.OracleProvider, "ORACLE_PROVIDER")
	setString(&c.OracleModel, "ORACLE_MODEL")
	setString(&c.OracleAPIKey, "ORACLE_API_KEY")
	setString(&c.OracleBaseURL, "ORACLE_BASE_URL")
	setInt(&c.OracleTimeout, "ORACLE_TIMEOUT")
	if c.OracleAPIKey == "" {
		setString(&c.OracleAPIKey, "DEEPSEEK_API_KEY")
		setString(&c.OracleAPIKey, "OPENAI_API_KEY")
	}

	setFloat(&c.Strategy.Budget, "STRATEGY_BUDGET")
	setFloat(&c.Strategy.DCAPercentage, "STRATEGY_DCA_PERCENTAGE")
	setFloat(&c.Strategy.ATRMultiplier, "STRATEGY_ATR_MULTIPLIER")
	setFloat(&c.Strategy.PositionSizePct, "STRATEGY_POSITION_SIZE_PCT")
	setFloat(&c.Strategy.MaxDrawdownPct, "STRATEGY_MAX_DRAWDOWN_PCT")
	setFloat(&c.Strategy.RSIOversold, "STRATEGY_RSI_OVERSOLD")
	setFloat(&c.Strategy.RSIOverbought, "STRATEGY_RSI_OVERBOUGHT")
	setBool(&c.Strategy.EnableDCA, "STRATEGY_ENABLE_DCA")
	setBool(&c.Strategy.EnableATRStops, "STRATEGY_ENABLE_ATR_STOPS")
	setBool(&c.Strategy.EnableLLM, "STRATEGY_ENABLE_LLM")
	setFloat(&c.Strategy.MinLotBTC, "STRATEGY_MIN_LOT_BTC")
	setInt(&c.Strategy.MinConfidence, "STRATEGY_MIN_CONFIDENCE")
	setFloat(&c.Strategy.CashReservePct, "STRATEGY_CASH_RESERVE_PCT")
	setFloat(&c.Strategy.BuyCashCapPct, "STRATEGY_BUY_CASH_CAP_PCT")
	setFloat(&c.Strategy.ProfitSecurePct, "STRATEGY_PROFIT_SECURE_PCT")
	setBool(&c.Strategy.SafeguardLiquidate, "STRATEGY_SAFEGUARD_LIQUIDATE")
}

// Validate rejects configurations that cannot produce a sane run.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.DecisionInterval <= 0 {
		return fmt.Errorf("decision interval must be positive, got %d", c.DecisionInterval)
	}
	s := c.Strategy
	if s.Budget <= 0 {
		return fmt.Errorf("budget must be positive, got %.2f", s.Budget)
	}
	if s.DCAPercentage <= 0 {
		return fmt.Errorf("dca percentage must be positive, got %.2f", s.DCAPercentage)
	}
	if s.ATRMultiplier <= 0 {
		return fmt.Errorf("atr multiplier must be positive, got %.2f", s.ATRMultiplier)
	}
	if s.PositionSizePct <= 0 || s.PositionSizePct > 100 {
		return fmt.Errorf("position size pct must be in (0,100], got %.2f", s.PositionSizePct)
	}
	if s.MaxDrawdownPct <= 0 || s.MaxDrawdownPct >= 100 {
		return fmt.Errorf("max drawdown pct must be in (0,100), got %.2f", s.MaxDrawdownPct)
	}
	if s.RSIOversold < 0 || s.RSIOversold > 100 || s.RSIOverbought < 0 || s.RSIOverbought > 100 {
		return fmt.Errorf("rsi thresholds must be in [0,100]")
	}
	if s.RSIOversold >= s.RSIOverbought {
		return fmt.Errorf("rsi oversold (%.1f) must be below overbought (%.1f)", s.RSIOversold, s.RSIOverbought)
	}
	if s.MinLotBTC <= 0 {
		return fmt.Errorf("min lot must be positive, got %.8f", s.MinLotBTC)
	}
	if s.CashReservePct < 0 || s.CashReservePct >= 100 {
		return fmt.Errorf("cash reserve pct must be in [0,100), got %.2f", s.CashReservePct)
	}
	if s.BuyCashCapPct <= 0 || s.BuyCashCapPct > 100 {
		return fmt.Errorf("buy cash cap pct must be in (0,100], got %.2f", s.BuyCashCapPct)
	}
	if s.EnableLLM && c.OracleProvider != "rules" && c.OracleAPIKey == "" {
		return fmt.Errorf("oracle api key is required for provider %q", c.OracleProvider)
	}
	return nil
}

// EnsureDirectories creates the directories the run writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, filepath.Dir(c.StateFile), filepath.Dir(c.DBPath), filepath.Dir(c.LogFile)}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) {
	if val := os.Getenv(key); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			*dst = v
		}
	}
}

func setFloat(dst *float64, key string) {
	if val := os.Getenv(key); val != "" {
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = v
		}
	}
}

func setBool(dst *bool, key string) {
	if val := os.Getenv(key); val != "" {
		if v, err := strconv.ParseBool(val); err == nil {
			*dst = v
		}
	}
}
