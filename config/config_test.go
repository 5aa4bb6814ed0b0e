package config

import (
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %q, want BTCUSDT", cfg.Symbol)
	}
	if !cfg.DryRun {
		t.Error("default must be dry run")
	}
	if cfg.OracleProvider != "rules" {
		t.Errorf("oracle provider = %q, want rules by default", cfg.OracleProvider)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DCAPILOT_SYMBOL", "ETHUSDT")
	t.Setenv("STRATEGY_BUDGET", "2500.5")
	t.Setenv("STRATEGY_DCA_PERCENTAGE", "5")
	t.Setenv("STRATEGY_ENABLE_LLM", "true")
	t.Setenv("ORACLE_PROVIDER", "deepseek")
	t.Setenv("ORACLE_API_KEY", "sk-test")
	t.Setenv("STRATEGY_SAFEGUARD_LIQUIDATE", "true")

	cfg := DefaultConfig()
	cfg.loadFromEnv()

	if cfg.Symbol != "ETHUSDT" {
		t.Errorf("symbol = %q, want ETHUSDT", cfg.Symbol)
	}
	if cfg.Strategy.Budget != 2500.5 {
		t.Errorf("budget = %v, want 2500.5", cfg.Strategy.Budget)
	}
	if cfg.Strategy.DCAPercentage != 5 {
		t.Errorf("dca percentage = %v, want 5", cfg.Strategy.DCAPercentage)
	}
	if !cfg.Strategy.EnableLLM || cfg.OracleProvider != "deepseek" || cfg.OracleAPIKey != "sk-test" {
		t.Errorf("oracle settings not applied: %+v", cfg)
	}
	if !cfg.Strategy.SafeguardLiquidate {
		t.Error("safeguard liquidate flag not applied")
	}
}

func TestProviderKeyFallback(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", "sk-deepseek")

	cfg := DefaultConfig()
	cfg.loadFromEnv()

	if cfg.OracleAPIKey != "sk-deepseek" {
		t.Errorf("api key = %q, want the provider fallback", cfg.OracleAPIKey)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty symbol", func(c *Config) { c.Symbol = "" }},
		{"zero interval", func(c *Config) { c.DecisionInterval = 0 }},
		{"negative budget", func(c *Config) { c.Strategy.Budget = -1 }},
		{"zero dca pct", func(c *Config) { c.Strategy.DCAPercentage = 0 }},
		{"oversized position", func(c *Config) { c.Strategy.PositionSizePct = 150 }},
		{"drawdown 100", func(c *Config) { c.Strategy.MaxDrawdownPct = 100 }},
		{"rsi inverted", func(c *Config) { c.Strategy.RSIOversold = 80; c.Strategy.RSIOverbought = 20 }},
		{"zero min lot", func(c *Config) { c.Strategy.MinLotBTC = 0 }},
		{"reserve 100", func(c *Config) { c.Strategy.CashReservePct = 100 }},
		{"llm without key", func(c *Config) {
			c.Strategy.EnableLLM = true
			c.OracleProvider = "deepseek"
			c.OracleAPIKey = ""
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("%s accepted", tc.name)
			}
		})
	}
}
