// Package cli wires the commands: run (live loop), backtest, status and init.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dcapilot/config"
	"dcapilot/internal/backtest"
	"dcapilot/internal/display"
	"dcapilot/internal/exchange"
	"dcapilot/internal/indicators"
	"dcapilot/internal/marketdata"
	"dcapilot/internal/models"
	"dcapilot/internal/monitor"
	"dcapilot/internal/oracle"
	"dcapilot/internal/portfolio"
	"dcapilot/internal/storage"
	"dcapilot/internal/strategy"
	"dcapilot/internal/trader"
)

const version = "0.3.0"

// Exchange step size for BTC spot quantity rounding.
const btcStepSize = 0.00001

func NewRootCmd() *cobra.Command {
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:   "dcapilot",
		Short: "dcapilot - DCA Bitcoin trading copilot",
		Long: `dcapilot runs a dollar-cost-averaging Bitcoin strategy: technical triggers
decide when to act, an optional LLM oracle refines the decision, and every
cycle leaves an auditable trade record behind. Backtests replay the same
engine over historical candles.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return cfg.EnsureDirectories()
		},
	}

	rootCmd.AddCommand(newRunCmd(cfg))
	rootCmd.AddCommand(newBacktestCmd(cfg))
	rootCmd.AddCommand(newStatusCmd(cfg))
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newRunCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the live decision loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			live, _ := cmd.Flags().GetBool("live")
			if live {
				cfg.DryRun = false
			}

			log := monitor.NewLogger(cfg.LogLevel, cfg.LogOutput, cfg.LogFile)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			orc, err := buildOracle(ctx, cfg, log)
			if err != nil {
				return err
			}
			log.Infof("oracle: %s", orc.Name())

			store, err := storage.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			eng := strategy.NewEngine(cfg.Strategy, orc, log)
			executor := exchange.NewPaperExecutor(btcStepSize, cfg.Strategy.MinLotBTC, 0)

			t, err := trader.New(cfg, eng, executor, store, log)
			if err != nil {
				return err
			}
			return t.Run(ctx)
		},
	}
	cmd.Flags().Bool("live", false, "Apply decisions to the books instead of dry-run logging")
	return cmd
}

func newBacktestCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay the strategy over historical candles",
		Long: `Replay the decision engine over daily candles, either fetched from Binance
or Yahoo Finance, or loaded from a CSV written by a previous run.
Example: dcapilot backtest --days 365 --source binance`,
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			source, _ := cmd.Flags().GetString("source")
			csvPath, _ := cmd.Flags().GetString("csv")
			saveCSV, _ := cmd.Flags().GetString("save-csv")

			log := monitor.NewLogger(cfg.LogLevel, cfg.LogOutput, cfg.LogFile)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			candles, err := loadCandles(ctx, cfg, source, csvPath, days)
			if err != nil {
				return err
			}
			log.Infof("loaded %d candles (%s .. %s)", len(candles),
				candles[0].Timestamp.Format("2006-01-02"), candles[len(candles)-1].Timestamp.Format("2006-01-02"))

			if saveCSV != "" {
				if err := marketdata.WriteCandlesCSV(saveCSV, candles); err != nil {
					return err
				}
				log.Infof("candles saved to %s", saveCSV)
			}

			snaps, err := indicators.BuildSeries(candles)
			if err != nil {
				return err
			}

			orc, err := buildOracle(ctx, cfg, log)
			if err != nil {
				return err
			}
			eng := strategy.NewEngine(cfg.Strategy, orc, log)
			led := portfolio.NewLedger(cfg.Strategy.Budget)

			started := time.Now().UTC()
			res, err := backtest.Run(ctx, eng, led, snaps)
			if err != nil {
				return err
			}

			store, err := storage.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()
			runID, err := store.CreateRun(ctx, storage.RunKindBacktest, cfg.Symbol, started, res.InitialValue)
			if err != nil {
				return err
			}
			if err := store.InsertTrades(ctx, runID, res.Trades); err != nil {
				return err
			}
			if err := store.FinishRun(ctx, runID, time.Now().UTC(), res.FinalValue, res.NetProfit); err != nil {
				return err
			}

			fmt.Println(display.BacktestReport(cfg.Symbol, res))
			return nil
		},
	}
	cmd.Flags().Int("days", 365, "How many daily candles to fetch")
	cmd.Flags().String("source", "binance", "Candle source: binance | yahoo")
	cmd.Flags().String("csv", "", "Load candles from a CSV file instead of fetching")
	cmd.Flags().String("save-csv", "", "Save the fetched candles to a CSV file")
	return cmd
}

func loadCandles(ctx context.Context, cfg *config.Config, source, csvPath string, days int) ([]models.Candle, error) {
	if csvPath != "" {
		return marketdata.LoadCandlesCSV(csvPath)
	}
	switch source {
	case "binance":
		return marketdata.NewBinanceClient().Klines(ctx, cfg.Symbol, "1d", days)
	case "yahoo":
		end := time.Now().UTC()
		start := end.AddDate(0, 0, -days)
		return marketdata.NewYahooClient("BTC-USD").DailyCandles(start, end)
	}
	return nil, fmt.Errorf("unknown candle source %q (want binance or yahoo)", source)
}

func newStatusCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the persisted portfolio at the current price",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := storage.LoadState(cfg.StateFile)
			if err != nil {
				return fmt.Errorf("no saved session (run `dcapilot run` first): %w", err)
			}
			led, err := portfolio.FromState(state)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			price, err := marketdata.NewBinanceClient().TickerPrice(ctx, cfg.Symbol)
			if err != nil {
				return err
			}

			fmt.Println(display.PortfolioStatus(cfg.Symbol, led, price))
			return nil
		},
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactively write a .env configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInitWizard()
		},
	}
}

func runInitWizard() error {
	answers := struct {
		Budget   string
		DropPct  string
		Provider string
		APIKey   string
	}{}

	questions := []*survey.Question{
		{
			Name:     "budget",
			Prompt:   &survey.Input{Message: "Trading budget (USD):", Default: "10000"},
			Validate: validatePositiveNumber,
		},
		{
			Name:     "droppct",
			Prompt:   &survey.Input{Message: "DCA drop trigger (%):", Default: "3"},
			Validate: validatePositiveNumber,
		},
		{
			Name: "provider",
			Prompt: &survey.Select{
				Message: "Decision oracle:",
				Options: []string{"rules", "deepseek", "openai"},
				Default: "rules",
			},
		},
	}
	if err := survey.Ask(questions, &answers); err != nil {
		return err
	}

	if answers.Provider != "rules" {
		prompt := &survey.Password{Message: fmt.Sprintf("%s API key:", answers.Provider)}
		if err := survey.AskOne(prompt, &answers.APIKey, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "STRATEGY_BUDGET=%s\n", answers.Budget)
	fmt.Fprintf(&b, "STRATEGY_DCA_PERCENTAGE=%s\n", answers.DropPct)
	fmt.Fprintf(&b, "ORACLE_PROVIDER=%s\n", answers.Provider)
	if answers.Provider != "rules" {
		fmt.Fprintf(&b, "STRATEGY_ENABLE_LLM=true\n")
		fmt.Fprintf(&b, "ORACLE_API_KEY=%s\n", answers.APIKey)
	}

	if err := os.WriteFile(".env", []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write .env: %w", err)
	}
	fmt.Println("Configuration written to .env")
	return nil
}

func validatePositiveNumber(val interface{}) error {
	s, ok := val.(string)
	if !ok {
		return fmt.Errorf("expected a number")
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f <= 0 {
		return fmt.Errorf("must be a positive number")
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dcapilot v%s\n", version)
		},
	}
}

// buildOracle picks the configured oracle. The rule oracle is the default and
// the fallback when the LLM is disabled.
func buildOracle(ctx context.Context, cfg *config.Config, log *logrus.Logger) (oracle.Oracle, error) {
	if cfg.Strategy.EnableLLM && cfg.OracleProvider != "rules" {
		return oracle.NewLLMOracle(ctx, cfg, log)
	}
	return oracle.NewRuleOracle(cfg.Strategy), nil
}
