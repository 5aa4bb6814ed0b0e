package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	deepseekmodel "github.com/cloudwego/eino-ext/components/model/deepseek"
	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"dcapilot/config"
	"dcapilot/internal/models"
)

const systemPrompt = `You are a disciplined dollar-cost-averaging Bitcoin portfolio assistant.
You receive one market snapshot with technical indicators and the current portfolio state.
Recommend exactly one action for this cycle.

Guidelines:
- BUY on meaningful dips (price well below recent averages, oversold RSI), sized modestly.
- SELL only to protect capital or lock in clearly overextended gains.
- PROFIT moves realized gains above the profit threshold out of the tradable balance.
- Keep a cash reserve; never recommend spending all available cash.
- When the picture is unclear, HOLD.

Reply with a single JSON object and nothing else:
{"action":"BUY|SELL|HOLD|PROFIT","buy_amount":0,"quantity":0,"profit_amount":0,"confidence":0,"rationale":"one sentence"}
buy_amount and profit_amount are USD, quantity is BTC. Populate only the field matching the action.
confidence is 0-100 and should honestly reflect certainty.`

// LLMOracle consults a chat model and parses its JSON reply defensively.
// Every failure path degrades to Fallback().
type LLMOracle struct {
	model   model.BaseChatModel
	name    string
	timeout time.Duration
	log     *logrus.Logger
}

// NewLLMOracle builds an oracle for the configured provider.
func NewLLMOracle(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*LLMOracle, error) {
	var (
		cm  model.BaseChatModel
		err error
	)
	switch cfg.OracleProvider {
	case "deepseek":
		cm, err = deepseekmodel.NewChatModel(ctx, &deepseekmodel.ChatModelConfig{
			APIKey:    cfg.OracleAPIKey,
			Model:     cfg.OracleModel,
			MaxTokens: 1024,
		})
	case "openai":
		maxTokens := 1024
		cm, err = openaimodel.NewChatModel(ctx, &openaimodel.ChatModelConfig{
			BaseURL:   cfg.OracleBaseURL,
			APIKey:    cfg.OracleAPIKey,
			Model:     cfg.OracleModel,
			MaxTokens: &maxTokens,
		})
	default:
		return nil, fmt.Errorf("oracle: unknown LLM provider %q", cfg.OracleProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("oracle: create %s chat model: %w", cfg.OracleProvider, err)
	}
	return &LLMOracle{
		model:   cm,
		name:    cfg.OracleProvider + "/" + cfg.OracleModel,
		timeout: time.Duration(cfg.OracleTimeout) * time.Second,
		log:     log,
	}, nil
}

// NewLLMOracleWithModel wires an already-built chat model; tests use this to
// substitute a scripted model.
func NewLLMOracleWithModel(cm model.BaseChatModel, timeout time.Duration, log *logrus.Logger) *LLMOracle {
	return &LLMOracle{model: cm, name: "llm", timeout: timeout, log: log}
}

func (o *LLMOracle) Name() string { return o.name }

func (o *LLMOracle) Evaluate(ctx context.Context, octx Context) models.OracleResult {
	callCtx, cancel := withTimeout(ctx, o.timeout)
	defer cancel()

	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(buildPrompt(octx)),
	}

	resp, err := o.model.Generate(callCtx, messages)
	if err != nil {
		o.warnf("chat model call failed: %v", err)
		return Fallback()
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		o.warnf("empty chat model response")
		return Fallback()
	}

	result, err := parseResponse(resp.Content)
	if err != nil {
		o.warnf("unparseable oracle response: %v", err)
		return Fallback()
	}
	return result
}

func (o *LLMOracle) warnf(format string, args ...interface{}) {
	if o.log != nil {
		o.log.Warnf("oracle: "+format, args...)
	}
}

// buildPrompt serializes the cycle context the way the model was prompted to
// expect it: market first, then portfolio, then recent history.
func buildPrompt(octx Context) string {
	var b strings.Builder
	snap := octx.Snapshot

	fmt.Fprintf(&b, "## Market snapshot (%s)\n", snap.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "price: %.2f  open: %.2f  high: %.2f  low: %.2f  volume: %.4f\n",
		snap.Price, snap.Open, snap.High, snap.Low, snap.Volume)
	writeIndicator(&b, "atr14", snap.ATR14)
	writeIndicator(&b, "rsi14", snap.RSI14)
	writeIndicator(&b, "sma20", snap.SMA20)
	writeIndicator(&b, "sma50", snap.SMA50)
	writeIndicator(&b, "ema12", snap.EMA12)
	writeIndicator(&b, "ema26", snap.EMA26)
	writeIndicator(&b, "macd", snap.MACD)
	writeIndicator(&b, "macd_signal", snap.MACDSignal)
	writeIndicator(&b, "bollinger_upper", snap.BollingerUpper)
	writeIndicator(&b, "bollinger_mid", snap.BollingerMid)
	writeIndicator(&b, "bollinger_lower", snap.BollingerLower)
	writeIndicator(&b, "volume_sma20", snap.VolumeSMA20)

	fmt.Fprintf(&b, "\n## Portfolio\n")
	fmt.Fprintf(&b, "cash: %.2f USD\nbtc: %.8f\nsecured profit: %.2f USD\nprofit threshold: %.2f USD\ntotal tradable value: %.2f USD\n",
		octx.Cash, octx.BTC, octx.SecuredProfit, octx.ProfitThreshold, octx.TotalValue)
	if octx.HasLastBuy {
		fmt.Fprintf(&b, "last buy price: %.2f\n", octx.LastBuyPrice)
	} else {
		fmt.Fprintf(&b, "last buy price: none yet\n")
	}
	for _, p := range octx.Positions {
		fmt.Fprintf(&b, "open lot: %.8f BTC @ %.2f, stop %.2f\n", p.Quantity, p.EntryPrice, p.StopPrice)
	}

	if len(octx.RecentTrades) > 0 {
		fmt.Fprintf(&b, "\n## Recent trades\n")
		for _, t := range octx.RecentTrades {
			fmt.Fprintf(&b, "%s %s qty=%.8f usd=%.2f @ %.2f %s\n",
				t.Timestamp.UTC().Format("2006-01-02 15:04"), t.Type, t.Quantity, t.USDAmount, t.Price, t.Reason)
		}
	}

	b.WriteString("\nGive your recommendation now as the single JSON object.")
	return b.String()
}

func writeIndicator(b *strings.Builder, name string, ind models.Indicator) {
	if ind.Valid {
		fmt.Fprintf(b, "%s: %.4f\n", name, ind.Value)
	} else {
		fmt.Fprintf(b, "%s: unavailable\n", name)
	}
}

// rawResult tolerates confidence arriving as a float and numeric fields
// arriving as strings would not; anything else malformed fails the parse and
// falls back.
type rawResult struct {
	Action       string  `json:"action"`
	BuyAmount    float64 `json:"buy_amount"`
	Quantity     float64 `json:"quantity"`
	ProfitAmount float64 `json:"profit_amount"`
	Confidence   float64 `json:"confidence"`
	Rationale    string  `json:"rationale"`
}

// parseResponse extracts the JSON object from a possibly fenced or chatty
// reply and sanitizes it into a typed result.
func parseResponse(content string) (models.OracleResult, error) {
	text := strings.TrimSpace(content)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || start >= end {
		return models.OracleResult{}, fmt.Errorf("%w: no JSON object in response", ErrOracleUnavailable)
	}

	var raw rawResult
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return models.OracleResult{}, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}

	return Sanitize(models.OracleResult{
		Action:       models.Action(raw.Action),
		BuyAmount:    raw.BuyAmount,
		Quantity:     raw.Quantity,
		ProfitAmount: raw.ProfitAmount,
		Confidence:   int(raw.Confidence),
		Rationale:    strings.TrimSpace(raw.Rationale),
	}), nil
}
