package models

// Action is the trade action emitted by the oracle and the decision engine.
type Action string

const (
	ActionBuy    Action = "BUY"
	ActionSell   Action = "SELL"
	ActionHold   Action = "HOLD"
	ActionProfit Action = "PROFIT"
)

// ParseAction coerces arbitrary oracle output to a valid action. Anything
// unrecognized becomes HOLD, preserving the never-crash-a-cycle contract.
func ParseAction(s string) Action {
	switch Action(normalizeAction(s)) {
	case ActionBuy:
		return ActionBuy
	case ActionSell:
		return ActionSell
	case ActionProfit:
		return ActionProfit
	default:
		return ActionHold
	}
}

func normalizeAction(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '"' {
			continue
		}
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// OracleResult is the typed result of one oracle consultation. Sizing fields
// are advisory; the engine re-derives and caps them.
type OracleResult struct {
	Action       Action  `json:"action"`
	BuyAmount    float64 `json:"buy_amount"`    // USD, BUY only
	Quantity     float64 `json:"quantity"`      // BTC, SELL only
	ProfitAmount float64 `json:"profit_amount"` // USD, PROFIT only
	Confidence   int     `json:"confidence"`    // clamped to [0,100]
	Rationale    string  `json:"rationale"`
}

// TradeDecision is the engine's final output for one cycle. Exactly one of
// the sizing fields matching Action is populated; the rest are zero.
type TradeDecision struct {
	Action       Action  `json:"action"`
	BuyAmount    float64 `json:"buy_amount"`
	Quantity     float64 `json:"quantity"`
	ProfitAmount float64 `json:"profit_amount"`
	Confidence   int     `json:"confidence"`
	Rationale    string  `json:"rationale"`
}
