package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

func init() {
	// The bot and the browser both exchange plain JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// BotConfig is the bot's runtime configuration served by /api/config.
type BotConfig struct {
	Trading  TradingConfig  `json:"trading"`
	Strategy StrategyConfig `json:"strategy"`
	Risk     RiskConfig     `json:"risk"`
	Fees     FeesConfig     `json:"fees"`
	Logging  LoggingConfig  `json:"logging"`
}

// TradingConfig holds exchange and order settings.
type TradingConfig struct {
	Symbol        string          `json:"symbol"`
	BaseURL       string          `json:"baseUrl"`
	WSBaseURL     string          `json:"wsBaseUrl"`
	OrderQuantity decimal.Decimal `json:"orderQuantity"`
	Leverage      int             `json:"leverage"`
	MarginType    MarginType      `json:"marginType"`
}

// StrategyConfig holds entry/exit tuning.
type StrategyConfig struct {
	ProfitMultiplier      float64             `json:"profitMultiplier"`
	RiskRewardRatio       float64             `json:"riskRewardRatio"`
	MaxConsecutiveLosses  int                 `json:"maxConsecutiveLosses"`
	CheckIntervalMs       int                 `json:"checkIntervalMs"`
	MinOrderBookImbalance float64             `json:"minOrderBookImbalance"`
	MinLiquidity          float64             `json:"minLiquidity"`
	DirectionPreference   DirectionPreference `json:"directionPreference"`
}

// RiskConfig holds loss limits.
type RiskConfig struct {
	MaxDailyLossUSDT decimal.Decimal `json:"maxDailyLossUSDT"`
	MaxPositions     int             `json:"maxPositions"`
	MaxRiskPerTrade  float64         `json:"maxRiskPerTrade"`
}

// FeesConfig holds exchange fee rates.
type FeesConfig struct {
	MakerFeeRate float64 `json:"makerFeeRate"`
	TakerFeeRate float64 `json:"takerFeeRate"`
}

// LoggingConfig is the bot's own logging setup.
type LoggingConfig struct {
	Level         string `json:"level"`
	LogFilePath   string `json:"logFilePath"`
	StatsFilePath string `json:"statsFilePath"`
}

// Validate checks the fields the bot would reject anyway, so the proxy can
// fail fast with a useful message.
func (c *BotConfig) Validate() error {
	switch {
	case c.Trading.Symbol == "":
		return ValidationError{Field: "trading.symbol", Message: "is required"}
	case !c.Trading.OrderQuantity.IsPositive():
		return ValidationError{Field: "trading.orderQuantity", Message: "must be greater than 0"}
	case c.Trading.Leverage < 1:
		return ValidationError{Field: "trading.leverage", Message: "must be at least 1"}
	case c.Trading.MarginType != "" && !c.Trading.MarginType.IsValid():
		return ValidationError{Field: "trading.marginType", Message: "must be ISOLATED or CROSSED"}
	case c.Strategy.DirectionPreference != "" && !c.Strategy.DirectionPreference.IsValid():
		return ValidationError{Field: "strategy.directionPreference", Message: "must be LONG, SHORT or BOTH"}
	case c.Strategy.CheckIntervalMs < 0:
		return ValidationError{Field: "strategy.checkIntervalMs", Message: "must be non-negative"}
	case c.Risk.MaxPositions < 0:
		return ValidationError{Field: "risk.maxPositions", Message: "must be non-negative"}
	case c.Fees.MakerFeeRate < 0 || c.Fees.TakerFeeRate < 0:
		return ValidationError{Field: "fees", Message: fmt.Sprintf("rates must be non-negative (maker=%v taker=%v)", c.Fees.MakerFeeRate, c.Fees.TakerFeeRate)}
	}
	return nil
}
