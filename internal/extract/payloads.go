package extract

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks v against its `validate` struct tags. Values that are not
// structs (or pointers to structs) have no schema and always pass.
func Validate(v any) error {
	err := validatorInstance().Struct(v)
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return nil
	}
	return err
}

// AssetDetail is the payload returned when refreshing a tracked asset.
// PriceHistory stays raw so that a malformed history can be repaired by the
// caller instead of failing the whole refresh.
type AssetDetail struct {
	Name         string          `json:"name,omitempty" jsonschema:"description=Full company or asset name"`
	Price        float64         `json:"price" validate:"gte=0" jsonschema:"description=Latest price in the asset's trading currency"`
	Movement     float64         `json:"movement" jsonschema:"description=Percent change over the last trading day"`
	Reason       string          `json:"reason" validate:"required" jsonschema:"description=One sentence explaining the latest movement"`
	Sector       string          `json:"sector" validate:"required"`
	News         string          `json:"news" jsonschema:"description=Short blurb of the most relevant recent news"`
	PriceHistory json.RawMessage `json:"price_history" jsonschema:"type=array,description=Closing prices of the last six trading days oldest first"`
}

// RiskFactors are the quantitative inputs of a risk analysis.
type RiskFactors struct {
	VolatilityScore   float64 `json:"volatility_score" validate:"gte=0"`
	SectorTrendScore  float64 `json:"sector_trend_score"`
	DipCountLastMonth int     `json:"dip_count_last_month" validate:"gte=0"`
	SentimentClass    string  `json:"sentiment_class" validate:"required"`
}

// RiskBreakdown holds short explanations per risk dimension.
type RiskBreakdown struct {
	Volatility string `json:"volatility" validate:"required"`
	Sector     string `json:"sector" validate:"required"`
	Sentiment  string `json:"sentiment" validate:"required"`
}

// RiskAnalysis is the payload of a risk assessment for one asset.
type RiskAnalysis struct {
	AssetSymbol    string        `json:"asset_symbol" validate:"required"`
	AssetName      string        `json:"asset_name"`
	RiskLevel      string        `json:"risk_level" validate:"required,oneof=Low Moderate High" jsonschema:"enum=Low,enum=Moderate,enum=High"`
	Factors        RiskFactors   `json:"factors"`
	RiskBreakdown  RiskBreakdown `json:"risk_breakdown"`
	Confidence     float64       `json:"confidence" validate:"gte=0,lte=1"`
	Recommendation string        `json:"recommendation" validate:"required"`
}

// NewsItem is one article in a news feed.
type NewsItem struct {
	Title               string `json:"title" validate:"required"`
	Summary             string `json:"summary" validate:"required"`
	Source              string `json:"source"`
	URL                 string `json:"url"`
	PublishedDate       string `json:"published_date"`
	EffectOnYou         string `json:"effect_on_you"`
	AffectedAssetSymbol string `json:"affected_asset_symbol,omitempty"`
	ImpactOnAsset       string `json:"impact_on_asset,omitempty"`
}

// NewsFeed is the payload of a personalised news lookup.
type NewsFeed struct {
	NewsItems   []NewsItem `json:"news_items" validate:"required,dive"`
	TotalItems  int        `json:"total_items" validate:"gte=0"`
	LastUpdated string     `json:"last_updated"`
}

// StockRecommendation is the payload of a stock suggestion.
type StockRecommendation struct {
	StockName             string  `json:"stock_name" validate:"required"`
	TickerSymbol          string  `json:"ticker_symbol" validate:"required"`
	CurrentPrice          float64 `json:"current_price" validate:"gte=0"`
	PriceChangePercent24h float64 `json:"price_change_percent_24h"`
	Sector                string  `json:"sector"`
	RiskLabel             string  `json:"risk_label" validate:"required"`
	RiskReasoning         string  `json:"risk_reasoning"`
	RecommendationReason  string  `json:"recommendation_reason,omitempty"`
}
