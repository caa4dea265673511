package storage

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist or belongs
// to a different owner.
var ErrNotFound = errors.New("not found")

// HistoryLen is the fixed number of points kept in Asset.PriceHistory.
const HistoryLen = 6

// StoreError wraps a persistence I/O failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// Asset is a tracked financial asset owned by a single user.
type Asset struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"-"`
	Symbol       string    `json:"symbol"`
	Name         string    `json:"name"`
	Price        float64   `json:"price"`
	Movement     float64   `json:"movement"`
	Reason       string    `json:"reason"`
	Sector       string    `json:"sector"`
	News         string    `json:"news"`
	PriceHistory []float64 `json:"price_history"`
	CreatedAt    time.Time `json:"created_at"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID             int64
	ConversationID string
	OwnerID        string
	Role           string
	Scope          string // chat kind, or "asset:<SYMBOL>"
	Content        string
	CreatedAt      time.Time
}

// ConversationSummary describes one conversation for history listings.
type ConversationSummary struct {
	ConversationID string
	Scope          string
	FirstMessage   string
	StartedAt      time.Time
}

// RiskSnapshot is the latest risk analysis for one owner's asset.
type RiskSnapshot struct {
	OwnerID           string
	Symbol            string
	AssetName         string
	RiskLevel         string
	VolatilityScore   float64
	SectorTrendScore  float64
	DipCountLastMonth int
	SentimentClass    string
	VolatilityNote    string
	SectorNote        string
	SentimentNote     string
	Confidence        float64
	Recommendation    string
	UpdatedAt         time.Time
}
