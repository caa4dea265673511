package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const riskColumns = `user_id, symbol, asset_name, risk_level, volatility_score, sector_trend_score, dip_count,
	sentiment_class, volatility_note, sector_note, sentiment_note, confidence, recommendation, updated_at`

// GetRisk returns owner's risk snapshot for symbol.
func (s *Store) GetRisk(ctx context.Context, owner, symbol string) (RiskSnapshot, error) {
	var r RiskSnapshot
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT `+riskColumns+` FROM risk_analyses WHERE user_id = ? AND symbol = ?`,
		owner, NormalizeSymbol(symbol),
	).Scan(&r.OwnerID, &r.Symbol, &r.AssetName, &r.RiskLevel, &r.VolatilityScore, &r.SectorTrendScore,
		&r.DipCountLastMonth, &r.SentimentClass, &r.VolatilityNote, &r.SectorNote, &r.SentimentNote,
		&r.Confidence, &r.Recommendation, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RiskSnapshot{}, ErrNotFound
	}
	if err != nil {
		return RiskSnapshot{}, wrap("get risk", err)
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return RiskSnapshot{}, wrap("get risk", fmt.Errorf("parsing updated_at: %w", err))
	}
	return r, nil
}

// UpsertRisk writes the snapshot, replacing any previous one for the same
// (owner, symbol). UpdatedAt defaults to the store clock. The write only
// happens while the asset is tracked; otherwise ErrNotFound is returned.
func (s *Store) UpsertRisk(ctx context.Context, r RiskSnapshot) (RiskSnapshot, error) {
	if r.OwnerID == "" {
		return RiskSnapshot{}, fmt.Errorf("upsert risk: owner is required")
	}
	r.Symbol = NormalizeSymbol(r.Symbol)
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = s.now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_analyses (`+riskColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM tracked_assets WHERE user_id = ? AND symbol = ?)
		ON CONFLICT(user_id, symbol) DO UPDATE SET
			asset_name = excluded.asset_name,
			risk_level = excluded.risk_level,
			volatility_score = excluded.volatility_score,
			sector_trend_score = excluded.sector_trend_score,
			dip_count = excluded.dip_count,
			sentiment_class = excluded.sentiment_class,
			volatility_note = excluded.volatility_note,
			sector_note = excluded.sector_note,
			sentiment_note = excluded.sentiment_note,
			confidence = excluded.confidence,
			recommendation = excluded.recommendation,
			updated_at = excluded.updated_at`,
		r.OwnerID, r.Symbol, r.AssetName, r.RiskLevel, r.VolatilityScore, r.SectorTrendScore,
		r.DipCountLastMonth, r.SentimentClass, r.VolatilityNote, r.SectorNote, r.SentimentNote,
		r.Confidence, r.Recommendation, formatTime(r.UpdatedAt),
		r.OwnerID, r.Symbol,
	)
	if err != nil {
		return RiskSnapshot{}, wrap("upsert risk", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return RiskSnapshot{}, wrap("upsert risk", err)
	}
	if n == 0 {
		return RiskSnapshot{}, ErrNotFound
	}
	return r, nil
}
