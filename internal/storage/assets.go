package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const assetColumns = `id, user_id, symbol, name, price, movement, reason, sector, news, price_history, created_at, last_updated`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(r rowScanner) (Asset, error) {
	var a Asset
	var history, createdAt, lastUpdated string
	if err := r.Scan(&a.ID, &a.OwnerID, &a.Symbol, &a.Name, &a.Price, &a.Movement,
		&a.Reason, &a.Sector, &a.News, &history, &createdAt, &lastUpdated); err != nil {
		return Asset{}, err
	}
	if err := json.Unmarshal([]byte(history), &a.PriceHistory); err != nil || len(a.PriceHistory) != HistoryLen {
		// A corrupt column must not hide the row.
		a.PriceHistory = flatHistory(a.Price)
	}
	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return Asset{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.LastUpdated, err = parseTime(lastUpdated); err != nil {
		return Asset{}, fmt.Errorf("parsing last_updated: %w", err)
	}
	return a, nil
}

// NormalizeSymbol returns the canonical (trimmed, upper-case) form of a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func flatHistory(price float64) []float64 {
	h := make([]float64, HistoryLen)
	for i := range h {
		h[i] = price
	}
	return h
}

// SaveAsset inserts a new asset or updates the detail columns of the existing
// (owner, symbol) row. ID and CreatedAt of an existing row are preserved.
// LastUpdated is set to the store clock when zero.
func (s *Store) SaveAsset(ctx context.Context, a Asset) (Asset, error) {
	if a.OwnerID == "" {
		return Asset{}, fmt.Errorf("save asset: owner is required")
	}
	a.Symbol = NormalizeSymbol(a.Symbol)
	now := s.now().UTC()
	if a.LastUpdated.IsZero() {
		a.LastUpdated = now
	}
	history, err := json.Marshal(a.PriceHistory)
	if err != nil {
		return Asset{}, fmt.Errorf("marshaling price history: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Asset{}, wrap("save asset", err)
	}
	defer tx.Rollback()

	var existingID, createdAt string
	err = tx.QueryRowContext(ctx,
		`SELECT id, created_at FROM tracked_assets WHERE user_id = ? AND symbol = ?`,
		a.OwnerID, a.Symbol,
	).Scan(&existingID, &createdAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tracked_assets (`+assetColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.OwnerID, a.Symbol, a.Name, a.Price, a.Movement, a.Reason, a.Sector, a.News,
			string(history), formatTime(a.CreatedAt), formatTime(a.LastUpdated),
		)
		if err != nil {
			return Asset{}, wrap("insert asset", err)
		}
	case err != nil:
		return Asset{}, wrap("save asset", err)
	default:
		a.ID = existingID
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return Asset{}, wrap("save asset", fmt.Errorf("parsing created_at: %w", err))
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE tracked_assets
			SET name = CASE WHEN ? = '' THEN name ELSE ? END,
			    price = ?, movement = ?, reason = ?, sector = ?, news = ?, price_history = ?, last_updated = ?
			WHERE id = ? AND user_id = ?`,
			a.Name, a.Name, a.Price, a.Movement, a.Reason, a.Sector, a.News,
			string(history), formatTime(a.LastUpdated), a.ID, a.OwnerID,
		)
		if err != nil {
			return Asset{}, wrap("update asset", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Asset{}, wrap("save asset", err)
	}
	return a, nil
}

// UpdateAsset overwrites the detail columns of an existing asset, matched by
// ID and owner. It never inserts: ErrNotFound is returned when the row is gone,
// so a refresh racing a delete cannot resurrect the asset.
func (s *Store) UpdateAsset(ctx context.Context, a Asset) (Asset, error) {
	if a.OwnerID == "" || a.ID == "" {
		return Asset{}, fmt.Errorf("update asset: owner and id are required")
	}
	a.Symbol = NormalizeSymbol(a.Symbol)
	if a.LastUpdated.IsZero() {
		a.LastUpdated = s.now().UTC()
	}
	history, err := json.Marshal(a.PriceHistory)
	if err != nil {
		return Asset{}, fmt.Errorf("marshaling price history: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tracked_assets
		SET name = CASE WHEN ? = '' THEN name ELSE ? END,
		    price = ?, movement = ?, reason = ?, sector = ?, news = ?, price_history = ?, last_updated = ?
		WHERE id = ? AND user_id = ?`,
		a.Name, a.Name, a.Price, a.Movement, a.Reason, a.Sector, a.News,
		string(history), formatTime(a.LastUpdated), a.ID, a.OwnerID,
	)
	if err != nil {
		return Asset{}, wrap("update asset", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Asset{}, wrap("update asset", err)
	}
	if n == 0 {
		return Asset{}, ErrNotFound
	}
	return a, nil
}

// GetAsset returns the asset with the given id if it belongs to owner.
func (s *Store) GetAsset(ctx context.Context, owner, id string) (Asset, error) {
	a, err := scanAsset(s.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM tracked_assets WHERE id = ? AND user_id = ?`, id, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return Asset{}, ErrNotFound
	}
	return a, wrap("get asset", err)
}

// GetAssetBySymbol returns owner's asset with the given symbol.
func (s *Store) GetAssetBySymbol(ctx context.Context, owner, symbol string) (Asset, error) {
	a, err := scanAsset(s.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM tracked_assets WHERE user_id = ? AND symbol = ?`, owner, NormalizeSymbol(symbol)))
	if errors.Is(err, sql.ErrNoRows) {
		return Asset{}, ErrNotFound
	}
	return a, wrap("get asset by symbol", err)
}

// ListAssets returns owner's assets, newest first.
func (s *Store) ListAssets(ctx context.Context, owner string) ([]Asset, error) {
	return s.queryAssets(ctx, "list assets",
		`SELECT `+assetColumns+` FROM tracked_assets WHERE user_id = ? ORDER BY created_at DESC, id ASC`, owner)
}

// ListOtherAssets returns owner's assets except symbol, ordered by symbol.
func (s *Store) ListOtherAssets(ctx context.Context, owner, symbol string) ([]Asset, error) {
	return s.queryAssets(ctx, "list other assets",
		`SELECT `+assetColumns+` FROM tracked_assets WHERE user_id = ? AND symbol != ? ORDER BY symbol ASC`,
		owner, NormalizeSymbol(symbol))
}

// ListStaleAssets returns up to limit assets of any owner whose last update
// is before cutoff, oldest first. Used by the background refresher only.
func (s *Store) ListStaleAssets(ctx context.Context, cutoff time.Time, limit int) ([]Asset, error) {
	return s.queryAssets(ctx, "list stale assets",
		`SELECT `+assetColumns+` FROM tracked_assets WHERE last_updated < ? ORDER BY last_updated ASC LIMIT ?`,
		formatTime(cutoff), limit)
}

func (s *Store) queryAssets(ctx context.Context, op, query string, args ...any) ([]Asset, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var results []Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		results = append(results, a)
	}
	return results, wrap(op, rows.Err())
}

// DeleteAsset removes owner's asset and its risk snapshot. It returns the
// deleted row, or ErrNotFound if no such asset belongs to owner.
func (s *Store) DeleteAsset(ctx context.Context, owner, id string) (Asset, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Asset{}, wrap("delete asset", err)
	}
	defer tx.Rollback()

	a, err := scanAsset(tx.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM tracked_assets WHERE id = ? AND user_id = ?`, id, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return Asset{}, ErrNotFound
	}
	if err != nil {
		return Asset{}, wrap("delete asset", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tracked_assets WHERE id = ? AND user_id = ?`, id, owner); err != nil {
		return Asset{}, wrap("delete asset", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM risk_analyses WHERE user_id = ? AND symbol = ?`, owner, a.Symbol); err != nil {
		return Asset{}, wrap("delete risk snapshot", err)
	}
	if err := tx.Commit(); err != nil {
		return Asset{}, wrap("delete asset", err)
	}
	return a, nil
}
