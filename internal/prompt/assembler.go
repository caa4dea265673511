// Package prompt builds the message sequence sent to the completion API from
// templates, the owner's tracked assets, and conversation history.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/M-sasank/finsight/internal/completion"
	"github.com/M-sasank/finsight/internal/storage"
)

const dateLayout = "2006-01-02"

// ErrEmptyInput is returned when a conversational request has no user text.
var ErrEmptyInput = errors.New("user input is empty")

// AssetReader is the subset of the store the assembler reads from.
type AssetReader interface {
	GetAssetBySymbol(ctx context.Context, owner, symbol string) (storage.Asset, error)
	ListOtherAssets(ctx context.Context, owner, symbol string) ([]storage.Asset, error)
	ListAssets(ctx context.Context, owner string) ([]storage.Asset, error)
}

// Request describes the prompt to build.
type Request struct {
	Kind   Kind
	Owner  string
	Symbol string
	// Name is used for asset detail lookups of assets not stored yet.
	Name      string
	Topics    string
	UserInput string
	History   []completion.Message
	// AsOf is the reference date for relative dates in the prompt.
	AsOf time.Time
}

// Assembler builds prompts.
type Assembler struct {
	tpl    *Templates
	assets AssetReader
}

// NewAssembler returns an Assembler using tpl and reading assets from assets.
func NewAssembler(tpl *Templates, assets AssetReader) *Assembler {
	return &Assembler{tpl: tpl, assets: assets}
}

// Build returns the messages for req: one system message, then history in
// order, then the new user message.
func (a *Assembler) Build(ctx context.Context, req Request) ([]completion.Message, error) {
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}
	date := asOf.Format(dateLayout)

	switch req.Kind {
	case KindChat, KindNewbie, KindGuide:
		system, err := a.tpl.render(req.Kind, false, map[string]any{"GuideText": a.tpl.guideText})
		if err != nil {
			return nil, err
		}
		return conversation(system, req)

	case KindAssetChat:
		system, err := a.tpl.render(req.Kind, false, nil)
		if err != nil {
			return nil, err
		}
		block, err := a.assetChatContext(ctx, req.Owner, req.Symbol)
		if err != nil {
			return nil, err
		}
		return conversation(withContext(block, system), req)

	case KindAssetDetail:
		name := req.Name
		if name == "" {
			name = req.Symbol
		}
		return a.oneShot(req.Kind, "", map[string]any{"Name": name, "Symbol": req.Symbol, "Date": date})

	case KindRisk:
		asset, err := a.assets.GetAssetBySymbol(ctx, req.Owner, req.Symbol)
		if err != nil {
			return nil, fmt.Errorf("loading asset %s: %w", req.Symbol, err)
		}
		return a.oneShot(req.Kind, "", map[string]any{
			"Name":         asset.Name,
			"Symbol":       asset.Symbol,
			"Price":        formatPrice(asset.Price),
			"PriceHistory": priceHistoryLines(asset.PriceHistory, asOf),
		})

	case KindNews:
		assets, err := a.assets.ListAssets(ctx, req.Owner)
		if err != nil {
			return nil, fmt.Errorf("listing tracked assets: %w", err)
		}
		focus := "covering general market movements, company developments, and economic indicators."
		if t := strings.TrimSpace(req.Topics); t != "" {
			focus = "focusing on " + t + "."
		}
		return a.oneShot(req.Kind, trackedAssetsBlock(assets), map[string]any{"Date": date, "FocusTopics": focus})

	case KindRecommendation:
		return a.oneShot(req.Kind, "", map[string]any{"Date": date})

	default:
		return nil, fmt.Errorf("unknown prompt kind %q", req.Kind)
	}
}

func (a *Assembler) oneShot(kind Kind, block string, data map[string]any) ([]completion.Message, error) {
	system, err := a.tpl.render(kind, false, data)
	if err != nil {
		return nil, err
	}
	user, err := a.tpl.render(kind, true, data)
	if err != nil {
		return nil, err
	}
	return []completion.Message{
		{Role: completion.RoleSystem, Content: withContext(block, system)},
		{Role: completion.RoleUser, Content: user},
	}, nil
}

func conversation(system string, req Request) ([]completion.Message, error) {
	if strings.TrimSpace(req.UserInput) == "" {
		return nil, ErrEmptyInput
	}
	msgs := make([]completion.Message, 0, len(req.History)+2)
	msgs = append(msgs, completion.Message{Role: completion.RoleSystem, Content: system})
	msgs = append(msgs, req.History...)
	msgs = append(msgs, completion.Message{Role: completion.RoleUser, Content: req.UserInput})
	return msgs, nil
}

// withContext prefixes the system prompt with a context block when there is one.
func withContext(block, system string) string {
	if block == "" {
		return system
	}
	return block + "\n\n" + system
}

func (a *Assembler) assetChatContext(ctx context.Context, owner, symbol string) (string, error) {
	var parts []string

	asset, err := a.assets.GetAssetBySymbol(ctx, owner, symbol)
	switch {
	case err == nil:
		parts = append(parts, assetAttributes(asset)...)
	case !errors.Is(err, storage.ErrNotFound):
		return "", fmt.Errorf("loading asset %s: %w", symbol, err)
	}

	others, err := a.assets.ListOtherAssets(ctx, owner, symbol)
	if err != nil {
		return "", fmt.Errorf("listing other assets: %w", err)
	}
	if len(others) > 0 {
		if len(parts) > 0 {
			parts = append(parts, "")
		}
		names := make([]string, len(others))
		for i, o := range others {
			names[i] = displayName(o) + " (" + o.Symbol + ")"
		}
		parts = append(parts, "Other tracked assets for context (user might ask for comparisons):", strings.Join(names, ", "))
	}
	return strings.Join(parts, "\n"), nil
}

// assetAttributes lists an asset's attributes without its identifiers.
func assetAttributes(a storage.Asset) []string {
	lines := []string{fmt.Sprintf("Context for %s (%s):", displayName(a), a.Symbol)}
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, "- "+label+": "+value)
		}
	}
	add("Price", formatPrice(a.Price))
	add("Movement", formatPrice(a.Movement)+"%")
	add("Reason", a.Reason)
	add("Sector", a.Sector)
	add("News", a.News)
	if len(a.PriceHistory) > 0 {
		prices := make([]string, len(a.PriceHistory))
		for i, p := range a.PriceHistory {
			prices[i] = formatPrice(p)
		}
		add("Price history", strings.Join(prices, ", "))
	}
	if !a.LastUpdated.IsZero() {
		add("Last updated", a.LastUpdated.UTC().Format(time.RFC3339))
	}
	return lines
}

func trackedAssetsBlock(assets []storage.Asset) string {
	if len(assets) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("The user is tracking the following assets:")
	for _, a := range assets {
		fmt.Fprintf(&sb, "\n- %s (Symbol: %s)", displayName(a), a.Symbol)
	}
	return sb.String()
}

// priceHistoryLines labels each close with a date counting back from asOf,
// the last element being the day before asOf.
func priceHistoryLines(history []float64, asOf time.Time) string {
	if len(history) == 0 {
		return "No price history available."
	}
	lines := make([]string, len(history))
	for i, p := range history {
		d := asOf.AddDate(0, 0, -(len(history) - i))
		lines[i] = fmt.Sprintf("Date: %s, Close: %s", d.Format(dateLayout), formatPrice(p))
	}
	return strings.Join(lines, "\n")
}

func displayName(a storage.Asset) string {
	if a.Name != "" {
		return a.Name
	}
	return a.Symbol
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
