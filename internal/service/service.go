// Package service implements FinSight's domain operations on top of the
// store, the completion client, and the refresh coordinators.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/M-sasank/finsight/internal/completion"
	"github.com/M-sasank/finsight/internal/extract"
	"github.com/M-sasank/finsight/internal/prompt"
	"github.com/M-sasank/finsight/internal/storage"
)

// ErrInvalidInput marks a request the caller must fix before retrying.
var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Completer sends a prompt upstream and returns the raw response text.
type Completer interface {
	Complete(ctx context.Context, req completion.Request) (string, error)
}

// Store is the persistence surface the services need.
type Store interface {
	prompt.AssetReader
	SaveAsset(ctx context.Context, a storage.Asset) (storage.Asset, error)
	UpdateAsset(ctx context.Context, a storage.Asset) (storage.Asset, error)
	GetAsset(ctx context.Context, owner, id string) (storage.Asset, error)
	DeleteAsset(ctx context.Context, owner, id string) (storage.Asset, error)
	GetRisk(ctx context.Context, owner, symbol string) (storage.RiskSnapshot, error)
	UpsertRisk(ctx context.Context, r storage.RiskSnapshot) (storage.RiskSnapshot, error)
	AppendExchange(ctx context.Context, owner, scope, conversationID, userContent, assistantContent string) ([]storage.Message, error)
	ConversationMessages(ctx context.Context, owner, scope, conversationID string) ([]storage.Message, error)
	ConversationHistory(ctx context.Context, owner string, scopes ...string) ([]storage.ConversationSummary, error)
	ClearConversations(ctx context.Context, owner string, scopes ...string) (int64, error)
}

// Models maps the public model names accepted by the API to upstream model ids.
type Models struct {
	Fast          string
	Deep          string
	SearchDomains []string
}

// Public model names.
const (
	ModelFast = "fast"
	ModelDeep = "deep"
)

// Resolve returns the upstream model id for name. An empty name selects
// the fast model; upstream ids are accepted as is.
func (m Models) Resolve(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ModelFast, m.Fast:
		return m.Fast, nil
	case ModelDeep, m.Deep:
		return m.Deep, nil
	default:
		return "", invalid("unknown model %q", name)
	}
}

// domainsFor returns the source allow-list to send with a request to model.
func (m Models) domainsFor(model string) []string {
	if model == m.Deep {
		return nil
	}
	return m.SearchDomains
}

// Deps holds the collaborators shared by every service.
type Deps struct {
	Store     Store
	Completer Completer
	Prompts   *prompt.Assembler
	Extractor *extract.Extractor
	Models    Models
	Logger    *slog.Logger
	Now       func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Extractor == nil {
		d.Extractor = extract.New(d.Logger)
	}
	if d.Models.Fast == "" {
		d.Models.Fast = completion.DefaultFastModel
	}
	if d.Models.Deep == "" {
		d.Models.Deep = completion.DefaultDeepModel
	}
	return d
}

// completeInto builds the prompt for req, sends it to model, and extracts
// the response into dst.
func (d Deps) completeInto(ctx context.Context, req prompt.Request, model string, domains []string, schema, dst any) error {
	msgs, err := d.Prompts.Build(ctx, req)
	if err != nil {
		return fmt.Errorf("building %s prompt: %w", req.Kind, err)
	}
	raw, err := d.Completer.Complete(ctx, completion.Request{
		Model:         model,
		Messages:      msgs,
		Schema:        schema,
		SearchDomains: domains,
	})
	if err != nil {
		return err
	}
	if err := d.Extractor.Extract(raw, dst); err != nil {
		return fmt.Errorf("extracting %s response: %w", req.Kind, err)
	}
	return nil
}

// round2 rounds v to two decimal places.
func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// truncate shortens s to max runes, appending "..." when it was cut.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
