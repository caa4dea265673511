package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/M-sasank/finsight/internal/completion"
	"github.com/M-sasank/finsight/internal/extract"
	"github.com/M-sasank/finsight/internal/prompt"
	"github.com/M-sasank/finsight/internal/storage"
)

const (
	chatTitleLen      = 30
	assetChatTitleLen = 50
)

// Message senders in API responses.
const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// Reply is the answer to one chat message.
type Reply struct {
	ConversationID string `json:"conversation_id"`
	Response       string `json:"response"`
}

// Summary describes one conversation in a history listing.
type Summary struct {
	ConversationID string    `json:"conversation_id"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Timestamp      time.Time `json:"timestamp"`
}

// ChatMessage is one message of a conversation as returned to clients.
type ChatMessage struct {
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatService runs general conversations of the chat kinds.
type ChatService struct {
	deps Deps
}

// NewChatService returns a ChatService.
func NewChatService(deps Deps) *ChatService {
	return &ChatService{deps: deps.withDefaults()}
}

func chatScopes() []string {
	scopes := make([]string, len(prompt.ChatKinds))
	for i, k := range prompt.ChatKinds {
		scopes[i] = string(k)
	}
	return scopes
}

// Send answers input in owner's conversation of the given kind, starting a
// new conversation when conversationID is empty.
func (s *ChatService) Send(ctx context.Context, owner, kind, input, conversationID string) (Reply, error) {
	if !prompt.IsChatKind(kind) {
		return Reply{}, invalid("unknown chat type %q", kind)
	}
	return s.deps.converse(ctx, prompt.Request{Kind: prompt.Kind(kind), Owner: owner}, kind, input, conversationID)
}

// History lists owner's conversations across the chat kinds, newest first.
func (s *ChatService) History(ctx context.Context, owner string) ([]Summary, error) {
	return s.deps.history(ctx, owner, chatTitleLen, chatScopes()...)
}

// Messages returns one of owner's conversations in order.
func (s *ChatService) Messages(ctx context.Context, owner, conversationID string) ([]ChatMessage, error) {
	for _, scope := range chatScopes() {
		msgs, err := s.deps.Store.ConversationMessages(ctx, owner, scope, conversationID)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return chatMessages(msgs), nil
		}
	}
	return nil, storage.ErrNotFound
}

// Clear deletes owner's conversations of the chat kinds.
func (s *ChatService) Clear(ctx context.Context, owner string) (int64, error) {
	return s.deps.Store.ClearConversations(ctx, owner, chatScopes()...)
}

// AssetChatService runs conversations scoped to one tracked asset.
type AssetChatService struct {
	deps Deps
}

// NewAssetChatService returns an AssetChatService.
func NewAssetChatService(deps Deps) *AssetChatService {
	return &AssetChatService{deps: deps.withDefaults()}
}

// AssetScope is the message scope of conversations about symbol.
func AssetScope(symbol string) string {
	return "asset:" + storage.NormalizeSymbol(symbol)
}

// Send answers input about symbol. The asset's stored attributes and the
// owner's other assets are given to the model as context when present.
func (s *AssetChatService) Send(ctx context.Context, owner, symbol, input, conversationID string) (Reply, error) {
	symbol = storage.NormalizeSymbol(symbol)
	if symbol == "" {
		return Reply{}, invalid("symbol is required")
	}
	return s.deps.converse(ctx, prompt.Request{Kind: prompt.KindAssetChat, Owner: owner, Symbol: symbol}, AssetScope(symbol), input, conversationID)
}

// History lists owner's conversations about symbol, newest first.
func (s *AssetChatService) History(ctx context.Context, owner, symbol string) ([]Summary, error) {
	return s.deps.history(ctx, owner, assetChatTitleLen, AssetScope(symbol))
}

// Messages returns one of owner's conversations about symbol in order.
func (s *AssetChatService) Messages(ctx context.Context, owner, symbol, conversationID string) ([]ChatMessage, error) {
	msgs, err := s.deps.Store.ConversationMessages(ctx, owner, AssetScope(symbol), conversationID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, storage.ErrNotFound
	}
	return chatMessages(msgs), nil
}

// converse appends the conversation history to req, asks the fast model,
// and stores the exchange.
func (d Deps) converse(ctx context.Context, req prompt.Request, scope, input, conversationID string) (Reply, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Reply{}, invalid("user_query is required")
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	prior, err := d.Store.ConversationMessages(ctx, req.Owner, scope, conversationID)
	if err != nil {
		return Reply{}, err
	}
	for _, m := range prior {
		req.History = append(req.History, completion.Message{Role: m.Role, Content: m.Content})
	}
	req.UserInput = input
	req.AsOf = d.Now()

	msgs, err := d.Prompts.Build(ctx, req)
	if err != nil {
		if errors.Is(err, prompt.ErrEmptyInput) {
			return Reply{}, invalid("user_query is required")
		}
		return Reply{}, err
	}
	raw, err := d.Completer.Complete(ctx, completion.Request{Model: d.Models.Fast, Messages: msgs})
	if err != nil {
		return Reply{}, err
	}
	answer := extract.Answer(raw)
	if answer == "" {
		return Reply{}, &extract.ExtractionError{Kind: extract.KindEmpty, Err: errors.New("model returned no answer")}
	}

	if _, err := d.Store.AppendExchange(ctx, req.Owner, scope, conversationID, input, answer); err != nil {
		return Reply{}, err
	}
	return Reply{ConversationID: conversationID, Response: answer}, nil
}

func (d Deps) history(ctx context.Context, owner string, titleLen int, scopes ...string) ([]Summary, error) {
	convs, err := d.Store.ConversationHistory(ctx, owner, scopes...)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, len(convs))
	for i, c := range convs {
		out[i] = Summary{
			ConversationID: c.ConversationID,
			Type:           c.Scope,
			Title:          truncate(c.FirstMessage, titleLen),
			Timestamp:      c.StartedAt,
		}
	}
	return out, nil
}

func chatMessages(msgs []storage.Message) []ChatMessage {
	out := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		sender := SenderBot
		if m.Role == storage.RoleUser {
			sender = SenderUser
		}
		out[i] = ChatMessage{Sender: sender, Content: m.Content, Timestamp: m.CreatedAt}
	}
	return out
}
