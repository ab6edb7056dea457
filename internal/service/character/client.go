package character

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"

	"github.com/zhouzirui/z-tavern/client/internal/metrics"
	model "github.com/zhouzirui/z-tavern/client/internal/model/character"
	"github.com/zhouzirui/z-tavern/client/internal/service/api"
)

// DefaultReply is used when the remote answers without a reply.
const DefaultReply = "抱歉，我无法回答这个问题。"

var ErrEmptyMessage = errors.New("message is empty")

// Transport is the subset of api.Client used by the character client.
type Transport interface {
	GetJSON(ctx context.Context, path, label string, out any) error
	PostJSON(ctx context.Context, path string, in, out any) error
}

var _ Transport = (*api.Client)(nil)

// Client talks to the character and chat endpoints. Reads degrade to the
// local catalogue; sends and voice calls return their errors.
type Client struct {
	transport Transport
	fallback  model.Store
}

// NewClient creates a character client. fallback may be nil, in which case
// failed reads return empty results.
func NewClient(transport Transport, fallback model.Store) *Client {
	if fallback == nil {
		fallback = model.NewMemoryStore(nil)
	}
	return &Client{transport: transport, fallback: fallback}
}

// characterList accepts a bare array or the paged {total, list} envelope.
type characterList []model.Character

func (l *characterList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*l = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var items []model.Character
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var envelope struct {
		Total int               `json:"total"`
		List  []model.Character `json:"list"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	*l = envelope.List
	return nil
}

// List returns the catalogue.
func (c *Client) List(ctx context.Context) ([]model.Character, error) {
	var list characterList
	if err := c.transport.GetJSON(ctx, "/characters", "/characters", &list); err != nil {
		log.Printf("[character] list failed, using local catalogue: %v", err)
		metrics.RecordFallback("list")
		return c.fallback.List(), nil
	}
	return nonNil(list), nil
}

// Search returns characters matching query.
func (c *Client) Search(ctx context.Context, query string) ([]model.Character, error) {
	path := "/characters/search?q=" + url.QueryEscape(query)
	var list characterList
	if err := c.transport.GetJSON(ctx, path, "/characters/search", &list); err != nil {
		log.Printf("[character] search %q failed, filtering locally: %v", query, err)
		metrics.RecordFallback("search")
		return c.fallback.Search(query), nil
	}
	return nonNil(list), nil
}

// Get returns one character, or nil when it does not exist.
func (c *Client) Get(ctx context.Context, id int64) (*model.Character, error) {
	var raw json.RawMessage
	if err := c.transport.GetJSON(ctx, "/characters/"+strconv.FormatInt(id, 10), "/characters/{id}", &raw); err != nil {
		log.Printf("[character] get %d failed, using local catalogue: %v", id, err)
		metrics.RecordFallback("get")
		if found, ok := c.fallback.FindByID(id); ok {
			return &found, nil
		}
		return nil, nil
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var found model.Character
	if err := json.Unmarshal(raw, &found); err != nil {
		log.Printf("[character] get %d returned malformed body: %v", id, err)
		return nil, nil
	}
	return &found, nil
}

// History returns the stored transcript for a character, empty on failure.
func (c *Client) History(ctx context.Context, id int64) ([]model.Message, error) {
	var history []model.Message
	if err := c.transport.GetJSON(ctx, "/chat/history/"+strconv.FormatInt(id, 10), "/chat/history/{id}", &history); err != nil {
		log.Printf("[character] history %d failed: %v", id, err)
		metrics.RecordFallback("history")
		return []model.Message{}, nil
	}
	if history == nil {
		return []model.Message{}, nil
	}
	return history, nil
}

// Send delivers a user message and returns the character's reply.
func (c *Client) Send(ctx context.Context, id int64, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}

	payload := struct {
		CharacterID int64  `json:"characterId"`
		Message     string `json:"message"`
	}{CharacterID: id, Message: message}

	var resp struct {
		Reply string `json:"reply"`
	}
	if err := c.transport.PostJSON(ctx, "/chat/character/send", payload, &resp); err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	if strings.TrimSpace(resp.Reply) == "" {
		return DefaultReply, nil
	}
	return resp.Reply, nil
}

// StartVoiceRecognition opens a remote recognition session and returns its id.
func (c *Client) StartVoiceRecognition(ctx context.Context) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.transport.PostJSON(ctx, "/voice/start", nil, &resp); err != nil {
		return "", fmt.Errorf("start voice recognition: %w", err)
	}
	if resp.ID == "" {
		return "", errors.New("start voice recognition: empty session id")
	}
	return resp.ID, nil
}

// StopVoiceRecognition closes the session and returns the recognised text.
func (c *Client) StopVoiceRecognition(ctx context.Context, sessionID string) (string, error) {
	payload := struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sessionID}

	var resp struct {
		Text string `json:"text"`
	}
	if err := c.transport.PostJSON(ctx, "/voice/stop", payload, &resp); err != nil {
		return "", fmt.Errorf("stop voice recognition: %w", err)
	}
	return resp.Text, nil
}

func nonNil(list []model.Character) []model.Character {
	if list == nil {
		return []model.Character{}
	}
	return list
}
