package state

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	model "github.com/zhouzirui/z-tavern/client/internal/model/character"
)

var (
	ErrNoCharacter  = errors.New("no character selected")
	ErrEmptyMessage = errors.New("message is empty")
	ErrNoRecognizer = errors.New("voice recognition is not available")
)

// 面向用户的错误提示。
const (
	MsgSelectCharacter  = "请先选择一个角色"
	MsgSendFailed       = "发送消息失败，请稍后再试"
	MsgVoiceStartFailed = "开始语音识别失败，请稍后再试"
	MsgVoiceFailed      = "语音识别失败，请稍后再试"
	greetingTemplate    = "你好！我是%s，很高兴与你交流。"
)

// CharacterSource is the remote side of the chat store; character.Client
// implements it.
type CharacterSource interface {
	List(ctx context.Context) ([]model.Character, error)
	Search(ctx context.Context, query string) ([]model.Character, error)
	History(ctx context.Context, characterID int64) ([]model.Message, error)
	Send(ctx context.Context, characterID int64, message string) (string, error)
}

// VoiceRecognizer starts and stops a recognition session. Both
// character.Client (remote only) and voice.Recorder implement it.
type VoiceRecognizer interface {
	StartVoiceRecognition(ctx context.Context) (string, error)
	StopVoiceRecognition(ctx context.Context, sessionID string) (string, error)
}

// ChatSnapshot is an immutable copy of the chat session state.
type ChatSnapshot struct {
	Characters []model.Character `json:"characters"`
	Selected   *model.Character  `json:"selected"`
	Transcript []model.Message   `json:"transcript"`
	Loading    bool              `json:"loading"`
	Error      string            `json:"error,omitempty"`
}

// ChatOption customises a ChatStore.
type ChatOption func(*ChatStore)

// WithClock overrides the message timestamp source.
func WithClock(now func() time.Time) ChatOption {
	return func(s *ChatStore) {
		if now != nil {
			s.now = now
		}
	}
}

// ChatStore holds the catalogue, the selected character and its transcript.
// Network calls run outside the lock; the last response to resolve wins.
type ChatStore struct {
	source CharacterSource
	voice  VoiceRecognizer
	now    func() time.Time

	mu         sync.RWMutex
	characters []model.Character
	selected   *model.Character
	transcript []model.Message
	loading    bool
	err        string
	lastID     int64

	subs hub[ChatSnapshot]
}

// NewChatStore creates an empty chat store. voice may be nil when no
// recognizer is configured.
func NewChatStore(source CharacterSource, voice VoiceRecognizer, opts ...ChatOption) *ChatStore {
	s := &ChatStore{
		source:     source,
		voice:      voice,
		now:        time.Now,
		characters: []model.Character{},
		transcript: []model.Message{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadCharacters replaces the catalogue with the remote list. Failures are
// logged and the current catalogue is kept.
func (s *ChatStore) LoadCharacters(ctx context.Context) {
	s.fetchCharacters(func() ([]model.Character, error) {
		return s.source.List(ctx)
	})
}

// SearchCharacters replaces the catalogue with the characters matching query.
func (s *ChatStore) SearchCharacters(ctx context.Context, query string) {
	s.fetchCharacters(func() ([]model.Character, error) {
		return s.source.Search(ctx, query)
	})
}

func (s *ChatStore) fetchCharacters(fetch func() ([]model.Character, error)) {
	s.update(func() {
		s.loading = true
		s.err = ""
	})

	list, err := fetch()
	if err != nil {
		log.Printf("[state] fetch characters failed: %v", err)
		s.update(func() { s.loading = false })
		return
	}

	s.update(func() {
		s.characters = cloneCharacters(list)
		s.loading = false
	})
}

// SelectCharacter starts a session with c: the transcript is reset to a
// greeting, then replaced by the stored history when there is any and c is
// still selected.
func (s *ChatStore) SelectCharacter(ctx context.Context, c model.Character) {
	s.update(func() {
		selected := c
		s.selected = &selected
		s.transcript = []model.Message{}
		s.appendLocked(fmt.Sprintf(greetingTemplate, c.Name), model.SenderAI)
	})

	history, err := s.source.History(ctx, c.ID)
	if err != nil {
		log.Printf("[state] load history for character %d failed: %v", c.ID, err)
		return
	}
	if len(history) == 0 {
		return
	}

	s.update(func() {
		if s.selected == nil || s.selected.ID != c.ID {
			log.Printf("[state] dropping history for character %d, selection changed", c.ID)
			return
		}
		s.transcript = append([]model.Message(nil), history...)
	})
}

// SendMessage appends text as a user message, sends it and appends the reply.
func (s *ChatStore) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	var characterID int64
	noCharacter := false
	s.update(func() {
		if s.selected == nil {
			s.err = MsgSelectCharacter
			noCharacter = true
			return
		}
		characterID = s.selected.ID
		s.appendLocked(text, model.SenderUser)
		s.loading = true
	})
	if noCharacter {
		return ErrNoCharacter
	}

	reply, err := s.source.Send(ctx, characterID, text)
	if err != nil {
		log.Printf("[state] send to character %d failed: %v", characterID, err)
		s.update(func() {
			s.err = MsgSendFailed
			s.loading = false
		})
		return err
	}

	s.update(func() {
		s.appendLocked(reply, model.SenderAI)
		s.loading = false
	})
	return nil
}

// AddMessage appends a message and returns it.
func (s *ChatStore) AddMessage(text string, sender model.Sender) model.Message {
	var msg model.Message
	s.update(func() {
		msg = s.appendLocked(text, sender)
	})
	return msg
}

// ClearCurrentSession drops the selection and the transcript.
func (s *ChatStore) ClearCurrentSession() {
	s.update(func() {
		s.selected = nil
		s.transcript = []model.Message{}
	})
}

// SetError sets the view error; an empty message clears it.
func (s *ChatStore) SetError(message string) {
	s.update(func() { s.err = message })
}

// StartVoiceRecognition opens a recognition session and returns its id.
func (s *ChatStore) StartVoiceRecognition(ctx context.Context) (string, error) {
	if s.voice == nil {
		s.SetError(MsgVoiceStartFailed)
		return "", ErrNoRecognizer
	}
	id, err := s.voice.StartVoiceRecognition(ctx)
	if err != nil {
		log.Printf("[state] start voice recognition failed: %v", err)
		s.SetError(MsgVoiceStartFailed)
		return "", err
	}
	return id, nil
}

// StopVoiceRecognition ends the session and returns the recognised text.
func (s *ChatStore) StopVoiceRecognition(ctx context.Context, sessionID string) (string, error) {
	if s.voice == nil {
		s.SetError(MsgVoiceFailed)
		return "", ErrNoRecognizer
	}
	text, err := s.voice.StopVoiceRecognition(ctx, sessionID)
	if err != nil {
		log.Printf("[state] stop voice recognition %s failed: %v", sessionID, err)
		s.SetError(MsgVoiceFailed)
		return "", err
	}
	return text, nil
}

// Snapshot returns a copy of the current state.
func (s *ChatStore) Snapshot() ChatSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel receiving a snapshot after every change.
func (s *ChatStore) Subscribe() (<-chan ChatSnapshot, func()) {
	return s.subs.subscribe()
}

func (s *ChatStore) update(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
	s.subs.publish(s.snapshotLocked())
}

// appendLocked assigns an id greater than every id in the transcript and
// every id handed out before.
func (s *ChatStore) appendLocked(text string, sender model.Sender) model.Message {
	now := s.now()
	id := now.UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	for _, m := range s.transcript {
		if m.ID >= id {
			id = m.ID + 1
		}
	}
	s.lastID = id

	msg := model.Message{ID: id, Text: text, Sender: sender, Timestamp: now}
	s.transcript = append(s.transcript, msg)
	return msg
}

func (s *ChatStore) snapshotLocked() ChatSnapshot {
	snap := ChatSnapshot{
		Characters: cloneCharacters(s.characters),
		Transcript: append([]model.Message{}, s.transcript...),
		Loading:    s.loading,
		Error:      s.err,
	}
	if s.selected != nil {
		selected := *s.selected
		snap.Selected = &selected
	}
	return snap
}

func cloneCharacters(list []model.Character) []model.Character {
	return append([]model.Character{}, list...)
}
