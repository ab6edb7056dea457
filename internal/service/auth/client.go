package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/zhouzirui/z-tavern/client/internal/model/session"
	"github.com/zhouzirui/z-tavern/client/internal/service/api"
	"github.com/zhouzirui/z-tavern/client/internal/storage"
)

var (
	ErrUsernameRequired = errors.New("username is required")
	ErrPasswordRequired = errors.New("password is required")
	ErrMissingToken     = errors.New("remote reported success without a token")
)

// RejectedError is returned when the remote answers success=false.
type RejectedError struct {
	Op      string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return e.Op + " rejected"
	}
	return e.Op + " rejected: " + e.Message
}

// Transport is the subset of api.Client used by the auth client.
type Transport interface {
	PostJSON(ctx context.Context, path string, in, out any) error
}

var _ Transport = (*api.Client)(nil)

// Client wraps the remote auth endpoints and keeps the persisted session in
// sync with their results.
type Client struct {
	transport Transport
	kv        storage.KV
}

// NewClient creates an auth client.
func NewClient(transport Transport, kv storage.KV) *Client {
	return &Client{transport: transport, kv: kv}
}

// Login authenticates with username and password. On success the token and
// profile are persisted and stale guest keys are removed.
func (c *Client) Login(ctx context.Context, creds session.Credentials) (*session.LoginResponse, error) {
	if strings.TrimSpace(creds.Username) == "" {
		return nil, ErrUsernameRequired
	}
	if creds.Password == "" {
		return nil, ErrPasswordRequired
	}

	var resp session.LoginResponse
	if err := c.transport.PostJSON(ctx, "/auth/login", creds, &resp); err != nil {
		log.Printf("[auth] login failed: %v", err)
		return nil, fmt.Errorf("login: %w", err)
	}
	if !resp.Success {
		return &resp, &RejectedError{Op: "login", Message: resp.Message}
	}
	if resp.Token == "" {
		return &resp, fmt.Errorf("login: %w", ErrMissingToken)
	}

	if err := c.persistLogin(ctx, &resp); err != nil {
		return &resp, c.discardSession(ctx, err)
	}

	log.Printf("[auth] logged in as %s", creds.Username)
	return &resp, nil
}

// Register creates an account. When the remote returns a token the client is
// logged in immediately; no profile is persisted.
func (c *Client) Register(ctx context.Context, data session.Registration) (*session.RegisterResponse, error) {
	if strings.TrimSpace(data.Username) == "" {
		return nil, ErrUsernameRequired
	}
	if data.Password == "" {
		return nil, ErrPasswordRequired
	}

	var resp session.RegisterResponse
	if err := c.transport.PostJSON(ctx, "/auth/register", data, &resp); err != nil {
		log.Printf("[auth] register failed: %v", err)
		return nil, fmt.Errorf("register: %w", err)
	}
	if !resp.Success {
		return &resp, &RejectedError{Op: "register", Message: resp.Message}
	}

	if resp.Token != "" {
		if err := c.kv.Set(ctx, storage.KeyToken, resp.Token); err != nil {
			return &resp, fmt.Errorf("persist token: %w", err)
		}
		log.Printf("[auth] registered and logged in as %s", data.Username)
	}
	return &resp, nil
}

// GuestLogin starts a trial session.
func (c *Client) GuestLogin(ctx context.Context) (*session.GuestResponse, error) {
	var resp session.GuestResponse
	if err := c.transport.PostJSON(ctx, "/auth/guest", nil, &resp); err != nil {
		log.Printf("[auth] guest login failed: %v", err)
		return nil, fmt.Errorf("guest login: %w", err)
	}
	if !resp.Success {
		return &resp, &RejectedError{Op: "guest login", Message: resp.Message}
	}
	if resp.Token == "" {
		return &resp, fmt.Errorf("guest login: %w", ErrMissingToken)
	}

	if err := c.persistGuest(ctx, &resp); err != nil {
		return &resp, c.discardSession(ctx, err)
	}

	log.Printf("[auth] guest session started, %d trials left", resp.TrialCount)
	return &resp, nil
}

// Logout removes every persisted session key. It never calls the remote.
func (c *Client) Logout(ctx context.Context) error {
	return c.removeKeys(ctx, storage.SessionKeys...)
}

// IsLoggedIn reports whether a token is persisted.
func (c *Client) IsLoggedIn(ctx context.Context) bool {
	token, ok, err := c.kv.Get(ctx, storage.KeyToken)
	if err != nil {
		log.Printf("[auth] failed to read token: %v", err)
		return false
	}
	return ok && token != ""
}

// IsGuest reports whether the persisted session is a guest session.
func (c *Client) IsGuest(ctx context.Context) bool {
	value, ok, err := c.kv.Get(ctx, storage.KeyIsGuest)
	if err != nil {
		log.Printf("[auth] failed to read guest flag: %v", err)
		return false
	}
	return ok && value == "true"
}

// TrialCount returns the persisted remaining trial count, 0 when absent or invalid.
func (c *Client) TrialCount(ctx context.Context) int {
	value, ok, err := c.kv.Get(ctx, storage.KeyTrialCount)
	if err != nil {
		log.Printf("[auth] failed to read trial count: %v", err)
		return 0
	}
	if !ok {
		return 0
	}
	return ParseTrialCount(value)
}

// CurrentUser returns the persisted profile, or nil when absent or invalid.
func (c *Client) CurrentUser(ctx context.Context) *session.UserProfile {
	raw, ok, err := c.kv.Get(ctx, storage.KeyUserInfo)
	if err != nil {
		log.Printf("[auth] failed to read user info: %v", err)
		return nil
	}
	if !ok {
		return nil
	}
	profile, err := session.ParseUserProfile(raw)
	if err != nil {
		log.Printf("[auth] ignoring stored user info: %v", err)
		return nil
	}
	return profile
}

// Session returns the persisted session as one record.
func (c *Client) Session(ctx context.Context) session.Session {
	token, _, err := c.kv.Get(ctx, storage.KeyToken)
	if err != nil {
		log.Printf("[auth] failed to read token: %v", err)
		token = ""
	}
	return session.Session{
		Token:      token,
		User:       c.CurrentUser(ctx),
		IsGuest:    c.IsGuest(ctx),
		TrialCount: c.TrialCount(ctx),
	}
}

func (c *Client) persistLogin(ctx context.Context, resp *session.LoginResponse) error {
	if err := c.kv.Set(ctx, storage.KeyToken, resp.Token); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	if resp.UserInfo != nil {
		encoded, err := resp.UserInfo.Marshal()
		if err != nil {
			return err
		}
		if err := c.kv.Set(ctx, storage.KeyUserInfo, encoded); err != nil {
			return fmt.Errorf("persist user info: %w", err)
		}
	} else if err := c.removeKeys(ctx, storage.KeyUserInfo); err != nil {
		return err
	}
	return c.removeKeys(ctx, storage.KeyIsGuest, storage.KeyTrialCount)
}

func (c *Client) persistGuest(ctx context.Context, resp *session.GuestResponse) error {
	if err := c.kv.Set(ctx, storage.KeyToken, resp.Token); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	if err := c.kv.Set(ctx, storage.KeyIsGuest, "true"); err != nil {
		return fmt.Errorf("persist guest flag: %w", err)
	}
	if err := c.kv.Set(ctx, storage.KeyTrialCount, strconv.Itoa(int(resp.TrialCount))); err != nil {
		return fmt.Errorf("persist trial count: %w", err)
	}
	return c.removeKeys(ctx, storage.KeyUserInfo)
}

// discardSession 在会话只写入一半时清空全部会话键，返回原始错误。
func (c *Client) discardSession(ctx context.Context, cause error) error {
	if err := c.removeKeys(ctx, storage.SessionKeys...); err != nil {
		log.Printf("[auth] discard partial session: %v", err)
		return errors.Join(cause, err)
	}
	return cause
}

func (c *Client) removeKeys(ctx context.Context, keys ...string) error {
	var errs []error
	for _, key := range keys {
		if err := c.kv.Remove(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// ParseTrialCount parses a persisted trial count, mapping invalid or negative
// values to 0.
func ParseTrialCount(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
