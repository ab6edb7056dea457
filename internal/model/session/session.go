package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidProfile 表示持久化的用户信息无法解析。
var ErrInvalidProfile = errors.New("invalid user profile")

// UserProfile is the authenticated user's public record.
type UserProfile struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Session is the durable record of a logged-in or guest identity.
type Session struct {
	Token      string       `json:"token"`
	User       *UserProfile `json:"userInfo,omitempty"`
	IsGuest    bool         `json:"isGuest"`
	TrialCount int          `json:"trialCount"`
}

// Credentials 登录表单。
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Registration 注册表单。
type Registration struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

// LoginResponse 登录接口响应。
type LoginResponse struct {
	Success  bool         `json:"success"`
	Message  string       `json:"message,omitempty"`
	Token    string       `json:"token"`
	UserInfo *UserProfile `json:"userInfo"`
}

// RegisterResponse 注册接口响应。
type RegisterResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Token   string `json:"token"`
}

// GuestResponse 游客登录接口响应。
type GuestResponse struct {
	Success    bool       `json:"success"`
	Message    string     `json:"message,omitempty"`
	Token      string     `json:"token"`
	TrialCount TrialCount `json:"trialCount"`
}

// TrialCount accepts both a JSON number and a numeric string; the backend
// serialises it as an untyped object.
type TrialCount int

// UnmarshalJSON implements json.Unmarshaler.
func (c *TrialCount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` {
		*c = 0
		return nil
	}

	var n json.Number
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n = json.Number(strings.TrimSpace(s))
	} else {
		n = json.Number(raw)
	}

	v, err := n.Int64()
	if err != nil {
		return fmt.Errorf("invalid trialCount %s: %w", raw, err)
	}
	if v < 0 {
		v = 0
	}
	*c = TrialCount(v)
	return nil
}

// Marshal serialises a profile for the userInfo storage key.
func (p UserProfile) Marshal() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal user profile: %w", err)
	}
	return string(data), nil
}

// ParseUserProfile validates the serialised profile read back from storage.
// An empty value yields (nil, nil).
func ParseUserProfile(raw string) (*UserProfile, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}

	var profile UserProfile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if strings.TrimSpace(profile.Username) == "" {
		return nil, fmt.Errorf("%w: username is empty", ErrInvalidProfile)
	}
	return &profile, nil
}
