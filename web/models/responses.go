package models

import (
	"time"
)

// APIResponse represents a standard API response structure
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents an API error response
type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func NewSuccessResponse(data interface{}, message string) *APIResponse {
	return &APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func NewErrorResponse(code, message string, details map[string]string) *APIResponse {
	return &APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now(),
	}
}

// CurseResponse is the wire form of a curse handed to a caller.
type CurseResponse struct {
	CurseID    int64      `json:"curse_id"`
	Curse      string     `json:"curse"`
	UserID     *int64     `json:"user_id"`
	Blessed    bool       `json:"blessed"`
	Blessing   *int       `json:"blessing,omitempty"`
	PulledBy   *int64     `json:"pulled_by,omitempty"`
	PulledTime *time.Time `json:"pulled_time,omitempty"`
}

// BlessedCurseResponse is the trimmed form shown on a user's own profile.
type BlessedCurseResponse struct {
	CurseID  int64  `json:"curse_id"`
	Curse    string `json:"curse"`
	Blessing int    `json:"blessing"`
}

// ProfileResponse is the payload of GET /api/users.
type ProfileResponse struct {
	User          ProfileUser            `json:"user"`
	BlessedCurses []BlessedCurseResponse `json:"blessed_curses"`
}

type ProfileUser struct {
	Name           string     `json:"name"`
	Username       string     `json:"username"`
	TotalBlessings int64      `json:"totalblessings"`
	LastBlessing   *time.Time `json:"lastblessing"`
	Limiter        int        `json:"limiter"`
}

// BlessingResponse is the wire form of a blessing type.
type BlessingResponse struct {
	BlessingID  int    `json:"blessing_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// TokenResponse carries a freshly signed bearer token.
type TokenResponse struct {
	AuthToken string `json:"auth_token"`
}

// SweepResponse reports what an on-demand reclamation pass changed.
type SweepResponse struct {
	AnonymousDeleted int64 `json:"anonymous_deleted"`
	OwnedResolved    int64 `json:"owned_resolved"`
}

// ArchiveResponse reports an archive export.
type ArchiveResponse struct {
	Key    string `json:"key"`
	Curses int    `json:"curses"`
}
