// Package rest is the HTTP collaborator used for bootstrap fetches and for
// fallbacks when a realtime channel is down.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrEmptyPreferences is returned when the server answers a preference
// request without a preferences object.
var ErrEmptyPreferences = errors.New("server returned no preferences")

// APIError represents a non-2xx response from the REST API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("api error: %s (%d): %s", e.Code, e.Status, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("api error: %s (%d)", e.Code, e.Status)
	}
	if e.Message != "" {
		return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error (%d)", e.Status)
}

// Permanent reports whether repeating the request cannot succeed: any 4xx
// other than 429.
func (e *APIError) Permanent() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests
}

type apiErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client talks to the REST API on behalf of one session.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient constructs a client. A zero timeout uses 20s.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL: normalized,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// NormalizeBaseURL normalizes an API base URL and ensures it has a scheme.
func NormalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("api url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid api url: %w", err)
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("api url must include scheme (https://)")
	}
	return strings.TrimRight(value, "/"), nil
}

// SetToken sets the bearer credential sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Rooms fetches the chat room list, asking the server to include unread counts.
func (c *Client) Rooms(ctx context.Context) ([]Room, error) {
	var resp roomsResponse
	query := url.Values{}
	query.Set("includeUnreadCounts", "true")
	if err := c.doJSON(ctx, http.MethodGet, "/chat/rooms", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.ChatRooms, nil
}

// BatchUnread fetches unread counts for roomIDs in one request. Rooms the
// server omits are absent from the result.
func (c *Client) BatchUnread(ctx context.Context, roomIDs []string) ([]UnreadCount, error) {
	var resp batchUnreadResponse
	if err := c.doJSON(ctx, http.MethodPost, "/chat/messages/unreaded/batch", nil, batchUnreadRequest{RoomIDs: roomIDs}, &resp); err != nil {
		return nil, err
	}
	return resp.Counts, nil
}

// RoomUnread fetches the unread count of a single room.
func (c *Client) RoomUnread(ctx context.Context, roomID string) (int, error) {
	var resp roomUnreadResponse
	query := url.Values{}
	query.Set("roomId", roomID)
	if err := c.doJSON(ctx, http.MethodGet, "/chat/messages/unreaded/count", query, nil, &resp); err != nil {
		return 0, err
	}
	return resp.UnreadCount, nil
}

// Preferences fetches the notification preferences.
func (c *Client) Preferences(ctx context.Context) (Preferences, error) {
	return c.preferences(ctx, http.MethodGet, "/notifications/preferences", nil)
}

// UpdatePreferences replaces the notification preferences.
func (c *Client) UpdatePreferences(ctx context.Context, p Preferences) (Preferences, error) {
	return c.preferences(ctx, http.MethodPut, "/notifications/preferences", p)
}

// MuteRoom mutes chat notifications for roomID until expiresAt, or
// permanently when expiresAt is nil.
func (c *Client) MuteRoom(ctx context.Context, roomID string, expiresAt *time.Time) (Preferences, error) {
	return c.preferences(ctx, http.MethodPost, "/notifications/mute-chat/"+url.PathEscape(roomID), muteRoomRequest{MuteExpiresAt: expiresAt})
}

// UnmuteRoom removes the mute on roomID.
func (c *Client) UnmuteRoom(ctx context.Context, roomID string) (Preferences, error) {
	return c.preferences(ctx, http.MethodDelete, "/notifications/mute-chat/"+url.PathEscape(roomID), nil)
}

// MuteEvent mutes status notifications for eventID.
func (c *Client) MuteEvent(ctx context.Context, eventID string) (Preferences, error) {
	return c.preferences(ctx, http.MethodPost, "/notifications/mute-event/"+url.PathEscape(eventID), nil)
}

// UnmuteEvent removes the mute on eventID.
func (c *Client) UnmuteEvent(ctx context.Context, eventID string) (Preferences, error) {
	return c.preferences(ctx, http.MethodDelete, "/notifications/mute-event/"+url.PathEscape(eventID), nil)
}

// UnreadNotifications fetches the unread event-status notifications.
func (c *Client) UnreadNotifications(ctx context.Context) ([]Notification, error) {
	var resp unreadNotificationsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/notifications/unread", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.UnreadNotifications, nil
}

// MarkEventRead marks the notifications of eventID as read.
func (c *Client) MarkEventRead(ctx context.Context, eventID string) error {
	return c.doJSON(ctx, http.MethodPatch, "/status/events/"+url.PathEscape(eventID)+"/mark-read", nil, nil, nil)
}

func (c *Client) preferences(ctx context.Context, method, path string, reqBody any) (Preferences, error) {
	var resp preferencesEnvelope
	if err := c.doJSON(ctx, method, path, nil, reqBody, &resp); err != nil {
		return Preferences{}, err
	}
	if resp.Preferences == nil {
		return Preferences{}, ErrEmptyPreferences
	}
	return *resp.Preferences, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, reqBody any, respBody any) error {
	endpoint, err := c.buildURL(path, query)
	if err != nil {
		return err
	}

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload := apiErrorPayload{}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if len(data) > 0 {
			_ = json.Unmarshal(data, &payload)
		}
		return &APIError{
			Status:  resp.StatusCode,
			Code:    payload.Error,
			Message: payload.Message,
		}
	}

	if respBody == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) buildURL(path string, query url.Values) (string, error) {
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return "", err
	}
	rel, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", err
	}
	u := base.ResolveReference(rel)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}
