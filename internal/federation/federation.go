// Package federation implements the federation admin surface described by
// federation/mod.rs: per-room toggles for whether incoming federated
// traffic is handled at all, plus a well-known fetch helper for support
// contact discovery. Room state lives behind the pool like anything else;
// the well-known fetch is a plain outbound HTTP call with no pool
// involvement, since it touches no local storage.
package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ChuLiYu/relayd/internal/pool"
	"github.com/ChuLiYu/relayd/internal/storage"
)

// WellKnownSupport mirrors the shape fetch_support_well_known reads from
// /.well-known/matrix/support.
type WellKnownSupport struct {
	Contacts    []Contact `json:"contacts,omitempty"`
	SupportPage string    `json:"support_page,omitempty"`
}

// Contact is one entry in WellKnownSupport.Contacts.
type Contact struct {
	EmailAddress string `json:"email_address,omitempty"`
	MatrixID     string `json:"matrix_id,omitempty"`
	Role         string `json:"role,omitempty"`
}

// Manager tracks per-room federation enablement and fetches remote
// well-known files.
type Manager struct {
	pool   *pool.Pool
	kv     pool.Map
	client *http.Client
}

// New builds a Manager. client may be nil, in which case http.DefaultClient
// is used.
func New(p *pool.Pool, kv pool.Map, client *http.Client) *Manager {
	if client == nil {
		client = http.DefaultClient
	}
	return &Manager{pool: p, kv: kv, client: client}
}

func roomKey(roomID string) []byte {
	return []byte("fed_disabled:" + roomID)
}

// DisableRoom mirrors federation_commands::disable_room: incoming pdus for
// roomID stop being processed until re-enabled.
func (m *Manager) DisableRoom(ctx context.Context, roomID string) error {
	writable, ok := m.kv.(*storage.Map)
	if !ok {
		return fmt.Errorf("federation: manager requires a writable storage.Map")
	}
	return writable.PutBlocking(roomKey(roomID), []byte{1})
}

// EnableRoom mirrors federation_commands::enable_room.
func (m *Manager) EnableRoom(ctx context.Context, roomID string) error {
	writable, ok := m.kv.(*storage.Map)
	if !ok {
		return fmt.Errorf("federation: manager requires a writable storage.Map")
	}
	return writable.PutBlocking(roomKey(roomID), []byte{0})
}

// IsRoomDisabled reports whether incoming federation handling for roomID is
// currently turned off. A room with no stored entry is treated as enabled.
func (m *Manager) IsRoomDisabled(ctx context.Context, roomID string) (bool, error) {
	h, err := m.pool.Execute(ctx, pool.NewGet(m.kv, roomKey(roomID)))
	if err != nil {
		if err == storage.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("federation: read room state: %w", err)
	}
	defer h.Release()
	return len(h.Bytes()) == 1 && h.Bytes()[0] == 1, nil
}

// FetchSupportWellKnown mirrors fetch_support_well_known: fetches
// https://{serverName}/.well-known/matrix/support and decodes it.
func (m *Manager) FetchSupportWellKnown(ctx context.Context, serverName string) (*WellKnownSupport, error) {
	url := fmt.Sprintf("https://%s/.well-known/matrix/support", serverName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("federation: build well-known request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("federation: fetch well-known: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("federation: well-known returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("federation: read well-known body: %w", err)
	}

	var out WellKnownSupport
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("federation: decode well-known: %w", err)
	}
	return &out, nil
}
