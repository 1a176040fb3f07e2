package feed

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/rickgao/upstox-data/internal/decode"
)

// Mode re-exports the feed verbosity levels so callers only need this
// package for the control surface.
type Mode = decode.Mode

const (
	ModeLTPC         = decode.ModeLTPC
	ModeFull         = decode.ModeFull
	ModeOptionGreeks = decode.ModeOptionGreeks
	ModeFullD30      = decode.ModeFullD30
)

// Control frame methods understood by the feed server.
const (
	methodSubscribe   = "sub"
	methodUnsubscribe = "unsub"
)

// controlFrame is the client→server subscription request.
type controlFrame struct {
	GUID   string      `json:"guid"`
	Method string      `json:"method"`
	Data   controlData `json:"data"`
}

type controlData struct {
	Mode           Mode     `json:"mode,omitempty"`
	InstrumentKeys []string `json:"instrumentKeys"`
}

// subTable is the desired-state table: the subscriptions this client
// intends to hold, independent of socket lifetime. The server tracks
// one mode per instrument key, so the table does too.
type subTable struct {
	mu    sync.Mutex
	modes map[string]Mode
}

func newSubTable() *subTable {
	return &subTable{modes: map[string]Mode{}}
}

// snapshot returns a copy; the live table is never exposed.
func (t *subTable) snapshot() map[string]Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Mode, len(t.modes))
	for k, m := range t.modes {
		out[k] = m
	}
	return out
}

// SubscriptionStatus is a point-in-time view of the connection state
// and the desired-state table.
type SubscriptionStatus struct {
	State         State
	Subscriptions map[string]Mode
}

// SubscriptionStatus reports the current connection state and a copy of
// the desired-state table.
func (s *Streamer) SubscriptionStatus() SubscriptionStatus {
	return SubscriptionStatus{
		State:         s.State(),
		Subscriptions: s.subs.snapshot(),
	}
}

// Subscribe adds the given instruments to the desired-state table under
// mode, replacing any prior mode per key, and sends the corresponding
// control frames when connected. Re-subscribing a key under its current
// mode is a no-op; subscribing under a new mode first unsubscribes the
// old one. When not connected the change is staged and replayed on the
// next successful connect.
func (s *Streamer) Subscribe(instrumentKeys []string, mode Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if err := validateKeys(instrumentKeys); err != nil {
		return err
	}

	s.subs.mu.Lock()
	defer s.subs.mu.Unlock()

	var added, moved []string
	for _, key := range instrumentKeys {
		prev, ok := s.subs.modes[key]
		switch {
		case !ok:
			added = append(added, key)
		case prev != mode:
			moved = append(moved, key)
		}
		// ok && prev == mode: idempotent, nothing to do.
	}

	if len(added) == 0 && len(moved) == 0 {
		return nil
	}

	for _, key := range added {
		s.subs.modes[key] = mode
	}
	for _, key := range moved {
		s.subs.modes[key] = mode
	}

	if !s.connectedForControl() {
		return nil
	}

	// The server tracks one mode per key: release the old mode before
	// requesting the new one, in that order.
	if len(moved) > 0 {
		if err := s.sendControl(methodUnsubscribe, "", moved); err != nil {
			return err
		}
	}
	affected := append(append([]string{}, moved...), added...)
	sort.Strings(affected)
	return s.sendControl(methodSubscribe, mode, affected)
}

// Unsubscribe removes the given instruments from the desired-state
// table and, when connected, sends an unsubscribe frame for the keys
// that were actually subscribed. Unknown keys are ignored.
func (s *Streamer) Unsubscribe(instrumentKeys []string) error {
	if err := validateKeys(instrumentKeys); err != nil {
		return err
	}

	s.subs.mu.Lock()
	defer s.subs.mu.Unlock()

	var removed []string
	for _, key := range instrumentKeys {
		if _, ok := s.subs.modes[key]; ok {
			delete(s.subs.modes, key)
			removed = append(removed, key)
		}
	}

	if len(removed) == 0 || !s.connectedForControl() {
		return nil
	}

	sort.Strings(removed)
	return s.sendControl(methodUnsubscribe, "", removed)
}

// ChangeMode moves the given instruments to a new mode. Semantically
// identical to Subscribe: the server holds one mode per key, so a mode
// change is an unsubscribe of the old mode followed by a subscribe
// under the new one.
func (s *Streamer) ChangeMode(instrumentKeys []string, mode Mode) error {
	return s.Subscribe(instrumentKeys, mode)
}

// replaySubscriptions sends the full desired-state table, one frame
// per mode. Called by the reader loop after every successful connect.
// The returned error is reported by the caller; handlers must not be
// invoked while the table lock is held.
func (s *Streamer) replaySubscriptions() error {
	s.subs.mu.Lock()
	defer s.subs.mu.Unlock()

	if len(s.subs.modes) == 0 {
		return nil
	}

	byMode := map[Mode][]string{}
	for key, mode := range s.subs.modes {
		byMode[mode] = append(byMode[mode], key)
	}

	modes := make([]Mode, 0, len(byMode))
	for mode := range byMode {
		modes = append(modes, mode)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })

	for _, mode := range modes {
		keys := byMode[mode]
		sort.Strings(keys)
		if err := s.sendControl(methodSubscribe, mode, keys); err != nil {
			s.logger.Warn("subscription replay failed",
				"mode", mode,
				"keys", len(keys),
				"error", err,
			)
			return err
		}
	}

	s.logger.Debug("replayed subscriptions", "instruments", len(s.subs.modes))
	return nil
}

// sendControl marshals and writes one control frame. Callers hold the
// subscription table lock, which also serializes frame order.
func (s *Streamer) sendControl(method string, mode Mode, keys []string) error {
	frame := controlFrame{
		GUID:   uuid.NewString(),
		Method: method,
		Data: controlData{
			Mode:           mode,
			InstrumentKeys: keys,
		},
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal control frame: %w", err)
	}

	client := s.currentClient()
	if client == nil {
		return &ConnectionError{Op: "send", Err: ErrNotConnected}
	}
	if err := client.Send(data); err != nil {
		return &ConnectionError{Op: "send", Err: err}
	}

	s.logger.Debug("sent control frame", "method", method, "mode", mode, "keys", len(keys))
	return nil
}

// validateKeys rejects empty batches and malformed instrument keys
// before any network I/O. Keys look like "NSE_EQ|INE848E01016":
// exchange segment, pipe, instrument token.
func validateKeys(keys []string) error {
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty instrument key list", ErrInvalidKey)
	}
	for _, key := range keys {
		seg, token, ok := strings.Cut(key, "|")
		if !ok || seg == "" || token == "" {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
