package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	v1 "flagpost/pkg/api/v1"
	"flagpost/pkg/logger"
)

func init() {
	logger.InitLogger("test")
}

func newCachedClient(flags map[string]Entry) *FlagpostClient {
	c := NewFlagpostClient("http://unused", "token")
	c.flags = flags
	for key, entry := range flags {
		if entry.FlagID != 0 {
			c.keysByID[entry.FlagID] = key
		}
	}
	return c
}

func TestHandleEvent(t *testing.T) {
	tests := []struct {
		name      string
		initial   map[string]Entry
		event     v1.ChangeEvent
		wantKey   string
		wantValue string
		wantFound bool
	}{
		{
			name:      "created adds entry",
			initial:   map[string]Entry{},
			event:     v1.ChangeEvent{Kind: v1.ChangeCreated, Key: "new-flag", Value: "on"},
			wantKey:   "new-flag",
			wantValue: "on",
			wantFound: true,
		},
		{
			name:      "updated replaces value",
			initial:   map[string]Entry{"flag": {Value: "old"}},
			event:     v1.ChangeEvent{Kind: v1.ChangeUpdated, Key: "flag", Value: "new", IsOverridden: true},
			wantKey:   "flag",
			wantValue: "new",
			wantFound: true,
		},
		{
			name:      "toggled replaces value",
			initial:   map[string]Entry{"flag": {Value: "old"}},
			event:     v1.ChangeEvent{Kind: v1.ChangeToggled, Key: "flag", Value: "old"},
			wantKey:   "flag",
			wantValue: "old",
			wantFound: true,
		},
		{
			name:      "deleted removes entry",
			initial:   map[string]Entry{"flag": {Value: "x"}},
			event:     v1.ChangeEvent{Kind: v1.ChangeDeleted, Key: "flag"},
			wantKey:   "flag",
			wantFound: false,
		},
		{
			name:      "unknown kind is ignored",
			initial:   map[string]Entry{"flag": {Value: "x"}},
			event:     v1.ChangeEvent{Kind: "mystery", Key: "flag", Value: "y"},
			wantKey:   "flag",
			wantValue: "x",
			wantFound: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCachedClient(tt.initial)
			c.handleEvent(tt.event)

			val, ok := c.Get(tt.wantKey)
			if ok != tt.wantFound {
				t.Fatalf("Get(%q) found = %v, want %v", tt.wantKey, ok, tt.wantFound)
			}
			if ok && val != tt.wantValue {
				t.Errorf("Get(%q) = %q, want %q", tt.wantKey, val, tt.wantValue)
			}
		})
	}
}

// A scope-wide event carries the flag default; it must not clobber this
// user's cached override value.
func TestHandleEvent_OverrideSurvivesScopeWideChange(t *testing.T) {
	c := newCachedClient(map[string]Entry{
		"dark-mode": {FlagID: 1, Value: "on", IsOverridden: true},
	})

	c.handleEvent(v1.ChangeEvent{Kind: v1.ChangeToggled, FlagID: 1, Key: "dark-mode", Value: "off"})

	if got, _ := c.Get("dark-mode"); got != "on" {
		t.Errorf("Get(dark-mode) = %q, want on", got)
	}
	if !c.IsOverridden("dark-mode") {
		t.Error("override flag lost on scope-wide event")
	}

	c.handleEvent(v1.ChangeEvent{Kind: v1.ChangeUpdated, FlagID: 1, Key: "dark-mode", Value: "auto"})
	if got, _ := c.Get("dark-mode"); got != "on" {
		t.Errorf("Get(dark-mode) after update = %q, want on", got)
	}
}

// Targeted events are authoritative for this user: an override removal
// arrives targeted with the default value and must replace the cache entry.
func TestHandleEvent_TargetedEventReplacesOverride(t *testing.T) {
	c := newCachedClient(map[string]Entry{
		"dark-mode": {FlagID: 1, Value: "on", IsOverridden: true},
	})

	c.handleEvent(v1.ChangeEvent{
		Kind: v1.ChangeUpdated, FlagID: 1, Key: "dark-mode",
		Value: "off", TargetUserID: 7,
	})

	if got, _ := c.Get("dark-mode"); got != "off" {
		t.Errorf("Get(dark-mode) = %q, want off", got)
	}
	if c.IsOverridden("dark-mode") {
		t.Error("entry still marked overridden after targeted removal")
	}
}

// A rename broadcasts only the new key; the old key must stop resolving.
func TestHandleEvent_RenameEvictsOldKey(t *testing.T) {
	c := newCachedClient(map[string]Entry{
		"old-key": {FlagID: 1, Value: "x"},
	})

	c.handleEvent(v1.ChangeEvent{Kind: v1.ChangeUpdated, FlagID: 1, Key: "new-key", Value: "y"})

	if _, ok := c.Get("old-key"); ok {
		t.Error("stale entry for renamed flag still resolvable under old key")
	}
	if got, _ := c.Get("new-key"); got != "y" {
		t.Errorf("Get(new-key) = %q, want y", got)
	}
}

func TestHandleEvent_RenameKeepsOverride(t *testing.T) {
	c := newCachedClient(map[string]Entry{
		"old-key": {FlagID: 1, Value: "mine", IsOverridden: true},
	})

	c.handleEvent(v1.ChangeEvent{Kind: v1.ChangeUpdated, FlagID: 1, Key: "new-key", Value: "default"})

	if _, ok := c.Get("old-key"); ok {
		t.Error("old key survived rename")
	}
	if got, _ := c.Get("new-key"); got != "mine" {
		t.Errorf("Get(new-key) = %q, want mine", got)
	}
	if !c.IsOverridden("new-key") {
		t.Error("override flag lost across rename")
	}
}

func TestIsEnabled(t *testing.T) {
	c := newCachedClient(map[string]Entry{
		"on-true": {Value: "true"},
		"on-one":  {Value: "1"},
		"on-on":   {Value: "on"},
		"off":     {Value: "false"},
		"text":    {Value: "hello"},
	})

	tests := []struct {
		key  string
		want bool
	}{
		{"on-true", true},
		{"on-one", true},
		{"on-on", true},
		{"off", false},
		{"text", false},
		{"missing", false},
	}
	for _, tt := range tests {
		if got := c.IsEnabled(tt.key); got != tt.want {
			t.Errorf("IsEnabled(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestGetString_DefaultForMissing(t *testing.T) {
	c := newCachedClient(map[string]Entry{"greeting": {Value: "hello"}})

	if got := c.GetString("greeting", "fallback"); got != "hello" {
		t.Errorf("GetString(greeting) = %q, want hello", got)
	}
	if got := c.GetString("missing", "fallback"); got != "fallback" {
		t.Errorf("GetString(missing) = %q, want fallback", got)
	}
}

func TestFetchSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/flags/snapshot" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"flags": map[string]Entry{
				"dark-mode": {FlagID: 1, Value: "on", IsOverridden: true},
				"banner":    {FlagID: 2, Value: "off"},
			},
		})
	}))
	defer srv.Close()

	c := NewFlagpostClient(srv.URL, "test-token")
	// Pre-existing cache content must be replaced, not merged.
	c.flags = map[string]Entry{"stale": {Value: "gone"}}

	if err := c.fetchSnapshot(); err != nil {
		t.Fatalf("fetchSnapshot() error: %v", err)
	}

	if !c.IsOverridden("dark-mode") {
		t.Error("dark-mode should be overridden")
	}
	if got := c.GetString("banner", ""); got != "off" {
		t.Errorf("banner = %q, want off", got)
	}
	if _, ok := c.Get("stale"); ok {
		t.Error("stale entry survived snapshot replacement")
	}

	// The id index is rebuilt from the snapshot, so a rename event for a
	// snapshot-loaded flag evicts the old key.
	c.handleEvent(v1.ChangeEvent{Kind: v1.ChangeUpdated, FlagID: 2, Key: "banner-v2", Value: "off"})
	if _, ok := c.Get("banner"); ok {
		t.Error("renamed snapshot flag still resolvable under old key")
	}
}

func TestFetchSnapshot_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewFlagpostClient(srv.URL, "bad-token")
	if err := c.fetchSnapshot(); err == nil {
		t.Fatal("expected error on unauthorized snapshot")
	}
}
