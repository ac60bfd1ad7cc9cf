package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	v1 "flagpost/pkg/api/v1"
	"flagpost/pkg/logger"

	"go.uber.org/zap"
)

// Entry is the locally cached resolved value of one flag.
type Entry struct {
	FlagID       uint64 `json:"flag_id"`
	Value        string `json:"value"`
	IsOverridden bool   `json:"is_overridden"`
}

// FlagpostClient keeps a live local cache of the caller's resolved flags.
// It pulls a full snapshot on start and on every reconnect, then applies
// change events from the SSE stream. The stream has no replay, so the
// snapshot is the only catch-up mechanism.
type FlagpostClient struct {
	addr       string
	token      string
	httpClient *http.Client

	mu    sync.RWMutex
	flags map[string]Entry
	// keysByID maps flag id to the key an entry is cached under, so rename
	// events can evict the stale key.
	keysByID map[uint64]string

	ctx    context.Context
	cancel context.CancelFunc
}

func NewFlagpostClient(addr, token string) *FlagpostClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &FlagpostClient{
		addr:       addr,
		token:      token,
		httpClient: &http.Client{Timeout: 0},
		flags:      make(map[string]Entry),
		keysByID:   make(map[uint64]string),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (c *FlagpostClient) Start() error {
	if err := c.fetchSnapshot(); err != nil {
		return err
	}
	go c.runWatchLoop()
	return nil
}

func (c *FlagpostClient) Stop() {
	c.cancel()
}

func (c *FlagpostClient) fetchSnapshot() error {
	url := fmt.Sprintf("%s/v1/flags/snapshot", c.addr)
	req, _ := http.NewRequestWithContext(c.ctx, "GET", url, nil)
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("failed to fetch snapshot", zap.Error(err))
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("snapshot request failed: %s", resp.Status)
	}

	var res struct {
		Flags map[string]Entry `json:"flags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		logger.Error("failed to decode snapshot response", zap.Error(err))
		return err
	}

	c.mu.Lock()
	c.flags = res.Flags
	if c.flags == nil {
		c.flags = make(map[string]Entry)
	}
	c.keysByID = make(map[uint64]string, len(c.flags))
	for key, entry := range c.flags {
		if entry.FlagID != 0 {
			c.keysByID[entry.FlagID] = key
		}
	}
	c.mu.Unlock()
	return nil
}

func (c *FlagpostClient) runWatchLoop() {
	backoff := time.Second
	maxBackoff := 30 * time.Second
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			url := fmt.Sprintf("%s/v1/stream", c.addr)

			reqCtx, reqCancel := context.WithCancel(c.ctx)
			req, _ := http.NewRequestWithContext(reqCtx, "GET", url, nil)
			req.Header.Set("Authorization", "Bearer "+c.token)
			resp, err := c.httpClient.Do(req)
			if err != nil {
				reqCancel()
				jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
				logger.Warn("SSE disconnected", zap.Error(err))
				time.Sleep(backoff + jitter)
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}

			// Events published while we were offline are gone. Resync the
			// whole view before applying the new stream.
			if err := c.fetchSnapshot(); err != nil {
				logger.Error("failed to resync snapshot", zap.Error(err))
				reqCancel()
				resp.Body.Close()
				time.Sleep(backoff)
				continue
			}

			// Watchdog for heartbeats
			var lastActivity int64 = time.Now().Unix()
			go func() {
				ticker := time.NewTicker(5 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-reqCtx.Done():
						return
					case <-ticker.C:
						if time.Now().Unix()-atomic.LoadInt64(&lastActivity) > 25 {
							logger.Warn("sse heartbeat timeout, reconnecting")
							reqCancel()
							return
						}
					}
				}
			}()

			backoff = time.Second
			scanner := bufio.NewScanner(resp.Body)

			var eventType string
			var dataBuffer bytes.Buffer

			for scanner.Scan() {
				atomic.StoreInt64(&lastActivity, time.Now().Unix())
				line := scanner.Text()
				if line == "" {
					if eventType == "ping" {
						eventType = ""
						dataBuffer.Reset()
						continue
					}
					if dataBuffer.Len() > 0 {
						var ev v1.ChangeEvent
						if err := json.Unmarshal(dataBuffer.Bytes(), &ev); err == nil {
							c.handleEvent(ev)
						} else {
							logger.Error("failed to unmarshal change event", zap.Error(err))
						}
					}
					eventType = ""
					dataBuffer.Reset()
					continue
				}

				if strings.HasPrefix(line, "event:") {
					eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				} else if strings.HasPrefix(line, "data:") {
					// Spec allows multiple data lines, joined by newline
					if dataBuffer.Len() > 0 {
						dataBuffer.WriteString("\n")
					}
					dataBuffer.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
				}
			}
			reqCancel()
			resp.Body.Close()
		}
	}
}

func (c *FlagpostClient) handleEvent(ev v1.ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Kind {
	case v1.ChangeDeleted:
		if prevKey, ok := c.keysByID[ev.FlagID]; ok {
			delete(c.flags, prevKey)
			delete(c.keysByID, ev.FlagID)
		}
		delete(c.flags, ev.Key)
		logger.Info("flag deleted", zap.String("key", ev.Key))
	case v1.ChangeCreated, v1.ChangeUpdated, v1.ChangeToggled:
		// A rename broadcasts only the new key; drop the old entry so the
		// flag never resolves under both names.
		prev, known := c.flags[ev.Key]
		if prevKey, ok := c.keysByID[ev.FlagID]; ok && prevKey != ev.Key {
			prev, known = c.flags[prevKey]
			delete(c.flags, prevKey)
		}

		entry := Entry{FlagID: ev.FlagID, Value: ev.Value, IsOverridden: ev.IsOverridden}
		// Scope-wide events carry the flag default, which never displaces
		// this user's override; the override's own removal arrives as a
		// targeted event.
		if ev.TargetUserID == 0 && known && prev.IsOverridden {
			entry.Value = prev.Value
			entry.IsOverridden = true
		}
		c.flags[ev.Key] = entry
		c.keysByID[ev.FlagID] = ev.Key
		logger.Info("flag changed",
			zap.String("key", ev.Key),
			zap.String("kind", string(ev.Kind)),
			zap.String("value", entry.Value),
		)
	default:
		logger.Warn("unknown change kind", zap.String("kind", string(ev.Kind)))
	}
}

// IsEnabled treats the flag's resolved value as a boolean switch. Unknown
// keys are off.
func (c *FlagpostClient) IsEnabled(key string) bool {
	val, ok := c.Get(key)
	if !ok {
		return false
	}
	return val == "true" || val == "1" || val == "on"
}

func (c *FlagpostClient) GetString(key, defaultValue string) string {
	val, ok := c.Get(key)
	if !ok {
		return defaultValue
	}
	return val
}

func (c *FlagpostClient) Get(key string) (string, bool) {
	c.mu.RLock()
	entry, ok := c.flags[key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	return entry.Value, true
}

// IsOverridden reports whether the cached value came from a per-user
// override rather than the flag default.
func (c *FlagpostClient) IsOverridden(key string) bool {
	c.mu.RLock()
	entry, ok := c.flags[key]
	c.mu.RUnlock()
	return ok && entry.IsOverridden
}
