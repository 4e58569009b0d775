package client

import (
	"encoding/json"
	"time"

	"github.com/campushub/notify/client/store"
	"github.com/campushub/notify/models"
)

// NoticeCacheTTL bounds how stale a cached notice list may be before a
// reader gets nothing instead.
const NoticeCacheTTL = 60 * time.Second

const noticeCacheKey = "notices"

type cacheEntry struct {
	Data       []models.Notice `json:"data"`
	CapturedAt time.Time       `json:"capturedAt"`
}

// NoticeCache gives bounded-staleness reads of the most recent notice list
// so a failed or slow fetch still produces workable UI. Fresh server data
// always overwrites the cache whole; there is no merging.
type NoticeCache struct {
	kv  store.KV
	ttl time.Duration
	now func() time.Time
}

func NewNoticeCache(kv store.KV) *NoticeCache {
	return &NoticeCache{kv: kv, ttl: NoticeCacheTTL, now: time.Now}
}

// Read returns the cached list, or nil when the cache is empty, corrupt or
// older than the TTL.
func (c *NoticeCache) Read() []models.Notice {
	raw, ok := c.kv.Get(noticeCacheKey)
	if !ok {
		return nil
	}
	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil
	}
	if c.now().Sub(entry.CapturedAt) >= c.ttl {
		return nil
	}
	return entry.Data
}

// Write stores the list stamped with the current time.
func (c *NoticeCache) Write(notices []models.Notice) error {
	entry := cacheEntry{Data: notices, CapturedAt: c.now()}
	raw, err := json.Marshal(&entry)
	if err != nil {
		return err
	}
	return c.kv.Set(noticeCacheKey, raw)
}
