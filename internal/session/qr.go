package session

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/skip2/go-qrcode"
)

// QRCache holds the latest pairing code per connection as a PNG data
// URL, expiring entries on the provider's own refresh cadence so the
// frontend never renders a dead code.
type QRCache struct {
	store *cache.Cache
}

// NewQRCache creates a cache whose entries expire after ttl.
func NewQRCache(ttl time.Duration) *QRCache {
	return &QRCache{store: cache.New(ttl, ttl)}
}

// Put renders the raw pairing payload into a PNG data URL and stores it.
func (q *QRCache) Put(connectionID int64, code string) error {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return fmt.Errorf("failed to render qr code: %w", err)
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	q.store.SetDefault(qrKey(connectionID), dataURL)
	return nil
}

// Get returns the current data URL, or false when none is pending.
func (q *QRCache) Get(connectionID int64) (string, bool) {
	v, ok := q.store.Get(qrKey(connectionID))
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Drop removes the connection's code, used once pairing completes.
func (q *QRCache) Drop(connectionID int64) {
	q.store.Delete(qrKey(connectionID))
}

func qrKey(connectionID int64) string {
	return fmt.Sprintf("qr:%d", connectionID)
}
