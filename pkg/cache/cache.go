// Package cache is a bbolt-backed TTL cache for cluster query results. C7
// clustering is on-demand and this cache is a pure optimization: a miss or
// an expired entry always falls back to recomputing from the detections
// table, never the other way around.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tarekm28/ouajourad/pkg/logx"
	"github.com/tarekm28/ouajourad/pkg/model"
)

const clusterBucket = "clusters"

// ClusterCache stores the last computed cluster list for a query key
// (built from its parameters) along with the time it was computed.
type ClusterCache struct {
	db     *bolt.DB
	logger *logx.Logger
	ttl    time.Duration
}

type entry struct {
	ComputedAt time.Time       `json:"computed_at"`
	Clusters   []model.Cluster `json:"clusters"`
}

// Open opens (creating if necessary) the bbolt cache database at path.
func Open(path string, ttl time.Duration, logger *logx.Logger) (*ClusterCache, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: create directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("cache: open: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(clusterBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: initialize bucket: %w", err)
	}

	return &ClusterCache{db: db, logger: logger, ttl: ttl}, nil
}

// Close releases the underlying bbolt database.
func (c *ClusterCache) Close() error {
	return c.db.Close()
}

// Get returns the cached cluster list for key if present and not expired
// relative to now.
func (c *ClusterCache) Get(key string, now time.Time) ([]model.Cluster, bool) {
	var e entry
	found := false

	err := c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(clusterBucket))
		data := bucket.Get([]byte(key))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		c.logger.Warn("cache_read_failed", "key", key, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	if now.Sub(e.ComputedAt) > c.ttl {
		return nil, false
	}

	return e.Clusters, true
}

// Put stores clusters under key, stamped with computedAt.
func (c *ClusterCache) Put(key string, clusters []model.Cluster, computedAt time.Time) {
	data, err := json.Marshal(entry{ComputedAt: computedAt, Clusters: clusters})
	if err != nil {
		c.logger.Warn("cache_marshal_failed", "key", key, "error", err)
		return
	}

	err = c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(clusterBucket))
		return bucket.Put([]byte(key), data)
	})
	if err != nil {
		c.logger.Warn("cache_write_failed", "key", key, "error", err)
	}
}

// Key builds a deterministic cache key from the parameters that affect the
// clustered result.
func Key(totalTrips int, epsM float64) string {
	return fmt.Sprintf("trips=%d:eps=%.2f", totalTrips, epsM)
}
