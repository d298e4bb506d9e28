package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

// CachedDirectory keeps doctor profiles and patient contacts in Redis in front
// of another Directory. Availability is always asked of the backing directory.
type CachedDirectory struct {
	next   Directory
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedDirectory wraps next with a Redis cache. A nil client disables caching.
func NewCachedDirectory(next Directory, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedDirectory {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedDirectory{next: next, redis: client, ttl: ttl, logger: logger}
}

func doctorKey(id string) string  { return fmt.Sprintf("directory:doctor:%s", id) }
func patientKey(id string) string { return fmt.Sprintf("directory:patient:%s", id) }

func (c *CachedDirectory) DoctorExists(ctx context.Context, doctorID string) (bool, error) {
	return doctorExists(ctx, c, doctorID)
}

func (c *CachedDirectory) IsDoctorAvailable(ctx context.Context, doctorID, date string) (bool, error) {
	return c.next.IsDoctorAvailable(ctx, doctorID, date)
}

func (c *CachedDirectory) Doctor(ctx context.Context, doctorID string) (*Doctor, error) {
	var doc Doctor
	if c.load(ctx, doctorKey(doctorID), &doc) {
		return &doc, nil
	}
	fresh, err := c.next.Doctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, doctorKey(doctorID), fresh)
	return fresh, nil
}

func (c *CachedDirectory) PatientContact(ctx context.Context, patientID string) (*Contact, error) {
	var contact Contact
	if c.load(ctx, patientKey(patientID), &contact) {
		return &contact, nil
	}
	fresh, err := c.next.PatientContact(ctx, patientID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, patientKey(patientID), fresh)
	return fresh, nil
}

// Invalidate drops the cached doctor profile.
func (c *CachedDirectory) Invalidate(ctx context.Context, doctorID string) error {
	if c.redis == nil {
		return nil
	}
	if err := c.redis.Del(ctx, doctorKey(doctorID)).Err(); err != nil {
		return fmt.Errorf("directory: invalidate doctor: %w", err)
	}
	return nil
}

// load reports a cache hit. Redis failures degrade to a miss.
func (c *CachedDirectory) load(ctx context.Context, key string, out any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("directory cache read failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Warn("directory cache entry corrupt", "key", key, "error", err)
		return false
	}
	return true
}

func (c *CachedDirectory) store(ctx context.Context, key string, v any) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("directory cache write failed", "key", key, "error", err)
	}
}
