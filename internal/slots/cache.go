package slots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"fusse/internal/events"
)

const (
	keyPrefix = "fusse:slots:"
	genPrefix = "fusse:slots-gen:"
	genTTL    = 48 * time.Hour
)

// setIfGeneration stores ARGV[2] under KEYS[1] only while the day generation
// in KEYS[2] still equals ARGV[1].
var setIfGeneration = redis.NewScript(`
local gen = redis.call("GET", KEYS[2]) or "0"
if gen ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// Cache keeps enumerated days in Redis for a short TTL. Failures are logged
// and treated as misses.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
	loc    *time.Location
	logger *zerolog.Logger
}

func NewCache(client redis.UniversalClient, ttl time.Duration, loc *time.Location, logger *zerolog.Logger) *Cache {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Cache{client: client, ttl: ttl, loc: loc, logger: logger}
}

func (c *Cache) key(day time.Time, partySize int) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, day.In(c.loc).Format("2006-01-02"), partySize)
}

func (c *Cache) genKey(day time.Time) string {
	return genPrefix + day.In(c.loc).Format("2006-01-02")
}

// Generation returns the invalidation counter of day. Set only stores a
// listing computed under the current generation.
func (c *Cache) Generation(ctx context.Context, day time.Time) (int64, bool) {
	if c == nil || c.ttl <= 0 {
		return 0, false
	}
	gen, err := c.client.Get(ctx, c.genKey(day)).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, true
	case err != nil:
		c.logger.Warn().Err(err).Msg("slot cache generation")
		return 0, false
	}
	return gen, true
}

func (c *Cache) Get(ctx context.Context, day time.Time, partySize int) ([]Slot, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, false
	}
	val, err := c.client.Get(ctx, c.key(day, partySize)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Msg("slot cache get")
		}
		return nil, false
	}
	var out []Slot
	if err := json.Unmarshal(val, &out); err != nil {
		return nil, false
	}
	for i := range out {
		out[i].StartsAt = out[i].StartsAt.In(c.loc)
	}
	return out, true
}

// Set stores the listing of day unless the day was invalidated after gen was read.
func (c *Cache) Set(ctx context.Context, day time.Time, partySize int, gen int64, slots []Slot) {
	if c == nil || c.ttl <= 0 {
		return
	}
	if slots == nil {
		slots = []Slot{}
	}
	data, err := json.Marshal(slots)
	if err != nil {
		return
	}
	keys := []string{c.key(day, partySize), c.genKey(day)}
	stored, err := setIfGeneration.Run(ctx, c.client, keys, gen, data, c.ttl.Milliseconds()).Int()
	if err != nil {
		c.logger.Warn().Err(err).Msg("slot cache set")
		return
	}
	if stored == 0 {
		c.logger.Debug().Time("day", day).Int("party_size", partySize).Msg("slot cache set skipped, day invalidated")
	}
}

// InvalidateDay bumps the day generation, so in-flight listings are not
// stored, then drops every cached party size of the day.
func (c *Cache) InvalidateDay(ctx context.Context, day time.Time) error {
	genKey := c.genKey(day)
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, genKey)
	pipe.Expire(ctx, genKey, genTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	pattern := keyPrefix + day.In(c.loc).Format("2006-01-02") + ":*"
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Handle invalidates every day whose slots could overlap the reservation in
// the event: the days of its start and end, and the day a slot ending inside
// it could start on.
func (c *Cache) Handle(ev events.Event) error {
	p, err := ev.Reservation()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	d := p.EndsAt.Sub(p.StartsAt)
	seen := map[string]bool{}
	for _, t := range []time.Time{p.StartsAt.Add(-d + time.Nanosecond), p.StartsAt, p.EndsAt.Add(-time.Nanosecond)} {
		day := t.In(c.loc).Format("2006-01-02")
		if seen[day] {
			continue
		}
		seen[day] = true
		if err := c.InvalidateDay(ctx, t); err != nil {
			return err
		}
	}
	return nil
}
