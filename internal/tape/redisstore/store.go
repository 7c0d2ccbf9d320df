// Package redisstore backs the price tape with a Redis sorted set per
// pair, scored by tsSec, TTL-refreshed on every write.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sawpanic/microsignal/internal/tape"
)

// Store is a tape.Store backed by Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a Store. ttl is refreshed on every write (spec default:
// 45 days).
func New(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func key(pair string) string {
	return "tape:{" + pair + "}"
}

// WriteBar encodes bar as CSV "open,high,low,close,volume", adds it to
// the pair's sorted set scored by tsSec, and refreshes the key TTL.
func (s *Store) WriteBar(ctx context.Context, pair string, bar tape.Bar) error {
	member := encode(bar)
	k := key(pair)

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(bar.TsSec), Member: member})
	pipe.Expire(ctx, k, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: write bar %s@%d: %w", pair, bar.TsSec, err)
	}
	return nil
}

// ReadRange returns every bar scored in [startSec, endSec], ascending.
func (s *Store) ReadRange(ctx context.Context, pair string, startSec, endSec int64) ([]tape.Bar, error) {
	k := key(pair)
	res, err := s.client.ZRangeByScoreWithScores(ctx, k, &redis.ZRangeBy{
		Min: strconv.FormatInt(startSec, 10),
		Max: strconv.FormatInt(endSec, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: read range %s [%d,%d]: %w", pair, startSec, endSec, err)
	}

	bars := make([]tape.Bar, 0, len(res))
	for _, z := range res {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		bar, err := decode(int64(z.Score), member)
		if err != nil {
			return nil, fmt.Errorf("redisstore: decode bar %s@%v: %w", pair, z.Score, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func encode(bar tape.Bar) string {
	return fmt.Sprintf("%s,%s,%s,%s,%s",
		strconv.FormatFloat(bar.Open, 'g', -1, 64),
		strconv.FormatFloat(bar.High, 'g', -1, 64),
		strconv.FormatFloat(bar.Low, 'g', -1, 64),
		strconv.FormatFloat(bar.Close, 'g', -1, 64),
		strconv.FormatFloat(bar.VolumeQuote, 'g', -1, 64),
	)
}

func decode(tsSec int64, csv string) (tape.Bar, error) {
	fields := strings.Split(csv, ",")
	if len(fields) != 5 {
		return tape.Bar{}, fmt.Errorf("redisstore: expected 5 fields, got %d", len(fields))
	}
	vals := make([]float64, 5)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return tape.Bar{}, fmt.Errorf("redisstore: parse field %d: %w", i, err)
		}
		vals[i] = v
	}
	return tape.Bar{
		TsSec:       tsSec,
		Open:        vals[0],
		High:        vals[1],
		Low:         vals[2],
		Close:       vals[3],
		VolumeQuote: vals[4],
	}, nil
}
