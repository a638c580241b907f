package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mmcloughlin/geohash"
	"github.com/redis/go-redis/v9"
)

// Position is a driver location snapshot mirrored to Redis.
type Position struct {
	ID        string
	Loc       Coordinate
	Rating    float64
	Available bool
}

// RedisMirror keeps a copy of driver positions in Redis GEO so ops tooling can
// query it. Matching never reads from here; the orchestrator stays the owner.
type RedisMirror struct {
	client *redis.Client
	key    string
}

func NewRedisMirror(addr, password, key string) *RedisMirror {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisMirror{client: c, key: key}
}

func (r *RedisMirror) Upsert(ctx context.Context, p Position) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: p.Loc.Lon(), Latitude: p.Loc.Lat(), Name: p.ID}).Err(); err != nil {
		return fmt.Errorf("geoadd %s: %w", p.ID, err)
	}
	return r.client.HSet(ctx, metaKey(p.ID), map[string]interface{}{
		"rating":    strconv.FormatFloat(p.Rating, 'f', -1, 64),
		"available": strconv.FormatBool(p.Available),
		"geohash":   Cell(p.Loc),
		"updated":   time.Now().Format(time.RFC3339),
	}).Err()
}

// Nearby returns mirrored positions within radiusKm of c, closest first.
func (r *RedisMirror) Nearby(ctx context.Context, c Coordinate, radiusKm float64, limit int) ([]Position, error) {
	res, err := r.client.GeoRadius(ctx, r.key, c.Lon(), c.Lat(), &redis.GeoRadiusQuery{Radius: radiusKm, Unit: "km", WithCoord: true, Count: limit, Sort: "ASC"}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(res))
	for _, g := range res {
		loc, err := NewCoordinate(g.Latitude, g.Longitude)
		if err != nil {
			continue
		}
		p := Position{ID: g.Name, Loc: loc}
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			if v, ok := m["rating"]; ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					p.Rating = f
				}
			}
			p.Available = m["available"] == "true"
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *RedisMirror) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisMirror) Close() error { return r.client.Close() }

// CellPrecision gives cells of roughly 150 m.
const CellPrecision = 7

// Cell is the geohash cell of c, stored with each mirrored position so ops
// tooling can bucket drivers without a GEO query.
func Cell(c Coordinate) string {
	return geohash.EncodeWithPrecision(c.Lat(), c.Lon(), CellPrecision)
}

func metaKey(id string) string { return "driver:meta:" + id }
