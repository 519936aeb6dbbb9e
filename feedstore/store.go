// Package feedstore persists grant/denial decisions ("license plates")
// in Redis and serves the public feed. Records are string-only hashes
// keyed by a generated id; a global and a per-owner sorted set index
// them by decision timestamp, which is the sole ordering key.
package feedstore

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	feedKey      = "feed:generations"
	statsGranted = "feed:stats:granted"
	statsDenied  = "feed:stats:denied"
	statsAgents  = "feed:stats:agents" // set of unique agent ids
)

func genKey(id string) string { return "gen:" + id }

func ownerFeedKey(owner string) string { return "feed:owner:" + strings.ToLower(owner) }

// StatusGranted and StatusDenied are the two decision outcomes.
const (
	StatusGranted = "granted"
	StatusDenied  = "denied"
)

// Record is one persisted decision.
type Record struct {
	ID            string `json:"id"`
	Prompt        string `json:"prompt"`
	ArtifactURL   string `json:"artifactUrl"`
	Status        string `json:"status"`
	AgentID       string `json:"agentId"`
	OwnerAddress  string `json:"ownerAddress"`
	HumanVerified bool   `json:"humanVerified"`
	Tier          int    `json:"tier"`
	Reason        string `json:"reason"`
	Timestamp     int64  `json:"timestamp"`
}

// Stats summarizes the feed counters.
type Stats struct {
	Total        int64 `json:"total"`
	Granted      int64 `json:"granted"`
	Denied       int64 `json:"denied"`
	UniqueAgents int64 `json:"uniqueAgents"`
}

// Page is one slice of the feed in descending timestamp order.
type Page struct {
	Entries    []Record `json:"entries"`
	NextCursor *string  `json:"nextCursor"`
	Stats      Stats    `json:"stats"`
}

// Store wraps the Redis client behind the persistence contract.
type Store struct {
	rdb *redis.Client
}

// New creates a store on an existing Redis client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// SaveDecision writes the record hash, inserts the id into the global
// and per-owner indexes, bumps the matching outcome counter, and adds
// the agent to the seen-agents set.
func (s *Store) SaveDecision(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("record id is empty")
	}
	rec.OwnerAddress = strings.ToLower(rec.OwnerAddress)

	if err := s.rdb.HSet(ctx, genKey(rec.ID), recordFields(rec)).Err(); err != nil {
		return errors.Wrap(err, "store record")
	}
	member := redis.Z{Score: float64(rec.Timestamp), Member: rec.ID}
	if err := s.rdb.ZAdd(ctx, feedKey, member).Err(); err != nil {
		return errors.Wrap(err, "index record")
	}
	if err := s.rdb.ZAdd(ctx, ownerFeedKey(rec.OwnerAddress), member).Err(); err != nil {
		return errors.Wrap(err, "index owner record")
	}
	counter := statsDenied
	if rec.Status == StatusGranted {
		counter = statsGranted
	}
	if err := s.rdb.Incr(ctx, counter).Err(); err != nil {
		return errors.Wrap(err, "bump counter")
	}
	if err := s.rdb.SAdd(ctx, statsAgents, rec.AgentID).Err(); err != nil {
		return errors.Wrap(err, "track agent")
	}
	return nil
}

// FetchPage reads up to limit records ordered by timestamp descending.
// An empty cursor starts from the newest record; otherwise the page
// contains records strictly older than the cursor timestamp. An empty
// owner selects the global feed.
func (s *Store) FetchPage(ctx context.Context, owner, cursor string, limit int) (*Page, error) {
	key := feedKey
	if owner != "" {
		key = ownerFeedKey(owner)
	}

	total, err := s.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return nil, errors.Wrap(err, "feed size")
	}

	max := "+inf"
	if cursor != "" {
		if _, err := strconv.ParseInt(cursor, 10, 64); err != nil {
			return nil, errors.Wrap(err, "bad cursor")
		}
		max = "(" + cursor
	}
	// one extra to detect whether another page exists
	ids, err := s.rdb.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf", Max: max, Count: int64(limit + 1),
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "feed range")
	}

	hasMore := len(ids) > limit
	if hasMore {
		ids = ids[:limit]
	}
	entries, err := s.fetchRecords(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp > entries[j].Timestamp })

	var nextCursor *string
	if hasMore && len(entries) > 0 {
		c := strconv.FormatInt(entries[len(entries)-1].Timestamp, 10)
		nextCursor = &c
	}

	stats, err := s.fetchStats(ctx, total)
	if err != nil {
		return nil, err
	}
	return &Page{Entries: entries, NextCursor: nextCursor, Stats: *stats}, nil
}

// EntriesSince returns records strictly newer than the given timestamp
// in ascending order, for the live feed stream.
func (s *Store) EntriesSince(ctx context.Context, sinceMs int64) ([]Record, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, feedKey, &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(sinceMs, 10), Max: "+inf",
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "feed range")
	}
	entries, err := s.fetchRecords(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp < entries[j].Timestamp })
	return entries, nil
}

func (s *Store) fetchRecords(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return []Record{}, nil
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, genKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "fetch records")
	}
	entries := make([]Record, 0, len(ids))
	for _, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 || fields["id"] == "" {
			continue // index entry without a hash, skip
		}
		entries = append(entries, recordFromFields(fields))
	}
	return entries, nil
}

func (s *Store) fetchStats(ctx context.Context, total int64) (*Stats, error) {
	granted, err := s.readCounter(ctx, statsGranted)
	if err != nil {
		return nil, err
	}
	denied, err := s.readCounter(ctx, statsDenied)
	if err != nil {
		return nil, err
	}
	agents, err := s.rdb.SCard(ctx, statsAgents).Result()
	if err != nil {
		return nil, errors.Wrap(err, "count agents")
	}
	return &Stats{Total: total, Granted: granted, Denied: denied, UniqueAgents: agents}, nil
}

func (s *Store) readCounter(ctx context.Context, key string) (int64, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "read counter %s", key)
	}
	n, _ := strconv.ParseInt(val, 10, 64)
	return n, nil
}

// recordFields flattens a record into the string-only hash layout.
// Absent values are stored as empty strings, never omitted.
func recordFields(rec Record) map[string]string {
	return map[string]string{
		"id":            rec.ID,
		"prompt":        rec.Prompt,
		"artifactUrl":   rec.ArtifactURL,
		"status":        rec.Status,
		"agentId":       rec.AgentID,
		"ownerAddress":  rec.OwnerAddress,
		"humanVerified": strconv.FormatBool(rec.HumanVerified),
		"tier":          strconv.Itoa(rec.Tier),
		"reason":        rec.Reason,
		"timestamp":     strconv.FormatInt(rec.Timestamp, 10),
	}
}

func recordFromFields(fields map[string]string) Record {
	tier, _ := strconv.Atoi(fields["tier"])
	ts, _ := strconv.ParseInt(fields["timestamp"], 10, 64)
	return Record{
		ID:            fields["id"],
		Prompt:        fields["prompt"],
		ArtifactURL:   fields["artifactUrl"],
		Status:        fields["status"],
		AgentID:       fields["agentId"],
		OwnerAddress:  fields["ownerAddress"],
		HumanVerified: fields["humanVerified"] == "true",
		Tier:          tier,
		Reason:        fields["reason"],
		Timestamp:     ts,
	}
}
