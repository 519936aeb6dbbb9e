package feedstore

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
)

func rateLimitKey(owner string) string { return "ratelimit:" + strings.ToLower(owner) }

// IncrRate counts one request against the owner's fixed rate window and
// returns the post-increment count. The expiry is set only on the first
// increment of a window; callers enforce the limit by comparing the
// returned count against their threshold. The count is bumped
// unconditionally, so a request rejected later in the pipeline still
// consumes a slot.
func (s *Store) IncrRate(ctx context.Context, owner string, window time.Duration) (int64, error) {
	key := rateLimitKey(owner)
	count, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrap(err, "rate increment")
	}
	if count == 1 {
		if err := s.rdb.Expire(ctx, key, window).Err(); err != nil {
			return count, errors.Wrap(err, "rate window")
		}
	}
	return count, nil
}
