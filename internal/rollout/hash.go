// Package rollout assigns visitors to experiment buckets.
package rollout

import (
	"github.com/cespare/xxhash/v2"
)

// BucketUser returns a deterministic bucket (0-99) for the given visitor and
// test. The same userKey + testID + salt combination always returns the same
// bucket. An empty userKey returns -1.
func BucketUser(userKey, testID, salt string) int {
	if userKey == "" {
		return -1
	}
	key := userKey + ":" + testID + ":" + salt
	hash := xxhash.Sum64String(key)
	return int(hash % 100)
}
