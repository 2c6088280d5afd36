// Package rollout provides deterministic bucketing for percentage rollouts.
// It hashes (flag name, environment, bucketing key, salt) into a bucket
// (0-99), which ensures:
//   - Same bucketing key always gets the same result for a flag (deterministic)
//   - Even distribution across buckets (uses xxHash)
//   - Safe progressive rollouts (increasing from 10% to 20% only adds users,
//     never removes)
package rollout

import (
	"github.com/cespare/xxhash/v2"
)

// Bucket returns a deterministic bucket (0-99) for the given flag and
// bucketing key. The same (name, env, bucketingKey, salt) combination always
// maps to the same bucket, across restarts and across evaluator instances.
// The assignment is independent of the rollout percentage, which is what
// makes rollout increases strictly additive.
func Bucket(name, env, bucketingKey, salt string) int {
	if bucketingKey == "" {
		return -1 // Invalid: no bucketing context
	}
	// Delimiters keep (a, bc) and (ab, c) from colliding.
	key := name + ":" + env + ":" + bucketingKey + ":" + salt
	hash := xxhash.Sum64String(key)
	return int(hash % 100)
}
