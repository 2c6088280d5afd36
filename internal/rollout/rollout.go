package rollout

import "errors"

// ErrInvalidRollout is returned when the rollout percentage is not in the
// valid range (0-100).
var ErrInvalidRollout = errors.New("rollout must be between 0 and 100")

// Included determines if a bucketing key is inside a flag's rollout.
//
// Algorithm:
//  1. Hash(name + env + bucketingKey + salt) → bucket (0-99)
//  2. If bucket < rollout percentage, the key is included
//
// Special cases:
//   - rollout<=0: always false (hash skipped)
//   - rollout>=100: always true (hash skipped)
//   - bucketingKey="": always false (no context to bucket on)
//
// Increasing rollout from 25 to 50 adds keys, never removes existing ones.
func Included(name, env, bucketingKey string, rollout int, salt string) (bool, error) {
	if rollout < 0 || rollout > 100 {
		return false, ErrInvalidRollout
	}
	if rollout == 0 {
		return false, nil // Fast path: excluded for everyone
	}
	if rollout == 100 {
		return true, nil // Fast path: included for everyone
	}
	if bucketingKey == "" {
		return false, nil
	}

	return Bucket(name, env, bucketingKey, salt) < rollout, nil
}
