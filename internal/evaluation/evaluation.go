// Package evaluation is the synchronous query surface for flag decisions.
// It reads only the in-memory cache and the pure rollout hash: evaluation
// never performs I/O, never blocks on writers, and is deterministic for a
// fixed flag state and bucketing key.
package evaluation

import (
	"github.com/flagcore/flagcore/internal/flag"
	"github.com/flagcore/flagcore/internal/rollout"
	"github.com/flagcore/flagcore/internal/store"
)

// Reason explains a decision. Callers must be able to distinguish "flag does
// not exist" (often a caller bug) from "flag exists but excludes this key".
type Reason string

const (
	ReasonDisabled        Reason = "disabled"
	ReasonRolloutExcluded Reason = "rollout_excluded"
	ReasonRolloutIncluded Reason = "rollout_included"
	ReasonNotFound        Reason = "not_found"
)

// Decision is the evaluation result. Reason is always set.
type Decision struct {
	Active bool   `json:"active"`
	Reason Reason `json:"reason"`
}

// Context carries the caller-supplied evaluation inputs. It is never
// persisted.
type Context struct {
	BucketingKey string `json:"bucketingKey"`
}

// Evaluator answers flag queries against a record cache using a fixed
// bucketing salt.
type Evaluator struct {
	cache *store.Cache
	salt  string
}

// New creates an evaluator. The salt must stay stable across restarts and
// instances for bucket assignments to be consistent.
func New(cache *store.Cache, salt string) *Evaluator {
	return &Evaluator{cache: cache, salt: salt}
}

// Evaluate decides whether the named flag is active for the given context.
//
// Decision order:
//  1. Unknown or malformed key → not_found (never an error: an absent flag
//     is an expected, common outcome)
//  2. enabled=false → disabled, regardless of rollout
//  3. rollout bucketing → rollout_included / rollout_excluded
//
// An empty bucketing key is excluded for any rollout below 100.
func (e *Evaluator) Evaluate(name, env string, ctx Context) Decision {
	key, err := flag.NewKey(name, env)
	if err != nil {
		return Decision{Active: false, Reason: ReasonNotFound}
	}

	rec, ok := e.cache.Get(key)
	if !ok {
		return Decision{Active: false, Reason: ReasonNotFound}
	}
	if !rec.Enabled {
		return Decision{Active: false, Reason: ReasonDisabled}
	}

	included, err := rollout.Included(key.Name, key.Env, ctx.BucketingKey, rec.Rollout, e.salt)
	if err != nil || !included {
		// The range error cannot happen for a stored record; treat it the
		// same as exclusion rather than inventing a fifth reason.
		return Decision{Active: false, Reason: ReasonRolloutExcluded}
	}
	return Decision{Active: true, Reason: ReasonRolloutIncluded}
}
