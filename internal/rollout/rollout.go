package rollout

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/TimurManjosov/contentship/internal/store"
)

// Bucket labels. The split is 50/50.
const (
	BucketA = "A"
	BucketB = "B"
)

// DefaultTTL is how long an assignment stays valid.
const DefaultTTL = 7 * 24 * time.Hour

// Picker chooses a bucket for a visitor that has no valid assignment.
type Picker func(testID, userKey string) string

// HashPicker buckets deterministically so a visitor keeps the same bucket
// even if their stored assignment is lost.
func HashPicker(salt string) Picker {
	return func(testID, userKey string) string {
		if BucketUser(userKey, testID, salt) < 50 {
			return BucketA
		}
		return BucketB
	}
}

// RandomPicker flips a coin for every new assignment.
func RandomPicker() Picker {
	return func(string, string) string {
		if rand.Intn(2) == 0 {
			return BucketA
		}
		return BucketB
	}
}

// PickerByName resolves the EXPERIMENT_ASSIGNMENT setting.
func PickerByName(name, salt string) (Picker, error) {
	switch name {
	case "", "hash":
		return HashPicker(salt), nil
	case "random":
		return RandomPicker(), nil
	default:
		return nil, fmt.Errorf("unknown assignment strategy %q (want hash or random)", name)
	}
}

// AssignmentStore is the persistence the Assigner needs.
type AssignmentStore interface {
	GetAssignment(ctx context.Context, testID, userKey string) (*store.Assignment, error)
	PutAssignmentIfAbsent(ctx context.Context, a store.Assignment) (store.Assignment, error)
}

// Assigner resolves and persists experiment buckets. Concurrent first
// requests for the same visitor and test share one store round trip, and
// the store keeps whichever assignment was written first.
type Assigner struct {
	store AssignmentStore
	pick  Picker
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group
}

// AssignerOption configures an Assigner.
type AssignerOption func(*Assigner)

func WithPicker(p Picker) AssignerOption            { return func(a *Assigner) { a.pick = p } }
func WithTTL(ttl time.Duration) AssignerOption      { return func(a *Assigner) { a.ttl = ttl } }
func WithClock(now func() time.Time) AssignerOption { return func(a *Assigner) { a.now = now } }

func NewAssigner(s AssignmentStore, opts ...AssignerOption) *Assigner {
	a := &Assigner{
		store: s,
		pick:  HashPicker(""),
		ttl:   DefaultTTL,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Resolve returns the visitor's bucket for testID, creating one if needed.
// An empty userKey yields no bucket.
func (a *Assigner) Resolve(ctx context.Context, testID, userKey string) (string, error) {
	if testID == "" || userKey == "" {
		return "", nil
	}

	now := a.now()
	existing, err := a.store.GetAssignment(ctx, testID, userKey)
	switch {
	case err == nil && !existing.Expired(now):
		return existing.Bucket, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return "", fmt.Errorf("load assignment %s: %w", testID, err)
	}

	v, err, _ := a.group.Do(testID+"\x00"+userKey, func() (any, error) {
		won, err := a.store.PutAssignmentIfAbsent(ctx, store.Assignment{
			TestID:     testID,
			UserKey:    userKey,
			Bucket:     a.pick(testID, userKey),
			AssignedAt: now,
			ExpiresAt:  now.Add(a.ttl),
		})
		if err != nil {
			return "", fmt.Errorf("store assignment %s: %w", testID, err)
		}
		return won.Bucket, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ResolveAll resolves every test id. Tests that fail are left out of the
// result and reported in the joined error.
func (a *Assigner) ResolveAll(ctx context.Context, testIDs []string, userKey string) (map[string]string, error) {
	out := make(map[string]string, len(testIDs))
	var errs []error
	for _, id := range testIDs {
		bucket, err := a.Resolve(ctx, id, userKey)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if bucket != "" {
			out[id] = bucket
		}
	}
	return out, errors.Join(errs...)
}
