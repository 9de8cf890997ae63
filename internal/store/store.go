package store

import (
	"context"
	"errors"
	"time"

	"github.com/TimurManjosov/contentship/internal/rules"
)

// ErrNotFound is returned when a definition does not exist.
var ErrNotFound = errors.New("not found")

// Store defines persistence for content definitions, experiment
// assignments and view counters. Implementations must be safe for
// concurrent use.
type Store interface {
	// ListDefinitions returns every definition ordered by id.
	ListDefinitions(ctx context.Context) ([]rules.Definition, error)

	// GetDefinition returns ErrNotFound when id does not exist.
	GetDefinition(ctx context.Context, id string) (*rules.Definition, error)

	// UpsertDefinition creates or replaces a definition and returns the
	// stored copy with UpdatedAt set.
	UpsertDefinition(ctx context.Context, d rules.Definition) (rules.Definition, error)

	// DeleteDefinition returns ErrNotFound when id does not exist.
	DeleteDefinition(ctx context.Context, id string) error

	// GetAssignment returns the stored assignment, expired or not, or
	// ErrNotFound.
	GetAssignment(ctx context.Context, testID, userKey string) (*Assignment, error)

	// PutAssignmentIfAbsent stores a unless an unexpired assignment for the
	// same test and user exists. It returns whichever assignment won.
	PutAssignmentIfAbsent(ctx context.Context, a Assignment) (Assignment, error)

	// PurgeAssignments deletes assignments that expired before t.
	PurgeAssignments(ctx context.Context, before time.Time) (int64, error)

	// AddViews increments the view counter of a variant by n.
	AddViews(ctx context.Context, contentID, variantID string, n int64) error

	// Views returns the per-variant counters of a definition.
	Views(ctx context.Context, contentID string) (map[string]int64, error)

	// Subscribe delivers the ids of definitions changed by any writer until
	// ctx is done, then closes the channel.
	Subscribe(ctx context.Context) (<-chan string, error)

	// Close releases any resources held by the store.
	Close() error
}

// Assignment is a visitor's persisted experiment bucket.
type Assignment struct {
	TestID     string    `json:"testId"`
	UserKey    string    `json:"userKey"`
	Bucket     string    `json:"bucket"`
	AssignedAt time.Time `json:"assignedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Expired reports whether the assignment is no longer valid at now.
func (a Assignment) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}
