package workflow

import (
	"context"
	"time"

	"milestone-tracker/internal/model"
)

// Store is the storage collaborator. Reads that return a pointer return nil
// (and no error) when the row does not exist.
type Store interface {
	// InProjectTx runs fn in one transaction. Implementations must roll back
	// when fn returns an error and commit otherwise.
	InProjectTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Read-only helpers used outside a transaction.
	ProjectExists(ctx context.Context, projectID int) (bool, error)
	History(ctx context.Context, projectID int) ([]model.ProjectMilestone, error)
}

// Tx is the set of queries the engine issues inside a project transaction.
type Tx interface {
	// LockProject takes the per-project lock for the rest of the transaction
	// and reports whether the project exists.
	LockProject(ctx context.Context, projectID int) (bool, error)

	Milestone(ctx context.Context, milestoneID int) (*model.Milestone, error)
	DependencyExists(ctx context.Context, dependencyID int) (bool, error)

	History(ctx context.Context, projectID int) ([]model.ProjectMilestone, error)
	// CloseOpenMilestones closes every open record of the project.
	CloseOpenMilestones(ctx context.Context, projectID int, at time.Time) (int64, error)
	InsertProjectMilestone(ctx context.Context, pm *model.ProjectMilestone) error

	PendingDependencies(ctx context.Context, projectID int) ([]int, error)
	ProjectDependency(ctx context.Context, projectID, dependencyID int) (*model.ProjectDependency, error)
	InsertProjectDependency(ctx context.Context, projectID, dependencyID int) error
	MarkDependencyCleared(ctx context.Context, projectID, dependencyID int) error

	// RecordEvent stages an outbox event that commits with the transaction.
	RecordEvent(ctx context.Context, routingKey string, projectID int, payload interface{}) error
}
