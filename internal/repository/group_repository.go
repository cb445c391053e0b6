package repository

import "context"

// GroupRepository is the read-only group membership collaborator.
// Membership administration happens outside this service.
type GroupRepository interface {
	MembersOf(ctx context.Context, groupID int64) ([]int64, error)
	IsMember(ctx context.Context, groupID, userID int64) (bool, error)
}
