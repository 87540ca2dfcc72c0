package keys

import "context"

// Store persists wrapped data keys, addressable by (organization, key id).
type Store interface {
	Create(ctx context.Context, key *DataKey) error
	Find(ctx context.Context, organizationID, keyID string) (*DataKey, error)
	ListByOrg(ctx context.Context, organizationID string) ([]*DataKey, error)
	// DeactivateByOrg marks every key of the organization inactive and
	// returns how many rows changed. Deactivated keys remain resolvable for
	// decrypting old envelopes.
	DeactivateByOrg(ctx context.Context, organizationID string) (int64, error)
}
