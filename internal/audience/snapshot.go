package audience

import (
	"context"
	"slices"

	"github.com/sumanism/ECA2/internal/store"
)

// Snapshot is a read-only Store over a fixed user list. It holds no segments
// or campaigns, so only Preview is useful against it.
type Snapshot []store.User

func (s Snapshot) AllUsers(context.Context) ([]store.User, error) {
	return slices.Clone([]store.User(s)), nil
}

func (Snapshot) GetSegment(context.Context, string) (*store.Segment, error) {
	return nil, store.ErrNotFound
}

func (Snapshot) GetCampaign(context.Context, string) (*store.Campaign, error) {
	return nil, store.ErrNotFound
}

func (Snapshot) ListCampaignSteps(context.Context, string) ([]store.CampaignStep, error) {
	return nil, nil
}
