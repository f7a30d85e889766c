package pipeline

import (
	"sync"

	"github.com/google/uuid"
)

// CampaignLocks serializes adjudicate-and-create per campaign so two
// concurrent notes cannot race the same new entity into two rows. Locks are
// created on first use and never removed; campaigns are few and long-lived.
type CampaignLocks struct {
	locks sync.Map // uuid.UUID -> *sync.Mutex
}

func NewCampaignLocks() *CampaignLocks {
	return &CampaignLocks{}
}

// Lock acquires the campaign's mutex and returns its unlock.
func (l *CampaignLocks) Lock(campaignID uuid.UUID) func() {
	v, _ := l.locks.LoadOrStore(campaignID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
