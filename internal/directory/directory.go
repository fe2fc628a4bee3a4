package directory

import (
	"context"

	"github.com/talkwave/realtime/internal/models"
)

// Directory is the narrow view of the account/profile service the realtime
// core consults before exposing presence or accepting a send.
type Directory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	IsBlocked(ctx context.Context, a, b string) (bool, error)
	// Contacts returns ids of users who have the given user in their address
	// book and vice versa (mutual contacts).
	Contacts(ctx context.Context, id string) ([]string, error)
}

// CanSeeLastSeen applies the owner's last-seen privacy level to a viewer.
func CanSeeLastSeen(ctx context.Context, d Directory, owner *models.User, viewerID string) bool {
	if viewerID == owner.ID {
		return true
	}
	switch owner.LastSeenPrivacy {
	case models.PrivacyNobody:
		return false
	case models.PrivacyContacts:
		contacts, err := d.Contacts(ctx, owner.ID)
		if err != nil {
			return false
		}
		for _, c := range contacts {
			if c == viewerID {
				return true
			}
		}
		return false
	default:
		return true
	}
}
