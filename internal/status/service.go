// Package status manages ephemeral story content. Expiry is a query-time
// predicate on expires_at; the background sweep only reclaims storage.
package status

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/talkwave/realtime/internal/directory"
	"github.com/talkwave/realtime/internal/errs"
	"github.com/talkwave/realtime/internal/models"
	"github.com/talkwave/realtime/internal/repository"
)

// TTL is how long a status stays visible after publication.
const TTL = 24 * time.Hour

type Service struct {
	store repository.Store
	dir   directory.Directory
	log   *zap.SugaredLogger
	now   func() time.Time
}

func NewService(store repository.Store, dir directory.Directory, log *zap.SugaredLogger) *Service {
	return &Service{store: store, dir: dir, log: log, now: time.Now}
}

type PublishInput struct {
	Kind       models.ContentKind
	Content    string
	MediaURL   string
	Background string
	Font       string
	Audience   models.Privacy
}

func (s *Service) Publish(ctx context.Context, ownerID string, in PublishInput) (*models.Status, error) {
	switch in.Kind {
	case models.ContentText:
		if in.Content == "" {
			return nil, errs.ErrPayloadInvalid
		}
	case models.ContentImage, models.ContentVideo:
		if in.MediaURL == "" {
			return nil, errs.ErrPayloadInvalid
		}
	default:
		return nil, errs.ErrPayloadInvalid
	}
	if in.Audience == "" {
		in.Audience = models.PrivacyContacts
	}
	now := s.now().UTC()
	st := &models.Status{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Kind:       in.Kind,
		Content:    in.Content,
		MediaURL:   in.MediaURL,
		Background: in.Background,
		Font:       in.Font,
		Audience:   in.Audience,
		CreatedAt:  now,
		ExpiresAt:  now.Add(TTL),
	}
	if err := s.store.InsertStatus(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// IsVisible reports whether a status can be shown to the viewer at the given
// instant, regardless of sweep timing.
func (s *Service) IsVisible(ctx context.Context, st *models.Status, viewerID string, now time.Time) bool {
	if !now.Before(st.ExpiresAt) {
		return false
	}
	if viewerID == st.OwnerID {
		return true
	}
	if blocked, err := s.dir.IsBlocked(ctx, st.OwnerID, viewerID); err == nil && blocked {
		return false
	}
	switch st.Audience {
	case models.PrivacyNobody:
		return false
	case models.PrivacyEveryone:
		return true
	default: // contacts
		contacts, err := s.dir.Contacts(ctx, st.OwnerID)
		if err != nil {
			return false
		}
		for _, c := range contacts {
			if c == viewerID {
				return true
			}
		}
		return false
	}
}

// Feed returns the viewer's visible statuses: their own plus those of
// mutual contacts, expired ones excluded at read time.
func (s *Service) Feed(ctx context.Context, viewerID string) ([]*models.Status, error) {
	contacts, err := s.dir.Contacts(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	owners := append(contacts, viewerID)
	now := s.now().UTC()
	all, err := s.store.ListActive(ctx, owners, now)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, st := range all {
		if s.IsVisible(ctx, st, viewerID, now) {
			out = append(out, st)
		}
	}
	return out, nil
}

// RecordView creates the viewer's StatusView on first view; later calls are
// no-ops.
func (s *Service) RecordView(ctx context.Context, statusID, viewerID string) error {
	st, err := s.store.GetStatus(ctx, statusID)
	if err != nil {
		return err
	}
	if !s.IsVisible(ctx, st, viewerID, s.now().UTC()) {
		return errs.ErrNotFound
	}
	if viewerID == st.OwnerID {
		return nil
	}
	_, err = s.store.InsertView(ctx, &models.StatusView{
		StatusID: statusID,
		ViewerID: viewerID,
		ViewedAt: s.now().UTC(),
	})
	return err
}

// Views lists who has seen the status; owner only.
func (s *Service) Views(ctx context.Context, statusID, requesterID string) ([]*models.StatusView, error) {
	st, err := s.store.GetStatus(ctx, statusID)
	if err != nil {
		return nil, err
	}
	if st.OwnerID != requesterID {
		return nil, errs.ErrUnauthorized
	}
	return s.store.ListViews(ctx, statusID)
}

func (s *Service) Delete(ctx context.Context, statusID, ownerID string) error {
	return s.store.DeleteStatus(ctx, statusID, ownerID)
}

// RunSweeper reclaims expired statuses until the context is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.DeleteExpired(ctx, s.now().UTC())
			if err != nil {
				s.log.Warnw("status sweep", "err", err)
				continue
			}
			if n > 0 {
				s.log.Infow("status sweep reclaimed", "count", n)
			}
		}
	}
}
