package services

import (
	"context"
	"fmt"
	"time"

	"github.com/peakself/attribution-go/internal/domain/tracking"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
	"github.com/peakself/attribution-go/internal/infrastructure/security"
)

// VisitorInput carries one ping's view of the visitor.
type VisitorInput struct {
	Cookies   *tracking.CookieJar
	AccountID *string
	Source    tracking.Source
	// HasSignal is false when the ping carried neither a hint nor a referrer
	// field; the stored current source is then kept. A direct hit is a signal.
	HasSignal   bool
	Referrer    *string
	LandingPath *string
	Now         time.Time
}

// VisitorResolver finds or creates the long-lived visitor behind a ping.
type VisitorResolver struct {
	visitors  tracking.VisitorRepository
	cookieTTL time.Duration
	logger    *logging.ChanneledLogger
}

// NewVisitorResolver creates a resolver.
func NewVisitorResolver(visitors tracking.VisitorRepository, cookieTTL time.Duration, logger *logging.ChanneledLogger) *VisitorResolver {
	return &VisitorResolver{visitors: visitors, cookieTTL: cookieTTL, logger: logger}
}

// Resolve returns the visitor for the ping and whether it was created.
// Visitor cookies are queued on the jar only after the store accepted the write.
func (r *VisitorResolver) Resolve(ctx context.Context, in VisitorInput) (*tracking.Visitor, bool, error) {
	cookieID, _ := in.Cookies.Get(tracking.CookieVisitorID)
	validCookie := security.IsValidID(cookieID)

	var visitor *tracking.Visitor
	created := false

	if validCookie {
		existing, err := r.visitors.FindByID(ctx, cookieID)
		if err != nil {
			return nil, false, fmt.Errorf("visitor lookup: %w", err)
		}
		if existing != nil {
			if err := r.touch(ctx, existing, in); err != nil {
				return nil, false, err
			}
			visitor = existing
		}
	}

	if visitor == nil {
		id := cookieID
		if !validCookie {
			id = security.GenerateOrderedULID(in.Now)
		}
		v, err := r.create(ctx, id, validCookie, in)
		if err != nil {
			return nil, false, err
		}
		visitor, created = v, true
	}

	r.writeCookies(in.Cookies, visitor)
	return visitor, created, nil
}

func (r *VisitorResolver) touch(ctx context.Context, v *tracking.Visitor, in VisitorInput) error {
	var source *tracking.Source
	if in.HasSignal {
		source = &in.Source
	}
	if err := r.visitors.Touch(ctx, v.ID, source, in.Referrer, in.AccountID, in.Now); err != nil {
		return fmt.Errorf("visitor touch: %w", err)
	}

	// mirror the statement so callers see the stored state
	if source != nil {
		v.CurrentSource = *source
	}
	if in.Referrer != nil {
		v.CurrentReferrer = in.Referrer
	}
	if v.AccountID == nil {
		v.AccountID = in.AccountID
	}
	if in.Now.After(v.LastSeenAt) {
		v.LastSeenAt = in.Now
	}
	return nil
}

// create seeds first and current touch from this ping. A recreated visitor
// keeps the id from its cookie and is re-read in case a concurrent ping won.
func (r *VisitorResolver) create(ctx context.Context, id string, recreated bool, in VisitorInput) (*tracking.Visitor, error) {
	v := &tracking.Visitor{
		ID:               id,
		AccountID:        in.AccountID,
		FirstSource:      in.Source,
		FirstReferrer:    in.Referrer,
		FirstLandingPath: in.LandingPath,
		CurrentSource:    in.Source,
		CurrentReferrer:  in.Referrer,
		CreatedAt:        in.Now,
		LastSeenAt:       in.Now,
	}
	if err := r.visitors.Create(ctx, v); err != nil {
		return nil, fmt.Errorf("visitor create: %w", err)
	}

	if !recreated {
		r.logger.Tracking().Debug("Visitor created", "visitorId", logging.MaskID(id), "source", in.Source)
		return v, nil
	}

	r.logger.Tracking().Info("Visitor recreated from cookie", "visitorId", logging.MaskID(id))
	stored, err := r.visitors.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("visitor reload: %w", err)
	}
	if stored == nil {
		return v, nil
	}
	return stored, nil
}

func (r *VisitorResolver) writeCookies(jar *tracking.CookieJar, v *tracking.Visitor) {
	jar.Set(tracking.CookieVisitorID, v.ID, r.cookieTTL)

	first := v.FirstSource
	if raw, ok := jar.Get(tracking.CookieFirstSource); ok {
		if src, valid := tracking.ParseSource(raw); valid {
			first = src
		}
	}
	jar.Set(tracking.CookieFirstSource, string(first), r.cookieTTL)
	jar.Set(tracking.CookieCurrentSource, string(v.CurrentSource), r.cookieTTL)
}
