// Package consent records who asked whom for permission to show a face, and
// what they answered. A request moves from PENDING to APPROVED or DENIED
// exactly once.
package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/photo-consent/internal/database"
	"github.com/kozaktomas/photo-consent/internal/facematch"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound          = database.ErrNotFound
	ErrInvalidTransition = database.ErrInvalidTransition
	// ErrForbidden is returned when someone other than the asked identity decides.
	ErrForbidden = errors.New("only the requested identity may decide")
	// ErrInvalidOutcome is returned for outcomes other than APPROVED or DENIED.
	ErrInvalidOutcome = errors.New("outcome must be APPROVED or DENIED")
	// ErrRegenerationFailed is returned when an approval was recorded but the
	// derived image could not be rebuilt. The previous image stays in place.
	ErrRegenerationFailed = errors.New("consent recorded but re-redaction failed")
)

// Decision is the ledger's view of one (photo, identity) pair.
type Decision string

const (
	NoRequest Decision = "no_request"
	Pending   Decision = "pending"
	Approved  Decision = "approved"
	Denied    Decision = "denied"
)

func decisionOf(status database.ConsentStatus) Decision {
	switch status {
	case database.ConsentApproved:
		return Approved
	case database.ConsentDenied:
		return Denied
	default:
		return Pending
	}
}

// Notifier is told about approvals and must finish re-redacting the photo
// before returning.
type Notifier interface {
	ConsentApproved(ctx context.Context, req database.ConsentRequest) error
}

// Ledger is the consent state machine on top of a ConsentStore.
type Ledger struct {
	store    database.ConsentStore
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
}

// NewLedger creates a ledger. A notifier is attached with SetNotifier.
func NewLedger(store database.ConsentStore, log zerolog.Logger) *Ledger {
	return &Ledger{
		store: store,
		log:   log.With().Str("component", "consent").Logger(),
		now:   time.Now,
	}
}

// SetNotifier attaches the component that re-redacts photos on approval.
func (l *Ledger) SetNotifier(n Notifier) {
	l.notifier = n
}

// OpenRequest creates a PENDING request for (photo, identity) unless one
// already exists; the existing request is returned unchanged in that case.
func (l *Ledger) OpenRequest(
	ctx context.Context, photoID uuid.UUID, identityID int64, region facematch.Region,
) (database.ConsentRequest, bool, error) {
	req := database.ConsentRequest{
		PhotoID:    photoID,
		IdentityID: identityID,
		Region:     region,
		Status:     database.ConsentPending,
	}
	created, err := l.store.CreateConsentRequest(ctx, &req)
	if err != nil {
		return database.ConsentRequest{}, false, fmt.Errorf("open consent request: %w", err)
	}
	if created {
		l.log.Info().
			Str("request_id", req.ID.String()).
			Str("photo_id", photoID.String()).
			Int64("identity_id", identityID).
			Msg("consent request opened")
	}
	return req, created, nil
}

// Decide records the actor's answer. On approval it returns only after the
// notifier rebuilt the derived image.
func (l *Ledger) Decide(
	ctx context.Context, requestID uuid.UUID, actorID int64, outcome database.ConsentStatus,
) (database.ConsentRequest, error) {
	req, err := l.store.GetConsentRequest(ctx, requestID)
	if err != nil {
		return database.ConsentRequest{}, err
	}
	if req.IdentityID != actorID {
		return database.ConsentRequest{}, fmt.Errorf("request %s: %w", requestID, ErrForbidden)
	}
	if outcome != database.ConsentApproved && outcome != database.ConsentDenied {
		return database.ConsentRequest{}, fmt.Errorf("%q: %w", outcome, ErrInvalidOutcome)
	}

	decided, err := l.store.TransitionConsentRequest(ctx, requestID, database.ConsentPending, outcome, l.now())
	if err != nil {
		return database.ConsentRequest{}, err
	}

	l.log.Info().
		Str("request_id", requestID.String()).
		Str("photo_id", decided.PhotoID.String()).
		Int64("identity_id", actorID).
		Str("outcome", string(outcome)).
		Msg("consent decided")

	if outcome == database.ConsentApproved && l.notifier != nil {
		if err := l.notifier.ConsentApproved(ctx, *decided); err != nil {
			return *decided, fmt.Errorf("%w: %w", ErrRegenerationFailed, err)
		}
	}
	return *decided, nil
}

// CurrentDecision returns the state for one (photo, identity) pair.
func (l *Ledger) CurrentDecision(ctx context.Context, photoID uuid.UUID, identityID int64) (Decision, error) {
	req, err := l.store.FindConsentRequest(ctx, photoID, identityID)
	if errors.Is(err, database.ErrNotFound) {
		return NoRequest, nil
	}
	if err != nil {
		return "", err
	}
	return decisionOf(req.Status), nil
}

// Decisions returns the decision of every identity with a request on the photo.
// Identities without a request are absent, which reads as NoRequest.
func (l *Ledger) Decisions(ctx context.Context, photoID uuid.UUID) (map[int64]Decision, error) {
	reqs, err := l.store.ListConsentRequestsByPhoto(ctx, photoID)
	if err != nil {
		return nil, fmt.Errorf("list consent requests: %w", err)
	}
	out := make(map[int64]Decision, len(reqs))
	for _, r := range reqs {
		out[r.IdentityID] = decisionOf(r.Status)
	}
	return out, nil
}

// ListForIdentity returns the requests addressed to an identity.
func (l *Ledger) ListForIdentity(
	ctx context.Context, identityID int64, status database.ConsentStatus,
) ([]database.ConsentRequest, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	reqs, err := l.store.ListConsentRequestsByIdentity(ctx, identityID, status)
	if err != nil {
		return nil, fmt.Errorf("list consent requests: %w", err)
	}
	return reqs, nil
}
