package consent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/kozaktomas/photo-consent/internal/database"
	"github.com/kozaktomas/photo-consent/internal/database/mock"
	"github.com/kozaktomas/photo-consent/internal/facematch"
	"github.com/rs/zerolog"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []database.ConsentRequest
	err   error
}

func (n *recordingNotifier) ConsentApproved(ctx context.Context, req database.ConsentRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, req)
	return n.err
}

func newLedger(t *testing.T) (*Ledger, *mock.MockStore, *recordingNotifier) {
	t.Helper()
	store := mock.NewMockStore()
	notifier := &recordingNotifier{}
	l := NewLedger(store, zerolog.Nop())
	l.SetNotifier(notifier)
	return l, store, notifier
}

var region = facematch.Region{Left: 1, Top: 2, Right: 30, Bottom: 40}

func TestOpenRequest_Idempotent(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()
	photoID := uuid.New()

	first, created, err := l.OpenRequest(ctx, photoID, 7, region)
	if err != nil || !created {
		t.Fatalf("expected created request, got created=%v err=%v", created, err)
	}
	if first.Status != database.ConsentPending {
		t.Errorf("expected PENDING, got %s", first.Status)
	}

	second, created, err := l.OpenRequest(ctx, photoID, 7, facematch.Region{Left: 5, Top: 5, Right: 9, Bottom: 9})
	if err != nil {
		t.Fatalf("OpenRequest: %v", err)
	}
	if created {
		t.Error("second open must not create a request")
	}
	if second.ID != first.ID || second.Region != region {
		t.Errorf("expected the existing request, got %+v", second)
	}

	// Different identity on the same photo gets its own request.
	_, created, _ = l.OpenRequest(ctx, photoID, 8, region)
	if !created {
		t.Error("expected a request for another identity")
	}
}

func TestDecide(t *testing.T) {
	ctx := context.Background()

	t.Run("approve notifies", func(t *testing.T) {
		l, _, n := newLedger(t)
		req, _, _ := l.OpenRequest(ctx, uuid.New(), 7, region)

		got, err := l.Decide(ctx, req.ID, 7, database.ConsentApproved)
		if err != nil {
			t.Fatalf("Decide: %v", err)
		}
		if got.Status != database.ConsentApproved || got.DecidedAt == nil {
			t.Errorf("unexpected request %+v", got)
		}
		if len(n.calls) != 1 || n.calls[0].ID != req.ID {
			t.Errorf("expected one notification, got %d", len(n.calls))
		}
	})

	t.Run("deny does not notify", func(t *testing.T) {
		l, _, n := newLedger(t)
		req, _, _ := l.OpenRequest(ctx, uuid.New(), 7, region)

		got, err := l.Decide(ctx, req.ID, 7, database.ConsentDenied)
		if err != nil {
			t.Fatalf("Decide: %v", err)
		}
		if got.Status != database.ConsentDenied {
			t.Errorf("expected DENIED, got %s", got.Status)
		}
		if len(n.calls) != 0 {
			t.Errorf("deny must not trigger regeneration")
		}
	})

	t.Run("errors", func(t *testing.T) {
		l, _, _ := newLedger(t)
		req, _, _ := l.OpenRequest(ctx, uuid.New(), 7, region)

		if _, err := l.Decide(ctx, uuid.New(), 7, database.ConsentApproved); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := l.Decide(ctx, req.ID, 8, database.ConsentApproved); !errors.Is(err, ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
		if _, err := l.Decide(ctx, req.ID, 7, database.ConsentPending); !errors.Is(err, ErrInvalidOutcome) {
			t.Errorf("expected ErrInvalidOutcome, got %v", err)
		}
		if _, err := l.Decide(ctx, req.ID, 7, "MAYBE"); !errors.Is(err, ErrInvalidOutcome) {
			t.Errorf("expected ErrInvalidOutcome, got %v", err)
		}

		if _, err := l.Decide(ctx, req.ID, 7, database.ConsentDenied); err != nil {
			t.Fatalf("Decide: %v", err)
		}
		// Monotonic: a decided request never changes again.
		if _, err := l.Decide(ctx, req.ID, 7, database.ConsentApproved); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
		if d, _ := l.CurrentDecision(ctx, req.PhotoID, 7); d != Denied {
			t.Errorf("expected denied to stick, got %s", d)
		}
	})

	t.Run("regeneration failure keeps decision", func(t *testing.T) {
		l, _, n := newLedger(t)
		n.err = errors.New("disk full")
		req, _, _ := l.OpenRequest(ctx, uuid.New(), 7, region)

		got, err := l.Decide(ctx, req.ID, 7, database.ConsentApproved)
		if !errors.Is(err, ErrRegenerationFailed) {
			t.Fatalf("expected ErrRegenerationFailed, got %v", err)
		}
		if got.Status != database.ConsentApproved {
			t.Errorf("decision should be returned, got %+v", got)
		}
		if d, _ := l.CurrentDecision(ctx, req.PhotoID, 7); d != Approved {
			t.Errorf("decision should stay recorded, got %s", d)
		}
	})
}

func TestDecide_ConcurrentOnlyOneWins(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()
	req, _, _ := l.OpenRequest(ctx, uuid.New(), 7, region)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := range 10 {
		outcome := database.ConsentApproved
		if i%2 == 1 {
			outcome = database.ConsentDenied
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Decide(ctx, req.ID, 7, outcome)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Errorf("expected exactly one successful decision, got %d", successes)
	}
}

func TestDecisions(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()
	photoID := uuid.New()

	a, _, _ := l.OpenRequest(ctx, photoID, 1, region)
	l.OpenRequest(ctx, photoID, 2, region)
	c, _, _ := l.OpenRequest(ctx, photoID, 3, region)
	l.OpenRequest(ctx, uuid.New(), 4, region)

	l.Decide(ctx, a.ID, 1, database.ConsentApproved)
	l.Decide(ctx, c.ID, 3, database.ConsentDenied)

	got, err := l.Decisions(ctx, photoID)
	if err != nil {
		t.Fatalf("Decisions: %v", err)
	}
	want := map[int64]Decision{1: Approved, 2: Pending, 3: Denied}
	if len(got) != len(want) {
		t.Fatalf("expected %d decisions, got %v", len(want), got)
	}
	for id, d := range want {
		if got[id] != d {
			t.Errorf("identity %d: got %s, want %s", id, got[id], d)
		}
	}

	if d, _ := l.CurrentDecision(ctx, photoID, 4); d != NoRequest {
		t.Errorf("expected no_request, got %s", d)
	}
}

func TestListForIdentity(t *testing.T) {
	l, _, _ := newLedger(t)
	ctx := context.Background()

	r1, _, _ := l.OpenRequest(ctx, uuid.New(), 5, region)
	l.OpenRequest(ctx, uuid.New(), 5, region)
	l.OpenRequest(ctx, uuid.New(), 6, region)
	l.Decide(ctx, r1.ID, 5, database.ConsentDenied)

	all, err := l.ListForIdentity(ctx, 5, "")
	if err != nil {
		t.Fatalf("ListForIdentity: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 requests, got %d", len(all))
	}
	pending, _ := l.ListForIdentity(ctx, 5, database.ConsentPending)
	if len(pending) != 1 {
		t.Errorf("expected 1 pending request, got %d", len(pending))
	}
	if _, err := l.ListForIdentity(ctx, 5, "OPEN"); err == nil {
		t.Error("expected error for unknown status")
	}
}
