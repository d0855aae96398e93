package ledger

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLedger(t *testing.T) (*RedisLedger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLedger(client), mr
}

func createParams(subjectID, accessFP, refreshFP string) CreateParams {
	now := time.Now()
	return CreateParams{
		SubjectID:          subjectID,
		AccessFingerprint:  accessFP,
		RefreshFingerprint: refreshFP,
		IPAddress:          "10.0.0.1",
		UserAgent:          "test-agent",
		AccessExpiresAt:    now.Add(15 * time.Minute),
		RefreshExpiresAt:   now.Add(7 * 24 * time.Hour),
	}
}

func TestCreateAndFind(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	session, err := l.Create(ctx, createParams("ident-1", "afp", "rfp"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if session.ID == "" {
		t.Fatal("expected generated session id")
	}
	if !session.Active {
		t.Fatal("new session must be active")
	}

	byAccess, err := l.FindByAccessFingerprint(ctx, "afp")
	if err != nil {
		t.Fatalf("find by access fingerprint: %v", err)
	}
	if byAccess.ID != session.ID {
		t.Fatalf("expected session %s, got %s", session.ID, byAccess.ID)
	}

	byRefresh, err := l.FindByRefreshFingerprint(ctx, "rfp")
	if err != nil {
		t.Fatalf("find by refresh fingerprint: %v", err)
	}
	if byRefresh.SubjectID != "ident-1" {
		t.Fatalf("expected subject ident-1, got %s", byRefresh.SubjectID)
	}
}

func TestCreateHonorsCallerSessionID(t *testing.T) {
	l, _ := newTestLedger(t)

	params := createParams("ident-1", "afp", "rfp")
	params.SessionID = "minted-upfront"
	session, err := l.Create(context.Background(), params)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if session.ID != "minted-upfront" {
		t.Fatalf("expected caller session id, got %s", session.ID)
	}
}

func TestCreateRejectsPastExpiry(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	params := createParams("ident-1", "afp", "rfp")
	params.AccessExpiresAt = time.Now().Add(-time.Minute)
	if _, err := l.Create(ctx, params); !errors.Is(err, ErrInvalidExpiry) {
		t.Fatalf("expected ErrInvalidExpiry, got %v", err)
	}

	params = createParams("ident-1", "afp", "rfp")
	params.RefreshExpiresAt = time.Now().Add(-time.Minute)
	if _, err := l.Create(ctx, params); !errors.Is(err, ErrInvalidExpiry) {
		t.Fatalf("expected ErrInvalidExpiry, got %v", err)
	}
}

func TestFindUnknownFingerprint(t *testing.T) {
	l, _ := newTestLedger(t)

	if _, err := l.FindByAccessFingerprint(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestDeactivate(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	session, err := l.Create(ctx, createParams("ident-1", "afp", "rfp"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := l.Deactivate(ctx, session.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := l.FindByAccessFingerprint(ctx, "afp"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected revoked session to be unfindable, got %v", err)
	}
	if _, err := l.FindByRefreshFingerprint(ctx, "rfp"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected revoked session to be unfindable, got %v", err)
	}

	// Repeat and unknown-id deactivations are not errors.
	if err := l.Deactivate(ctx, session.ID); err != nil {
		t.Fatalf("repeat deactivate: %v", err)
	}
	if err := l.Deactivate(ctx, "no-such-session"); err != nil {
		t.Fatalf("deactivate unknown session: %v", err)
	}
}

func TestRotateReplacesFingerprints(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	session, err := l.Create(ctx, createParams("ident-1", "old-afp", "old-rfp"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Now()
	rotated, err := l.Rotate(ctx, session.ID, RotateParams{
		PresentedRefreshFingerprint: "old-rfp",
		NewAccessFingerprint:        "new-afp",
		NewRefreshFingerprint:       "new-rfp",
		NewAccessExpiresAt:          now.Add(15 * time.Minute),
		NewRefreshExpiresAt:         now.Add(7 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated.ID != session.ID {
		t.Fatalf("rotation must keep the session id, got %s", rotated.ID)
	}

	if _, err := l.FindByAccessFingerprint(ctx, "old-afp"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("old access fingerprint must be dead, got %v", err)
	}

	// The superseded refresh fingerprint still resolves the session so a
	// replay is reported as already rotated, not unknown.
	stale, err := l.FindByRefreshFingerprint(ctx, "old-rfp")
	if err != nil {
		t.Fatalf("superseded refresh fingerprint must still resolve: %v", err)
	}
	if stale.RefreshFingerprint != "new-rfp" {
		t.Fatalf("session must carry the new refresh fingerprint, got %s", stale.RefreshFingerprint)
	}

	found, err := l.FindByAccessFingerprint(ctx, "new-afp")
	if err != nil {
		t.Fatalf("new access fingerprint must resolve: %v", err)
	}
	if found.ID != session.ID {
		t.Fatalf("expected session %s, got %s", session.ID, found.ID)
	}
}

func TestRotateReplayRejected(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	session, err := l.Create(ctx, createParams("ident-1", "afp", "rfp"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rotate := func(suffix string) error {
		now := time.Now()
		_, err := l.Rotate(ctx, session.ID, RotateParams{
			PresentedRefreshFingerprint: "rfp",
			NewAccessFingerprint:        "afp-" + suffix,
			NewRefreshFingerprint:       "rfp-" + suffix,
			NewAccessExpiresAt:          now.Add(15 * time.Minute),
			NewRefreshExpiresAt:         now.Add(7 * 24 * time.Hour),
		})
		return err
	}

	if err := rotate("first"); err != nil {
		t.Fatalf("first rotation: %v", err)
	}
	if err := rotate("second"); !errors.Is(err, ErrAlreadyRotated) {
		t.Fatalf("expected ErrAlreadyRotated on replay, got %v", err)
	}
}

func TestConcurrentRotateSingleWinner(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	session, err := l.Create(ctx, createParams("ident-1", "afp", "rfp"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const racers = 8
	results := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			now := time.Now()
			_, err := l.Rotate(ctx, session.ID, RotateParams{
				PresentedRefreshFingerprint: "rfp",
				NewAccessFingerprint:        "afp-" + string(rune('a'+i)),
				NewRefreshFingerprint:       "rfp-" + string(rune('a'+i)),
				NewAccessExpiresAt:          now.Add(15 * time.Minute),
				NewRefreshExpiresAt:         now.Add(7 * 24 * time.Hour),
			})
			results[i] = err
		}(i)
	}
	wg.Wait()

	winners, losers := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrAlreadyRotated):
			losers++
		default:
			t.Fatalf("unexpected rotation error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	if losers != racers-1 {
		t.Fatalf("expected %d losers, got %d", racers-1, losers)
	}
}

func TestRotateUnknownSession(t *testing.T) {
	l, _ := newTestLedger(t)

	now := time.Now()
	_, err := l.Rotate(context.Background(), "no-such-session", RotateParams{
		PresentedRefreshFingerprint: "rfp",
		NewAccessFingerprint:        "afp",
		NewRefreshFingerprint:       "rfp2",
		NewAccessExpiresAt:          now.Add(time.Minute),
		NewRefreshExpiresAt:         now.Add(time.Hour),
	})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestDeactivateAllIsScopedToSubject(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.Create(ctx, createParams("ident-1", "a1", "r1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := l.Create(ctx, createParams("ident-1", "a2", "r2")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := l.Create(ctx, createParams("ident-2", "b1", "s1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := l.DeactivateAll(ctx, "ident-1"); err != nil {
		t.Fatalf("deactivate all: %v", err)
	}

	for _, fp := range []string{"a1", "a2"} {
		if _, err := l.FindByAccessFingerprint(ctx, fp); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected %s revoked, got %v", fp, err)
		}
	}
	if _, err := l.FindByAccessFingerprint(ctx, "b1"); err != nil {
		t.Fatalf("other subject's session must survive: %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	l, mr := newTestLedger(t)
	ctx := context.Background()

	live, err := l.Create(ctx, createParams("ident-1", "live-afp", "live-rfp"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Seed a session whose refresh expiry has already passed. Create refuses
	// such rows, so write the hash directly.
	past := time.Now().Add(-time.Hour).Unix()
	mr.HSet("session:stale", "subject_id", "ident-2")
	mr.HSet("session:stale", "access_fp", "stale-afp")
	mr.HSet("session:stale", "refresh_fp", "stale-rfp")
	mr.HSet("session:stale", "access_exp", "1")
	mr.HSet("session:stale", "refresh_exp", strconv.FormatInt(past, 10))
	mr.HSet("session:stale", "active", "0")
	mr.HSet("session:stale", "created_at", "1")

	removed, err := l.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed session, got %d", removed)
	}

	if mr.Exists("session:stale") {
		t.Fatal("stale session hash must be deleted")
	}
	if _, err := l.FindByAccessFingerprint(ctx, "live-afp"); err != nil {
		t.Fatalf("live session must survive the sweep: %v", err)
	}
	if !mr.Exists("session:" + live.ID) {
		t.Fatal("live session hash must survive the sweep")
	}
}
