package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/peakself/attribution-go/internal/domain/tracking"
	schema "github.com/peakself/attribution-go/internal/infrastructure/database"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
	"github.com/peakself/attribution-go/internal/infrastructure/persistence/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewConnection(database.DialectSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// every pooled connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if err := schema.NewTableCreator().CreateSchema(context.Background(), db); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func strPtr(s string) *string { return &s }

func TestVisitorRepositoryTouchKeepsFirstTouch(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewSQLVisitorRepository(db, logging.NewDiscardLogger())
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	v := &tracking.Visitor{
		ID:               "01HV0000000000000000000001",
		FirstSource:      tracking.SourceGoogle,
		FirstReferrer:    strPtr("https://www.google.com/"),
		FirstLandingPath: strPtr("/blog"),
		CurrentSource:    tracking.SourceGoogle,
		CurrentReferrer:  strPtr("https://www.google.com/"),
		CreatedAt:        t0,
		LastSeenAt:       t0,
	}
	if err := repo.Create(ctx, v); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// duplicate create is a no-op
	dup := *v
	dup.FirstSource = tracking.SourceOther
	if err := repo.Create(ctx, &dup); err != nil {
		t.Fatalf("duplicate Create: %v", err)
	}

	instagram, youtube := tracking.SourceInstagram, tracking.SourceYouTube
	if err := repo.Touch(ctx, v.ID, &instagram, nil, strPtr("acc-1"), t0.Add(time.Minute)); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := repo.Touch(ctx, v.ID, &youtube, strPtr("https://youtu.be/x"), strPtr("acc-2"), t0.Add(2*time.Minute)); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	// a ping without attribution signal keeps the current source
	if err := repo.Touch(ctx, v.ID, nil, nil, nil, t0.Add(2*time.Minute)); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	// an out-of-order ping must not move last_seen_at backwards
	if err := repo.TouchReferrer(ctx, v.ID, nil, t0.Add(30*time.Second)); err != nil {
		t.Fatalf("TouchReferrer: %v", err)
	}

	got, err := repo.FindByID(ctx, v.ID)
	if err != nil || got == nil {
		t.Fatalf("FindByID: %v %v", got, err)
	}
	if got.FirstSource != tracking.SourceGoogle || *got.FirstReferrer != "https://www.google.com/" || *got.FirstLandingPath != "/blog" {
		t.Fatalf("first touch changed: %+v", got)
	}
	if got.CurrentSource != tracking.SourceYouTube || *got.CurrentReferrer != "https://youtu.be/x" {
		t.Fatalf("current touch not refreshed: %+v", got)
	}
	if got.AccountID == nil || *got.AccountID != "acc-1" {
		t.Fatalf("expected account linked once to acc-1, got %v", got.AccountID)
	}
	if !got.LastSeenAt.Equal(t0.Add(2 * time.Minute)) {
		t.Fatalf("expected last_seen_at %s, got %s", t0.Add(2*time.Minute), got.LastSeenAt)
	}

	missing, err := repo.FindByID(ctx, "01HV0000000000000000000009")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for missing visitor, got %v %v", missing, err)
	}
}

func TestSessionRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	logger := logging.NewDiscardLogger()
	visitors := NewSQLVisitorRepository(db, logger)
	sessions := NewSQLSessionRepository(db, logger)
	events := NewSQLEventRepository(db, logger)
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	v := &tracking.Visitor{ID: "01HV0000000000000000000001", FirstSource: tracking.SourceGoogle, CurrentSource: tracking.SourceGoogle, CreatedAt: t0, LastSeenAt: t0}
	if err := visitors.Create(ctx, v); err != nil {
		t.Fatalf("Create visitor: %v", err)
	}

	s := &tracking.Session{
		ID:          "01HV0000000000000000000S01",
		VisitorID:   v.ID,
		Source:      tracking.SourceGoogle,
		LandingPath: strPtr("/blog"),
		UserAgent:   "test-agent",
		IP:          "127.0.0.1",
		StartedAt:   t0,
		LastSeenAt:  t0,
	}
	if err := sessions.Create(ctx, s); err != nil {
		t.Fatalf("Create session: %v", err)
	}
	if err := sessions.Touch(ctx, s.ID, strPtr("acc-1"), t0.Add(10*time.Minute)); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	for i, p := range []string{"/blog", "/blog/post-1"} {
		e := &tracking.Event{ID: "01HV0000000000000000000E0" + string(rune('1'+i)), SessionID: s.ID, OccurredAt: t0.Add(time.Duration(i) * time.Minute), Path: strPtr(p)}
		if err := events.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if err := sessions.End(ctx, s.ID); err != nil {
		t.Fatalf("End: %v", err)
	}
	// a second End must not move ended_at
	if err := sessions.Touch(ctx, s.ID, nil, t0.Add(50*time.Minute)); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := sessions.End(ctx, s.ID); err != nil {
		t.Fatalf("End: %v", err)
	}

	got, err := sessions.FindByID(ctx, s.ID)
	if err != nil || got == nil {
		t.Fatalf("FindByID: %v %v", got, err)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(t0.Add(10*time.Minute)) {
		t.Fatalf("expected ended_at backdated to %s, got %v", t0.Add(10*time.Minute), got.EndedAt)
	}
	if got.AccountID == nil || *got.AccountID != "acc-1" {
		t.Fatalf("expected account attached, got %v", got.AccountID)
	}

	list, err := sessions.List(ctx, tracking.SessionFilter{VisitorID: &v.ID, Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].PageCount != 2 || list[0].FirstSource != tracking.SourceGoogle {
		t.Fatalf("unexpected summaries %+v", list)
	}

	evs, err := events.ListBySession(ctx, s.ID)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(evs) != 2 || *evs[0].Path != "/blog" || *evs[1].Path != "/blog/post-1" {
		t.Fatalf("unexpected events %+v", evs)
	}
}

func TestTrafficRepositoryCounts(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewSQLTrafficRepository(db, logging.NewDiscardLogger())
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	sources := []tracking.Source{tracking.SourceGoogle, tracking.SourceGoogle, tracking.SourceYouTube, tracking.SourceOther}
	for i, src := range sources {
		ev := &tracking.TrafficEvent{ID: "01HV0000000000000000000T0" + string(rune('1'+i)), OccurredAt: t0.Add(time.Duration(i) * time.Hour), Source: src}
		if err := repo.Store(ctx, ev); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	all, err := repo.CountBySource(ctx, nil, nil)
	if err != nil {
		t.Fatalf("CountBySource: %v", err)
	}
	if all[tracking.SourceGoogle] != 2 || all[tracking.SourceYouTube] != 1 || all[tracking.SourceOther] != 1 {
		t.Fatalf("unexpected counts %v", all)
	}

	from := t0.Add(time.Hour)
	to := t0.Add(3 * time.Hour)
	ranged, err := repo.CountBySource(ctx, &from, &to)
	if err != nil {
		t.Fatalf("CountBySource ranged: %v", err)
	}
	if ranged[tracking.SourceGoogle] != 1 || ranged[tracking.SourceYouTube] != 1 || ranged[tracking.SourceOther] != 0 {
		t.Fatalf("unexpected ranged counts %v", ranged)
	}
}

func TestAccountRepositoryFirstTouchWrittenOnce(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewSQLAccountRepository(db, logging.NewDiscardLogger())

	if _, err := db.Exec(`INSERT INTO users (id, email) VALUES ('acc-1', 'a@example.com')`); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	ok, err := repo.Exists(ctx, "acc-1")
	if err != nil || !ok {
		t.Fatalf("Exists(acc-1) = %v, %v", ok, err)
	}
	ok, err = repo.Exists(ctx, "acc-404")
	if err != nil || ok {
		t.Fatalf("Exists(acc-404) = %v, %v", ok, err)
	}

	first := tracking.FirstTouch{Source: tracking.SourceGoogle, LandingPath: strPtr("/blog")}
	second := tracking.FirstTouch{Source: tracking.SourceInstagram, Referrer: strPtr("https://instagram.com/"), LandingPath: strPtr("/about")}
	if err := repo.SetFirstTouch(ctx, "acc-1", first); err != nil {
		t.Fatalf("SetFirstTouch: %v", err)
	}
	if err := repo.SetFirstTouch(ctx, "acc-1", second); err != nil {
		t.Fatalf("SetFirstTouch again: %v", err)
	}

	var source, landing string
	var referrer *string
	row := db.QueryRow(`SELECT first_source, first_referrer, first_landing_path FROM users WHERE id = 'acc-1'`)
	if err := row.Scan(&source, &referrer, &landing); err != nil {
		t.Fatalf("scan user: %v", err)
	}
	if source != "google" || referrer != nil || landing != "/blog" {
		t.Fatalf("first touch overwritten: %s %v %s", source, referrer, landing)
	}
}
