package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/peakself/attribution-go/internal/domain/tracking"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/logging"
	"github.com/peakself/attribution-go/internal/infrastructure/observability/performance"
	"golang.org/x/crypto/bcrypt"
)

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultSessionLimit},
		{-5, DefaultSessionLimit},
		{1, 1},
		{120, 120},
		{MaxSessionLimit, MaxSessionLimit},
		{5000, MaxSessionLimit},
	}
	for _, tt := range tests {
		if got := ClampLimit(tt.in); got != tt.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func seedReporting(t *testing.T) (*memStore, *ReportingService, *testClock, *TrackResult) {
	t.Helper()
	store := newMemStore()
	clock := &testClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	tracker := newTestService(t, store.repos(), clock)
	b := newBrowser()

	first := b.ping(tracker, TrackRequest{Referrer: strPtr("https://google.com"), Path: strPtr("/a")})
	clock.advance(time.Minute)
	b.ping(tracker, TrackRequest{Path: strPtr("/b")})
	clock.advance(time.Hour)
	b.ping(tracker, TrackRequest{SourceHint: strPtr("instagram"), Path: strPtr("/c")})
	newBrowser().ping(tracker, TrackRequest{SourceHint: strPtr("youtube"), Path: strPtr("/")})

	reports := NewReportingService(store.repos(), testConfig.InactivityWindow, logging.NewDiscardLogger(), performance.NewTracker(nil))
	reports.now = clock.now
	return store, reports, clock, first
}

func TestReportingListSessions(t *testing.T) {
	_, reports, _, first := seedReporting(t)
	ctx := context.Background()

	all, err := reports.ListSessions(ctx, tracking.SessionFilter{})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(all))
	}

	mine, err := reports.ListSessions(ctx, tracking.SessionFilter{VisitorID: &first.VisitorID})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 sessions for the visitor, got %d", len(mine))
	}
	for _, s := range mine {
		if s.FirstSource != tracking.SourceGoogle {
			t.Errorf("expected visitor first source google, got %s", s.FirstSource)
		}
		switch s.ID {
		case first.SessionID:
			if s.Active || s.PageCount != 2 {
				t.Errorf("old session: active=%v pages=%d", s.Active, s.PageCount)
			}
		default:
			if !s.Active || s.PageCount != 1 || s.Source != tracking.SourceInstagram {
				t.Errorf("new session: %+v", s)
			}
		}
	}

	google := tracking.SourceGoogle
	bySource, err := reports.ListSessions(ctx, tracking.SessionFilter{Source: &google})
	if err != nil || len(bySource) != 1 {
		t.Fatalf("expected one google session, got %d (%v)", len(bySource), err)
	}
}

func TestReportingSessionDetail(t *testing.T) {
	_, reports, _, first := seedReporting(t)
	ctx := context.Background()

	detail, err := reports.GetSession(ctx, first.SessionID)
	if err != nil || detail == nil {
		t.Fatalf("GetSession: %v %v", detail, err)
	}
	if detail.Active {
		t.Fatal("a session past its window is not active")
	}

	events, err := reports.SessionEvents(ctx, first.SessionID)
	if err != nil || len(events) != 2 {
		t.Fatalf("SessionEvents: %d %v", len(events), err)
	}
	if !events[0].OccurredAt.Before(events[1].OccurredAt) {
		t.Fatal("events must be ordered by occurrence")
	}

	missing, err := reports.GetSession(ctx, "01HV00000000000000000000ZZ")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for a missing session, got %v %v", missing, err)
	}
	none, err := reports.SessionEvents(ctx, "01HV00000000000000000000ZZ")
	if err != nil || none != nil {
		t.Fatalf("expected nil, nil for events of a missing session, got %v %v", none, err)
	}

	v, err := reports.GetVisitor(ctx, first.VisitorID)
	if err != nil || v == nil || v.CurrentSource != tracking.SourceInstagram {
		t.Fatalf("GetVisitor: %+v %v", v, err)
	}
}

func TestReportingDashboard(t *testing.T) {
	_, reports, clock, _ := seedReporting(t)
	ctx := context.Background()

	counts, err := reports.Dashboard(ctx, nil, nil)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	want := DashboardCounts{Google: 1, Instagram: 1, YouTube: 1, Others: 1, Total: 4}
	if *counts != want {
		t.Fatalf("Dashboard = %+v, want %+v", *counts, want)
	}

	from := clock.t.Add(-time.Minute)
	ranged, err := reports.Dashboard(ctx, &from, nil)
	if err != nil {
		t.Fatalf("Dashboard ranged: %v", err)
	}
	if ranged.Total != 2 || ranged.Google != 0 {
		t.Fatalf("unexpected ranged counts %+v", ranged)
	}

	to := from.Add(-time.Hour)
	if _, err := reports.Dashboard(ctx, &from, &to); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestAccountSessions(t *testing.T) {
	store := newMemStore()
	store.accounts["acc-1"] = nil
	clock := &testClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	svc := newTestService(t, store.repos(), clock)
	newBrowser().ping(svc, TrackRequest{Path: strPtr("/"), AccountToken: accountToken(t, "acc-1")})
	newBrowser().ping(svc, TrackRequest{Path: strPtr("/")})

	reports := NewReportingService(store.repos(), testConfig.InactivityWindow, logging.NewDiscardLogger(), nil)
	got, err := reports.AccountSessions(context.Background(), "acc-1", 0, 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("AccountSessions: %d %v", len(got), err)
	}
}

func TestAuthServiceAdminLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	auth := NewAuthService(AuthConfig{PasswordHash: string(hash), JWTSecret: testSecret}, logging.NewDiscardLogger(), nil)

	if res := auth.AuthenticateAdmin("wrong"); res.Success || res.Token != "" {
		t.Fatalf("expected rejection, got %+v", res)
	}

	res := auth.AuthenticateAdmin("correct horse")
	if !res.Success || res.Role != "admin" {
		t.Fatalf("expected success, got %+v", res)
	}
	if !auth.ValidateAdminToken(res.Token) {
		t.Fatal("issued token must validate")
	}
	if auth.ValidateAdminToken(accountToken(t, "acc-1")) {
		t.Fatal("account tokens must not grant admin access")
	}

	unset := NewAuthService(AuthConfig{JWTSecret: testSecret}, logging.NewDiscardLogger(), nil)
	if unset.IsConfigured() || unset.AuthenticateAdmin("").Success {
		t.Fatal("login without a configured hash must fail")
	}
}
