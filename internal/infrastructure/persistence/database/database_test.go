package database

import (
	"testing"
	"time"
)

func TestSettingsResolve(t *testing.T) {
	tests := []struct {
		name        string
		settings    Settings
		wantDialect Dialect
		wantDSN     string
	}{
		{
			name:        "postgres url",
			settings:    Settings{DatabaseURL: "postgres://u:p@db:5432/app"},
			wantDialect: DialectPostgres,
			wantDSN:     "postgres://u:p@db:5432/app",
		},
		{
			name:        "libsql url with token",
			settings:    Settings{DatabaseURL: "libsql://db.turso.io", TursoToken: "tok"},
			wantDialect: DialectLibSQL,
			wantDSN:     "libsql://db.turso.io?authToken=tok",
		},
		{
			name:        "https url with token",
			settings:    Settings{DatabaseURL: "https://db.turso.io", TursoToken: "tok"},
			wantDialect: DialectLibSQL,
			wantDSN:     "https://db.turso.io?authToken=tok",
		},
		{
			name:        "turso settings",
			settings:    Settings{TursoURL: "libsql://x.turso.io?tls=1", TursoToken: "tok", SQLitePath: "data/a.db"},
			wantDialect: DialectLibSQL,
			wantDSN:     "libsql://x.turso.io?tls=1&authToken=tok",
		},
		{
			name:        "sqlite fallback",
			settings:    Settings{SQLitePath: "data/a.db"},
			wantDialect: DialectSQLite,
			wantDSN:     "data/a.db",
		},
		{
			name:        "explicit sqlite file url",
			settings:    Settings{DatabaseURL: "file:test.db?cache=shared"},
			wantDialect: DialectSQLite,
			wantDSN:     "file:test.db?cache=shared",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialect, dsn := tt.settings.Resolve()
			if dialect != tt.wantDialect || dsn != tt.wantDSN {
				t.Fatalf("Resolve() = %s %q, want %s %q", dialect, dsn, tt.wantDialect, tt.wantDSN)
			}
		})
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{Dialect: DialectPostgres}
	got := pg.Rebind("UPDATE visitors SET a = ?, b = '?' WHERE id = ?")
	want := "UPDATE visitors SET a = $1, b = '?' WHERE id = $2"
	if got != want {
		t.Fatalf("Rebind() = %q, want %q", got, want)
	}

	lite := &DB{Dialect: DialectSQLite}
	if q := "SELECT ? "; lite.Rebind(q) != q {
		t.Fatal("sqlite queries must be left untouched")
	}
}

func TestNullTimeScan(t *testing.T) {
	ref := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	lite := &DB{Dialect: DialectSQLite}

	inputs := []any{
		ref,
		lite.Timestamp(ref),
		[]byte(ref.Format(time.RFC3339)),
		"2024-05-01 12:30:00",
		ref.Unix(),
	}
	for _, in := range inputs {
		var nt NullTime
		if err := nt.Scan(in); err != nil {
			t.Fatalf("Scan(%v): %v", in, err)
		}
		if !nt.Valid || !nt.Time.Equal(ref) {
			t.Fatalf("Scan(%v) = %v valid=%v", in, nt.Time, nt.Valid)
		}
	}

	var nt NullTime
	if err := nt.Scan(nil); err != nil || nt.Valid || nt.Ptr() != nil {
		t.Fatalf("nil scan should be invalid, got %+v err=%v", nt, err)
	}
	if err := nt.Scan("yesterday"); err == nil {
		t.Fatal("expected error for garbage timestamp")
	}
}

func TestTimestampTextSortsChronologically(t *testing.T) {
	lite := &DB{Dialect: DialectSQLite}
	early := lite.Timestamp(time.Date(2024, 1, 1, 9, 0, 0, 5, time.UTC)).(string)
	late := lite.Timestamp(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)).(string)
	if !(early < late) {
		t.Fatalf("expected %q < %q", early, late)
	}
}
