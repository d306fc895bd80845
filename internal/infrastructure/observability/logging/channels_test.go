package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func newBufferLogger(t *testing.T) (*ChanneledLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	cfg := DefaultLoggerConfig()
	cfg.Writer = &buf
	logger, err := NewChanneledLogger(cfg)
	if err != nil {
		t.Fatalf("NewChanneledLogger: %v", err)
	}
	return logger, &buf
}

func TestChannelAttributeIsAttached(t *testing.T) {
	logger, buf := newBufferLogger(t)

	logger.Tracking().Info("ping recorded", "path", "/blog")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if record["channel"] != string(ChannelTracking) {
		t.Fatalf("expected channel %q, got %v", ChannelTracking, record["channel"])
	}
	if record["path"] != "/blog" {
		t.Fatalf("expected path attribute, got %v", record["path"])
	}
}

func TestSetChannelLevel(t *testing.T) {
	logger, buf := newBufferLogger(t)

	logger.Database().Debug("hidden")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatal("debug record written at default INFO level")
	}

	if err := logger.SetChannelLevel(ChannelDatabase, slog.LevelDebug); err != nil {
		t.Fatalf("SetChannelLevel: %v", err)
	}
	logger.Database().Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatal("debug record missing after level change")
	}

	if got := logger.GetChannelLevels()[string(ChannelDatabase)]; got != slog.LevelDebug.String() {
		t.Fatalf("expected DEBUG level reported, got %s", got)
	}
	if err := logger.SetChannelLevel(Channel("nope"), slog.LevelDebug); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestMaskID(t *testing.T) {
	if got := MaskID("01HZX3V0ABCDEF"); got != "01HZ****CDEF" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := MaskID("short"); got != "********" {
		t.Fatalf("unexpected mask %q", got)
	}
}

func TestSanitizeQuery(t *testing.T) {
	got := sanitizeQuery("SELECT id\n\t FROM sessions\n WHERE id = ?")
	if got != "SELECT id FROM sessions WHERE id = ?" {
		t.Fatalf("unexpected sanitized query %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
