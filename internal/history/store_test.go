package history

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hushlabs/hush-core/internal/config"
)

func testConfig(t *testing.T) config.HistoryConfig {
	t.Helper()
	dir := t.TempDir()
	return config.HistoryConfig{
		Enabled:       true,
		Path:          filepath.Join(dir, "history.db"),
		RecordingsDir: filepath.Join(dir, "recordings"),
		RetentionDays: 30,
		MaxEntries:    100,
	}
}

func openStore(t *testing.T, cfg config.HistoryConfig) *Store {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenDisabledReturnsNil(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(context.Background(), config.HistoryConfig{Enabled: false}, log)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s != nil {
		t.Fatal("expected nil store when disabled")
	}
	// Nil stores are safe to use.
	if _, err := s.Save(context.Background(), Entry{Text: "x"}, nil, 16000); err != nil {
		t.Fatalf("nil save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	s := openStore(t, testConfig(t))
	ctx := context.Background()

	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = float32(math.Sin(float64(i) / 10))
	}

	saved, err := s.Save(ctx, Entry{
		BindingID:   "hotkey-1",
		Text:        "hello world",
		PostText:    "Hello world.",
		ModelID:     "parakeet-v3-int8",
		DurationSec: 0.1,
	}, samples, 16000)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("expected generated id")
	}
	if saved.WavPath == "" {
		t.Fatal("expected recording path")
	}

	got, err := s.Get(ctx, saved.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Text != "hello world" || got.PostText != "Hello world." || got.BindingID != "hotkey-1" {
		t.Fatalf("unexpected entry: %+v", got)
	}

	decoded, rate, err := ReadWAV(saved.WavPath)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if rate != 16000 {
		t.Fatalf("rate = %d, want 16000", rate)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(decoded), len(samples))
	}
	// 16-bit quantization error stays below 1/32768 * safety margin.
	for i := range samples {
		if math.Abs(float64(decoded[i]-samples[i])) > 1e-3 {
			t.Fatalf("sample %d drifted: %f vs %f", i, decoded[i], samples[i])
		}
	}
}

func TestSaveWithoutAudioSkipsWav(t *testing.T) {
	s := openStore(t, testConfig(t))
	saved, err := s.Save(context.Background(), Entry{Text: "typed"}, nil, 16000)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.WavPath != "" {
		t.Fatalf("expected no wav path, got %q", saved.WavPath)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := openStore(t, testConfig(t))
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.Save(ctx, Entry{Text: "entry", CreatedAt: base.Add(time.Duration(i) * time.Minute)}, nil, 16000)
		if err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	entries, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if !entries[0].CreatedAt.After(entries[1].CreatedAt) {
		t.Fatalf("expected newest first: %v, %v", entries[0].CreatedAt, entries[1].CreatedAt)
	}
}

func TestPruneByAgeRemovesRowsAndRecordings(t *testing.T) {
	cfg := testConfig(t)
	cfg.RetentionDays = 7
	s := openStore(t, cfg)
	ctx := context.Background()

	now := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return now }

	old, err := s.Save(ctx, Entry{Text: "old", CreatedAt: now.Add(-30 * 24 * time.Hour)}, make([]float32, 160), 16000)
	if err != nil {
		t.Fatalf("save old: %v", err)
	}
	fresh, err := s.Save(ctx, Entry{Text: "fresh", CreatedAt: now.Add(-time.Hour)}, make([]float32, 160), 16000)
	if err != nil {
		t.Fatalf("save fresh: %v", err)
	}

	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if _, err := s.Get(ctx, old.ID); err == nil {
		t.Fatal("expected old entry pruned")
	}
	if _, err := s.Get(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh entry lost: %v", err)
	}
	if _, err := os.Stat(old.WavPath); !os.IsNotExist(err) {
		t.Fatalf("expected old recording deleted, stat err = %v", err)
	}
	if _, err := os.Stat(fresh.WavPath); err != nil {
		t.Fatalf("fresh recording lost: %v", err)
	}
}

func TestPruneByMaxEntries(t *testing.T) {
	cfg := testConfig(t)
	cfg.RetentionDays = 0
	cfg.MaxEntries = 2
	s := openStore(t, cfg)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 4; i++ {
		saved, err := s.Save(ctx, Entry{Text: "entry", CreatedAt: base.Add(time.Duration(i) * time.Minute)}, nil, 16000)
		if err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		ids = append(ids, saved.ID)
	}

	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	entries, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 surviving entries, got %d", len(entries))
	}
	// The two newest survive.
	if entries[0].ID != ids[3] || entries[1].ID != ids[2] {
		t.Fatalf("wrong survivors: %+v", entries)
	}
}
