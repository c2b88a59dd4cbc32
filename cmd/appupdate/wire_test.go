package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/breeze-rmm/appupdate/internal/config"
	"github.com/breeze-rmm/appupdate/internal/feed"
)

func TestAsSourceReturnsNilInterfaceOnError(t *testing.T) {
	want := errors.New("boom")
	src, err := asSource((*feed.Source)(nil), want)
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
	if src != nil {
		t.Fatal("a failed open must yield a nil Source")
	}
}

func TestNewDriverWithDefaults(t *testing.T) {
	cfg := config.Default()
	if d := newDriver(cfg, nil); d == nil {
		t.Fatal("newDriver returned nil")
	}
}

func TestOpenHistoryDisabledWithoutFile(t *testing.T) {
	j, err := openHistory(config.Default())
	if err != nil {
		t.Fatal(err)
	}
	if j != nil {
		t.Fatal("expected no journal without history_file")
	}
}

func TestOpenHistoryCreatesFile(t *testing.T) {
	cfg := config.Default()
	cfg.HistoryFile = filepath.Join(t.TempDir(), "state", "history.jsonl")
	j, err := openHistory(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	if _, err := os.Stat(cfg.HistoryFile); err != nil {
		t.Fatalf("history file not created: %v", err)
	}
}
