package config

import (
	"path/filepath"
	"testing"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{name: "minimal", cfg: Config{HostWsURL: "wss://host.example/ws"}, ok: true},
		{name: "missing url", cfg: Config{}, ok: false},
		{name: "bad log format", cfg: Config{HostWsURL: "wss://h/ws", LogFormat: "xml"}, ok: false},
		{name: "bad log level", cfg: Config{HostWsURL: "wss://h/ws", LogLevel: "trace"}, ok: false},
		{name: "negative flush", cfg: Config{HostWsURL: "wss://h/ws", FlushIntervalMs: -1}, ok: false},
		{name: "tuned", cfg: Config{HostWsURL: "wss://h/ws", LogFormat: "text", LogLevel: "debug", FlushIntervalMs: 16, SearchDebounceMs: 200, VirtualizeThreshold: 50}, ok: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("Validate: expected error")
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	want := &Config{
		HostWsURL:        "wss://host.example/ws",
		LogFormat:        "json",
		LogLevel:         "info",
		FlushIntervalMs:  16,
		SearchDebounceMs: 300,
	}

	if err := Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *got != *want {
		t.Fatalf("round trip got=%+v want=%+v", got, want)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := Save(path, &Config{HostWsURL: "wss://h/ws"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := Save(path, &Config{}); err == nil {
		t.Fatalf("Save must reject an invalid config")
	}
}
