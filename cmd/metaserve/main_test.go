package main

import "testing"

func TestParseFlagsRequiresKeyAndCert(t *testing.T) {
	if _, err := parseFlags(nil); err == nil {
		t.Fatal("expected error when --key/--cert are missing")
	}
	if _, err := parseFlags([]string{"-k", "key.der"}); err == nil {
		t.Fatal("expected error when --cert is missing")
	}
}

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := parseFlags([]string{"-k", "key.der", "-c", "cert.der"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.stateSize != 8192 {
		t.Errorf("stateSize = %d, want 8192", cfg.stateSize)
	}
	if cfg.listenAddr != "[::]:4433" {
		t.Errorf("listenAddr = %q, want %q", cfg.listenAddr, "[::]:4433")
	}
	if cfg.statusAddr != "" {
		t.Errorf("statusAddr = %q, want empty", cfg.statusAddr)
	}
}

func TestParseFlagsLongForm(t *testing.T) {
	cfg, err := parseFlags([]string{
		"--key", "key.der",
		"--cert", "cert.der",
		"--state-size", "4096",
		"--listen", "127.0.0.1:9999",
		"--status-addr", "127.0.0.1:8080",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.keyPath != "key.der" || cfg.certPath != "cert.der" {
		t.Errorf("got key=%q cert=%q", cfg.keyPath, cfg.certPath)
	}
	if cfg.stateSize != 4096 {
		t.Errorf("stateSize = %d, want 4096", cfg.stateSize)
	}
	if cfg.listenAddr != "127.0.0.1:9999" {
		t.Errorf("listenAddr = %q, want 127.0.0.1:9999", cfg.listenAddr)
	}
	if cfg.statusAddr != "127.0.0.1:8080" {
		t.Errorf("statusAddr = %q, want 127.0.0.1:8080", cfg.statusAddr)
	}
}

func TestParseFlagsShortForm(t *testing.T) {
	cfg, err := parseFlags([]string{"-k", "key.der", "-c", "cert.der", "-s", "1024"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.stateSize != 1024 {
		t.Errorf("stateSize = %d, want 1024", cfg.stateSize)
	}
}
