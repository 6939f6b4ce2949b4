package tls

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
)

func TestSetupDisabled(t *testing.T) {
	cfg, err := Setup(Options{})
	if err != nil || cfg != nil {
		t.Fatalf("disabled TLS should yield nil, nil; got %v, %v", cfg, err)
	}
}

func TestSetupAutoGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	cfg, err := Setup(Options{Enabled: true, Dir: dir, AutoGenerate: true, MinVersion: "1.2"})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Fatalf("min version = %x", cfg.MinVersion)
	}
	for _, f := range []string{CertFile, KeyFile, CACertFile} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Fatalf("%s not generated: %v", f, err)
		}
	}
	cert, err := cfg.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil || cert == nil {
		t.Fatalf("GetCertificate: %v", err)
	}

	// an existing pair is reused, not regenerated
	before, _ := os.ReadFile(filepath.Join(dir, CertFile))
	if _, err := Setup(Options{Enabled: true, Dir: dir, AutoGenerate: true}); err != nil {
		t.Fatalf("second setup: %v", err)
	}
	after, _ := os.ReadFile(filepath.Join(dir, CertFile))
	if string(before) != string(after) {
		t.Fatal("certificate was regenerated")
	}
}

func TestSetupErrors(t *testing.T) {
	if _, err := Setup(Options{Enabled: true}); err == nil {
		t.Fatal("expected error without cert source")
	}
	if _, err := Setup(Options{Enabled: true, Dir: t.TempDir()}); err == nil {
		t.Fatal("expected error for missing files without auto_generate")
	}
	if _, err := Setup(Options{Enabled: true, Dir: t.TempDir(), AutoGenerate: true, MinVersion: "1.0"}); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}
