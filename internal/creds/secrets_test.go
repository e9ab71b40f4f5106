package creds

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadKeySourceFromEnv(t *testing.T) {
	t.Setenv("TITAN_HMAC_KEY", "default-secret")
	t.Setenv("TITAN_HMAC_KEY__BRAIN", "brain-secret")

	keys, err := LoadKeySource("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if k, ok := keys.Key("default"); !ok || string(k) != "default-secret" {
		t.Fatalf("default key: ok=%v val=%q", ok, k)
	}
	if k, ok := keys.Key("brain"); !ok || string(k) != "brain-secret" {
		t.Fatalf("brain key: ok=%v val=%q", ok, k)
	}
	if _, ok := keys.Key("missing"); ok {
		t.Fatal("unexpected key for unknown id")
	}
}

func TestLoadKeySourceFilePrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hmac.key")
	if err := os.WriteFile(path, []byte("file-secret\n"), 0600); err != nil {
		t.Fatalf("write secret file: %v", err)
	}
	t.Setenv("TITAN_HMAC_KEY", "env-secret")
	t.Setenv("TITAN_HMAC_KEY_FILE", path)

	keys, err := LoadKeySource("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if k, _ := keys.Key("default"); string(k) != "file-secret" {
		t.Fatalf("expected file secret to win, got %q", k)
	}
}

func TestLoadKeySourceConfigFileFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hmac.key")
	if err := os.WriteFile(path, []byte("config-secret\n"), 0600); err != nil {
		t.Fatalf("write secret file: %v", err)
	}

	keys, err := LoadKeySource(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if k, _ := keys.Key("default"); string(k) != "config-secret" {
		t.Fatalf("expected config-file secret, got %q", k)
	}

	// The environment still wins over the config-named file.
	t.Setenv("TITAN_HMAC_KEY", "env-secret")
	keys, err = LoadKeySource(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if k, _ := keys.Key("default"); string(k) != "env-secret" {
		t.Fatalf("expected env secret to win, got %q", k)
	}
}

func TestStaticKeySourceSign(t *testing.T) {
	keys := StaticKeySource{"default": []byte("k")}
	sig, ok := keys.Sign("default", "msg")
	if !ok || sig == "" {
		t.Fatalf("sign: ok=%v sig=%q", ok, sig)
	}
	if sig2, _ := keys.Sign("default", "msg"); sig2 != sig {
		t.Fatal("signing is not deterministic")
	}
	if _, ok := keys.Sign("other", "msg"); ok {
		t.Fatal("expected unknown key id to fail")
	}
}
