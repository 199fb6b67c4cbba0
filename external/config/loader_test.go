package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	internalconfig "github.com/foxseedlab/vrchat-asr/internal/config"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "setting.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write setting file: %v", err)
	}
	return path
}

func TestLoadFile_MissingFileYieldsDefaults(t *testing.T) {
	got, err := LoadFile(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got != internalconfig.Default() {
		t.Fatalf("expected defaults, got %+v", got)
	}
}

func TestLoadFile_PartialDocumentKeepsDefaults(t *testing.T) {
	path := writeFile(t, `{
		"vrchat_port": 9001,
		"osc_enableSFX": false,
		"micro_device_id": 1,
		"api_key": "sk-file",
		"unknown_key": "ignored"
	}`)
	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got.VRChatPort != 9001 {
		t.Fatalf("unexpected port: %d", got.VRChatPort)
	}
	if got.OSCEnableSFX {
		t.Fatal("expected osc_enableSFX=false to be honored")
	}
	if got.MicroDeviceID != 1 || got.APIKey != "sk-file" {
		t.Fatalf("unexpected values: device=%d key=%s", got.MicroDeviceID, got.APIKey)
	}
	if got.VRChatIP != "127.0.0.1" || !got.OSCBypassKeyboard || got.SrcLang != "zh" || got.DstLang != "ja" {
		t.Fatalf("defaults were not preserved: %+v", got)
	}
}

func TestLoadFile_InvalidJSON(t *testing.T) {
	path := writeFile(t, `{"vrchat_port":`)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for malformed document")
	}
}

func TestSaveFile_KeepsStableKeySpelling(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setting.json")
	settings := internalconfig.Default().With(func(s *internalconfig.Settings) {
		s.OSCEnableSFX = false
		s.DstLang = "en"
	})
	if err := SaveFile(path, settings); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read saved file: %v", err)
	}
	if !strings.Contains(string(b), `"osc_enableSFX": false`) {
		t.Fatalf("saved document lost key spelling: %s", b)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("saved document is not json: %v", err)
	}
	if _, ok := raw["Env"]; ok {
		t.Fatal("process environment must not be persisted")
	}

	reloaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	settings.Env = reloaded.Env
	if reloaded != settings {
		t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", settings, reloaded)
	}
}

func TestDecodeOverrides_WeakTypes(t *testing.T) {
	base := internalconfig.Default()
	got, err := DecodeOverrides(base, map[string]any{
		"vrchat_port":      "9002",
		"enable_translate": "true",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got.VRChatPort != 9002 || !got.EnableTranslate {
		t.Fatalf("overrides not applied: %+v", got)
	}
	if base.VRChatPort != 9000 {
		t.Fatal("base settings were mutated")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, `{"api_key": "sk-file"}`)
	t.Setenv("ENV", "development")
	t.Setenv("DASHSCOPE_API_KEY", "sk-env")
	got, err := Load(path)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got.APIKey != "sk-env" {
		t.Fatalf("expected env api key, got %s", got.APIKey)
	}
	if !got.IsDevelopment() {
		t.Fatal("expected development env")
	}
}

func TestFileStore_EffectiveDoesNotLeakIntoDocument(t *testing.T) {
	t.Setenv("DASHSCOPE_API_KEY", "sk-env")
	store := NewFileStore(writeFile(t, `{"api_key": "sk-file"}`))

	effective, err := store.Effective()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if effective.APIKey != "sk-env" {
		t.Fatalf("expected env override, got %q", effective.APIKey)
	}

	doc, err := store.Load()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if err := store.Save(doc.With(func(s *internalconfig.Settings) { s.VRChatPort = 9002 })); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	reloaded, err := LoadFile(store.Path())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if reloaded.APIKey != "sk-file" || reloaded.VRChatPort != 9002 {
		t.Fatalf("unexpected document after save: key=%q port=%d", reloaded.APIKey, reloaded.VRChatPort)
	}
}
