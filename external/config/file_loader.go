package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	internalconfig "github.com/foxseedlab/vrchat-asr/internal/config"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// LoadFile reads the setting document at path on top of the defaults.
// A missing file yields the defaults; unknown keys are ignored.
func LoadFile(path string) (internalconfig.Settings, error) {
	settings := internalconfig.Default()

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return settings, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return settings, fmt.Errorf("read setting file %s: %w", path, err)
	}
	if err := decodeSettings(v.AllSettings(), &settings); err != nil {
		return settings, fmt.Errorf("decode setting file %s: %w", path, err)
	}
	return settings, nil
}

// DecodeOverrides applies a free-form key/value map (e.g. a settings form)
// to base and returns the result.
func DecodeOverrides(base internalconfig.Settings, input map[string]any) (internalconfig.Settings, error) {
	next := base
	if err := decodeSettings(input, &next); err != nil {
		return base, err
	}
	next.Env = base.Env
	return next, nil
}

func decodeSettings(input map[string]any, out *internalconfig.Settings) error {
	if len(input) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		WeaklyTypedInput: true,
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

func normalizeKey(value string) string {
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", "")
	return strings.ReplaceAll(value, "-", "")
}

// SaveFile rewrites the document with the stable key spelling
// (viper lowercases keys on write, which would rename osc_enableSFX).
func SaveFile(path string, settings internalconfig.Settings) error {
	b, err := json.MarshalIndent(settings, "", "    ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".setting-*.json")
	if err != nil {
		return fmt.Errorf("create temp setting file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write setting file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close setting file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace setting file: %w", err)
	}
	return nil
}

// FileStore is the setting document at a fixed path.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load() (internalconfig.Settings, error) {
	return LoadFile(s.path)
}

func (s *FileStore) Save(settings internalconfig.Settings) error {
	return SaveFile(s.path, settings)
}

func (s *FileStore) Effective() (internalconfig.Settings, error) {
	return Load(s.path)
}
