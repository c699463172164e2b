package stale

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"
)

// Settings are the build settings an output was produced with that are not
// files, such as the target triple or the enabled features.
type Settings map[string]string

// SettingsChanged compares want with the settings recorded at path. A
// missing record counts as a change; keys are compared in sorted order.
func (c *Checker) SettingsChanged(path string, want Settings) (bool, Reason, error) {
	data, err := afero.ReadFile(c.fs, path)
	if errors.Is(err, fs.ErrNotExist) {
		return true, Reason{Missing: true, Output: path}, nil
	}
	if err != nil {
		return false, Reason{}, fmt.Errorf("%w: %s: %w", ErrProbe, path, err)
	}
	var have Settings
	if err := json.Unmarshal(data, &have); err != nil {
		return false, Reason{}, fmt.Errorf("%w: %s: %w", ErrProbe, path, err)
	}

	keys := make([]string, 0, len(want)+len(have))
	for k := range want {
		keys = append(keys, k)
	}
	for k := range have {
		if _, ok := want[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		hv, hok := have[k]
		wv, wok := want[k]
		if hok != wok || hv != wv {
			return true, Reason{Setting: k}, nil
		}
	}
	return false, Reason{}, nil
}

// RecordSettings writes s to path for later SettingsChanged calls.
func (c *Checker) RecordSettings(path string, s Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := c.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return afero.WriteFile(c.fs, path, append(data, '\n'), 0644)
}
