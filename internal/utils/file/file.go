package file

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IsSubPath checks if the target path is a subpath of the base path
func IsSubPath(base, target string) (bool, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false, err
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(absBase, absTarget)
	if err != nil {
		return false, err
	}
	// rel == "." means same dir, rel starting with ".." means not subpath
	if rel == "." {
		return true, nil
	}
	if strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return false, nil
	}
	return true, nil
}

// Exists reports whether path exists at all.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsExecutable reports whether path is a regular file with any execute bit set.
func IsExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}


// WriteIfChanged writes data to path only when the current content differs,
// creating parent directories as needed. It reports whether a write happened.
// Registrar artifacts use this so re-running provisioning leaves byte-identical
// files untouched.
func WriteIfChanged(path string, data []byte, perm os.FileMode) (bool, error) {
	if existing, err := os.ReadFile(path); err == nil {
		if string(existing) == string(data) {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(path, data, perm); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	return true, nil
}

// ReadJSON decodes a JSON file into out.
func ReadJSON(jsonFile string, out interface{}) error {
	f, err := os.Open(jsonFile)
	if err != nil {
		return fmt.Errorf("opening %s: %w", jsonFile, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return fmt.Errorf("file is empty: %s", jsonFile)
	}

	if err := json.NewDecoder(f).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", jsonFile, err)
	}
	return nil
}

// WriteJSON writes v to a JSON file with the given indentation width.
func WriteJSON(jsonFile string, v interface{}, indent int) error {
	dir := filepath.Dir(jsonFile)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	f, err := os.Create(jsonFile)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", strings.Repeat(" ", indent))
	return encoder.Encode(v)
}
