// Package leadfile reads and writes leads as YAML for bulk import and export.
package leadfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Entry struct {
	Name    string `yaml:"name"`
	Email   string `yaml:"email"`
	Company string `yaml:"company,omitempty"`
}

type File struct {
	Leads []Entry `yaml:"leads"`
}

func sanitize(e *Entry) {
	e.Name = strings.TrimSpace(e.Name)
	e.Email = strings.ToLower(strings.TrimSpace(e.Email))
	e.Company = strings.TrimSpace(e.Company)
}

// Load reads a lead file, or every .yaml/.yml file in a directory.
func Load(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open lead file: %w", err)
	}
	if info.IsDir() {
		return LoadFromDir(path)
	}
	return LoadFromFile(path)
}

func LoadFromFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lead file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse lead file: %w", err)
	}

	for i := range f.Leads {
		sanitize(&f.Leads[i])
	}
	return &f, nil
}

func LoadFromDir(dir string) (*File, error) {
	f := &File{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read lead directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".yaml") && !strings.HasSuffix(entry.Name(), ".yml") {
			continue
		}

		partial, err := LoadFromFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", entry.Name(), err)
		}
		f.Leads = append(f.Leads, partial.Leads...)
	}

	return f, nil
}

// FindByEmail finds an entry by email, ignoring case.
func (f *File) FindByEmail(email string) *Entry {
	email = strings.ToLower(strings.TrimSpace(email))
	for i := range f.Leads {
		if f.Leads[i].Email == email {
			return &f.Leads[i]
		}
	}
	return nil
}

// Dedupe drops later entries that repeat an email and returns how many
// were dropped.
func (f *File) Dedupe() int {
	seen := make(map[string]bool, len(f.Leads))
	kept := f.Leads[:0]
	for _, e := range f.Leads {
		if seen[e.Email] {
			continue
		}
		seen[e.Email] = true
		kept = append(kept, e)
	}
	dropped := len(f.Leads) - len(kept)
	f.Leads = kept
	return dropped
}

// Save writes the file, keeping the previous version as path.bak.
func (f *File) Save(path string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to serialize leads: %w", err)
	}
	if old, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".bak", old, 0600); err != nil {
			return fmt.Errorf("failed to create backup: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write lead file: %w", err)
	}
	return nil
}

// ImportError records an entry that could not be created.
type ImportError struct {
	Email string
	Err   error
}

type ImportResult struct {
	Created int
	Skipped int
	Failed  []ImportError
}

// Import creates every entry in order. Errors for which skip returns true
// count as skipped (typically an existing lead); others are collected and
// the import continues. Import stops early only when ctx is done.
func Import(ctx context.Context, f *File, create func(context.Context, Entry) error, skip func(error) bool) ImportResult {
	var res ImportResult
	for _, e := range f.Leads {
		if ctx.Err() != nil {
			res.Failed = append(res.Failed, ImportError{Email: e.Email, Err: ctx.Err()})
			continue
		}
		err := create(ctx, e)
		switch {
		case err == nil:
			res.Created++
		case skip != nil && skip(err):
			res.Skipped++
		default:
			res.Failed = append(res.Failed, ImportError{Email: e.Email, Err: err})
		}
	}
	return res
}
