// Package eep implements EnOcean Equipment Profile loading and
// interpretation: profile definitions, bitfield/formula decoding, and a
// library that merges one or more profile roots keyed by EEP code.
package eep

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/tostmann/enocean-mqtt-bridge/internal/logging"
)

// Summary is the lightweight view of a profile returned by List/Search.
type Summary struct {
	EEP          string
	Title        string
	Manufacturer string
	RORG         byte
}

// Library holds the merged set of EEP profiles loaded from one or more
// root directories. Later roots override earlier ones on a duplicate EEP
// key, so a user-supplied override directory can beat the bundled
// library by being listed after it.
type Library struct {
	profiles map[string]*Profile
	logger   *zap.Logger
}

// Load scans roots in order for *.json profile files and merges them
// into a Library. A root that doesn't exist is skipped. A file that
// fails to parse is logged and skipped; Load itself never errors, since
// the library must be usable even with a partially broken profile set.
func Load(roots []string) *Library {
	logger := logging.With(zap.String("component", "eep.library"))
	lib := &Library{profiles: make(map[string]*Profile), logger: logger}

	for _, root := range roots {
		if root == "" {
			continue
		}
		if _, err := os.Stat(root); err != nil {
			continue
		}
		loaded := 0
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
				return nil
			}
			data, readErr := os.ReadFile(path)
			if readErr != nil {
				logger.Warn("failed to read profile file", zap.String("path", path), zap.Error(readErr))
				return nil
			}
			profile, parseErr := ParseProfile(data)
			if parseErr != nil {
				logger.Warn("failed to parse profile file", zap.String("path", path), zap.Error(parseErr))
				return nil
			}
			lib.profiles[profile.EEP] = profile
			loaded++
			return nil
		})
		if err != nil {
			logger.Warn("error scanning eep root", zap.String("root", root), zap.Error(err))
		}
		logger.Info("scanned eep root", zap.String("root", root), zap.Int("profiles", loaded))
	}

	logger.Info("eep library loaded", zap.Int("total_profiles", len(lib.profiles)))
	return lib
}

// Get returns the profile for eep, or nil if unknown.
func (l *Library) Get(eep string) *Profile {
	return l.profiles[eep]
}

// List returns summaries of every loaded profile, sorted by EEP code.
func (l *Library) List() []Summary {
	summaries := make([]Summary, 0, len(l.profiles))
	for _, p := range l.profiles {
		summaries = append(summaries, summaryOf(p))
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].EEP < summaries[j].EEP })
	return summaries
}

// ByRORG returns summaries of every profile whose RORG matches, sorted
// by EEP code.
func (l *Library) ByRORG(rorg byte) []Summary {
	var summaries []Summary
	for _, p := range l.profiles {
		if p.RORG == rorg {
			summaries = append(summaries, summaryOf(p))
		}
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].EEP < summaries[j].EEP })
	return summaries
}

// Search does a case-insensitive substring match over EEP code, title,
// and manufacturer, sorted by EEP code.
func (l *Library) Search(query string) []Summary {
	q := strings.ToLower(query)
	var summaries []Summary
	for _, p := range l.profiles {
		if strings.Contains(strings.ToLower(p.EEP), q) ||
			strings.Contains(strings.ToLower(p.Title), q) ||
			strings.Contains(strings.ToLower(p.Manufacturer), q) {
			summaries = append(summaries, summaryOf(p))
		}
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].EEP < summaries[j].EEP })
	return summaries
}

// Count returns the number of loaded profiles.
func (l *Library) Count() int {
	return len(l.profiles)
}

func summaryOf(p *Profile) Summary {
	return Summary{EEP: p.EEP, Title: p.Title, Manufacturer: p.Manufacturer, RORG: p.RORG}
}
