// Package pack builds the artifact manifest and bundles a run's
// outputs into one compressed archive.
package pack

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/groundloop-ai/groundloop/internal/core"
)

const (
	// ManifestName is the manifest file written into the artifacts dir.
	ManifestName = "manifest.json"

	// ArchiveName is the bundled output archive.
	ArchiveName = "artifacts.zip"
)

// stageByFilename maps artifact filenames to the pipeline stage that
// produced them.
var stageByFilename = map[string]core.Stage{
	"intake-report.json":    core.StageIntake,
	"evidence-map.json":     core.StageSynthesize,
	"selected-feature.json": core.StageSelectFeature,
	"PRD.md":                core.StageGeneratePRD,
	"wireframes.html":       core.StageGenerateDesign,
	"user-flow.mmd":         core.StageGenerateDesign,
	"tickets.json":          core.StageGenerateTickets,
	"diff.patch":            core.StageImplement,
	"pr-notes.md":           core.StageImplement,
	"test-report.md":        core.StageVerify,
	"failure-report.md":     core.StageExport,
	"run-summary.json":      core.StageExport,
}

// ManifestEntry describes one artifact file.
type ManifestEntry struct {
	Name      string     `json:"name"`
	SHA256    string     `json:"sha256"`
	Size      int64      `json:"size"`
	Stage     string     `json:"stage"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Manifest is the integrity and provenance index of a run's artifacts.
type Manifest struct {
	Files       []ManifestEntry `json:"files"`
	GeneratedAt *time.Time      `json:"generated_at,omitempty"`
}

// Packager builds manifests and archives for run artifacts.
type Packager struct{}

// NewPackager creates a packager.
func NewPackager() *Packager {
	return &Packager{}
}

// BuildManifest hashes every artifact file and writes manifest.json.
// Identical artifact bytes always produce identical manifest content,
// so repeated calls are idempotent. Timestamps come from the stage
// history where available.
func (p *Packager) BuildManifest(artifactsDir string, history []core.StageRecord) (*Manifest, error) {
	stageTimes := make(map[core.Stage]*time.Time)
	var completedAt *time.Time
	for i := range history {
		rec := history[i]
		if rec.CompletedAt != nil {
			stageTimes[rec.Stage] = rec.CompletedAt
			completedAt = rec.CompletedAt
		}
	}

	entries, err := os.ReadDir(artifactsDir)
	if err != nil {
		return nil, core.ErrInfrastructure("reading artifacts directory").WithCause(err)
	}

	manifest := &Manifest{Files: []ManifestEntry{}, GeneratedAt: completedAt}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == ManifestName || entry.Name() == ArchiveName {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(artifactsDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, core.ErrInfrastructure(fmt.Sprintf("reading artifact %s", name)).WithCause(err)
		}
		hash := sha256.Sum256(data)
		stage := stageByFilename[name]
		if stage == "" {
			stage = "RUN"
		}
		manifest.Files = append(manifest.Files, ManifestEntry{
			Name:      name,
			SHA256:    hex.EncodeToString(hash[:]),
			Size:      int64(len(data)),
			Stage:     string(stage),
			Timestamp: stageTimes[stage],
		})
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(artifactsDir, ManifestName), data, 0o644); err != nil {
		return nil, core.ErrInfrastructure("writing manifest").WithCause(err)
	}
	return manifest, nil
}

// Package builds the manifest and bundles every artifact file plus the
// manifest into one zip archive. Missing optional artifacts are simply
// absent; only filesystem failures are errors.
func (p *Packager) Package(artifactsDir string, history []core.StageRecord) (string, error) {
	if _, err := p.BuildManifest(artifactsDir, history); err != nil {
		return "", err
	}

	archivePath := filepath.Join(artifactsDir, ArchiveName)
	f, err := os.Create(archivePath)
	if err != nil {
		return "", core.ErrInfrastructure("creating archive").WithCause(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	entries, err := os.ReadDir(artifactsDir)
	if err != nil {
		return "", core.ErrInfrastructure("reading artifacts directory").WithCause(err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == ArchiveName {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if err := addToArchive(zw, filepath.Join(artifactsDir, name), name); err != nil {
			return "", core.ErrInfrastructure(fmt.Sprintf("archiving %s", name)).WithCause(err)
		}
	}
	if err := zw.Close(); err != nil {
		return "", core.ErrInfrastructure("finalizing archive").WithCause(err)
	}
	return archivePath, nil
}

func addToArchive(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
