package core

import (
	"context"
	"time"
)

// Generator is the text/structured generation collaborator. An
// unavailable generator is fatal for primary pipeline outputs; callers
// producing optional secondary artifacts may degrade gracefully.
type Generator interface {
	// Enabled reports whether the collaborator is configured.
	Enabled() bool

	// GenerateText produces free-form text.
	GenerateText(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error)

	// GenerateJSON produces a structured object.
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (map[string]interface{}, error)
}

// EvidenceReport is the result of validating an evidence bundle.
type EvidenceReport struct {
	Valid         bool                   `json:"valid"`
	Errors        []string               `json:"errors"`
	MissingFields []string               `json:"missing_fields"`
	QualityScore  int                    `json:"quality_score"`
	StackDetected string                 `json:"stack_detected"`
	Evidence      map[string]interface{} `json:"-"`
}

// EvidenceChecker validates an evidence bundle directory.
type EvidenceChecker interface {
	Validate(evidenceDir string) (*EvidenceReport, error)
}

// PatchErrorKind distinguishes why a patch was rejected, so the caller
// can decide whether another generation attempt is worthwhile.
type PatchErrorKind string

const (
	PatchErrForbiddenPath PatchErrorKind = "forbidden_path"
	PatchErrMalformed     PatchErrorKind = "malformed_diff"
	PatchErrConflict      PatchErrorKind = "apply_conflict"
)

// PatchResult reports a successful patch application.
type PatchResult struct {
	Applied       bool     `json:"applied"`
	FilesModified []string `json:"files_modified"`
	Strategy      string   `json:"strategy,omitempty"`
}

// PatchApplier applies a unified diff to a working tree under a path
// denylist. A rejected patch must leave the tree unmodified.
type PatchApplier interface {
	Apply(ctx context.Context, diff string, targetDir string, forbiddenPaths []string) (*PatchResult, error)
}

// VerifyResult is the outcome of one verification attempt.
type VerifyResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Summary  string        `json:"summary"`
	FellBack bool          `json:"fell_back"`
}

// Passed reports whether the verification succeeded.
func (r *VerifyResult) Passed() bool {
	return r.ExitCode == 0
}

// Verifier executes the allow-listed check command with a timeout.
type Verifier interface {
	Run(ctx context.Context, targetDir string) (*VerifyResult, error)
}

// Notifier informs approvers that a run awaits their decision.
// Notification failures are best-effort and never fatal.
type Notifier interface {
	NotifyApprovers(ctx context.Context, run *Run, approvers []string) error
}
