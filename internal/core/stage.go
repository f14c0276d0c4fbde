package core

import "fmt"

// Stage represents a named unit of pipeline work with start/end events.
type Stage string

const (
	// StageIntake validates the evidence bundle and scores its quality.
	StageIntake Stage = "INTAKE"

	// StageSynthesize turns validated evidence into a claims/features map.
	StageSynthesize Stage = "SYNTHESIZE"

	// StageSelectFeature picks one candidate feature, possibly waiting
	// for an external selection.
	StageSelectFeature Stage = "SELECT_FEATURE"

	// StageGeneratePRD produces the product requirements document.
	StageGeneratePRD Stage = "GENERATE_PRD"

	// StageGenerateDesign produces wireframe and user-flow artifacts.
	StageGenerateDesign Stage = "GENERATE_DESIGN"

	// StageAwaitingApproval is the optional human approval gate after
	// design generation.
	StageAwaitingApproval Stage = "AWAITING_APPROVAL"

	// StageGenerateTickets produces the implementation ticket breakdown.
	StageGenerateTickets Stage = "GENERATE_TICKETS"

	// StageImplement generates and applies the initial code patch.
	StageImplement Stage = "IMPLEMENT"

	// StageVerify runs the verification command against the target tree.
	StageVerify Stage = "VERIFY"

	// StageSelfHeal generates and applies a corrective patch after a
	// failed verification.
	StageSelfHeal Stage = "SELF_HEAL"

	// StageExport packages all artifacts and the manifest.
	StageExport Stage = "EXPORT"
)

// AllStages returns the fixed stage sequence in execution order.
// AWAITING_APPROVAL and SELF_HEAL are conditional and excluded.
func AllStages() []Stage {
	return []Stage{
		StageIntake,
		StageSynthesize,
		StageSelectFeature,
		StageGeneratePRD,
		StageGenerateDesign,
		StageGenerateTickets,
		StageImplement,
		StageVerify,
		StageExport,
	}
}

// StageOrder returns the numeric position of a stage in the fixed
// sequence, or -1 for conditional or unknown stages.
func StageOrder(s Stage) int {
	for i, stage := range AllStages() {
		if stage == s {
			return i
		}
	}
	return -1
}

// ValidStage checks if a stage name is known.
func ValidStage(s Stage) bool {
	switch s {
	case StageIntake, StageSynthesize, StageSelectFeature, StageGeneratePRD,
		StageGenerateDesign, StageAwaitingApproval, StageGenerateTickets,
		StageImplement, StageVerify, StageSelfHeal, StageExport:
		return true
	default:
		return false
	}
}

// ParseStage converts a string to a Stage with validation.
func ParseStage(s string) (Stage, error) {
	stage := Stage(s)
	if !ValidStage(stage) {
		return "", fmt.Errorf("invalid stage: %s", s)
	}
	return stage, nil
}

// String returns the string representation of the stage.
func (s Stage) String() string {
	return string(s)
}

// Description returns a human-readable description of the stage.
func (s Stage) Description() string {
	switch s {
	case StageIntake:
		return "Validate and score the evidence bundle"
	case StageSynthesize:
		return "Synthesize evidence into claims and candidate features"
	case StageSelectFeature:
		return "Select the feature to implement"
	case StageGeneratePRD:
		return "Generate the product requirements document"
	case StageGenerateDesign:
		return "Generate wireframe and user-flow artifacts"
	case StageAwaitingApproval:
		return "Wait for approver decisions"
	case StageGenerateTickets:
		return "Break the feature into implementation tickets"
	case StageImplement:
		return "Generate and apply the implementation patch"
	case StageVerify:
		return "Run verification against the target repository"
	case StageSelfHeal:
		return "Generate and apply a corrective patch"
	case StageExport:
		return "Package artifacts and manifest"
	default:
		return "Unknown stage"
	}
}
