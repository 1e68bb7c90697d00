package model

import "time"

// Stage is one of five ordered relationship depth levels.
type Stage string

const (
	StageStranger     Stage = "stranger"
	StageAcquaintance Stage = "acquaintance"
	StageFriend       Stage = "friend"
	StageClose        Stage = "close"
	StageIntimate     Stage = "intimate"
)

// Stages lists all stages in ascending depth order.
var Stages = []Stage{StageStranger, StageAcquaintance, StageFriend, StageClose, StageIntimate}

// String returns the string representation of the stage.
func (s Stage) String() string {
	return string(s)
}

// IsValid checks whether the stage is a known value.
func (s Stage) IsValid() bool {
	return s.Index() >= 0
}

// Index returns the position of the stage in the depth ordering, or -1 for
// unknown values.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Before reports whether s ranks strictly below other.
func (s Stage) Before(other Stage) bool {
	return s.Index() < other.Index()
}

// MinStage returns the lowest-ranked of the given stages.
func MinStage(first Stage, rest ...Stage) Stage {
	min := first
	for _, s := range rest {
		if s.Index() < min.Index() {
			min = s
		}
	}
	return min
}

// BondState is the per-(user, agent) relationship record. Trust and
// TotalInteractions are produced by the interaction-scoring pipeline;
// CurrentStage is a cached derivation recomputed after each interaction.
type BondState struct {
	UserID            string    `json:"user_id"`
	AgentID           string    `json:"agent_id"`
	Trust             float64   `json:"trust"` // in [0,1]
	TotalInteractions int64     `json:"total_interactions"`
	CurrentStage      Stage     `json:"current_stage"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
