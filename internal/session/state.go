package session

// State is the controller's position in the exam flow.
type State string

const (
	StateInstructions       State = "instructions"
	StateRoundInstructions  State = "round_instructions"
	StateExam               State = "exam"
	StateRoundComplete      State = "round_complete"
	StateAssessmentComplete State = "assessment_complete"
)

// transitions lists the allowed edges. Nothing leads back to instructions and
// round_complete only returns to round_instructions through an explicit
// continue.
var transitions = map[State][]State{
	StateInstructions:      {StateRoundInstructions, StateAssessmentComplete},
	StateRoundInstructions: {StateExam, StateAssessmentComplete},
	StateExam:              {StateRoundComplete, StateAssessmentComplete},
	StateRoundComplete:     {StateRoundInstructions, StateAssessmentComplete},
}

// CanTransition reports whether the flow may move from s to next.
func (s State) CanTransition(next State) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateAssessmentComplete
}
