package state

// Progress counts completed epochs and steps of one phase.
//
// A step is counted after the unit returns from it, so inside a step
// NumStepsCompleted is the number of steps finished before it.
type Progress struct {
	NumEpochsCompleted       int `json:"num_epochs_completed" yaml:"num_epochs_completed"`
	NumStepsCompleted        int `json:"num_steps_completed" yaml:"num_steps_completed"`
	NumStepsCompletedInEpoch int `json:"num_steps_completed_in_epoch" yaml:"num_steps_completed_in_epoch"`
}

// IncrementStep records one finished step.
func (p *Progress) IncrementStep() {
	p.NumStepsCompleted++
	p.NumStepsCompletedInEpoch++
}

// IncrementEpoch records one finished epoch and resets the in-epoch counter.
func (p *Progress) IncrementEpoch() {
	p.NumEpochsCompleted++
	p.NumStepsCompletedInEpoch = 0
}
