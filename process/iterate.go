package process

// IterateStep runs Inner once per item, one item at a time.
// The index advances only after Inner reports DONE for the current item.
type IterateStep struct {
	Inner Step
	// Count number of items, read on every invocation
	Count func(pc *ProcessContext) int
	// Prepare publishes item index to the variables Inner reads, it runs on every invocation
	Prepare func(pc *ProcessContext, index int) error
	// IndexVariable and PhaseVariable default to VarIterationIndex and VarIterationPhase.
	// Nested iterations need their own pair.
	IndexVariable Variable[int]
	PhaseVariable Variable[StepPhase]
}

func (s *IterateStep) variables() (Variable[int], Variable[StepPhase]) {
	indexVar, phaseVar := s.IndexVariable, s.PhaseVariable
	if indexVar.Name == "" {
		indexVar = VarIterationIndex
	}
	if phaseVar.Name == "" {
		phaseVar = VarIterationPhase
	}
	return indexVar, phaseVar
}

func (s *IterateStep) Execute(pc *ProcessContext) (StepPhase, error) {
	indexVar, phaseVar := s.variables()
	index := Get(pc, indexVar)
	count := s.Count(pc)
	if index >= count {
		s.reset(pc)
		return StepPhaseDone, nil
	}
	if s.Prepare != nil {
		if err := s.Prepare(pc, index); err != nil {
			return "", err
		}
	}

	innerPhase := Get(pc, phaseVar)
	if Get(pc, VarStepPhase) == StepPhaseRetry {
		innerPhase = StepPhaseRetry
	}
	if innerPhase == StepPhaseExecute {
		pc.Logger().Debugf("%s", FormatMessage(MessageIterationProgress, map[string]any{"index": index, "count": count}))
	}
	Set(pc, VarStepPhase, innerPhase)
	phase, err := runStep(pc, s.Inner)
	if err != nil {
		return "", err
	}
	if phase != StepPhaseDone {
		Set(pc, phaseVar, phase)
		return StepPhasePoll, nil
	}

	index++
	if index >= count {
		s.reset(pc)
		return StepPhaseDone, nil
	}
	Set(pc, indexVar, index)
	Set(pc, phaseVar, StepPhaseExecute)
	return StepPhasePoll, nil
}

func (s *IterateStep) ErrorMessage(pc *ProcessContext) string {
	return s.Inner.ErrorMessage(pc)
}

// reset so that a restarted step instance iterates again
func (s *IterateStep) reset(pc *ProcessContext) {
	indexVar, phaseVar := s.variables()
	Remove(pc, indexVar)
	Remove(pc, phaseVar)
}

// NewSequenceStep runs steps one after another inside one step instance.
// Each step keeps the phase protocol, a step that polls holds back the ones after it.
func NewSequenceStep(steps ...Step) *IterateStep {
	return &IterateStep{
		Inner:         &sequenceStep{steps: steps},
		Count:         func(pc *ProcessContext) int { return len(steps) },
		IndexVariable: VarSequenceIndex,
		PhaseVariable: VarSequencePhase,
	}
}

type sequenceStep struct {
	steps []Step
}

func (s *sequenceStep) current(pc *ProcessContext) Step {
	index := Get(pc, VarSequenceIndex)
	if index < 0 || index >= len(s.steps) {
		return nil
	}
	return s.steps[index]
}

func (s *sequenceStep) Execute(pc *ProcessContext) (StepPhase, error) {
	step := s.current(pc)
	if step == nil {
		return StepPhaseDone, nil
	}
	return runStep(pc, step)
}

func (s *sequenceStep) ErrorMessage(pc *ProcessContext) string {
	step := s.current(pc)
	if step == nil {
		return FormatMessage(MessageStepFailed, map[string]any{"step": pc.StepID()})
	}
	return step.ErrorMessage(pc)
}
