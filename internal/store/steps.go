package store

import "slices"

const emptyJSONObject = "{}"

// LinkFlowSteps returns copies of steps bound to flowID and sorted by
// StepOrder. IDs and next-step links are assigned by the store on create.
func LinkFlowSteps(flowID string, steps []FlowStep) []FlowStep {
	sorted := slices.Clone(steps)
	slices.SortStableFunc(sorted, func(a, b FlowStep) int { return a.StepOrder - b.StepOrder })
	for i := range sorted {
		sorted[i].FlowID = flowID
		sorted[i].NextStepID = nil
		if sorted[i].Config == nil {
			sorted[i].Config = map[string]any{}
		}
	}
	return sorted
}

// linkNext points every step at its successor; the last step has no next.
func linkNext(steps []FlowStep) {
	for i := range steps {
		if i+1 < len(steps) {
			next := steps[i+1].ID
			steps[i].NextStepID = &next
			continue
		}
		steps[i].NextStepID = nil
	}
}

// Apply copies the set fields of p onto s.
func (p FlowStepPatch) Apply(s *FlowStep) {
	if p.StepType != nil {
		s.StepType = *p.StepType
	}
	if p.Config != nil {
		s.Config = p.Config
	}
	if p.NextStepID != nil {
		s.NextStepID = p.NextStepID
	}
	if p.StepOrder != nil {
		s.StepOrder = *p.StepOrder
	}
}
