package wizard

// Step numbers of the production flow.
const (
	StepType = iota + 1
	StepShotlist
	StepCastWorld
	StepAudio
	StepExport
)

// ProductionSteps is the five-step flow used by `reelsmith create`.
func ProductionSteps() []Step {
	return numbered(
		Step{Title: "Type"},
		Step{Title: "Shotlist"},
		Step{Title: "Cast & World"},
		Step{Title: "Audio", Skippable: true},
		Step{Title: "Export"},
	)
}

func numbered(steps ...Step) []Step {
	for i := range steps {
		steps[i].Number = i + 1
	}
	return steps
}
