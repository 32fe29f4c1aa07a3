package prosody

// State names a step of a pipeline run
type State string

const (
	StateConfigured      State = "configured"
	StateDecomposing     State = "decomposing"
	StateCompressing     State = "compressing"
	StateDeriving        State = "deriving"
	StateProjectingDCT   State = "projecting_dct"
	StatePitchExtracting State = "pitch_extracting"
	StateAligning        State = "aligning"
	StateConcatenating   State = "concatenating"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

func (s State) String() string {
	return string(s)
}
