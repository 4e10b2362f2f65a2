package steploop

// Agent is the static definition a Runner executes: instructions, the model
// to call, and the tools the model may use. Per-step overrides come from
// InputStepProcessor hooks, not from mutating the Agent.
type Agent struct {
	Name         string
	Instructions string
	Model        string
	Provider     string
	Tools        []*Tool
}
