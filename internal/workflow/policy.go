package workflow

// Policy names the checkpoint milestones of the catalog. Both sets are keyed by
// milestone id and come from configuration.
type Policy struct {
	gating   map[int]bool
	terminal map[int]bool
}

func NewPolicy(gating, terminal []int) Policy {
	p := Policy{
		gating:   make(map[int]bool, len(gating)),
		terminal: make(map[int]bool, len(terminal)),
	}
	for _, id := range gating {
		p.gating[id] = true
	}
	for _, id := range terminal {
		p.terminal[id] = true
	}
	return p
}

// DefaultPolicy gates milestone 3 and terminates at milestone 6.
func DefaultPolicy() Policy {
	return NewPolicy([]int{3}, []int{6})
}

func (p Policy) IsGated(milestoneID int) bool {
	return p.gating[milestoneID]
}

func (p Policy) IsTerminal(milestoneID int) bool {
	return p.terminal[milestoneID]
}
