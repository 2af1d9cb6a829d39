package execution

// Strategy is the process-creation path chosen for one spawn.
type Strategy uint8

const (
	// StrategyFastPath creates the process and applies every descriptor and
	// attribute action in one runtime call, without a full fork.
	StrategyFastPath Strategy = iota
	// StrategyForkExec forks and runs a fixed child prologue before exec.
	StrategyForkExec
)

func (s Strategy) String() string {
	if s == StrategyForkExec {
		return "fork-exec"
	}
	return "fast-path"
}

// Capabilities lists what the fast path can do on this host.
type Capabilities struct {
	SpawnChdir        bool
	SpawnProcessGroup bool
}

// SelectStrategy picks fork+exec only when spec needs something the fast
// path cannot do.
func SelectStrategy(spec SpawnSpec, caps Capabilities) Strategy {
	if spec.Dir != "" && !caps.SpawnChdir {
		return StrategyForkExec
	}
	wantsGroup := spec.Options.NewProcessGroup || spec.ProcessGroup > 0
	if wantsGroup && !caps.SpawnProcessGroup {
		return StrategyForkExec
	}
	return StrategyFastPath
}
