package debate

// State is the evaluation state of one item. It is a value: every turn
// produces a new State and never writes into the History backing array of
// the State it started from.
type State struct {
	SourceText string
	CompareOne string
	CompareTwo string
	History    []ChatMessage
	Agents     []string
	Roles      map[string]string
	// Turn always equals len(History).
	Turn int
}

// NewState returns the initial state for one item: no history, turn 0.
func NewState(source, one, two string, agents []string, roles map[string]string) State {
	return State{
		SourceText: source,
		CompareOne: one,
		CompareTwo: two,
		Agents:     agents,
		Roles:      roles,
	}
}

// Round returns the zero-based number of completed rounds.
func (s State) Round() int {
	if len(s.Agents) == 0 {
		return 0
	}
	return s.Turn / len(s.Agents)
}

// LastRound returns the replies of the most recent len(Agents) turns, which
// line up with Agents when the state sits on a round boundary.
func (s State) LastRound() []ChatMessage {
	k := len(s.Agents)
	if k == 0 || len(s.History) < k {
		return nil
	}
	return s.History[len(s.History)-k:]
}

func (s State) with(msg ChatMessage) State {
	history := make([]ChatMessage, len(s.History), len(s.History)+1)
	copy(history, s.History)
	s.History = append(history, msg)
	s.Turn++
	return s
}
