package debate

// Broadcast is the receiver sentinel that makes a message visible to every agent.
const Broadcast = "all"

// ChatMessage is one entry of the shared chat history.
type ChatMessage struct {
	Role     string   `json:"role"`
	Receiver []string `json:"receiver"`
	Content  string   `json:"content"`
}

// VisibleTo reports whether agent may see the message: either the agent is
// a listed receiver or the receiver list is exactly [Broadcast].
func (m ChatMessage) VisibleTo(agent string) bool {
	if len(m.Receiver) == 1 && m.Receiver[0] == Broadcast {
		return true
	}
	for _, r := range m.Receiver {
		if r == agent {
			return true
		}
	}
	return false
}

// VisibleHistory returns the contents of the messages in history that agent
// may see, in their original order.
func VisibleHistory(history []ChatMessage, agent string) []string {
	var out []string
	for _, m := range history {
		if m.VisibleTo(agent) {
			out = append(out, m.Content)
		}
	}
	return out
}
