// Package prompt renders evaluation prompts from message templates.
//
// Templates use single-brace placeholders such as {source_text}. A literal
// brace is written doubled ({{ or }}). Only the slots listed in Slots are
// accepted; anything else is rejected when the template is parsed so that a
// typo in a config file fails at startup instead of mid-batch.
package prompt

import (
	"fmt"
	"strings"
)

// Slot names available to templates.
const (
	SlotSourceText      = "source_text"
	SlotCompareOne      = "compared_text_one"
	SlotCompareTwo      = "compared_text_two"
	SlotChatHistory     = "chat_history"
	SlotRoleDescription = "role_description"
	SlotAgentName       = "agent_name"
	SlotFinalPrompt     = "final_prompt"
)

// Slots lists every placeholder a template may reference.
var Slots = []string{
	SlotSourceText,
	SlotCompareOne,
	SlotCompareTwo,
	SlotChatHistory,
	SlotRoleDescription,
	SlotAgentName,
	SlotFinalPrompt,
}

// HistorySeparator joins visible chat history entries in the chat_history slot.
const HistorySeparator = "\n\n"

// Vars holds the values substituted into a template for one turn.
type Vars struct {
	SourceText      string
	CompareOne      string
	CompareTwo      string
	ChatHistory     []string
	RoleDescription string
	AgentName       string
	FinalPrompt     string
}

func (v Vars) lookup(slot string) string {
	switch slot {
	case SlotSourceText:
		return v.SourceText
	case SlotCompareOne:
		return v.CompareOne
	case SlotCompareTwo:
		return v.CompareTwo
	case SlotChatHistory:
		return strings.Join(v.ChatHistory, HistorySeparator)
	case SlotRoleDescription:
		return v.RoleDescription
	case SlotAgentName:
		return v.AgentName
	case SlotFinalPrompt:
		return v.FinalPrompt
	}
	return ""
}

type segment struct {
	text string
	slot string // empty for literal text
}

// Template is an ordered list of parsed message templates.
type Template struct {
	messages [][]segment
}

// Parse parses one or more message templates.
func Parse(messages ...string) (*Template, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("prompt template has no messages")
	}
	t := &Template{messages: make([][]segment, 0, len(messages))}
	for i, m := range messages {
		segs, err := parseMessage(m)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		t.messages = append(t.messages, segs)
	}
	return t, nil
}

func parseMessage(src string) ([]segment, error) {
	var segs []segment
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			segs = append(segs, segment{text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch c {
		case '{':
			if i+1 < len(src) && src[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(src[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("unterminated placeholder at offset %d", i)
			}
			name := src[i+1 : i+1+end]
			if !knownSlot(name) {
				return nil, fmt.Errorf("unknown placeholder {%s}", name)
			}
			flush()
			segs = append(segs, segment{slot: name})
			i += end + 1
		case '}':
			if i+1 < len(src) && src[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return nil, fmt.Errorf("single '}' at offset %d", i)
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return segs, nil
}

func knownSlot(name string) bool {
	for _, s := range Slots {
		if s == name {
			return true
		}
	}
	return false
}

// Render substitutes vars into every message and returns them in order.
func (t *Template) Render(vars Vars) []string {
	out := make([]string, len(t.messages))
	for i, segs := range t.messages {
		var sb strings.Builder
		for _, s := range segs {
			if s.slot != "" {
				sb.WriteString(vars.lookup(s.slot))
			} else {
				sb.WriteString(s.text)
			}
		}
		out[i] = sb.String()
	}
	return out
}

// Text renders the template and joins the messages with newlines.
func (t *Template) Text(vars Vars) string {
	return strings.Join(t.Render(vars), "\n")
}

// Uses reports whether any message references slot.
func (t *Template) Uses(slot string) bool {
	for _, segs := range t.messages {
		for _, s := range segs {
			if s.slot == slot {
				return true
			}
		}
	}
	return false
}
