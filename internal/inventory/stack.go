package inventory

// Stack is one addressable instance of an item inside a container.
type Stack struct {
	UID      string `json:"uid"`
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`

	// Data only exists on non-stackable items.
	Data       map[string]any `json:"data,omitempty"`
	Decay      *int           `json:"decay,omitempty"`
	Durability *int           `json:"durability,omitempty"`
}

// Patch is a shallow field update applied by Engine.Update. Nil fields are left alone.
type Patch struct {
	Quantity   *int           `json:"quantity,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Decay      *int           `json:"decay,omitempty"`
	Durability *int           `json:"durability,omitempty"`
}

func (s Stack) Clone() Stack {
	out := s
	out.Data = cloneMap(s.Data)
	out.Decay = cloneInt(s.Decay)
	out.Durability = cloneInt(s.Durability)
	return out
}

// Clone deep-copies a stack sequence so callers never share state with results.
func Clone(stacks []Stack) []Stack {
	out := make([]Stack, len(stacks))
	for i := range stacks {
		out[i] = stacks[i].Clone()
	}
	return out
}

func indexOf(stacks []Stack, uid string) int {
	for i := range stacks {
		if stacks[i].UID == uid {
			return i
		}
	}
	return -1
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

func Int(v int) *int { return &v }
