package chat

// Transcript is an ordered list of turns. Append assigns sequence IDs, so
// callers never pick IDs themselves.
type Transcript struct {
	turns []Turn
}

// NewTranscript takes turns as-is and renumbers them from 1.
func NewTranscript(turns []Turn) Transcript {
	t := Transcript{turns: make([]Turn, 0, len(turns))}
	for _, turn := range turns {
		t.Append(turn)
	}
	return t
}

func (t *Transcript) Append(turn Turn) Turn {
	turn.ID = len(t.turns) + 1
	t.turns = append(t.turns, turn)
	return turn
}

func (t *Transcript) Reset() {
	t.turns = nil
}

func (t Transcript) Len() int { return len(t.turns) }

func (t Transcript) Empty() bool { return len(t.turns) == 0 }

// Last returns the most recent turn, if any.
func (t Transcript) Last() (Turn, bool) {
	if len(t.turns) == 0 {
		return Turn{}, false
	}
	return t.turns[len(t.turns)-1], true
}

// Turns returns a copy safe to hand to renderers.
func (t Transcript) Turns() []Turn {
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}
