package conversation

import "fmt"

// Validate checks a group for structural consistency: unique ids and a
// resolvable startup interaction. Trigger problems are not structural and
// are reported by Lint instead.
func Validate(g *ConversationGroup) error {
	if g == nil {
		return fmt.Errorf("conversation group is required")
	}
	if len(g.Conversations) == 0 {
		return fmt.Errorf("group %q: at least one conversation is required", g.ID)
	}

	convIDs := make(map[string]bool, len(g.Conversations))
	interactionIDs := make(map[string]string)
	for ci, c := range g.Conversations {
		if c.ID == "" {
			return fmt.Errorf("group %q conversation %d: id is required", g.ID, ci)
		}
		if convIDs[c.ID] {
			return fmt.Errorf("group %q: duplicate conversation id %q", g.ID, c.ID)
		}
		convIDs[c.ID] = true

		for ii, in := range c.Interactions {
			if in.ID == "" {
				return fmt.Errorf("conversation %q interaction %d: id is required", c.ID, ii)
			}
			if owner, dup := interactionIDs[in.ID]; dup {
				return fmt.Errorf("interaction id %q declared in conversations %q and %q", in.ID, owner, c.ID)
			}
			interactionIDs[in.ID] = c.ID
		}
	}

	r := NewResolver(g)
	if _, err := r.StartupTarget(); err != nil {
		return fmt.Errorf("group %q: startup: %w", g.ID, err)
	}
	// A weighted startup may land on any conversation.
	if g.StartupConversation == "" && weighted(g.Conversations) {
		for _, c := range g.Conversations {
			if _, err := r.ResolveConversation(c.ID); err != nil {
				return fmt.Errorf("group %q: weighted startup conversation %q: %w", g.ID, c.ID, err)
			}
		}
	}
	return nil
}

func weighted(convs []Conversation) bool {
	for _, c := range convs {
		if c.Weight > 0 {
			return true
		}
	}
	return false
}

// Lint compiles every trigger map of the group and returns the
// configuration problems found. A group with lint problems still runs.
func Lint(g *ConversationGroup) []error {
	var problems []error
	_, errs := CompileTriggers(ScopeGroup, g.ID, g.Triggers)
	problems = append(problems, errs...)
	for _, c := range g.Conversations {
		_, errs := CompileTriggers(ScopeConversation, c.ID, c.Triggers)
		problems = append(problems, errs...)
		for _, in := range c.Interactions {
			_, errs := CompileTriggers(ScopeInteraction, in.ID, in.Triggers)
			problems = append(problems, errs...)
		}
	}
	return problems
}
