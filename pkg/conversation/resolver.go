package conversation

import (
	"fmt"
	"strings"
)

const maxFallthroughDepth = 8

// Target identifies an interaction inside the conversation that owns it.
type Target struct {
	ConversationID string `json:"conversation_id"`
	InteractionID  string `json:"interaction_id"`
}

// Picker returns an index in [0,n) chosen by weight. Selector.Pick is one.
type Picker func(n int, weight func(i int) int) int

// Resolver maps interaction and conversation references (ids or names) to
// concrete targets inside one conversation group. It is immutable; Load
// and Remove produce a new Resolver.
type Resolver struct {
	group *ConversationGroup
	byID  map[string]*Conversation
	pick  Picker
}

// NewResolver indexes a conversation group. The group is copied so later
// swaps never mutate data another reader holds.
func NewResolver(g *ConversationGroup) *Resolver {
	cp := *g
	cp.Conversations = append([]Conversation(nil), g.Conversations...)
	r := &Resolver{group: &cp, byID: make(map[string]*Conversation, len(cp.Conversations))}
	for i := range cp.Conversations {
		c := &cp.Conversations[i]
		r.byID[c.ID] = c
	}
	return r
}

// WithPicker returns a resolver that uses p when an entry point is left
// to weight: the startup conversation of a group without one, and the
// entry interaction of a conversation without a startup or goto. Weights
// only apply when a sibling declares one; otherwise the first declared
// wins, as it does without a picker.
func (r *Resolver) WithPicker(p Picker) *Resolver {
	cp := *r
	cp.pick = p
	return &cp
}

func (r *Resolver) choose(n int, weight func(i int) int) int {
	if r.pick == nil || n < 2 {
		return 0
	}
	for i := 0; i < n; i++ {
		if weight(i) > 0 {
			return r.pick(n, weight)
		}
	}
	return 0
}

// Group returns the indexed group.
func (r *Resolver) Group() *ConversationGroup {
	return r.group
}

// Conversation resolves a conversation by id, then by name.
func (r *Resolver) Conversation(ref string) (*Conversation, error) {
	if c, ok := r.byID[ref]; ok {
		return c, nil
	}
	var found []*Conversation
	for i := range r.group.Conversations {
		c := &r.group.Conversations[i]
		if strings.EqualFold(c.Name, ref) {
			found = append(found, c)
		}
	}
	switch len(found) {
	case 0:
		return nil, &ResolutionError{Kind: ResolutionNotFound, Target: ref}
	case 1:
		return found[0], nil
	default:
		ids := make([]string, 0, len(found))
		for _, c := range found {
			ids = append(ids, c.ID)
		}
		return nil, &ResolutionError{Kind: ResolutionAmbiguous, Target: ref, Candidates: ids}
	}
}

// Interaction returns the interaction with the given id.
func (r *Resolver) Interaction(t Target) (*Conversation, *Interaction, bool) {
	c, ok := r.byID[t.ConversationID]
	if !ok {
		return nil, nil, false
	}
	for i := range c.Interactions {
		if c.Interactions[i].ID == t.InteractionID {
			return c, &c.Interactions[i], true
		}
	}
	return c, nil, false
}

// ResolveGoTo resolves a bare interaction reference. The current
// conversation is searched first, then the rest of the group. A reference
// that names interactions in more than one other conversation is
// ambiguous.
func (r *Resolver) ResolveGoTo(currentConversationID, target string) (Target, error) {
	if target == "" {
		return Target{}, &ResolutionError{Kind: ResolutionNotFound, Target: target}
	}
	if c, ok := r.byID[currentConversationID]; ok {
		if id, ok := findInteraction(c, target); ok {
			return Target{ConversationID: c.ID, InteractionID: id}, nil
		}
	}

	// Ids are unique within a group, so an id match is never ambiguous.
	for i := range r.group.Conversations {
		c := &r.group.Conversations[i]
		for j := range c.Interactions {
			if c.Interactions[j].ID == target {
				return Target{ConversationID: c.ID, InteractionID: target}, nil
			}
		}
	}

	var hits []Target
	for i := range r.group.Conversations {
		c := &r.group.Conversations[i]
		if c.ID == currentConversationID {
			continue
		}
		for j := range c.Interactions {
			if strings.EqualFold(c.Interactions[j].Name, target) {
				hits = append(hits, Target{ConversationID: c.ID, InteractionID: c.Interactions[j].ID})
				break
			}
		}
	}
	switch len(hits) {
	case 0:
		return Target{}, &ResolutionError{Kind: ResolutionNotFound, Target: target}
	case 1:
		return hits[0], nil
	default:
		ids := make([]string, 0, len(hits))
		for _, h := range hits {
			ids = append(ids, h.ConversationID)
		}
		return Target{}, &ResolutionError{Kind: ResolutionAmbiguous, Target: target, Candidates: ids}
	}
}

// ResolveIn resolves an interaction reference inside a specific conversation.
func (r *Resolver) ResolveIn(conversationRef, interactionRef string) (Target, error) {
	c, err := r.Conversation(conversationRef)
	if err != nil {
		return Target{}, err
	}
	id, ok := findInteraction(c, interactionRef)
	if !ok {
		return Target{}, &ResolutionError{Kind: ResolutionNotFound, Target: conversationRef + "/" + interactionRef}
	}
	return Target{ConversationID: c.ID, InteractionID: id}, nil
}

// ResolveConversation returns the entry interaction of a conversation:
// its startup interaction, else its goto fallthrough, else its first
// interaction.
func (r *Resolver) ResolveConversation(ref string) (Target, error) {
	return r.resolveConversation(ref, 0)
}

func (r *Resolver) resolveConversation(ref string, depth int) (Target, error) {
	if depth > maxFallthroughDepth {
		return Target{}, fmt.Errorf("conversation %q: fallthrough loop", ref)
	}
	c, err := r.Conversation(ref)
	if err != nil {
		return Target{}, err
	}
	if c.StartupInteraction != "" {
		if id, ok := findInteraction(c, c.StartupInteraction); ok {
			return Target{ConversationID: c.ID, InteractionID: id}, nil
		}
	}
	switch {
	case c.GoToConversation != "" && c.GoToInteraction != "":
		return r.ResolveIn(c.GoToConversation, c.GoToInteraction)
	case c.GoToInteraction != "":
		return r.ResolveGoTo(c.ID, c.GoToInteraction)
	case c.GoToConversation != "" && c.GoToConversation != c.ID:
		return r.resolveConversation(c.GoToConversation, depth+1)
	}
	if len(c.Interactions) > 0 {
		i := r.choose(len(c.Interactions), func(i int) int { return c.Interactions[i].Weight })
		return Target{ConversationID: c.ID, InteractionID: c.Interactions[i].ID}, nil
	}
	return Target{}, &ResolutionError{Kind: ResolutionNotFound, Target: ref + "/<startup>"}
}

// StartupTarget resolves the group's startup conversation. Without one a
// conversation is chosen by weight, or the first is taken.
func (r *Resolver) StartupTarget() (Target, error) {
	ref := r.group.StartupConversation
	if ref == "" {
		convs := r.group.Conversations
		if len(convs) == 0 {
			return Target{}, &ResolutionError{Kind: ResolutionNotFound, Target: "<startup conversation>"}
		}
		ref = convs[r.choose(len(convs), func(i int) int { return convs[i].Weight })].ID
	}
	return r.ResolveConversation(ref)
}

// WithConversation returns a resolver where c replaces the conversation
// with the same id, or is appended.
func (r *Resolver) WithConversation(c Conversation) *Resolver {
	g := *r.group
	g.Conversations = make([]Conversation, 0, len(r.group.Conversations)+1)
	replaced := false
	for _, existing := range r.group.Conversations {
		if existing.ID == c.ID {
			g.Conversations = append(g.Conversations, c)
			replaced = true
			continue
		}
		g.Conversations = append(g.Conversations, existing)
	}
	if !replaced {
		g.Conversations = append(g.Conversations, c)
	}
	next := NewResolver(&g)
	next.pick = r.pick
	return next
}

// WithoutConversation returns a resolver without the conversation id. The
// second result is false when the id was not present.
func (r *Resolver) WithoutConversation(id string) (*Resolver, bool) {
	if _, ok := r.byID[id]; !ok {
		return r, false
	}
	g := *r.group
	g.Conversations = make([]Conversation, 0, len(r.group.Conversations))
	for _, existing := range r.group.Conversations {
		if existing.ID != id {
			g.Conversations = append(g.Conversations, existing)
		}
	}
	next := NewResolver(&g)
	next.pick = r.pick
	return next, true
}

// ConversationIDs lists conversation ids in declaration order.
func (r *Resolver) ConversationIDs() []string {
	ids := make([]string, 0, len(r.group.Conversations))
	for _, c := range r.group.Conversations {
		ids = append(ids, c.ID)
	}
	return ids
}

func findInteraction(c *Conversation, ref string) (string, bool) {
	for i := range c.Interactions {
		if c.Interactions[i].ID == ref {
			return ref, true
		}
	}
	for i := range c.Interactions {
		if strings.EqualFold(c.Interactions[i].Name, ref) {
			return c.Interactions[i].ID, true
		}
	}
	return "", false
}
