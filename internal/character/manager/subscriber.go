package manager

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/pitabwire/util"

	"github.com/voicetyped/conversation/pkg/conversation"
)

// Subscriber implements queue.SubscribeWorker and routes inbound robot
// events to their sessions.
type Subscriber struct {
	Manager *Manager
}

// Handle is called by frame's pub/sub for each inbound message. Events for
// unknown sessions, and sessions that cannot start, are dropped without
// redelivery.
func (s *Subscriber) Handle(ctx context.Context, _ map[string]string, message []byte) error {
	var in InboundEvent
	if err := json.Unmarshal(message, &in); err != nil {
		util.Log(ctx).WithError(err).Error("conversation subscriber: unmarshal event")
		return err
	}

	if err := s.Manager.Route(ctx, in); err != nil {
		if errors.Is(err, ErrUnknownSession) {
			util.Log(ctx).WithField("session_id", in.SessionID).Warn("conversation subscriber: no such session")
			return nil
		}
		if conversation.IsFatal(err) {
			util.Log(ctx).WithError(err).WithField("session_id", in.SessionID).Error("conversation subscriber: session cannot start")
			return nil
		}
		util.Log(ctx).WithError(err).WithField("session_id", in.SessionID).Error("conversation subscriber: route event")
		return err
	}
	return nil
}
