package broker

import (
	"context"
	"fmt"

	"github.com/driftmq/driftmq/session"
	"github.com/driftmq/driftmq/storage"
	"github.com/driftmq/driftmq/topics"
)

// sharedGroupKey builds the group identity a shared subscription balances
// under: "{group}/{filter}".
func sharedGroupKey(sub *storage.Subscription) string {
	_, tail, _ := topics.ParseShared(sub.Filter)
	return sub.ShareGroup + "/" + tail
}

// subscribe installs a subscription into the session, the matcher, the
// shared groups and the store. It reports whether the subscription did not
// exist before (retain-handling 1 sends retained messages only then).
func (b *Broker) subscribe(s *session.Session, sub *storage.Subscription) (bool, error) {
	sub.ClientID = s.ID
	if group, _, shared := topics.ParseShared(sub.Filter); shared {
		sub.ShareGroup = group
	}

	isNew := !s.HasSubscription(sub.Filter)

	s.AddSubscription(sub)
	b.router.Subscribe(storage.CopySubscription(sub))
	if sub.ShareGroup != "" {
		b.shared.Add(sharedGroupKey(sub), s.ID)
	}

	if err := b.subscriptions.Add(context.Background(), sub); err != nil {
		return isNew, fmt.Errorf("persist subscription: %w", err)
	}
	return isNew, nil
}

// unsubscribe removes a subscription everywhere. It reports whether the
// subscription existed.
func (b *Broker) unsubscribe(s *session.Session, filter string) (bool, error) {
	sub := s.Subscriptions()[filter]
	if !s.RemoveSubscription(filter) {
		return false, nil
	}

	b.removeFromMatcher(s.ID, filter, sub)

	if err := b.subscriptions.Remove(context.Background(), s.ID, filter); err != nil {
		return true, fmt.Errorf("remove subscription: %w", err)
	}
	return true, nil
}

func (b *Broker) removeFromMatcher(clientID, filter string, sub *storage.Subscription) {
	b.router.Unsubscribe(clientID, filter)
	if sub != nil && sub.ShareGroup != "" {
		b.shared.Remove(sharedGroupKey(sub), clientID)
	}
}

// deliverRetained schedules retained messages for a new subscription
// according to its retain-handling option. Shared subscriptions never
// receive retained messages.
func (b *Broker) deliverRetained(s *session.Session, sub *storage.Subscription, isNew bool) {
	if sub.ShareGroup != "" {
		return
	}
	switch sub.Options.RetainHandling {
	case 0:
		// Always send.
	case 1:
		if !isNew {
			return
		}
	default:
		return
	}

	retained, err := b.retained.Match(context.Background(), sub.Filter)
	if err != nil {
		b.logError("retained_match", err, "filter", sub.Filter)
		return
	}

	for _, msg := range retained {
		deliver := storage.CopyMessage(msg)
		deliver.QoS = min(msg.QoS, sub.QoS)
		deliver.Retain = true
		if sub.SubscriptionID != nil {
			deliver.SubscriptionIDs = []uint32{*sub.SubscriptionID}
		}
		if err := b.DeliverToSession(s, deliver); err != nil {
			b.logError("retained_deliver", err, "client_id", s.ID, "topic", msg.Topic)
		}
	}
}
