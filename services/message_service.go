package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"arena_server/models"
)

// RealtimeNotifier pushes a freshly appended notification to connected
// clients. The socket.io server satisfies this directly.
type RealtimeNotifier interface {
	BroadcastToRoom(namespace string, room string, event string, args ...interface{}) bool
}

// MessageService appends {event, data} payloads to per-recipient streams.
// Delivery is at-most-once and best-effort: streams are capped to the newest
// MessageStreamLimit entries and expire with MessageTTL.
type MessageService struct {
	KV       KV
	Realtime RealtimeNotifier // optional
}

// Post appends one notification to the (exchange, exchangeID) stream. The
// sequence number is taken from the stream's counter in the same store, so it
// is strictly increasing per stream and readers can ask for "after X". The
// counter bump and the append are two store round trips, so two concurrent
// posters can land in the list out of sequence order; GetAfter sorts by
// sequence, so readers never see the interleaving.
func (s *MessageService) Post(ctx context.Context, exchange, exchangeID, queue, event string, data map[string]interface{}) error {
	seq, err := s.KV.Incr(ctx, models.MessageSequenceKey(exchange, exchangeID))
	if err != nil {
		return fmt.Errorf("failed to allocate sequence for %s:%s: %w", exchange, exchangeID, err)
	}
	if err := s.KV.Expire(ctx, models.MessageSequenceKey(exchange, exchangeID), models.MessageTTL); err != nil {
		log.Printf("Failed to refresh sequence TTL for %s:%s: %v", exchange, exchangeID, err)
	}

	notification := models.Notification{
		Sequence:  seq,
		Queue:     queue,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	encoded, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	streamKey := models.MessageStreamKey(exchange, exchangeID)
	if err := s.KV.PushCapped(ctx, streamKey, encoded, models.MessageStreamLimit, models.MessageTTL); err != nil {
		return err
	}

	if s.Realtime != nil {
		s.Realtime.BroadcastToRoom("/", exchange+":"+exchangeID, event, notification)
	}
	return nil
}

// PostToPlayer appends to a player's stream.
func (s *MessageService) PostToPlayer(ctx context.Context, playerID, queue, event string, data map[string]interface{}) error {
	return s.Post(ctx, models.ExchangePlayers, playerID, queue, event, data)
}

// PostToPlayers fans out to several players, logging per-recipient failures
// rather than aborting the batch.
func (s *MessageService) PostToPlayers(ctx context.Context, playerIDs []string, queue, event string, data map[string]interface{}) {
	for _, id := range playerIDs {
		if err := s.PostToPlayer(ctx, id, queue, event, data); err != nil {
			log.Printf("Failed to notify player %s of %s: %v", id, event, err)
		}
	}
}

// GetAfter returns the stream entries with sequence greater than after, in
// ascending sequence order.
func (s *MessageService) GetAfter(ctx context.Context, exchange, exchangeID string, after int64) ([]models.Notification, error) {
	raw, err := s.KV.Range(ctx, models.MessageStreamKey(exchange, exchangeID), 0, -1)
	if err != nil {
		return nil, err
	}
	out := make([]models.Notification, 0, len(raw))
	for _, entry := range raw {
		var n models.Notification
		if err := json.Unmarshal(entry, &n); err != nil {
			log.Printf("Dropping malformed notification in %s:%s: %v", exchange, exchangeID, err)
			continue
		}
		if n.Sequence > after {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}
