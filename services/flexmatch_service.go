package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"time"

	"arena_server/models"
	"arena_server/utils"
)

// PartyMembers is the read-only slice of the party layer the ticket state
// machine needs to resolve an owner key and its member set.
type PartyMembers interface {
	GetPartyID(ctx context.Context, playerID string) (string, error)
	GetMemberIDs(ctx context.Context, partyID string) ([]string, error)
}

// FlexMatchService runs the matchmaking ticket lifecycle. Synchronous player
// requests and asynchronous gateway events both funnel through the owning
// key's lock, so they serialize against each other.
type FlexMatchService struct {
	KV       KV
	Locks    *LockService
	Gateway  MatchmakingGateway
	Messages *MessageService
	Players  PlayerDirectory
	Parties  PartyMembers
	// AccountID filters inbound events; events for other accounts belong to
	// another tenant and are dropped.
	AccountID string
	// Regions enumerates where latency samples may have been reported.
	Regions []string
	// BackfillPattern recognizes gateway-generated backfill ticket ids.
	BackfillPattern *regexp.Regexp
}

const flexmatchQueue = "matchmaking"

// ----- storage helpers (owner lock must be held) -----

func (s *FlexMatchService) loadTicket(ctx context.Context, ownerKey string) (*models.MatchmakingTicket, error) {
	pointer, err := s.KV.Get(ctx, ownerKey)
	if err != nil {
		return nil, err
	}
	if pointer == nil {
		return nil, nil
	}
	raw, err := s.KV.Get(ctx, string(pointer))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		// Pointer outlived the body; treat as no ticket.
		return nil, nil
	}
	var ticket models.MatchmakingTicket
	if err := json.Unmarshal(raw, &ticket); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticket at '%s': %w", ownerKey, err)
	}
	return &ticket, nil
}

func (s *FlexMatchService) saveTicket(ctx context.Context, lock *Lock, ticket *models.MatchmakingTicket) error {
	if err := ensureOwned(ctx, lock, ticket.Key); err != nil {
		return err
	}
	encoded, err := json.Marshal(ticket)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket %s: %w", ticket.TicketID, err)
	}
	ttl := ticket.PointerTTL()
	if err := s.KV.Set(ctx, models.TicketKey(ticket.TicketID), encoded, ttl); err != nil {
		return err
	}
	return s.KV.Set(ctx, ticket.Key, []byte(models.TicketKey(ticket.TicketID)), ttl)
}

func (s *FlexMatchService) deleteTicket(ctx context.Context, lock *Lock, ticket *models.MatchmakingTicket) error {
	if err := ensureOwned(ctx, lock, ticket.Key); err != nil {
		return err
	}
	return s.KV.Delete(ctx, ticket.Key, models.TicketKey(ticket.TicketID))
}

// resolveOwnerKey decides which pointer a new or cancelled request belongs
// to: the party's when the player travels with one, their own otherwise.
func (s *FlexMatchService) resolveOwnerKey(ctx context.Context, playerID string) (string, string, error) {
	partyID, err := s.Parties.GetPartyID(ctx, playerID)
	if err != nil {
		return "", "", err
	}
	if partyID != "" {
		return models.PartyTicketKey(partyID), partyID, nil
	}
	return models.PlayerTicketKey(playerID), "", nil
}

// ----- latency tracking -----

// ReportLatencies records one measured sample per region, keeping the newest
// LatencyWindowSize per player per region.
func (s *FlexMatchService) ReportLatencies(ctx context.Context, playerID string, samples map[string]int) error {
	for region, ms := range samples {
		if ms < 0 {
			return &models.InvalidRequestError{Message: fmt.Sprintf("negative latency for region %s", region)}
		}
		key := models.PlayerLatencyKey(playerID, region)
		if err := s.KV.PushCapped(ctx, key, []byte(strconv.Itoa(ms)), models.LatencyWindowSize, models.LatencyTTL); err != nil {
			return err
		}
	}
	return nil
}

// GetLatencyAverages returns the truncated-integer mean of whatever samples
// exist per region, even when the window is not yet full.
func (s *FlexMatchService) GetLatencyAverages(ctx context.Context, playerID string) (map[string]int, error) {
	averages := make(map[string]int)
	for _, region := range s.Regions {
		raw, err := s.KV.Range(ctx, models.PlayerLatencyKey(playerID, region), 0, -1)
		if err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			continue
		}
		samples := make([]int, 0, len(raw))
		for _, entry := range raw {
			ms, err := strconv.Atoi(string(entry))
			if err != nil {
				log.Printf("Dropping malformed latency sample for %s in %s: %v", playerID, region, err)
				continue
			}
			samples = append(samples, ms)
		}
		if len(samples) > 0 {
			averages[region] = utils.TruncatedMean(samples)
		}
	}
	return averages, nil
}

// ----- synchronous operations -----

// UpsertTicket issues a matchmaking ticket for the player (or their whole
// party). Re-issuing while a live ticket exists returns that ticket
// unchanged, so client retries are harmless.
func (s *FlexMatchService) UpsertTicket(ctx context.Context, playerID string) (*models.MatchmakingTicket, error) {
	ownerKey, partyID, err := s.resolveOwnerKey(ctx, playerID)
	if err != nil {
		return nil, err
	}
	memberIDs := []string{playerID}
	if partyID != "" {
		memberIDs, err = s.Parties.GetMemberIDs(ctx, partyID)
		if err != nil {
			return nil, err
		}
		if len(memberIDs) == 0 {
			return nil, &models.NotFoundError{Message: fmt.Sprintf("party %s has no members", partyID)}
		}
	}

	lock, err := s.Locks.Acquire(ctx, ownerKey, defaultLockWait)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	existing, err := s.loadTicket(ctx, ownerKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status == models.TicketStatusCancelling {
			return nil, &models.ConflictError{Message: "a previous ticket is still being cancelled"}
		}
		if existing.IsLive() {
			return existing, nil
		}
	}

	players := make([]models.TicketPlayer, 0, len(memberIDs))
	for _, id := range memberIDs {
		name, err := s.Players.GetDisplayName(ctx, id)
		if err != nil {
			return nil, err
		}
		latencies, err := s.GetLatencyAverages(ctx, id)
		if err != nil {
			return nil, err
		}
		players = append(players, models.TicketPlayer{PlayerID: id, PlayerName: name, Latencies: latencies})
	}

	ticketID, status, err := s.Gateway.StartMatchmaking(ctx, players)
	if err != nil {
		return nil, err
	}
	if status == "" {
		status = models.TicketStatusQueued
	}
	ticket := &models.MatchmakingTicket{
		TicketID:   ticketID,
		Key:        ownerKey,
		PartyID:    partyID,
		Players:    players,
		Status:     status,
		CreateDate: time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.saveTicket(ctx, lock, ticket); err != nil {
		return nil, err
	}
	s.Messages.PostToPlayers(ctx, memberIDs, flexmatchQueue, models.EventMatchmakingStarted, map[string]interface{}{
		"ticketId": ticket.TicketID,
		"status":   ticket.Status,
	})
	return ticket, nil
}

// GetTicket returns the player's current ticket.
func (s *FlexMatchService) GetTicket(ctx context.Context, playerID string) (*models.MatchmakingTicket, error) {
	ownerKey, _, err := s.resolveOwnerKey(ctx, playerID)
	if err != nil {
		return nil, err
	}
	lock, err := s.Locks.Acquire(ctx, ownerKey, defaultLockWait)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)
	ticket, err := s.loadTicket(ctx, ownerKey)
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return nil, &models.NotFoundError{Message: "no matchmaking ticket"}
	}
	return ticket, nil
}

// CancelTicket asks the gateway to stop matchmaking for the player's current
// ticket. Non-cancelable and already-cancelled states are no-ops reporting
// the current status. A transient gateway failure leaves the ticket for a
// retry; a permanent one means the local copy can no longer be trusted, so it
// is deleted before the error is surfaced.
func (s *FlexMatchService) CancelTicket(ctx context.Context, playerID string) (string, error) {
	ownerKey, _, err := s.resolveOwnerKey(ctx, playerID)
	if err != nil {
		return "", err
	}
	lock, err := s.Locks.Acquire(ctx, ownerKey, defaultLockWait)
	if err != nil {
		return "", err
	}
	defer lock.Release(ctx)
	ticket, err := s.loadTicket(ctx, ownerKey)
	if err != nil {
		return "", err
	}
	if ticket == nil {
		return "", &models.NotFoundError{Message: "no matchmaking ticket"}
	}
	return s.cancelLocked(ctx, lock, ticket)
}

func (s *FlexMatchService) cancelLocked(ctx context.Context, lock *Lock, ticket *models.MatchmakingTicket) (string, error) {
	if models.NonCancelableTicketStatuses[ticket.Status] {
		return ticket.Status, nil
	}
	if ticket.Status == models.TicketStatusCancelled || ticket.Status == models.TicketStatusCancelling {
		return ticket.Status, nil
	}

	err := s.Gateway.StopMatchmaking(ctx, ticket.TicketID)
	if err != nil {
		var gwErr *models.GameliftClientError
		if errors.As(err, &gwErr) && !gwErr.Transient {
			// The gateway's view and ours have diverged for good; drop the
			// cached ticket so the next issue starts clean, then surface the
			// failure anyway.
			if delErr := s.deleteTicket(ctx, lock, ticket); delErr != nil {
				log.Printf("Failed to delete untrusted ticket %s: %v", ticket.TicketID, delErr)
			}
			s.Messages.PostToPlayers(ctx, ticket.PlayerIDs(), flexmatchQueue, models.EventMatchmakingCancelled, map[string]interface{}{
				"ticketId": ticket.TicketID,
			})
		}
		return "", err
	}

	ticket.Status = models.TicketStatusCancelling
	if err := s.saveTicket(ctx, lock, ticket); err != nil {
		return "", err
	}
	s.Messages.PostToPlayers(ctx, ticket.PlayerIDs(), flexmatchQueue, models.EventMatchmakingStopped, map[string]interface{}{
		"ticketId": ticket.TicketID,
		"status":   ticket.Status,
	})
	return ticket.Status, nil
}

// UpdateAcceptance forwards a player's accept/reject of a proposed match.
// Stale or mismatched requests are logged and ignored; acceptance races with
// cancellation legitimately happen.
func (s *FlexMatchService) UpdateAcceptance(ctx context.Context, playerID, ticketID, matchID string, accept bool) error {
	ownerKey, _, err := s.resolveOwnerKey(ctx, playerID)
	if err != nil {
		return err
	}
	lock, err := s.Locks.Acquire(ctx, ownerKey, defaultLockWait)
	if err != nil {
		return err
	}
	defer lock.Release(ctx)
	ticket, err := s.loadTicket(ctx, ownerKey)
	if err != nil {
		return err
	}
	if ticket == nil || ticket.TicketID != ticketID || ticket.Status != models.TicketStatusRequiresAcceptance || ticket.MatchID != matchID {
		log.Printf("Ignoring stale acceptance from %s for ticket %s match %s", playerID, ticketID, matchID)
		return nil
	}
	return s.Gateway.AcceptMatch(ctx, ticketID, []string{playerID}, accept)
}

// HasLiveTicket is the entry check other state machines use; a lock-free peek
// is fine because mutual exclusivity is only ever enforced at entry.
func (s *FlexMatchService) HasLiveTicket(ctx context.Context, playerID string) (bool, error) {
	ownerKey, _, err := s.resolveOwnerKey(ctx, playerID)
	if err != nil {
		return false, err
	}
	ticket, err := s.loadTicket(ctx, ownerKey)
	if err != nil {
		return false, err
	}
	return ticket != nil && ticket.IsLive(), nil
}

// ----- lifecycle hooks -----

// HandlePartyMemberChange repairs matchmaking state when a player joins or
// leaves a party: neither their personal ticket nor the party's can survive a
// member set change.
func (s *FlexMatchService) HandlePartyMemberChange(ctx context.Context, playerID, partyID string) {
	s.cancelOwner(ctx, models.PlayerTicketKey(playerID))
	if partyID != "" {
		s.cancelOwner(ctx, models.PartyTicketKey(partyID))
	}
}

// HandleClientDisconnect cancels the ticket of a player whose session went
// away.
func (s *FlexMatchService) HandleClientDisconnect(ctx context.Context, playerID string) {
	ownerKey, _, err := s.resolveOwnerKey(ctx, playerID)
	if err != nil {
		log.Printf("Failed to resolve ticket owner for disconnected player %s: %v", playerID, err)
		return
	}
	s.cancelOwner(ctx, ownerKey)
}

func (s *FlexMatchService) cancelOwner(ctx context.Context, ownerKey string) {
	lock, err := s.Locks.Acquire(ctx, ownerKey, defaultLockWait)
	if err != nil {
		log.Printf("Failed to lock %s for lifecycle cancel: %v", ownerKey, err)
		return
	}
	defer lock.Release(ctx)
	ticket, err := s.loadTicket(ctx, ownerKey)
	if err != nil || ticket == nil {
		return
	}
	if _, err := s.cancelLocked(ctx, lock, ticket); err != nil {
		log.Printf("Lifecycle cancel of ticket %s failed: %v", ticket.TicketID, err)
	}
}

// HandleMatchLeft marks the player's ticket MATCH_COMPLETE when they leave an
// in-progress match and strips the now-useless connection info.
func (s *FlexMatchService) HandleMatchLeft(ctx context.Context, playerID string) error {
	ownerKey, _, err := s.resolveOwnerKey(ctx, playerID)
	if err != nil {
		return err
	}
	lock, err := s.Locks.Acquire(ctx, ownerKey, defaultLockWait)
	if err != nil {
		return err
	}
	defer lock.Release(ctx)
	ticket, err := s.loadTicket(ctx, ownerKey)
	if err != nil {
		return err
	}
	if ticket == nil || ticket.Status != models.TicketStatusCompleted {
		return nil
	}
	ticket.Status = models.TicketStatusMatchComplete
	ticket.ConnectionInfo = nil
	return s.saveTicket(ctx, lock, ticket)
}

// ----- inbound gateway events -----

// ticketTransitions lists which current statuses an event-driven target
// status may legally follow. Delivery is not guaranteed ordered, so anything
// outside the table is logged and ignored, never errored.
var ticketTransitions = map[string]map[string]bool{
	models.TicketStatusSearching: {
		models.TicketStatusQueued:             true,
		models.TicketStatusSearching:          true,
		models.TicketStatusRequiresAcceptance: true,
	},
	models.TicketStatusRequiresAcceptance: {
		models.TicketStatusQueued:    true,
		models.TicketStatusSearching: true,
	},
	models.TicketStatusPlacing: {
		models.TicketStatusQueued:             true,
		models.TicketStatusSearching:          true,
		models.TicketStatusRequiresAcceptance: true,
	},
	models.TicketStatusCompleted: {
		models.TicketStatusQueued:             true,
		models.TicketStatusSearching:          true,
		models.TicketStatusRequiresAcceptance: true,
		models.TicketStatusPlacing:            true,
	},
	models.TicketStatusCancelled: {
		models.TicketStatusQueued:             true,
		models.TicketStatusSearching:          true,
		models.TicketStatusRequiresAcceptance: true,
		models.TicketStatusPlacing:            true,
		models.TicketStatusCancelling:         true,
	},
	models.TicketStatusTimedOut: {
		models.TicketStatusQueued:             true,
		models.TicketStatusSearching:          true,
		models.TicketStatusRequiresAcceptance: true,
	},
	models.TicketStatusFailed: {
		models.TicketStatusQueued:             true,
		models.TicketStatusSearching:          true,
		models.TicketStatusRequiresAcceptance: true,
		models.TicketStatusPlacing:            true,
	},
}

func canAdvance(from, to string) bool {
	allowed, ok := ticketTransitions[to]
	return ok && allowed[from]
}

// HandleEvent applies one inbound matchmaking event. Unknown tickets, foreign
// accounts and nonsensical transitions are dropped with a log line; delivery
// is at-least-once and unordered, so dropping is the correct answer.
func (s *FlexMatchService) HandleEvent(ctx context.Context, event *models.FlexMatchEvent) error {
	if s.AccountID != "" && event.Account != "" && event.Account != s.AccountID {
		log.Printf("Dropping matchmaking event %s for foreign account %s", event.ID, event.Account)
		return nil
	}
	detail := &event.Detail
	switch detail.Type {
	case models.FlexMatchEventSearching:
		s.applyStatusEvent(ctx, detail, models.TicketStatusSearching, models.EventMatchmakingSearching)
	case models.FlexMatchEventPotentialMatch:
		s.applyPotentialMatch(ctx, detail)
	case models.FlexMatchEventSucceeded:
		s.applySucceeded(ctx, detail)
	case models.FlexMatchEventCancelled:
		s.applyCancelled(ctx, detail)
	case models.FlexMatchEventAcceptMatch:
		s.applyAcceptMatch(ctx, detail)
	case models.FlexMatchEventAcceptMatchCompleted:
		s.applyAcceptMatchCompleted(ctx, detail)
	case models.FlexMatchEventTimedOut:
		s.applyStatusEvent(ctx, detail, models.TicketStatusTimedOut, models.EventMatchmakingTimedOut)
	case models.FlexMatchEventFailed:
		s.applyStatusEvent(ctx, detail, models.TicketStatusFailed, models.EventMatchmakingFailed)
	default:
		log.Printf("Dropping matchmaking event of unknown type %q", detail.Type)
	}
	return nil
}

// withPlayerTicket re-fetches the ticket the player currently holds under its
// owner lock and runs fn only when the event's ticket id still matches;
// out-of-order deliveries for older tickets fall through to the miss handler.
func (s *FlexMatchService) withPlayerTicket(ctx context.Context, playerID, eventTicketID string, fn func(lock *Lock, ticket *models.MatchmakingTicket) error) bool {
	candidates := []string{models.PlayerTicketKey(playerID)}
	if partyID, err := s.Parties.GetPartyID(ctx, playerID); err == nil && partyID != "" {
		candidates = append(candidates, models.PartyTicketKey(partyID))
	}
	for _, ownerKey := range candidates {
		matched := func() bool {
			lock, err := s.Locks.Acquire(ctx, ownerKey, defaultLockWait)
			if err != nil {
				log.Printf("Failed to lock %s for event: %v", ownerKey, err)
				return false
			}
			defer lock.Release(ctx)
			ticket, err := s.loadTicket(ctx, ownerKey)
			if err != nil {
				log.Printf("Failed to load ticket at %s for event: %v", ownerKey, err)
				return false
			}
			if ticket == nil || ticket.TicketID != eventTicketID {
				return false
			}
			if err := fn(lock, ticket); err != nil {
				log.Printf("Failed to apply event to ticket %s: %v", eventTicketID, err)
			}
			return true
		}()
		if matched {
			return true
		}
	}
	return false
}

func (s *FlexMatchService) applyStatusEvent(ctx context.Context, detail *models.FlexMatchEventDetail, target, notifyEvent string) {
	for _, eventTicket := range detail.Tickets {
		for _, player := range eventTicket.Players {
			found := s.withPlayerTicket(ctx, player.PlayerID, eventTicket.TicketID, func(lock *Lock, ticket *models.MatchmakingTicket) error {
				if !canAdvance(ticket.Status, target) {
					log.Printf("Ignoring %s -> %s for ticket %s", ticket.Status, target, ticket.TicketID)
					return nil
				}
				ticket.Status = target
				if err := s.saveTicket(ctx, lock, ticket); err != nil {
					return err
				}
				s.Messages.PostToPlayers(ctx, ticket.PlayerIDs(), flexmatchQueue, notifyEvent, map[string]interface{}{
					"ticketId": ticket.TicketID,
					"status":   ticket.Status,
				})
				return nil
			})
			if !found {
				log.Printf("Dropping %s event for unknown ticket %s (player %s)", detail.Type, eventTicket.TicketID, player.PlayerID)
			}
		}
	}
}

func (s *FlexMatchService) applyPotentialMatch(ctx context.Context, detail *models.FlexMatchEventDetail) {
	target := models.TicketStatusPlacing
	if detail.AcceptanceRequired {
		target = models.TicketStatusRequiresAcceptance
	}
	for _, eventTicket := range detail.Tickets {
		for _, player := range eventTicket.Players {
			found := s.withPlayerTicket(ctx, player.PlayerID, eventTicket.TicketID, func(lock *Lock, ticket *models.MatchmakingTicket) error {
				if !canAdvance(ticket.Status, target) {
					log.Printf("Ignoring %s -> %s for ticket %s", ticket.Status, target, ticket.TicketID)
					return nil
				}
				ticket.Status = target
				ticket.MatchID = detail.MatchID
				if err := s.saveTicket(ctx, lock, ticket); err != nil {
					return err
				}
				s.Messages.PostToPlayers(ctx, ticket.PlayerIDs(), flexmatchQueue, models.EventPotentialMatchCreated, map[string]interface{}{
					"ticketId":           ticket.TicketID,
					"matchId":            detail.MatchID,
					"status":             ticket.Status,
					"acceptanceRequired": detail.AcceptanceRequired,
					"acceptanceTimeout":  detail.AcceptanceTimeout,
				})
				return nil
			})
			if !found {
				log.Printf("Dropping PotentialMatchCreated for unknown ticket %s (player %s)", eventTicket.TicketID, player.PlayerID)
			}
		}
	}
}

func (s *FlexMatchService) applySucceeded(ctx context.Context, detail *models.FlexMatchEventDetail) {
	for _, eventTicket := range detail.Tickets {
		for _, player := range eventTicket.Players {
			found := s.withPlayerTicket(ctx, player.PlayerID, eventTicket.TicketID, func(lock *Lock, ticket *models.MatchmakingTicket) error {
				if !canAdvance(ticket.Status, models.TicketStatusCompleted) {
					log.Printf("Ignoring %s -> COMPLETED for ticket %s", ticket.Status, ticket.TicketID)
					return nil
				}
				ticket.Status = models.TicketStatusCompleted
				ticket.MatchID = detail.MatchID
				if info := detail.GameSessionInfo; info != nil {
					sessions := make(map[string]string, len(info.Players))
					for _, p := range info.Players {
						if p.PlayerSessionID != "" {
							sessions[p.PlayerID] = p.PlayerSessionID
						}
					}
					ticket.ConnectionInfo = &models.ConnectionInfo{
						IPAddress:      info.IPAddress,
						Port:           info.Port,
						PlayerSessions: sessions,
					}
				}
				if err := s.saveTicket(ctx, lock, ticket); err != nil {
					return err
				}
				for _, memberID := range ticket.PlayerIDs() {
					data := map[string]interface{}{
						"ticketId": ticket.TicketID,
						"matchId":  ticket.MatchID,
						"status":   ticket.Status,
					}
					if ticket.ConnectionInfo != nil {
						data["connection"] = fmt.Sprintf("%s:%d", ticket.ConnectionInfo.IPAddress, ticket.ConnectionInfo.Port)
						data["playerSessionId"] = ticket.ConnectionInfo.PlayerSessions[memberID]
					}
					if err := s.Messages.PostToPlayer(ctx, memberID, flexmatchQueue, models.EventMatchmakingSuccess, data); err != nil {
						log.Printf("Failed to notify player %s of match success: %v", memberID, err)
					}
				}
				return nil
			})
			if !found {
				log.Printf("Dropping MatchmakingSucceeded for unknown ticket %s (player %s)", eventTicket.TicketID, player.PlayerID)
			}
		}
	}
}

func (s *FlexMatchService) applyCancelled(ctx context.Context, detail *models.FlexMatchEventDetail) {
	for _, eventTicket := range detail.Tickets {
		for _, player := range eventTicket.Players {
			found := s.withPlayerTicket(ctx, player.PlayerID, eventTicket.TicketID, func(lock *Lock, ticket *models.MatchmakingTicket) error {
				if !canAdvance(ticket.Status, models.TicketStatusCancelled) {
					log.Printf("Ignoring %s -> CANCELLED for ticket %s", ticket.Status, ticket.TicketID)
					return nil
				}
				ticket.Status = models.TicketStatusCancelled
				if err := s.saveTicket(ctx, lock, ticket); err != nil {
					return err
				}
				s.Messages.PostToPlayers(ctx, ticket.PlayerIDs(), flexmatchQueue, models.EventMatchmakingCancelled, map[string]interface{}{
					"ticketId": ticket.TicketID,
					"status":   ticket.Status,
				})
				return nil
			})
			if found {
				continue
			}
			if s.BackfillPattern != nil && s.BackfillPattern.MatchString(eventTicket.TicketID) {
				// Backfill heuristic: the cancelled id belongs to a gateway
				// backfill request, and the player's real ticket showing
				// COMPLETED means their match just wound down. Best effort,
				// not a guarantee.
				s.applyBackfillCancelled(ctx, player.PlayerID)
				continue
			}
			log.Printf("Dropping MatchmakingCancelled for unknown ticket %s (player %s)", eventTicket.TicketID, player.PlayerID)
		}
	}
}

func (s *FlexMatchService) applyBackfillCancelled(ctx context.Context, playerID string) {
	ownerKey, _, err := s.resolveOwnerKey(ctx, playerID)
	if err != nil {
		log.Printf("Failed to resolve owner for backfill cancel of %s: %v", playerID, err)
		return
	}
	lock, err := s.Locks.Acquire(ctx, ownerKey, defaultLockWait)
	if err != nil {
		log.Printf("Failed to lock %s for backfill cancel: %v", ownerKey, err)
		return
	}
	defer lock.Release(ctx)
	ticket, err := s.loadTicket(ctx, ownerKey)
	if err != nil || ticket == nil || ticket.Status != models.TicketStatusCompleted {
		return
	}
	ticket.Status = models.TicketStatusMatchComplete
	ticket.ConnectionInfo = nil
	if err := s.saveTicket(ctx, lock, ticket); err != nil {
		log.Printf("Failed to mark ticket %s MATCH_COMPLETE: %v", ticket.TicketID, err)
		return
	}
	s.Messages.PostToPlayers(ctx, ticket.PlayerIDs(), flexmatchQueue, models.EventMatchmakingStopped, map[string]interface{}{
		"ticketId": ticket.TicketID,
		"status":   ticket.Status,
	})
}

func (s *FlexMatchService) applyAcceptMatch(ctx context.Context, detail *models.FlexMatchEventDetail) {
	for _, eventTicket := range detail.Tickets {
		acceptance := make(map[string]interface{}, len(eventTicket.Players))
		for _, player := range eventTicket.Players {
			if player.Accepted != nil {
				acceptance[player.PlayerID] = *player.Accepted
			}
		}
		for _, player := range eventTicket.Players {
			found := s.withPlayerTicket(ctx, player.PlayerID, eventTicket.TicketID, func(lock *Lock, ticket *models.MatchmakingTicket) error {
				if ticket.Status != models.TicketStatusRequiresAcceptance {
					log.Printf("Ignoring AcceptMatch for ticket %s in status %s", ticket.TicketID, ticket.Status)
					return nil
				}
				s.Messages.PostToPlayers(ctx, ticket.PlayerIDs(), flexmatchQueue, models.EventMatchmakingMatchAccepted, map[string]interface{}{
					"ticketId":   ticket.TicketID,
					"matchId":    detail.MatchID,
					"acceptance": acceptance,
				})
				return nil
			})
			if !found {
				log.Printf("Dropping AcceptMatch for unknown ticket %s (player %s)", eventTicket.TicketID, player.PlayerID)
			}
		}
	}
}

func (s *FlexMatchService) applyAcceptMatchCompleted(ctx context.Context, detail *models.FlexMatchEventDetail) {
	// A rejection is followed by MatchmakingSearching or MatchmakingCancelled
	// from the gateway; this event only tells members how the round ended.
	for _, eventTicket := range detail.Tickets {
		for _, player := range eventTicket.Players {
			found := s.withPlayerTicket(ctx, player.PlayerID, eventTicket.TicketID, func(lock *Lock, ticket *models.MatchmakingTicket) error {
				s.Messages.PostToPlayers(ctx, ticket.PlayerIDs(), flexmatchQueue, models.EventMatchmakingMatchAccepted, map[string]interface{}{
					"ticketId":   ticket.TicketID,
					"matchId":    detail.MatchID,
					"completion": detail.Reason,
				})
				return nil
			})
			if !found {
				log.Printf("Dropping AcceptMatchCompleted for unknown ticket %s (player %s)", eventTicket.TicketID, player.PlayerID)
			}
		}
	}
}
