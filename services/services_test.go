package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"arena_server/models"
)

// fakeGateway doubles for both gateway interfaces and records every call.
type fakeGateway struct {
	mu sync.Mutex

	startCalls int
	startErr   error
	nextStatus string

	stopErr   error
	stopCalls []string

	acceptCalls []acceptCall

	placementCalls   []string
	placementErr     error
	stopPlacements   []string
	stopPlacementErr error
	sessionID        string
	sessionErr       error

	// beforePlacementReturns runs while StartGameSessionPlacement is "in
	// flight", before it returns, to simulate interference.
	beforePlacementReturns func()
}

type acceptCall struct {
	ticketID  string
	playerIDs []string
	accept    bool
}

func (g *fakeGateway) StartMatchmaking(ctx context.Context, players []models.TicketPlayer) (string, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.startErr != nil {
		return "", "", g.startErr
	}
	g.startCalls++
	return fmt.Sprintf("ticket-%d", g.startCalls), g.nextStatus, nil
}

func (g *fakeGateway) StopMatchmaking(ctx context.Context, ticketID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopErr != nil {
		return g.stopErr
	}
	g.stopCalls = append(g.stopCalls, ticketID)
	return nil
}

func (g *fakeGateway) AcceptMatch(ctx context.Context, ticketID string, playerIDs []string, accept bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.acceptCalls = append(g.acceptCalls, acceptCall{ticketID: ticketID, playerIDs: playerIDs, accept: accept})
	return nil
}

func (g *fakeGateway) StartGameSessionPlacement(ctx context.Context, placementID, queueName, mapName, customData string, maxPlayers int, playerIDs []string) error {
	g.mu.Lock()
	hook := g.beforePlacementReturns
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.placementErr != nil {
		return g.placementErr
	}
	g.placementCalls = append(g.placementCalls, placementID)
	return nil
}

func (g *fakeGateway) StopGameSessionPlacement(ctx context.Context, placementID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopPlacementErr != nil {
		return g.stopPlacementErr
	}
	g.stopPlacements = append(g.stopPlacements, placementID)
	return nil
}

func (g *fakeGateway) CreatePlayerSession(ctx context.Context, gameSessionARN, playerID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sessionErr != nil {
		return "", g.sessionErr
	}
	return g.sessionID, nil
}

// fakeDirectory resolves display names from a fixed map, falling back to the id.
type fakeDirectory struct {
	names map[string]string
}

func (d *fakeDirectory) GetDisplayName(ctx context.Context, playerID string) (string, error) {
	if name, ok := d.names[playerID]; ok {
		return name, nil
	}
	return playerID, nil
}

// fakeTicketChecker stands in for the matchmaking layer's entry check.
type fakeTicketChecker struct {
	live map[string]bool
}

func (c *fakeTicketChecker) HasLiveTicket(ctx context.Context, playerID string) (bool, error) {
	return c.live[playerID], nil
}

// fakeTicketHooks records lifecycle callbacks from the party layer.
type fakeTicketHooks struct {
	mu    sync.Mutex
	calls []string
}

func (h *fakeTicketHooks) HandlePartyMemberChange(ctx context.Context, playerID, partyID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, playerID+"/"+partyID)
}

func playerEvents(t *testing.T, messages *MessageService, playerID string) []string {
	t.Helper()
	notes, err := messages.GetAfter(context.Background(), models.ExchangePlayers, playerID, 0)
	if err != nil {
		t.Fatalf("reading notifications for %s: %v", playerID, err)
	}
	events := make([]string, 0, len(notes))
	for _, n := range notes {
		events = append(events, n.Event)
	}
	return events
}

func countEvents(events []string, name string) int {
	n := 0
	for _, e := range events {
		if e == name {
			n++
		}
	}
	return n
}
