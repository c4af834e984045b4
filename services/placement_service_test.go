package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"arena_server/models"
)

func newPlacementFixture() (*PlacementService, *fakeGateway, *MessageService, *LobbyService, *PartyService) {
	kv := NewMemoryKV()
	messages := &MessageService{KV: kv}
	locks := &LockService{KV: kv}
	parties := &PartyService{KV: kv, Messages: messages}
	lobbies := &LobbyService{
		KV:         kv,
		Locks:      locks,
		Messages:   messages,
		Players:    &fakeDirectory{},
		Tickets:    &fakeTicketChecker{live: map[string]bool{}},
		Parties:    parties,
		LeaveGrace: 10 * time.Second,
	}
	gateway := &fakeGateway{sessionID: "psess-new"}
	svc := &PlacementService{
		KV:           kv,
		Locks:        locks,
		Gateway:      gateway,
		Messages:     messages,
		Parties:      parties,
		Lobbies:      lobbies,
		DefaultQueue: "default-queue",
	}
	return svc, gateway, messages, lobbies, parties
}

func fulfilledEvent(placementID string, sessions ...models.PlacedPlayerSession) *models.PlacementEvent {
	return &models.PlacementEvent{
		ID: "event-1",
		Detail: models.PlacementEventDetail{
			Type:                 models.PlacementEventFulfilled,
			PlacementID:          placementID,
			GameSessionARN:       "arn:gamesession/abc",
			IPAddress:            "10.0.0.1",
			Port:                 7777,
			PlacedPlayerSessions: sessions,
		},
	}
}

func TestStartPlayerPlacement(t *testing.T) {
	ctx := context.Background()
	svc, gateway, _, _, _ := newPlacementFixture()

	placement, err := svc.StartPlayerPlacement(ctx, "alice", PlacementRequest{MapName: "dust"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if placement.Status != models.PlacementStatusPending {
		t.Fatalf("new placement status %s", placement.Status)
	}
	if placement.QueueName != "default-queue" {
		t.Fatalf("default queue not applied: %s", placement.QueueName)
	}
	if len(gateway.placementCalls) != 1 {
		t.Fatalf("gateway called %d times", len(gateway.placementCalls))
	}

	got, err := svc.GetPlacement(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PlacementID != placement.PlacementID {
		t.Fatal("pointer does not resolve to the placement")
	}
}

func TestSecondPlacementWhilePendingConflicts(t *testing.T) {
	ctx := context.Background()
	svc, gateway, _, _, _ := newPlacementFixture()

	if _, err := svc.StartPlayerPlacement(ctx, "alice", PlacementRequest{}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	_, err := svc.StartPlayerPlacement(ctx, "alice", PlacementRequest{})
	var conflict *models.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(gateway.placementCalls) != 1 {
		t.Fatal("the conflicting attempt must not reach the gateway")
	}
}

func TestStartPlacementRollsBackOnStolenLock(t *testing.T) {
	ctx := context.Background()
	svc, gateway, _, _, _ := newPlacementFixture()

	// While the gateway call is in flight, the participant's lock expires and
	// another worker takes it.
	gateway.beforePlacementReturns = func() {
		svc.KV.Set(ctx, models.PlayerPlacementKey("alice")+lockKeySuffix, []byte("thief"), 0)
	}

	_, err := svc.StartPlayerPlacement(ctx, "alice", PlacementRequest{})
	var conflict *models.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(gateway.stopPlacements) != 1 {
		t.Fatal("the gateway placement must be cancelled on rollback")
	}
	if pointer, _ := svc.KV.Get(ctx, models.PlayerPlacementKey("alice")); pointer != nil {
		t.Fatal("no pointer may be written after a rollback")
	}
}

func TestStopPlacementClearsEverything(t *testing.T) {
	ctx := context.Background()
	svc, gateway, messages, _, _ := newPlacementFixture()

	placement, err := svc.StartPlayerPlacement(ctx, "alice", PlacementRequest{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.StopPlacement(ctx, "alice"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(gateway.stopPlacements) != 1 || gateway.stopPlacements[0] != placement.PlacementID {
		t.Fatalf("unexpected gateway stops %v", gateway.stopPlacements)
	}
	var notFound *models.NotFoundError
	if _, err := svc.GetPlacement(ctx, "alice"); !errors.As(err, &notFound) {
		t.Fatalf("placement should be gone, got %v", err)
	}
	if countEvents(playerEvents(t, messages, "alice"), models.EventMatchPlacementCancelled) != 1 {
		t.Fatal("cancellation not notified")
	}
}

func TestStopLobbyPlacementCancelsLobby(t *testing.T) {
	ctx := context.Background()
	svc, _, _, lobbies, _ := newPlacementFixture()

	if _, err := lobbies.CreateLobby(ctx, "host", LobbySettings{
		LobbyName:    "scrims",
		TeamCapacity: 1,
		TeamNames:    []string{"solo"},
	}); err != nil {
		t.Fatalf("create lobby: %v", err)
	}
	placement, err := svc.StartLobbyPlacement(ctx, "host", PlacementRequest{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.StopPlacement(ctx, "host"); err != nil {
		t.Fatalf("stop: %v", err)
	}

	lobby, err := lobbies.GetLobby(ctx, "host")
	if err != nil {
		t.Fatalf("get lobby: %v", err)
	}
	if lobby.Status != models.LobbyStatusCancelled {
		t.Fatalf("lobby must record the cancel, got %s", lobby.Status)
	}

	// The gateway confirms its own cancellation later; the body is already
	// gone and the lobby must not change again.
	event := fulfilledEvent(placement.PlacementID)
	event.Detail.Type = models.PlacementEventCancelled
	if err := svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("late event: %v", err)
	}
	lobby, _ = lobbies.GetLobby(ctx, "host")
	if lobby.Status != models.LobbyStatusCancelled {
		t.Fatalf("late event changed the lobby to %s", lobby.Status)
	}
}

func TestFulfilledEventCompletesPlacement(t *testing.T) {
	ctx := context.Background()
	svc, _, messages, _, _ := newPlacementFixture()

	placement, err := svc.StartPlayerPlacement(ctx, "alice", PlacementRequest{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	event := fulfilledEvent(placement.PlacementID, models.PlacedPlayerSession{PlayerID: "alice", PlayerSessionID: "psess-1"})
	if err := svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, err := svc.GetPlacement(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.PlacementStatusCompleted || got.GameSessionARN != "arn:gamesession/abc" {
		t.Fatalf("unexpected placement %+v", got)
	}
	if got.ConnectionInfo == nil || got.ConnectionInfo.PlayerSessions["alice"] != "psess-1" {
		t.Fatalf("connection info missing %+v", got.ConnectionInfo)
	}

	notes, err := messages.GetAfter(ctx, models.ExchangePlayers, "alice", 0)
	if err != nil {
		t.Fatalf("notes: %v", err)
	}
	var fulfilled *models.Notification
	for i := range notes {
		if notes[i].Event == models.EventMatchPlacementFulfilled {
			fulfilled = &notes[i]
		}
	}
	if fulfilled == nil {
		t.Fatal("fulfilment not notified")
	}
	if fulfilled.Data["connection"] != "10.0.0.1:7777" || fulfilled.Data["playerSessionId"] != "psess-1" {
		t.Fatalf("unexpected payload %v", fulfilled.Data)
	}
}

func TestTimedOutEventFreesParticipants(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _, _ := newPlacementFixture()

	placement, err := svc.StartPlayerPlacement(ctx, "alice", PlacementRequest{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	event := fulfilledEvent(placement.PlacementID)
	event.Detail.Type = models.PlacementEventTimedOut
	if err := svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("handle: %v", err)
	}

	// The pointer is cleared, so the player can place again right away.
	if _, err := svc.StartPlayerPlacement(ctx, "alice", PlacementRequest{}); err != nil {
		t.Fatalf("second placement after timeout: %v", err)
	}
}

func TestEventForUnknownPlacementIsDropped(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _, _ := newPlacementFixture()

	if err := svc.HandleEvent(ctx, fulfilledEvent("never-issued")); err != nil {
		t.Fatalf("unknown placement must not error: %v", err)
	}
	if raw, _ := svc.KV.Get(ctx, models.PlacementKey("never-issued")); raw != nil {
		t.Fatal("no placement state may be created from an event")
	}
}

func TestEventOfUnknownTypeIsDropped(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _, _ := newPlacementFixture()

	placement, err := svc.StartPlayerPlacement(ctx, "alice", PlacementRequest{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	event := fulfilledEvent(placement.PlacementID)
	event.Detail.Type = "SomethingNew"
	if err := svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := svc.GetPlacement(ctx, "alice")
	if got.Status != models.PlacementStatusPending {
		t.Fatalf("unknown event type mutated the placement to %s", got.Status)
	}
}

func TestGetPlayerConnectionMintsSession(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _, _ := newPlacementFixture()

	placement, err := svc.StartPlayerPlacement(ctx, "alice", PlacementRequest{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Not completed yet.
	var invalid *models.InvalidRequestError
	if _, err := svc.GetPlayerConnection(ctx, "alice"); !errors.As(err, &invalid) {
		t.Fatalf("pending placement has no connection, got %v", err)
	}

	if err := svc.HandleEvent(ctx, fulfilledEvent(placement.PlacementID, models.PlacedPlayerSession{PlayerID: "alice", PlayerSessionID: "psess-1"})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	connection, err := svc.GetPlayerConnection(ctx, "alice")
	if err != nil {
		t.Fatalf("connection: %v", err)
	}
	if connection["connection"] != "10.0.0.1:7777" || connection["playerSessionId"] != "psess-new" {
		t.Fatalf("unexpected connection %v", connection)
	}
}

func TestLobbyPlacementLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _, messages, lobbies, _ := newPlacementFixture()

	lobby, err := lobbies.CreateLobby(ctx, "host", LobbySettings{
		LobbyName:    "scrims",
		MapName:      "dust",
		TeamCapacity: 2,
		TeamNames:    []string{"red", "blue"},
	})
	if err != nil {
		t.Fatalf("create lobby: %v", err)
	}
	if _, err := lobbies.JoinLobby(ctx, "m1", lobby.LobbyID); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := lobbies.UpdateMember(ctx, "host", "red", true); err != nil {
		t.Fatalf("assign host: %v", err)
	}
	// m1 stays unassigned and will spectate.

	placement, err := svc.StartLobbyPlacement(ctx, "host", PlacementRequest{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if placement.LobbyID != lobby.LobbyID || placement.MapName != "dust" {
		t.Fatalf("lobby defaults not applied %+v", placement)
	}
	if placement.MaxPlayers != 4 {
		t.Fatalf("max players should default to team capacity times teams, got %d", placement.MaxPlayers)
	}
	starting, err := lobbies.GetLobby(ctx, "host")
	if err != nil {
		t.Fatalf("get lobby: %v", err)
	}
	if starting.Status != models.LobbyStatusStarting {
		t.Fatalf("lobby not flipped to starting: %s", starting.Status)
	}

	event := fulfilledEvent(placement.PlacementID,
		models.PlacedPlayerSession{PlayerID: "host", PlayerSessionID: "psess-host"},
		models.PlacedPlayerSession{PlayerID: "m1", PlayerSessionID: "psess-m1"},
	)
	if err := svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("handle: %v", err)
	}

	started, err := lobbies.GetLobby(ctx, "host")
	if err != nil {
		t.Fatalf("get lobby: %v", err)
	}
	if started.Status != models.LobbyStatusStarted || started.ConnectionString != "10.0.0.1:7777" {
		t.Fatalf("lobby outcome not recorded %+v", started)
	}

	hostNotes, _ := messages.GetAfter(ctx, models.ExchangePlayers, "host", 0)
	m1Notes, _ := messages.GetAfter(ctx, models.ExchangePlayers, "m1", 0)
	var hostData, m1Data map[string]interface{}
	for _, n := range hostNotes {
		if n.Event == models.EventMatchPlacementFulfilled {
			hostData = n.Data
		}
	}
	for _, n := range m1Notes {
		if n.Event == models.EventMatchPlacementFulfilled {
			m1Data = n.Data
		}
	}
	if hostData == nil || hostData["playerSessionId"] != "psess-host" {
		t.Fatalf("team member must get their join token, got %v", hostData)
	}
	if m1Data == nil || m1Data["spectator"] != true {
		t.Fatalf("unassigned member must spectate, got %v", m1Data)
	}
}

func TestFailedLobbyPlacementRollsLobbyBack(t *testing.T) {
	ctx := context.Background()
	svc, gateway, _, lobbies, _ := newPlacementFixture()

	if _, err := lobbies.CreateLobby(ctx, "host", LobbySettings{
		LobbyName:    "scrims",
		TeamCapacity: 1,
		TeamNames:    []string{"solo"},
	}); err != nil {
		t.Fatalf("create lobby: %v", err)
	}
	gateway.placementErr = &models.GameliftClientError{Message: "queue missing", Transient: false}

	if _, err := svc.StartLobbyPlacement(ctx, "host", PlacementRequest{}); err == nil {
		t.Fatal("expected the gateway error to surface")
	}
	lobby, err := lobbies.GetLobby(ctx, "host")
	if err != nil {
		t.Fatalf("get lobby: %v", err)
	}
	if lobby.Status != models.LobbyStatusIdle {
		t.Fatalf("lobby must roll back to idle, got %s", lobby.Status)
	}
}

func TestPartyPlacementCoversMembers(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _, parties := newPlacementFixture()

	invite, err := parties.CreateInvite(ctx, "bob", "carol")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	partyID, _ := parties.GetPartyID(ctx, "bob")
	if _, err := parties.AcceptInvite(ctx, "carol", partyID, invite.InviteID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	placement, err := svc.StartPartyPlacement(ctx, "bob", PlacementRequest{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if placement.PartyID != partyID || len(placement.PlayerIDs) != 2 {
		t.Fatalf("unexpected placement %+v", placement)
	}

	// Every member's pointer resolves to the shared placement.
	fromCarol, err := svc.GetPlacement(ctx, "carol")
	if err != nil {
		t.Fatalf("get as member: %v", err)
	}
	if fromCarol.PlacementID != placement.PlacementID {
		t.Fatal("members must share the placement")
	}
}
