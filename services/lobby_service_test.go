package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"arena_server/models"
)

func newLobbyFixture() (*LobbyService, *MessageService, *fakeTicketChecker) {
	kv := NewMemoryKV()
	messages := &MessageService{KV: kv}
	tickets := &fakeTicketChecker{live: map[string]bool{}}
	svc := &LobbyService{
		KV:         kv,
		Locks:      &LockService{KV: kv},
		Messages:   messages,
		Players:    &fakeDirectory{},
		Tickets:    tickets,
		Parties:    &PartyService{KV: kv, Messages: messages},
		LeaveGrace: 10 * time.Second,
	}
	return svc, messages, tickets
}

func defaultSettings() LobbySettings {
	return LobbySettings{
		LobbyName:    "scrims",
		MapName:      "dust",
		TeamCapacity: 2,
		TeamNames:    []string{"red", "blue"},
	}
}

func TestCreateLobbyMakesCallerHost(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newLobbyFixture()

	lobby, err := svc.CreateLobby(ctx, "host", defaultSettings())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if lobby.Status != models.LobbyStatusIdle {
		t.Fatalf("new lobby status %s", lobby.Status)
	}
	if h := lobby.Host(); h == nil || h.PlayerID != "host" {
		t.Fatalf("creator must be host, got %+v", h)
	}

	again, err := svc.GetLobby(ctx, "host")
	if err != nil {
		t.Fatalf("get via pointer: %v", err)
	}
	if again.LobbyID != lobby.LobbyID {
		t.Fatal("player pointer does not resolve to the created lobby")
	}
}

func TestEntryBlockedByLiveTicket(t *testing.T) {
	ctx := context.Background()
	svc, _, tickets := newLobbyFixture()
	tickets.live["host"] = true

	var invalid *models.InvalidRequestError
	if _, err := svc.CreateLobby(ctx, "host", defaultSettings()); !errors.As(err, &invalid) {
		t.Fatalf("live ticket must block lobby entry, got %v", err)
	}
}

func TestUpdateLobbyBlockedByLiveTicket(t *testing.T) {
	ctx := context.Background()
	svc, _, tickets := newLobbyFixture()

	if _, err := svc.CreateLobby(ctx, "host", defaultSettings()); err != nil {
		t.Fatalf("create: %v", err)
	}
	tickets.live["host"] = true

	settings := defaultSettings()
	settings.MapName = "mirage"
	var invalid *models.InvalidRequestError
	if _, err := svc.UpdateLobby(ctx, "host", settings); !errors.As(err, &invalid) {
		t.Fatalf("live ticket must block a lobby update, got %v", err)
	}
	lobby, err := svc.GetLobby(ctx, "host")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if lobby.MapName != "dust" {
		t.Fatalf("settings must stay unchanged, got map %s", lobby.MapName)
	}
}

func TestJoinLobbyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, messages, _ := newLobbyFixture()

	lobby, err := svc.CreateLobby(ctx, "host", defaultSettings())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.JoinLobby(ctx, "m1", lobby.LobbyID); err != nil {
		t.Fatalf("join: %v", err)
	}
	joined, err := svc.JoinLobby(ctx, "m1", lobby.LobbyID)
	if err != nil {
		t.Fatalf("duplicate join: %v", err)
	}
	if len(joined.Members) != 2 {
		t.Fatalf("member landed %d times", len(joined.Members)-1)
	}
	if countEvents(playerEvents(t, messages, "host"), models.EventLobbyMemberJoined) != 1 {
		t.Fatal("host must be notified exactly once")
	}
}

func TestConcurrentJoinLandsOnce(t *testing.T) {
	ctx := context.Background()
	svc, messages, _ := newLobbyFixture()

	lobby, err := svc.CreateLobby(ctx, "host", defaultSettings())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.JoinLobby(ctx, "m1", lobby.LobbyID); err != nil {
				t.Errorf("join: %v", err)
			}
		}()
	}
	wg.Wait()

	final, err := svc.GetLobby(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(final.Members) != 2 {
		t.Fatalf("expected host plus one member, got %d members", len(final.Members))
	}
	if countEvents(playerEvents(t, messages, "host"), models.EventLobbyMemberJoined) != 1 {
		t.Fatal("racing joins must notify exactly once")
	}
}

func TestJoinSecondLobbyRejected(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newLobbyFixture()

	first, err := svc.CreateLobby(ctx, "host1", defaultSettings())
	if err != nil {
		t.Fatalf("create 1: %v", err)
	}
	second, err := svc.CreateLobby(ctx, "host2", defaultSettings())
	if err != nil {
		t.Fatalf("create 2: %v", err)
	}
	if _, err := svc.JoinLobby(ctx, "m1", first.LobbyID); err != nil {
		t.Fatalf("join: %v", err)
	}
	var invalid *models.InvalidRequestError
	if _, err := svc.JoinLobby(ctx, "m1", second.LobbyID); !errors.As(err, &invalid) {
		t.Fatalf("joining a second lobby must fail, got %v", err)
	}
}

func TestHostLeavingElectsEarliestJoiner(t *testing.T) {
	ctx := context.Background()
	svc, messages, _ := newLobbyFixture()

	lobby, err := svc.CreateLobby(ctx, "host", defaultSettings())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.JoinLobby(ctx, "m1", lobby.LobbyID); err != nil {
		t.Fatalf("join m1: %v", err)
	}
	if _, err := svc.JoinLobby(ctx, "m2", lobby.LobbyID); err != nil {
		t.Fatalf("join m2: %v", err)
	}

	if err := svc.LeaveLobby(ctx, "host"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	remaining, err := svc.GetLobby(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if h := remaining.Host(); h == nil || h.PlayerID != "m1" {
		t.Fatalf("earliest joiner must become host, got %+v", h)
	}

	notes, err := messages.GetAfter(ctx, models.ExchangePlayers, "m2", 0)
	if err != nil {
		t.Fatalf("notes: %v", err)
	}
	found := false
	for _, n := range notes {
		if n.Event == models.EventLobbyMemberLeft && n.Data["newHostId"] == "m1" {
			found = true
		}
	}
	if !found {
		t.Fatal("members must learn the new host from the leave notification")
	}
}

func TestLastMemberLeavingDeletesLobby(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newLobbyFixture()

	lobby, err := svc.CreateLobby(ctx, "host", defaultSettings())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.LeaveLobby(ctx, "host"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	var notFound *models.NotFoundError
	if _, err := svc.GetLobby(ctx, "host"); !errors.As(err, &notFound) {
		t.Fatalf("pointer should be gone, got %v", err)
	}
	raw, _ := svc.KV.Get(ctx, models.LobbyKey(lobby.LobbyID))
	if raw != nil {
		t.Fatal("empty lobby body should be deleted")
	}
}

func TestLeaveBlockedDuringStartWindow(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newLobbyFixture()

	lobby, err := svc.CreateLobby(ctx, "host", defaultSettings())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.JoinLobby(ctx, "m1", lobby.LobbyID); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := svc.BeginStart(ctx, "host", "placement-1"); err != nil {
		t.Fatalf("begin start: %v", err)
	}

	var invalid *models.InvalidRequestError
	if err := svc.LeaveLobby(ctx, "m1"); !errors.As(err, &invalid) {
		t.Fatalf("leave during the grace window must fail, got %v", err)
	}

	// Past the window the leave goes through as a recoverable anomaly.
	svc.LeaveGrace = 0
	if err := svc.LeaveLobby(ctx, "m1"); err != nil {
		t.Fatalf("leave past the window: %v", err)
	}
}

func TestKickRequiresHost(t *testing.T) {
	ctx := context.Background()
	svc, messages, _ := newLobbyFixture()

	lobby, err := svc.CreateLobby(ctx, "host", defaultSettings())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.JoinLobby(ctx, "m1", lobby.LobbyID); err != nil {
		t.Fatalf("join m1: %v", err)
	}
	if _, err := svc.JoinLobby(ctx, "m2", lobby.LobbyID); err != nil {
		t.Fatalf("join m2: %v", err)
	}

	var forbidden *models.ForbiddenError
	if err := svc.KickMember(ctx, "m1", "m2"); !errors.As(err, &forbidden) {
		t.Fatalf("non-host kick must fail, got %v", err)
	}

	if err := svc.KickMember(ctx, "host", "m2"); err != nil {
		t.Fatalf("host kick: %v", err)
	}
	var notFound *models.NotFoundError
	if _, err := svc.GetLobby(ctx, "m2"); !errors.As(err, &notFound) {
		t.Fatalf("kicked player's pointer should be gone, got %v", err)
	}
	if countEvents(playerEvents(t, messages, "m2"), models.EventLobbyMemberKicked) != 1 {
		t.Fatal("kicked player not notified")
	}
}

func TestUpdateLobbyShrinkUnassignsOverflow(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newLobbyFixture()

	lobby, err := svc.CreateLobby(ctx, "host", defaultSettings())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.JoinLobby(ctx, "m1", lobby.LobbyID); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := svc.UpdateMember(ctx, "host", "red", true); err != nil {
		t.Fatalf("assign host: %v", err)
	}
	if _, err := svc.UpdateMember(ctx, "m1", "red", true); err != nil {
		t.Fatalf("assign m1: %v", err)
	}

	settings := defaultSettings()
	settings.TeamCapacity = 1
	updated, err := svc.UpdateLobby(ctx, "host", settings)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	// Earliest member keeps the slot; the later one is unassigned, not kicked.
	if updated.Member("host").TeamName != "red" {
		t.Fatal("earliest member lost their team slot")
	}
	if updated.Member("m1").TeamName != "" {
		t.Fatal("overflow member should be unassigned")
	}
	if updated.Member("m1") == nil {
		t.Fatal("overflow member must stay in the lobby")
	}
}

func TestUpdateLobbyDropsUnknownTeams(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newLobbyFixture()

	if _, err := svc.CreateLobby(ctx, "host", defaultSettings()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.UpdateMember(ctx, "host", "blue", true); err != nil {
		t.Fatalf("assign: %v", err)
	}

	settings := defaultSettings()
	settings.TeamNames = []string{"red"}
	updated, err := svc.UpdateLobby(ctx, "host", settings)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Member("host").TeamName != "" {
		t.Fatal("assignment to a removed team must be cleared")
	}
}

func TestUpdateMemberRejectsFullTeam(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newLobbyFixture()

	settings := defaultSettings()
	settings.TeamCapacity = 1
	lobby, err := svc.CreateLobby(ctx, "host", settings)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.JoinLobby(ctx, "m1", lobby.LobbyID); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := svc.UpdateMember(ctx, "host", "red", true); err != nil {
		t.Fatalf("assign host: %v", err)
	}

	var invalid *models.InvalidRequestError
	if _, err := svc.UpdateMember(ctx, "m1", "red", true); !errors.As(err, &invalid) {
		t.Fatalf("full team must reject a new member, got %v", err)
	}
}

func TestBeginStartFreezesSettings(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newLobbyFixture()

	if _, err := svc.CreateLobby(ctx, "host", defaultSettings()); err != nil {
		t.Fatalf("create: %v", err)
	}
	started, err := svc.BeginStart(ctx, "host", "placement-1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if started.Status != models.LobbyStatusStarting || started.PlacementID != "placement-1" {
		t.Fatalf("unexpected lobby after begin %+v", started)
	}

	var invalid *models.InvalidRequestError
	if _, err := svc.UpdateLobby(ctx, "host", defaultSettings()); !errors.As(err, &invalid) {
		t.Fatalf("settings must be frozen while starting, got %v", err)
	}
	if _, err := svc.BeginStart(ctx, "host", "placement-2"); !errors.As(err, &invalid) {
		t.Fatalf("double start must fail, got %v", err)
	}

	svc.AbortStart(ctx, started.LobbyID, "placement-1")
	rolled, err := svc.GetLobby(ctx, "host")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rolled.Status != models.LobbyStatusIdle || rolled.PlacementID != "" {
		t.Fatalf("abort did not roll back: %+v", rolled)
	}
}

func TestApplyPlacementResultIgnoresStalePlacement(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newLobbyFixture()

	lobby, err := svc.CreateLobby(ctx, "host", defaultSettings())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.BeginStart(ctx, "host", "placement-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}

	stale, err := svc.ApplyPlacementResult(ctx, lobby.LobbyID, "placement-other", models.LobbyStatusStarted, "10.0.0.1:7777")
	if err != nil {
		t.Fatalf("apply stale: %v", err)
	}
	if stale != nil {
		t.Fatal("stale placement id must be ignored")
	}

	applied, err := svc.ApplyPlacementResult(ctx, lobby.LobbyID, "placement-1", models.LobbyStatusStarted, "10.0.0.1:7777")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if applied.Status != models.LobbyStatusStarted || applied.ConnectionString != "10.0.0.1:7777" {
		t.Fatalf("result not recorded: %+v", applied)
	}
}
