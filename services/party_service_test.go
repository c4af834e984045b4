package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"arena_server/models"
)

func newPartyFixture() (*PartyService, *MessageService, *fakeTicketHooks) {
	kv := NewMemoryKV()
	messages := &MessageService{KV: kv}
	hooks := &fakeTicketHooks{}
	return &PartyService{KV: kv, Messages: messages, Tickets: hooks}, messages, hooks
}

func TestCreateInviteCreatesPartyForPartylessInviter(t *testing.T) {
	ctx := context.Background()
	parties, messages, _ := newPartyFixture()

	invite, err := parties.CreateInvite(ctx, "bob", "carol")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if invite.InviterID != "bob" || invite.InviteeID != "carol" {
		t.Fatalf("unexpected invite %+v", invite)
	}

	partyID, err := parties.GetPartyID(ctx, "bob")
	if err != nil || partyID == "" {
		t.Fatalf("inviter should now be in a party, got %q err=%v", partyID, err)
	}
	members, err := parties.GetMemberIDs(ctx, partyID)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 1 || members[0] != "bob" {
		t.Fatalf("new party should contain only the inviter, got %v", members)
	}
	if countEvents(playerEvents(t, messages, "carol"), models.EventPartyInviteCreated) != 1 {
		t.Fatal("invitee not notified")
	}
}

func TestCreateInviteIsIdempotentPerInvitee(t *testing.T) {
	ctx := context.Background()
	parties, _, _ := newPartyFixture()

	first, err := parties.CreateInvite(ctx, "bob", "carol")
	if err != nil {
		t.Fatalf("first invite: %v", err)
	}
	second, err := parties.CreateInvite(ctx, "bob", "carol")
	if err != nil {
		t.Fatalf("second invite: %v", err)
	}
	if first.InviteID != second.InviteID {
		t.Fatalf("duplicate invite minted a new id: %d vs %d", first.InviteID, second.InviteID)
	}

	party, err := parties.GetParty(ctx, "bob")
	if err != nil {
		t.Fatalf("get party: %v", err)
	}
	if len(party.Invites) != 1 {
		t.Fatalf("expected a single outstanding invite, got %d", len(party.Invites))
	}
}

func TestCreateInviteRejectsSelfAndPartiedInvitee(t *testing.T) {
	ctx := context.Background()
	parties, _, _ := newPartyFixture()

	var invalid *models.InvalidRequestError
	if _, err := parties.CreateInvite(ctx, "bob", "bob"); !errors.As(err, &invalid) {
		t.Fatalf("self-invite must be rejected, got %v", err)
	}

	invite, err := parties.CreateInvite(ctx, "bob", "carol")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	partyID, _ := parties.GetPartyID(ctx, "bob")
	if _, err := parties.AcceptInvite(ctx, "carol", partyID, invite.InviteID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := parties.CreateInvite(ctx, "dave", "carol"); !errors.As(err, &invalid) {
		t.Fatalf("inviting a partied player must be rejected, got %v", err)
	}
}

func TestAcceptInviteJoinsAndConsumesInvite(t *testing.T) {
	ctx := context.Background()
	parties, messages, hooks := newPartyFixture()

	invite, err := parties.CreateInvite(ctx, "bob", "carol")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	partyID, _ := parties.GetPartyID(ctx, "bob")

	party, err := parties.AcceptInvite(ctx, "carol", partyID, invite.InviteID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !party.HasMember("carol") || len(party.Invites) != 0 {
		t.Fatalf("unexpected party after accept %+v", party)
	}
	carolParty, _ := parties.GetPartyID(ctx, "carol")
	if carolParty != partyID {
		t.Fatalf("invitee pointer is %q, want %q", carolParty, partyID)
	}
	if len(hooks.calls) != 1 || hooks.calls[0] != "carol/"+partyID {
		t.Fatalf("ticket hook calls %v", hooks.calls)
	}
	for _, member := range []string{"bob", "carol"} {
		if countEvents(playerEvents(t, messages, member), models.EventPartyMemberJoined) != 1 {
			t.Fatalf("member %s not notified of the join", member)
		}
	}

	// The consumed invite cannot be replayed.
	var notFound *models.NotFoundError
	if _, err := parties.AcceptInvite(ctx, "carol", partyID, invite.InviteID); !errors.As(err, &notFound) {
		t.Fatalf("replayed invite must be gone, got %v", err)
	}
}

func TestRacingAcceptsNeverDoubleBook(t *testing.T) {
	ctx := context.Background()
	parties, _, _ := newPartyFixture()

	inviteA, err := parties.CreateInvite(ctx, "alice", "carol")
	if err != nil {
		t.Fatalf("invite a: %v", err)
	}
	inviteB, err := parties.CreateInvite(ctx, "bob", "carol")
	if err != nil {
		t.Fatalf("invite b: %v", err)
	}
	partyA, _ := parties.GetPartyID(ctx, "alice")
	partyB, _ := parties.GetPartyID(ctx, "bob")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = parties.AcceptInvite(ctx, "carol", partyA, inviteA.InviteID)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = parties.AcceptInvite(ctx, "carol", partyB, inviteB.InviteID)
	}()
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Fatalf("exactly one accept may win, got %d (errs %v)", succeeded, errs)
	}

	carolParty, _ := parties.GetPartyID(ctx, "carol")
	membersA, _ := parties.GetMemberIDs(ctx, partyA)
	membersB, _ := parties.GetMemberIDs(ctx, partyB)
	inA, inB := false, false
	for _, id := range membersA {
		inA = inA || id == "carol"
	}
	for _, id := range membersB {
		inB = inB || id == "carol"
	}
	if inA == inB {
		t.Fatalf("carol must be in exactly one party: a=%v b=%v", inA, inB)
	}
	if (inA && carolParty != partyA) || (inB && carolParty != partyB) {
		t.Fatalf("pointer %q disagrees with membership", carolParty)
	}
}

func TestDeclineInviteNotifiesInviter(t *testing.T) {
	ctx := context.Background()
	parties, messages, _ := newPartyFixture()

	invite, err := parties.CreateInvite(ctx, "bob", "carol")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	partyID, _ := parties.GetPartyID(ctx, "bob")

	if err := parties.DeclineInvite(ctx, "carol", partyID, invite.InviteID); err != nil {
		t.Fatalf("decline: %v", err)
	}
	party, _ := parties.GetParty(ctx, "bob")
	if len(party.Invites) != 0 {
		t.Fatal("declined invite not consumed")
	}
	if countEvents(playerEvents(t, messages, "bob"), models.EventPartyInviteDeclined) != 1 {
		t.Fatal("inviter not notified of the decline")
	}
}

func TestLeavePartyRemovesMemberAndInvites(t *testing.T) {
	ctx := context.Background()
	parties, messages, hooks := newPartyFixture()

	invite, err := parties.CreateInvite(ctx, "bob", "carol")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	partyID, _ := parties.GetPartyID(ctx, "bob")
	if _, err := parties.AcceptInvite(ctx, "carol", partyID, invite.InviteID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	// Bob has another invite out when he leaves.
	if _, err := parties.CreateInvite(ctx, "bob", "dave"); err != nil {
		t.Fatalf("second invite: %v", err)
	}

	hooks.calls = nil
	if err := parties.LeaveParty(ctx, "bob"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if id, _ := parties.GetPartyID(ctx, "bob"); id != "" {
		t.Fatalf("leaver pointer not cleared: %q", id)
	}
	party, err := parties.GetParty(ctx, "carol")
	if err != nil {
		t.Fatalf("party should survive with carol in it: %v", err)
	}
	if party.HasMember("bob") || len(party.Invites) != 0 {
		t.Fatalf("leaver's traces remain: %+v", party)
	}
	if len(hooks.calls) != 1 || hooks.calls[0] != "bob/"+partyID {
		t.Fatalf("ticket hook calls %v", hooks.calls)
	}
	if countEvents(playerEvents(t, messages, "carol"), models.EventPartyMemberLeft) != 1 {
		t.Fatal("remaining member not notified")
	}
}

func TestLastMemberLeavingDeletesParty(t *testing.T) {
	ctx := context.Background()
	parties, _, _ := newPartyFixture()

	if _, err := parties.CreateInvite(ctx, "bob", "carol"); err != nil {
		t.Fatalf("invite: %v", err)
	}
	partyID, _ := parties.GetPartyID(ctx, "bob")

	if err := parties.LeaveParty(ctx, "bob"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	var notFound *models.NotFoundError
	if _, err := parties.GetMemberIDs(ctx, partyID); !errors.As(err, &notFound) {
		t.Fatalf("empty party should be gone, got %v", err)
	}
}

func TestLeaveWithoutPartyFails(t *testing.T) {
	ctx := context.Background()
	parties, _, _ := newPartyFixture()

	var notFound *models.NotFoundError
	if err := parties.LeaveParty(ctx, "bob"); !errors.As(err, &notFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
