package services

import (
	"context"
	"log"

	"arena_server/models"
	"arena_server/utils"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// PlayerDirectory resolves display names for session members.
type PlayerDirectory interface {
	GetDisplayName(ctx context.Context, playerID string) (string, error)
}

// PlayerService reads player profiles from the durable directory.
type PlayerService struct {
	Dynamo *DynamoService
}

// GetDisplayName returns the player's display name, falling back to the
// player id when the profile is missing. Session flow must not fail because a
// directory row is late.
func (s *PlayerService) GetDisplayName(ctx context.Context, playerID string) (string, error) {
	item, err := s.Dynamo.GetItem(ctx, models.PlayerProfilesTable, map[string]types.AttributeValue{
		"playerId": &types.AttributeValueMemberS{Value: playerID},
	})
	if err != nil {
		log.Printf("Failed to look up profile for %s: %v", playerID, err)
		return playerID, nil
	}
	if item == nil {
		return playerID, nil
	}
	name := utils.ExtractString(item, "displayName")
	if name == "" {
		return playerID, nil
	}
	return name, nil
}
