package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"arena_server/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/gamelift"
	"github.com/aws/aws-sdk-go-v2/service/gamelift/types"
	"github.com/aws/smithy-go"
)

// MatchmakingGateway is what the ticket state machine needs from the external
// gateway.
type MatchmakingGateway interface {
	StartMatchmaking(ctx context.Context, players []models.TicketPlayer) (ticketID string, status string, err error)
	StopMatchmaking(ctx context.Context, ticketID string) error
	AcceptMatch(ctx context.Context, ticketID string, playerIDs []string, accept bool) error
}

// PlacementGateway is what the placement state machine needs.
type PlacementGateway interface {
	StartGameSessionPlacement(ctx context.Context, placementID, queueName, mapName, customData string, maxPlayers int, playerIDs []string) error
	StopGameSessionPlacement(ctx context.Context, placementID string) error
	CreatePlayerSession(ctx context.Context, gameSessionARN, playerID string) (string, error)
}

// GameLiftAPI is the slice of the AWS client the service calls; *gamelift.Client
// satisfies it.
type GameLiftAPI interface {
	StartMatchmaking(ctx context.Context, params *gamelift.StartMatchmakingInput, optFns ...func(*gamelift.Options)) (*gamelift.StartMatchmakingOutput, error)
	StopMatchmaking(ctx context.Context, params *gamelift.StopMatchmakingInput, optFns ...func(*gamelift.Options)) (*gamelift.StopMatchmakingOutput, error)
	AcceptMatch(ctx context.Context, params *gamelift.AcceptMatchInput, optFns ...func(*gamelift.Options)) (*gamelift.AcceptMatchOutput, error)
	StartGameSessionPlacement(ctx context.Context, params *gamelift.StartGameSessionPlacementInput, optFns ...func(*gamelift.Options)) (*gamelift.StartGameSessionPlacementOutput, error)
	StopGameSessionPlacement(ctx context.Context, params *gamelift.StopGameSessionPlacementInput, optFns ...func(*gamelift.Options)) (*gamelift.StopGameSessionPlacementOutput, error)
	DescribeGameSessions(ctx context.Context, params *gamelift.DescribeGameSessionsInput, optFns ...func(*gamelift.Options)) (*gamelift.DescribeGameSessionsOutput, error)
	DescribePlayerSessions(ctx context.Context, params *gamelift.DescribePlayerSessionsInput, optFns ...func(*gamelift.Options)) (*gamelift.DescribePlayerSessionsOutput, error)
	CreatePlayerSession(ctx context.Context, params *gamelift.CreatePlayerSessionInput, optFns ...func(*gamelift.Options)) (*gamelift.CreatePlayerSessionOutput, error)
}

// GameLiftRegistry holds one client per region. Built once at process start
// and looked up by key; an explicit object instead of hidden package state.
type GameLiftRegistry struct {
	mu      sync.RWMutex
	clients map[string]GameLiftAPI
}

// InitializeGameLiftRegistry builds clients for every region in
// GAMELIFT_REGIONS (comma separated, falling back to AWS_REGION).
func InitializeGameLiftRegistry(ctx context.Context) *GameLiftRegistry {
	regions := strings.Split(os.Getenv("GAMELIFT_REGIONS"), ",")
	if len(regions) == 1 && regions[0] == "" {
		regions = []string{os.Getenv("AWS_REGION")}
	}
	registry := &GameLiftRegistry{clients: make(map[string]GameLiftAPI)}
	for _, region := range regions {
		region = strings.TrimSpace(region)
		if region == "" {
			continue
		}
		cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
		if err != nil {
			log.Fatalf("Failed to load AWS config for region %s: %v", region, err)
		}
		registry.clients[region] = gamelift.NewFromConfig(cfg)
	}
	return registry
}

// Client returns the client for region, or an error for unknown regions.
func (r *GameLiftRegistry) Client(region string) (GameLiftAPI, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[region]
	if !ok {
		return nil, &models.GameliftClientError{Message: fmt.Sprintf("no GameLift client configured for region %s", region)}
	}
	return client, nil
}

// GameLiftService drives the external matchmaking/placement gateway.
type GameLiftService struct {
	Registry      *GameLiftRegistry
	Region        string
	Configuration string // matchmaking configuration name
}

func (s *GameLiftService) client() (GameLiftAPI, error) {
	return s.Registry.Client(s.Region)
}

func (s *GameLiftService) StartMatchmaking(ctx context.Context, players []models.TicketPlayer) (string, string, error) {
	client, err := s.client()
	if err != nil {
		return "", "", err
	}
	apiPlayers := make([]types.Player, 0, len(players))
	for _, p := range players {
		attributes := make(map[string]types.AttributeValue, len(p.Attributes))
		for name, value := range p.Attributes {
			attributes[name] = types.AttributeValue{N: aws.Float64(value)}
		}
		latencies := make(map[string]int32, len(p.Latencies))
		for region, ms := range p.Latencies {
			latencies[region] = int32(ms)
		}
		apiPlayers = append(apiPlayers, types.Player{
			PlayerId:         aws.String(p.PlayerID),
			PlayerAttributes: attributes,
			LatencyInMs:      latencies,
		})
	}
	output, err := client.StartMatchmaking(ctx, &gamelift.StartMatchmakingInput{
		ConfigurationName: aws.String(s.Configuration),
		Players:           apiPlayers,
	})
	if err != nil {
		return "", "", classifyGameLiftError("StartMatchmaking", err)
	}
	ticket := output.MatchmakingTicket
	return aws.ToString(ticket.TicketId), string(ticket.Status), nil
}

func (s *GameLiftService) StopMatchmaking(ctx context.Context, ticketID string) error {
	client, err := s.client()
	if err != nil {
		return err
	}
	_, err = client.StopMatchmaking(ctx, &gamelift.StopMatchmakingInput{TicketId: aws.String(ticketID)})
	if err != nil {
		return classifyGameLiftError("StopMatchmaking", err)
	}
	return nil
}

func (s *GameLiftService) AcceptMatch(ctx context.Context, ticketID string, playerIDs []string, accept bool) error {
	client, err := s.client()
	if err != nil {
		return err
	}
	acceptance := types.AcceptanceTypeAccept
	if !accept {
		acceptance = types.AcceptanceTypeReject
	}
	_, err = client.AcceptMatch(ctx, &gamelift.AcceptMatchInput{
		TicketId:       aws.String(ticketID),
		PlayerIds:      playerIDs,
		AcceptanceType: acceptance,
	})
	if err != nil {
		return classifyGameLiftError("AcceptMatch", err)
	}
	return nil
}

func (s *GameLiftService) StartGameSessionPlacement(ctx context.Context, placementID, queueName, mapName, customData string, maxPlayers int, playerIDs []string) error {
	client, err := s.client()
	if err != nil {
		return err
	}
	desired := make([]types.DesiredPlayerSession, 0, len(playerIDs))
	for _, id := range playerIDs {
		desired = append(desired, types.DesiredPlayerSession{PlayerId: aws.String(id)})
	}
	input := &gamelift.StartGameSessionPlacementInput{
		PlacementId:               aws.String(placementID),
		GameSessionQueueName:      aws.String(queueName),
		MaximumPlayerSessionCount: aws.Int32(int32(maxPlayers)),
		DesiredPlayerSessions:     desired,
	}
	if mapName != "" {
		input.GameProperties = []types.GameProperty{{Key: aws.String("map"), Value: aws.String(mapName)}}
	}
	if customData != "" {
		input.GameSessionData = aws.String(customData)
	}
	if _, err := client.StartGameSessionPlacement(ctx, input); err != nil {
		return classifyGameLiftError("StartGameSessionPlacement", err)
	}
	return nil
}

func (s *GameLiftService) StopGameSessionPlacement(ctx context.Context, placementID string) error {
	client, err := s.client()
	if err != nil {
		return err
	}
	_, err = client.StopGameSessionPlacement(ctx, &gamelift.StopGameSessionPlacementInput{PlacementId: aws.String(placementID)})
	if err != nil {
		return classifyGameLiftError("StopGameSessionPlacement", err)
	}
	return nil
}

// CreatePlayerSession mints a fresh player session in a live game session,
// used for rejoin after the original one went stale.
func (s *GameLiftService) CreatePlayerSession(ctx context.Context, gameSessionARN, playerID string) (string, error) {
	client, err := s.client()
	if err != nil {
		return "", err
	}
	sessions, err := client.DescribeGameSessions(ctx, &gamelift.DescribeGameSessionsInput{
		GameSessionId: aws.String(gameSessionARN),
	})
	if err != nil {
		return "", classifyGameLiftError("DescribeGameSessions", err)
	}
	if len(sessions.GameSessions) == 0 {
		return "", &models.NotFoundError{Message: "game session not found"}
	}
	if sessions.GameSessions[0].Status != types.GameSessionStatusActive {
		return "", &models.InvalidRequestError{Message: "game session is not active"}
	}
	output, err := client.CreatePlayerSession(ctx, &gamelift.CreatePlayerSessionInput{
		GameSessionId: aws.String(gameSessionARN),
		PlayerId:      aws.String(playerID),
	})
	if err != nil {
		return "", classifyGameLiftError("CreatePlayerSession", err)
	}
	return aws.ToString(output.PlayerSession.PlayerSessionId), nil
}

// transientGameLiftCodes are worth retrying with state left untouched;
// anything else API-shaped means our local assumption about gateway state is
// wrong and must be repaired.
var transientGameLiftCodes = map[string]bool{
	"InternalServiceException": true,
	"ThrottlingException":      true,
	"Throttling":               true,
	"RequestTimeout":           true,
	"ServiceUnavailable":       true,
}

func classifyGameLiftError(operation string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &models.GameliftClientError{
			Message:   fmt.Sprintf("GameLift %s failed with %s", operation, apiErr.ErrorCode()),
			Transient: transientGameLiftCodes[apiErr.ErrorCode()],
			Err:       err,
		}
	}
	// Transport-level failure: connection reset, timeout. Retry-worthy.
	return &models.GameliftClientError{
		Message:   fmt.Sprintf("GameLift %s failed", operation),
		Transient: true,
		Err:       err,
	}
}
