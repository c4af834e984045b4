package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"arena_server/routes"
	"arena_server/services"
	"arena_server/socket"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

func main() {
	ctx := context.Background()

	// Initialize Redis client and key-value service
	log.Println("Initializing Redis client...")
	redisClient := services.InitializeRedisClient()
	kv := &services.RedisService{Client: redisClient}
	log.Println("Redis client initialized.")

	// Initialize DynamoDB client and player directory
	log.Println("Initializing DynamoDB client...")
	dynamoClient := services.InitializeDynamoDBClient()
	dynamoService := &services.DynamoService{Client: dynamoClient}
	playerService := &services.PlayerService{Dynamo: dynamoService}
	log.Println("DynamoDB client initialized.")

	// Initialize GameLift clients
	log.Println("Initializing GameLift clients...")
	registry := services.InitializeGameLiftRegistry(ctx)
	gameLiftService := &services.GameLiftService{
		Registry:      registry,
		Region:        os.Getenv("AWS_REGION"),
		Configuration: os.Getenv("MATCHMAKING_CONFIGURATION"),
	}
	log.Println("GameLift clients initialized.")

	regions := strings.Split(os.Getenv("GAMELIFT_REGIONS"), ",")
	if len(regions) == 1 && regions[0] == "" {
		regions = []string{os.Getenv("AWS_REGION")}
	}

	var backfillPattern *regexp.Regexp
	if raw := os.Getenv("BACKFILL_TICKET_PATTERN"); raw != "" {
		compiled, err := regexp.Compile(raw)
		if err != nil {
			log.Fatalf("Invalid BACKFILL_TICKET_PATTERN: %v", err)
		}
		backfillPattern = compiled
	}

	leaveGrace := 10 * time.Second
	if raw := os.Getenv("LOBBY_LEAVE_LOCK_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			log.Fatalf("Invalid LOBBY_LEAVE_LOCK_SECONDS: %v", err)
		}
		leaveGrace = time.Duration(seconds) * time.Second
	}

	accountID := os.Getenv("GAMELIFT_ACCOUNT_ID")

	// Initialize Services
	lockService := &services.LockService{KV: kv}
	messageService := &services.MessageService{KV: kv}
	partyService := &services.PartyService{KV: kv, Messages: messageService}
	flexMatchService := &services.FlexMatchService{
		KV:              kv,
		Locks:           lockService,
		Gateway:         gameLiftService,
		Messages:        messageService,
		Players:         playerService,
		Parties:         partyService,
		AccountID:       accountID,
		Regions:         regions,
		BackfillPattern: backfillPattern,
	}
	partyService.Tickets = flexMatchService
	lobbyService := &services.LobbyService{
		KV:         kv,
		Locks:      lockService,
		Messages:   messageService,
		Players:    playerService,
		Tickets:    flexMatchService,
		Parties:    partyService,
		LeaveGrace: leaveGrace,
	}
	placementService := &services.PlacementService{
		KV:           kv,
		Locks:        lockService,
		Gateway:      gameLiftService,
		Messages:     messageService,
		Parties:      partyService,
		Lobbies:      lobbyService,
		DefaultQueue: os.Getenv("PLACEMENT_QUEUE"),
		AccountID:    accountID,
	}

	// Initialize the Socket.IO server and hook it into notifications
	socketServer := socket.NewSocketServer(func(playerID string) {
		flexMatchService.HandleClientDisconnect(context.Background(), playerID)
	})
	go func() {
		if err := socketServer.Serve(); err != nil {
			log.Fatalf("Socket.IO server error: %v", err)
		}
	}()
	defer socketServer.Close()
	messageService.Realtime = socketServer

	// Set up the server port
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("Using server port: %s\n", port)

	// Initialize the router
	r := mux.NewRouter()

	// Register a welcome route
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "Welcome to Arena")
	}).Methods("GET")

	// Register routes
	routes.RegisterRoutes(r)
	routes.RegisterMatchmakingRoutes(r, flexMatchService)
	routes.RegisterLobbyRoutes(r, lobbyService)
	routes.RegisterPartyRoutes(r, partyService)
	routes.RegisterPlacementRoutes(r, placementService)
	routes.RegisterMessageRoutes(r, messageService)
	routes.RegisterEventRoutes(r, flexMatchService, placementService)
	r.Handle("/socket.io/", socketServer)

	// Add CORS middleware
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Adjust for specific domains if needed
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Player-Id"},
		AllowCredentials: true,
	}).Handler(r)

	// Start the HTTP server
	log.Printf("Starting server on port %s...\n", port)
	log.Fatal(http.ListenAndServe(":"+port, corsHandler))
}
