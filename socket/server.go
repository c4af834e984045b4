package socket

import (
	"log"
	"strings"

	socketio "github.com/googollee/go-socket.io"
)

// DisconnectHook is called with the player id of a dropped connection,
// when the connection had identified itself by joining a player room.
type DisconnectHook func(playerID string)

// NewSocketServer initializes the Socket.IO server used to push
// notifications to connected clients. Clients join a room named
// "<exchange>:<id>" (for example "players:alice") and receive every
// notification posted to that stream while connected.
func NewSocketServer(onDisconnect DisconnectHook) *socketio.Server {
	server := socketio.NewServer(nil)

	server.OnConnect("/", func(c socketio.Conn) error {
		log.Println("✅ Socket connected:", c.ID())
		return nil
	})

	server.OnEvent("/", "join", func(c socketio.Conn, room string) {
		if room == "" {
			log.Println("❌ Invalid room in join request")
			return
		}
		log.Printf("👥 Connection %s joined room %s\n", c.ID(), room)
		if playerID, ok := strings.CutPrefix(room, "players:"); ok {
			c.SetContext(playerID)
		}
		server.JoinRoom("/", room, c)
	})

	server.OnEvent("/", "leave", func(c socketio.Conn, room string) {
		server.LeaveRoom("/", room, c)
	})

	server.OnError("/", func(c socketio.Conn, err error) {
		log.Println("⚠️ Socket error:", err)
	})

	server.OnDisconnect("/", func(c socketio.Conn, reason string) {
		log.Println("❌ Socket disconnected:", reason)
		if onDisconnect == nil {
			return
		}
		if playerID, ok := c.Context().(string); ok && playerID != "" {
			onDisconnect(playerID)
		}
	})

	return server
}
