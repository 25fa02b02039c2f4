package server

import (
	"log/slog"
	"net/http"

	"github.com/driftsync/driftsync/internal/common"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	// Peers are CLI processes, not browsers; the handshake carries its own
	// authentication.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebSocket is the websocket entry point into the control plane,
// mounted on the admin listener. The connection is adapted to net.Conn and
// negotiated exactly like a TCP peer.
func (cp *ControlPlane) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	logger := cp.logger.With(slog.String("remote_addr", r.RemoteAddr))
	logger.Debug("websocket connection request")

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("failed to upgrade to websocket", slog.Any("error", err))
		return
	}

	cp.wg.Add(1)
	go func() {
		defer cp.wg.Done()
		cp.HandleConn(common.NewWSConn(ws), "websocket")
	}()
}
