package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/snacka/voicerelay/db"
	"github.com/snacka/voicerelay/ws"
)

// NewRouter builds the bootstrap REST surface (SPEC_FULL §13) plus the
// websocket upgrade endpoint. It is intentionally small: the teacher's
// message/reaction/attachment/media/radio/unfurl REST surface has no
// SPEC_FULL component to serve once those features are out of scope.
func NewRouter(database *db.DB, hub *ws.Hub) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: database}
	authMW := &AuthMiddleware{DB: database}
	communityHandler := &CommunityHandler{DB: database, Hub: hub}
	channelHandler := &ChannelHandler{DB: database, Permissions: hub.Permissions, Hub: hub}
	adminHandler := &AdminHandler{DB: database, Permissions: hub.Permissions, Hub: hub}

	registerRL := NewIPRateLimiter(3, time.Minute)
	loginRL := NewIPRateLimiter(5, time.Minute)

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"app": "voicerelay"})
	})

	mux.HandleFunc("/api/v1/auth/register", registerRL.Wrap(authHandler.Register))
	mux.HandleFunc("/api/v1/auth/login", loginRL.Wrap(authHandler.Login))

	mux.HandleFunc("/api/v1/communities", authMW.Wrap(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			communityHandler.Create(w, r)
		} else {
			communityHandler.List(w, r)
		}
	}))

	// /api/v1/communities/{id}/... — sub-resources routed by suffix, the
	// teacher's TrimPrefix/Split style from its own admin routes.
	mux.HandleFunc("/api/v1/communities/", authMW.Wrap(func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/v1/communities/")
		parts := strings.Split(rest, "/")
		if parts[0] == "" {
			http.NotFound(w, r)
			return
		}
		communityID := parts[0]

		switch {
		case len(parts) == 2 && parts[1] == "channels":
			if r.Method == http.MethodPost {
				channelHandler.Create(w, r, communityID)
			} else {
				channelHandler.List(w, r, communityID)
			}
		case len(parts) == 2 && parts[1] == "members":
			communityHandler.Join(w, r, communityID)
		case len(parts) == 4 && parts[1] == "members" && parts[3] == "role":
			adminHandler.SetRole(w, r, communityID, parts[2])
		default:
			http.NotFound(w, r)
		}
	}))

	mux.HandleFunc("/ws", hub.HandleWebSocket)

	return mux
}
