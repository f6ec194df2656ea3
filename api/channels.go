package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/snacka/voicerelay/db"
	"github.com/snacka/voicerelay/permission"
	"github.com/snacka/voicerelay/ws"
)

// ChannelHandler implements the channel slice of §13's REST surface:
// list and create voice/text channels within a community. Message CRUD
// behind text channels is out of scope.
type ChannelHandler struct {
	DB          *db.DB
	Permissions *permission.Oracle
	Hub         *ws.Hub
}

type createChannelRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// List handles GET /api/v1/communities/{id}/channels.
func (h *ChannelHandler) List(w http.ResponseWriter, r *http.Request, communityID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	user := UserFromContext(r.Context())
	if role, _, err := h.Permissions.RoleOf(user.ID, communityID); err != nil || role == "" {
		writeError(w, http.StatusForbidden, "not a member of this community")
		return
	}

	channels, err := h.DB.GetChannelsByCommunity(communityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, channels)
}

// Create handles POST /api/v1/communities/{id}/channels, gated by
// can_server_moderate (owner/admin only).
func (h *ChannelHandler) Create(w http.ResponseWriter, r *http.Request, communityID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	user := UserFromContext(r.Context())
	if !h.Permissions.CanServerModerate(user.ID, communityID) {
		writeError(w, http.StatusForbidden, "not an admin or owner")
		return
	}

	var req createChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Type != "voice" && req.Type != "text" {
		writeError(w, http.StatusBadRequest, "type must be voice or text")
		return
	}

	channel, err := h.DB.CreateChannel(uuid.New().String(), communityID, req.Name, req.Type)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.Hub.NotifyCommunity(communityID, "channel_created", channel)
	writeJSON(w, http.StatusCreated, channel)
}
