package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/snacka/voicerelay/db"
	"github.com/snacka/voicerelay/ws"
)

// CommunityHandler implements the community slice of §13's REST surface:
// list/create communities and join one as a member.
type CommunityHandler struct {
	DB  *db.DB
	Hub *ws.Hub
}

type createCommunityRequest struct {
	Name string `json:"name"`
}

// List handles GET /api/v1/communities: the caller's own communities.
func (h *CommunityHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	user := UserFromContext(r.Context())
	communities, err := h.DB.GetCommunitiesForUser(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, communities)
}

// Create handles POST /api/v1/communities. The creator becomes Owner.
func (h *CommunityHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	user := UserFromContext(r.Context())

	var req createCommunityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	community, err := h.DB.CreateCommunity(uuid.New().String(), req.Name, user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, community)
}

// Join handles POST /api/v1/communities/{id}/members: the caller joins
// as a Member. Role promotion is a separate admin-gated endpoint.
func (h *CommunityHandler) Join(w http.ResponseWriter, r *http.Request, communityID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	user := UserFromContext(r.Context())

	community, err := h.DB.GetCommunityByID(communityID)
	if err != nil || community == nil {
		writeError(w, http.StatusNotFound, "community does not exist")
		return
	}

	if role, err := h.DB.GetMemberRole(communityID, user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	} else if role != "" {
		writeError(w, http.StatusConflict, "already a member")
		return
	}

	if err := h.DB.AddCommunityMember(communityID, user.ID, "member"); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.Hub.NotifyCommunity(communityID, "community_member_joined", ws.UserPayload{ID: user.ID, Username: user.Username})
	writeJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}
