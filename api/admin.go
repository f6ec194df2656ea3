package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/snacka/voicerelay/db"
	"github.com/snacka/voicerelay/permission"
	"github.com/snacka/voicerelay/ws"
)

// AdminHandler implements community role management: promoting or
// demoting a member between Member/Admin, gated by can_server_moderate.
// Ownership transfer is out of scope.
type AdminHandler struct {
	DB          *db.DB
	Permissions *permission.Oracle
	Hub         *ws.Hub
}

type setRoleRequest struct {
	Role string `json:"role"`
}

// SetRole handles POST /api/v1/communities/{id}/members/{userID}/role.
func (h *AdminHandler) SetRole(w http.ResponseWriter, r *http.Request, communityID, targetID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	user := UserFromContext(r.Context())
	if !h.Permissions.CanServerModerate(user.ID, communityID) {
		writeError(w, http.StatusForbidden, "not an admin or owner")
		return
	}
	if targetID == user.ID {
		writeError(w, http.StatusBadRequest, "cannot change your own role")
		return
	}

	var req setRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	role := strings.TrimSpace(req.Role)
	if role != string(permission.RoleAdmin) && role != string(permission.RoleMember) {
		writeError(w, http.StatusBadRequest, "role must be admin or member")
		return
	}

	targetRole, err := h.DB.GetMemberRole(communityID, targetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if targetRole == "" {
		writeError(w, http.StatusNotFound, "user is not a member of this community")
		return
	}
	if targetRole == string(permission.RoleOwner) {
		writeError(w, http.StatusBadRequest, "cannot change the owner's role")
		return
	}

	if err := h.DB.SetMemberRole(communityID, targetID, role); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.Hub.NotifyCommunity(communityID, "community_member_role_changed", map[string]string{
		"user_id": targetID,
		"role":    role,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated", "role": role})
}
