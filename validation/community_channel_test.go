package validation

import (
	"net/http"
	"testing"
)

// TestRegisterLogin covers the basic auth round trip: register, then log
// back in with the same credentials.
func TestRegisterLogin(t *testing.T) {
	username := uniqueName("regtest")
	c := NewHTTPClient()

	status, body, err := c.Register(username, "hunter2pass")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if status != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d (%v)", status, body)
	}
	if jsonStr(body, "token") == "" {
		t.Fatalf("register: expected a token in response, got %v", body)
	}

	status, body, err = c.Login(username, "hunter2pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%v)", status, body)
	}
	if jsonStr(body, "token") == "" {
		t.Fatalf("login: expected a token in response, got %v", body)
	}
}

// TestRegisterDuplicateUsername exercises the uniqueness constraint on
// username at the auth boundary.
func TestRegisterDuplicateUsername(t *testing.T) {
	username := uniqueName("dup")
	c1 := NewHTTPClient()
	status, _, err := c1.Register(username, "hunter2pass")
	if err != nil || status != http.StatusCreated {
		t.Fatalf("first register failed: status=%d err=%v", status, err)
	}

	c2 := NewHTTPClient()
	status, body, err := c2.Register(username, "otherpassword")
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if status == http.StatusCreated {
		t.Fatalf("expected duplicate username to be rejected, got 201 (%v)", body)
	}
}

// TestLoginWrongPassword asserts bad credentials are rejected.
func TestLoginWrongPassword(t *testing.T) {
	username := uniqueName("badpass")
	c := NewHTTPClient()
	if status, _, err := c.Register(username, "correctpass"); err != nil || status != http.StatusCreated {
		t.Fatalf("register failed: status=%d err=%v", status, err)
	}

	status, _, err := c.Login(username, "wrongpass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if status == http.StatusOK {
		t.Fatalf("expected wrong password to be rejected")
	}
}

// TestCommunityCreateJoinChannel walks through the full community
// bootstrap path: create a community as owner, create a voice and a text
// channel, then have a second user join and list both.
func TestCommunityCreateJoinChannel(t *testing.T) {
	owner, _ := RegisterAndLogin(t, "owner")

	status, community, err := owner.PostJSON("/api/v1/communities", map[string]any{
		"name": uniqueName("guild"),
	})
	if err != nil || status != http.StatusCreated {
		t.Fatalf("create community: status=%d err=%v body=%v", status, err, community)
	}
	communityID := jsonStr(community, "id")
	if communityID == "" {
		t.Fatalf("create community: missing id in %v", community)
	}
	if jsonStr(community, "owner_id") == "" {
		t.Fatalf("create community: missing owner_id in %v", community)
	}

	status, voiceChannel, err := owner.PostJSON("/api/v1/communities/"+communityID+"/channels", map[string]any{
		"name": "General Voice",
		"type": "voice",
	})
	if err != nil || status != http.StatusCreated {
		t.Fatalf("create voice channel: status=%d err=%v body=%v", status, err, voiceChannel)
	}

	status, _, err = owner.PostJSON("/api/v1/communities/"+communityID+"/channels", map[string]any{
		"name": "general",
		"type": "text",
	})
	if err != nil || status != http.StatusCreated {
		t.Fatalf("create text channel: status=%d err=%v", status, err)
	}

	// A bogus channel type is rejected.
	status, _, err = owner.PostJSON("/api/v1/communities/"+communityID+"/channels", map[string]any{
		"name": "bogus",
		"type": "video",
	})
	if err != nil {
		t.Fatalf("create bogus channel: %v", err)
	}
	if status != http.StatusBadRequest {
		t.Fatalf("expected bogus channel type to be rejected, got %d", status)
	}

	member, memberID := RegisterAndLogin(t, "member")

	// A non-member cannot create channels.
	status, _, err = member.PostJSON("/api/v1/communities/"+communityID+"/channels", map[string]any{
		"name": "sneaky",
		"type": "text",
	})
	if err != nil {
		t.Fatalf("non-member create channel: %v", err)
	}
	if status != http.StatusForbidden {
		t.Fatalf("expected non-member channel create to be forbidden, got %d", status)
	}

	status, _, err = member.PostJSON("/api/v1/communities/"+communityID+"/members", nil)
	if err != nil || status != http.StatusOK {
		t.Fatalf("join community: status=%d err=%v", status, err)
	}

	// Joining twice is rejected.
	status, _, err = member.PostJSON("/api/v1/communities/"+communityID+"/members", nil)
	if err != nil {
		t.Fatalf("rejoin community: %v", err)
	}
	if status != http.StatusConflict {
		t.Fatalf("expected rejoin to conflict, got %d", status)
	}

	status, channels, err := member.GetJSONArray("/api/v1/communities/" + communityID + "/channels")
	if err != nil || status != http.StatusOK {
		t.Fatalf("list channels: status=%d err=%v", status, err)
	}
	if len(channels) != 2 {
		t.Fatalf("expected 2 channels, got %d: %v", len(channels), channels)
	}

	// A plain member cannot promote anyone.
	status, _, err = member.PostJSON("/api/v1/communities/"+communityID+"/members/"+memberID+"/role", map[string]any{
		"role": "admin",
	})
	if err != nil {
		t.Fatalf("member self-promote: %v", err)
	}
	if status != http.StatusForbidden {
		t.Fatalf("expected member role change to be forbidden, got %d", status)
	}

	// The owner can promote the member to admin.
	status, _, err = owner.PostJSON("/api/v1/communities/"+communityID+"/members/"+memberID+"/role", map[string]any{
		"role": "admin",
	})
	if err != nil || status != http.StatusOK {
		t.Fatalf("owner promote member: status=%d err=%v", status, err)
	}

	// The owner's own role cannot be changed through this endpoint, even
	// by the newly promoted admin.
	status, _, err = member.PostJSON("/api/v1/communities/"+communityID+"/members/"+jsonStr(community, "owner_id")+"/role", map[string]any{
		"role": "member",
	})
	if err != nil {
		t.Fatalf("admin demote owner: %v", err)
	}
	if status != http.StatusBadRequest {
		t.Fatalf("expected owner role change to be rejected, got %d", status)
	}

	ownerStatus, _, err := member.GetJSON("/api/v1/communities")
	if err != nil || ownerStatus != http.StatusOK {
		t.Fatalf("list communities: status=%d err=%v", ownerStatus, err)
	}
}

// TestReadyPayloadListsCommunities confirms that a freshly authenticated
// websocket connection receives a ready payload enumerating the caller's
// communities and their channels.
func TestReadyPayloadListsCommunities(t *testing.T) {
	owner, _ := RegisterAndLogin(t, "readyowner")
	status, community, err := owner.PostJSON("/api/v1/communities", map[string]any{"name": uniqueName("readyguild")})
	if err != nil || status != http.StatusCreated {
		t.Fatalf("create community: status=%d err=%v", status, err)
	}
	communityID := jsonStr(community, "id")

	status, _, err = owner.PostJSON("/api/v1/communities/"+communityID+"/channels", map[string]any{
		"name": "lobby", "type": "voice",
	})
	if err != nil || status != http.StatusCreated {
		t.Fatalf("create channel: status=%d err=%v", status, err)
	}

	ws, err := ConnectWS(owner.Token)
	if err != nil {
		t.Fatalf("connect ws: %v", err)
	}
	defer ws.Close()

	communities := jsonArray(ws.Ready, "communities")
	found := false
	for _, raw := range communities {
		com, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if jsonStr(com, "id") == communityID {
			found = true
			channels := jsonArray(com, "channels")
			if len(channels) != 1 {
				t.Fatalf("expected 1 channel in ready payload, got %d", len(channels))
			}
			if jsonStr(com, "role") != "owner" {
				t.Fatalf("expected owner role in ready payload, got %q", jsonStr(com, "role"))
			}
		}
	}
	if !found {
		t.Fatalf("expected community %s in ready payload, got %v", communityID, communities)
	}
}
