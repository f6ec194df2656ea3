package db

import (
	"database/sql"
	"fmt"
)

type Community struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OwnerID   string `json:"owner_id"`
	CreatedAt string `json:"created_at"`
}

type Membership struct {
	CommunityID string `json:"community_id"`
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	JoinedAt    string `json:"joined_at"`
}

// CreateCommunity creates a community and seats its creator as owner, in a
// single transaction so a community never exists without an owner row.
func (d *DB) CreateCommunity(id, name, ownerID string) (*Community, error) {
	tx, err := d.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin create community: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO communities (id, name, owner_id) VALUES (?, ?, ?)`,
		id, name, ownerID,
	); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("create community: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO community_members (community_id, user_id, role) VALUES (?, ?, 'owner')`,
		id, ownerID,
	); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("seat owner: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create community: %w", err)
	}

	return &Community{ID: id, Name: name, OwnerID: ownerID}, nil
}

func (d *DB) GetCommunityByID(id string) (*Community, error) {
	c := &Community{}
	err := d.QueryRow(
		`SELECT id, name, owner_id, created_at FROM communities WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.OwnerID, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get community: %w", err)
	}
	return c, nil
}

func (d *DB) GetCommunitiesForUser(userID string) ([]Community, error) {
	rows, err := d.Query(
		`SELECT c.id, c.name, c.owner_id, c.created_at
		 FROM communities c
		 JOIN community_members m ON m.community_id = c.id
		 WHERE m.user_id = ?
		 ORDER BY c.created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("get communities for user: %w", err)
	}
	defer rows.Close()

	var communities []Community
	for rows.Next() {
		var c Community
		if err := rows.Scan(&c.ID, &c.Name, &c.OwnerID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan community: %w", err)
		}
		communities = append(communities, c)
	}
	if communities == nil {
		communities = []Community{}
	}
	return communities, rows.Err()
}

func (d *DB) AddCommunityMember(communityID, userID, role string) error {
	_, err := d.Exec(
		`INSERT INTO community_members (community_id, user_id, role) VALUES (?, ?, ?)`,
		communityID, userID, role,
	)
	if err != nil {
		return fmt.Errorf("add community member: %w", err)
	}
	return nil
}

func (d *DB) GetMemberRole(communityID, userID string) (string, error) {
	var role string
	err := d.QueryRow(
		`SELECT role FROM community_members WHERE community_id = ? AND user_id = ?`,
		communityID, userID,
	).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get member role: %w", err)
	}
	return role, nil
}

func (d *DB) SetMemberRole(communityID, userID, role string) error {
	res, err := d.Exec(
		`UPDATE community_members SET role = ? WHERE community_id = ? AND user_id = ?`,
		role, communityID, userID,
	)
	if err != nil {
		return fmt.Errorf("set member role: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("member not found")
	}
	return nil
}

func (d *DB) GetCommunityMembers(communityID string) ([]Membership, error) {
	rows, err := d.Query(
		`SELECT community_id, user_id, role, joined_at FROM community_members WHERE community_id = ? ORDER BY joined_at`,
		communityID,
	)
	if err != nil {
		return nil, fmt.Errorf("get community members: %w", err)
	}
	defer rows.Close()

	var members []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.CommunityID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if members == nil {
		members = []Membership{}
	}
	return members, rows.Err()
}
