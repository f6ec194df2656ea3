package db

import (
	"fmt"
)

type Channel struct {
	ID          string `json:"id"`
	CommunityID string `json:"community_id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Position    int    `json:"position"`
	CreatedAt   string `json:"created_at"`
}

func (d *DB) CreateChannel(id, communityID, name, chType string) (*Channel, error) {
	var maxPos *int
	err := d.QueryRow(`SELECT MAX(position) FROM channels WHERE community_id = ?`, communityID).Scan(&maxPos)
	if err != nil {
		return nil, fmt.Errorf("get max position: %w", err)
	}
	pos := 0
	if maxPos != nil {
		pos = *maxPos + 1
	}

	_, err = d.Exec(
		`INSERT INTO channels (id, community_id, name, type, position) VALUES (?, ?, ?, ?, ?)`,
		id, communityID, name, chType, pos,
	)
	if err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}

	return &Channel{ID: id, CommunityID: communityID, Name: name, Type: chType, Position: pos}, nil
}

func (d *DB) DeleteChannel(id string) error {
	res, err := d.Exec(`DELETE FROM channels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("channel not found")
	}
	return nil
}

func (d *DB) ReorderChannels(ids []string) error {
	tx, err := d.Begin()
	if err != nil {
		return fmt.Errorf("begin reorder: %w", err)
	}
	for i, id := range ids {
		if _, err := tx.Exec(`UPDATE channels SET position = ? WHERE id = ?`, i, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("reorder channel %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (d *DB) GetChannelByID(id string) (*Channel, error) {
	c := &Channel{}
	err := d.QueryRow(
		`SELECT id, community_id, name, type, position, created_at FROM channels WHERE id = ?`, id,
	).Scan(&c.ID, &c.CommunityID, &c.Name, &c.Type, &c.Position, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return c, nil
}

func (d *DB) GetChannelsByCommunity(communityID string) ([]Channel, error) {
	rows, err := d.Query(
		`SELECT id, community_id, name, type, position, created_at FROM channels WHERE community_id = ? ORDER BY position`,
		communityID,
	)
	if err != nil {
		return nil, fmt.Errorf("get channels: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.ID, &c.CommunityID, &c.Name, &c.Type, &c.Position, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, c)
	}
	if channels == nil {
		channels = []Channel{}
	}
	return channels, rows.Err()
}
