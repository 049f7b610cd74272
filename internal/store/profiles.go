package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/conversation"
)

// UpsertProfile records what is known about a counterpart. The stored name
// only changes when the new one ranks better, so a restart never brings
// back a placeholder name.
func (db *DB) UpsertProfile(p Profile) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var name, avatar string
	err = tx.QueryRow(`SELECT name, avatar FROM profiles WHERE user_id = ?`, p.UserID).Scan(&name, &avatar)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read profile %d: %w", p.UserID, err)
	}
	name = conversation.BetterName(name, p.Name)
	if p.Avatar != "" {
		avatar = p.Avatar
	}

	if _, err := tx.Exec(`
		INSERT INTO profiles (user_id, name, avatar, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			name = excluded.name,
			avatar = excluded.avatar,
			updated_at = excluded.updated_at`,
		p.UserID, name, avatar, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("upsert profile %d: %w", p.UserID, err)
	}
	return tx.Commit()
}

// ListProfiles returns every cached profile.
func (db *DB) ListProfiles() ([]Profile, error) {
	rows, err := db.Query(`SELECT user_id, name, avatar FROM profiles ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.UserID, &p.Name, &p.Avatar); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProfile returns the cached profile of userID, or nil.
func (db *DB) GetProfile(userID int64) (*Profile, error) {
	p := Profile{UserID: userID}
	err := db.QueryRow(`SELECT name, avatar FROM profiles WHERE user_id = ?`, userID).Scan(&p.Name, &p.Avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
