// internal/store/admins.go
package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/user/forwardmon/internal/types"
)

// ListAdmins returns every registered administrator.
func (s *Store) ListAdmins() ([]types.AdminRecord, error) {
	rows, err := s.db.Query("SELECT user_id, username FROM admins ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	defer rows.Close()
	var admins []types.AdminRecord
	for rows.Next() {
		var record types.AdminRecord
		if err := rows.Scan(&record.UserID, &record.Username); err != nil {
			return nil, fmt.Errorf("list admins: %w", err)
		}
		admins = append(admins, record)
	}
	return admins, rows.Err()
}

// HasAdmins reports whether any administrator is registered.
func (s *Store) HasAdmins() bool {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM admins").Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// AddAdmin registers an administrator. Re-adding an existing user refreshes
// the stored username.
func (s *Store) AddAdmin(userID int64, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, err := s.db.Exec(
		"UPDATE admins SET username = ? WHERE user_id = ?", username, userID,
	)
	if err != nil {
		return fmt.Errorf("add admin %d: %w", userID, err)
	}
	if affected, _ := result.RowsAffected(); affected > 0 {
		return nil
	}
	if _, err := s.db.Exec(
		"INSERT INTO admins(user_id, username) VALUES(?, ?)", userID, username,
	); err != nil {
		return fmt.Errorf("add admin %d: %w", userID, err)
	}
	return nil
}

// RemoveAdmin deregisters an administrator.
func (s *Store) RemoveAdmin(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("DELETE FROM admins WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("remove admin %d: %w", userID, err)
	}
	return nil
}

// RecordManualForward appends one manual-forward audit entry. A missing id or
// timestamp is filled in.
func (s *Store) RecordManualForward(entry types.ManualForwardEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.RequestedAt.IsZero() {
		entry.RequestedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO manual_forwards(id, discord_id, label, forwarded, mode, note, requested_by, requested_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.DiscordID, entry.Label, entry.Forwarded, entry.Mode, entry.Note,
		entry.RequestedBy, entry.RequestedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record manual forward: %w", err)
	}
	return nil
}

// RecentManualForwards returns the latest audit entries, newest first.
func (s *Store) RecentManualForwards(limit int) ([]types.ManualForwardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT id, discord_id, label, forwarded, mode, note, requested_by, requested_at
		 FROM manual_forwards ORDER BY requested_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list manual forwards: %w", err)
	}
	defer rows.Close()
	var entries []types.ManualForwardEntry
	for rows.Next() {
		var entry types.ManualForwardEntry
		var requestedAt string
		err := rows.Scan(&entry.ID, &entry.DiscordID, &entry.Label, &entry.Forwarded,
			&entry.Mode, &entry.Note, &entry.RequestedBy, &requestedAt)
		if err != nil {
			return nil, fmt.Errorf("list manual forwards: %w", err)
		}
		if parsed, ok := parseTime(requestedAt); ok {
			entry.RequestedAt = parsed
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
