package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tinywideclouds/go-pushnotifications/pkg/device"
)

// StateStore implements device.StateStore for one instance id.
type StateStore struct {
	db         *sql.DB
	instanceID string
}

func NewStateStore(db *sql.DB, instanceID string) *StateStore {
	return &StateStore{db: db, instanceID: instanceID}
}

func (s *StateStore) Load(ctx context.Context) (device.State, error) {
	var st device.State
	var startCalled int

	row := s.db.QueryRowContext(ctx, `
		SELECT device_id, device_token, user_id, os_version, sdk_version, interests_hash, start_called
		FROM device_state WHERE instance_id = ?`, s.instanceID)
	err := row.Scan(&st.DeviceID, &st.DeviceToken, &st.UserID, &st.OSVersion, &st.SDKVersion,
		&st.ServerConfirmedInterestsHash, &startCalled)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return device.State{}, fmt.Errorf("query device state: %w", err)
	}
	st.StartHasBeenCalled = startCalled != 0

	rows, err := s.db.QueryContext(ctx,
		`SELECT interest FROM device_interests WHERE instance_id = ? ORDER BY interest`, s.instanceID)
	if err != nil {
		return device.State{}, fmt.Errorf("query interests: %w", err)
	}
	defer rows.Close()

	st.Interests = []string{}
	for rows.Next() {
		var interest string
		if err := rows.Scan(&interest); err != nil {
			return device.State{}, fmt.Errorf("scan interest: %w", err)
		}
		st.Interests = append(st.Interests, interest)
	}
	return st, rows.Err()
}

func (s *StateStore) Save(ctx context.Context, st device.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	startCalled := 0
	if st.StartHasBeenCalled {
		startCalled = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO device_state
			(instance_id, device_id, device_token, user_id, os_version, sdk_version, interests_hash, start_called)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			device_id = excluded.device_id,
			device_token = excluded.device_token,
			user_id = excluded.user_id,
			os_version = excluded.os_version,
			sdk_version = excluded.sdk_version,
			interests_hash = excluded.interests_hash,
			start_called = excluded.start_called`,
		s.instanceID, st.DeviceID, st.DeviceToken, st.UserID, st.OSVersion, st.SDKVersion,
		st.ServerConfirmedInterestsHash, startCalled)
	if err != nil {
		return fmt.Errorf("upsert device state: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM device_interests WHERE instance_id = ?`, s.instanceID); err != nil {
		return fmt.Errorf("reset interests: %w", err)
	}
	for _, interest := range device.NormalizeInterests(st.Interests) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO device_interests (instance_id, interest) VALUES (?, ?)`, s.instanceID, interest); err != nil {
			return fmt.Errorf("insert interest %q: %w", interest, err)
		}
	}
	return tx.Commit()
}

func (s *StateStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM device_state WHERE instance_id = ?`, s.instanceID); err != nil {
		return fmt.Errorf("clear device state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM device_interests WHERE instance_id = ?`, s.instanceID); err != nil {
		return fmt.Errorf("clear interests: %w", err)
	}
	return tx.Commit()
}
