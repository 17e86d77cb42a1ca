package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/core/domain"
)

// InterestRepo implements storage.InterestRepository.
type InterestRepo struct {
	db  *DB
	now func() time.Time
}

// NewInterestRepo creates a new SQL interest repository.
func NewInterestRepo(db *DB) *InterestRepo {
	return &InterestRepo{db: db, now: time.Now}
}

// Add links a user to a resource; the primary key makes repeats a no-op.
func (r *InterestRepo) Add(ctx context.Context, userID, resourceID string) error {
	query := r.db.Rebind(`
		INSERT INTO user_resource_interests (user_id, resource_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, resource_id) DO NOTHING
	`)
	if _, err := r.db.ExecContext(ctx, query, userID, resourceID, r.now().Unix()); err != nil {
		return fmt.Errorf("failed to add interest: %w", err)
	}
	return nil
}

// ListUsers returns every user interested in the resource.
func (r *InterestRepo) ListUsers(ctx context.Context, resourceID string) ([]string, error) {
	query := r.db.Rebind(`
		SELECT user_id FROM user_resource_interests
		WHERE resource_id = ?
		ORDER BY user_id
	`)
	var users []string
	if err := r.db.SelectContext(ctx, &users, query, resourceID); err != nil {
		return nil, fmt.Errorf("failed to list interested users: %w", err)
	}
	return users, nil
}

// DeviceRepo implements storage.DeviceRepository.
type DeviceRepo struct {
	db  *DB
	now func() time.Time
}

// NewDeviceRepo creates a new SQL device repository.
func NewDeviceRepo(db *DB) *DeviceRepo {
	return &DeviceRepo{db: db, now: time.Now}
}

// Register upserts a device by ID.
func (r *DeviceRepo) Register(ctx context.Context, d *domain.Device) error {
	query := r.db.Rebind(`
		INSERT INTO devices (device_id, user_id, token, platform, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (device_id) DO UPDATE SET
			user_id = excluded.user_id,
			token = excluded.token,
			platform = excluded.platform
	`)
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}
	if _, err := r.db.ExecContext(ctx, query, d.DeviceID, d.UserID, d.Token, d.Platform, createdAt.Unix()); err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	return nil
}

// ListByUser returns the user's devices.
func (r *DeviceRepo) ListByUser(ctx context.Context, userID string) ([]*domain.Device, error) {
	query := r.db.Rebind(`
		SELECT device_id, user_id, token, platform, created_at
		FROM devices
		WHERE user_id = ?
		ORDER BY device_id
	`)
	var rows []struct {
		DeviceID  string `db:"device_id"`
		UserID    string `db:"user_id"`
		Token     string `db:"token"`
		Platform  string `db:"platform"`
		CreatedAt int64  `db:"created_at"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	devices := make([]*domain.Device, 0, len(rows))
	for _, row := range rows {
		devices = append(devices, &domain.Device{
			DeviceID:  row.DeviceID,
			UserID:    row.UserID,
			Token:     row.Token,
			Platform:  row.Platform,
			CreatedAt: time.Unix(row.CreatedAt, 0).UTC(),
		})
	}
	return devices, nil
}

// Delete removes a device.
func (r *DeviceRepo) Delete(ctx context.Context, deviceID string) error {
	query := r.db.Rebind(`DELETE FROM devices WHERE device_id = ?`)
	if _, err := r.db.ExecContext(ctx, query, deviceID); err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	return nil
}
