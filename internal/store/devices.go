package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/dkeye/MusicRoom/internal/domain"
)

// DeviceStore implements core.DeviceRegistry.
type DeviceStore struct{ db *gorm.DB }

func (s *DeviceStore) Register(ctx context.Context, d *domain.Device) error {
	err := s.db.WithContext(ctx).Create(d).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("register %s: %w", d.ConnectionID, domain.ErrDuplicateConnection)
	}
	if err != nil {
		return fmt.Errorf("gorm: register device %s: %w", d.ConnectionID, err)
	}
	return nil
}

func (s *DeviceStore) Unregister(ctx context.Context, conn domain.ConnectionID) (*domain.Device, error) {
	var d domain.Device
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&d, "connection_id = ?", conn).Error; err != nil {
			return err
		}
		res := tx.Delete(&domain.Device{}, "connection_id = ?", conn)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gorm: unregister device %s: %w", conn, err)
	}
	return &d, nil
}

func (s *DeviceStore) Get(ctx context.Context, conn domain.ConnectionID) (*domain.Device, error) {
	var d domain.Device
	err := s.db.WithContext(ctx).First(&d, "connection_id = ?", conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gorm: get device %s: %w", conn, err)
	}
	return &d, nil
}

func (s *DeviceStore) ListByUser(ctx context.Context, user domain.UserID) ([]domain.Device, error) {
	var devices []domain.Device
	err := s.db.WithContext(ctx).
		Where("user_id = ?", user).
		Order("created_at").
		Find(&devices).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list devices of %s: %w", user, err)
	}
	return devices, nil
}

func (s *DeviceStore) Purge(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("1 = 1").Delete(&domain.Device{})
	if res.Error != nil {
		return 0, fmt.Errorf("gorm: purge devices: %w", res.Error)
	}
	return res.RowsAffected, nil
}
