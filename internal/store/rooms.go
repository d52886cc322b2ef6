package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dkeye/MusicRoom/internal/domain"
)

// RoomStore implements core.RoomDirectory.
type RoomStore struct{ db *gorm.DB }

func (s *RoomStore) Create(ctx context.Context, r *domain.Room) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(r).Error; err != nil {
			return err
		}
		return tx.Create(&domain.Membership{
			RoomID:   r.ID,
			UserID:   r.CreatorID,
			JoinedAt: r.CreatedAt,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("gorm: create room %s: %w", r.ID, err)
	}
	return nil
}

func (s *RoomStore) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	var r domain.Room
	err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gorm: get room %s: %w", id, err)
	}
	return &r, nil
}

func (s *RoomStore) FindByWorkflow(ctx context.Context, workflowID string) (*domain.Room, error) {
	var r domain.Room
	err := s.db.WithContext(ctx).First(&r, "workflow_id = ?", workflowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gorm: find room by workflow %s: %w", workflowID, err)
	}
	return &r, nil
}

func (s *RoomStore) FindByCreator(ctx context.Context, user domain.UserID) ([]domain.Room, error) {
	var rooms []domain.Room
	err := s.db.WithContext(ctx).
		Where("creator_id = ?", user).
		Order("created_at").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find rooms created by %s: %w", user, err)
	}
	return rooms, nil
}

func (s *RoomStore) FindForUser(ctx context.Context, user domain.UserID) ([]domain.Room, error) {
	var rooms []domain.Room
	err := s.db.WithContext(ctx).
		Joins("JOIN memberships ON memberships.room_id = rooms.id").
		Where("memberships.user_id = ?", user).
		Order("rooms.created_at").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find rooms of %s: %w", user, err)
	}
	return rooms, nil
}

func (s *RoomStore) Members(ctx context.Context, id domain.RoomID) ([]domain.UserID, error) {
	var users []domain.UserID
	err := s.db.WithContext(ctx).
		Model(&domain.Membership{}).
		Where("room_id = ?", id).
		Order("joined_at").
		Pluck("user_id", &users).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: members of %s: %w", id, err)
	}
	return users, nil
}

func (s *RoomStore) IsMember(ctx context.Context, id domain.RoomID, user domain.UserID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&domain.Membership{}).
		Where("room_id = ? AND user_id = ?", id, user).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: membership %s/%s: %w", id, user, err)
	}
	return count > 0, nil
}

func (s *RoomStore) AddMember(ctx context.Context, id domain.RoomID, user domain.UserID) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.Membership{RoomID: id, UserID: user, JoinedAt: time.Now().UTC()}).Error
	if err != nil {
		return fmt.Errorf("gorm: add member %s to %s: %w", user, id, err)
	}
	return nil
}

func (s *RoomStore) RemoveMember(ctx context.Context, id domain.RoomID, user domain.UserID) error {
	err := s.db.WithContext(ctx).
		Delete(&domain.Membership{}, "room_id = ? AND user_id = ?", id, user).Error
	if err != nil {
		return fmt.Errorf("gorm: remove member %s from %s: %w", user, id, err)
	}
	return nil
}

func (s *RoomStore) Delete(ctx context.Context, id domain.RoomID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&domain.Membership{}, "room_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.Room{}, "id = ?", id).Error
	})
	if err != nil {
		return fmt.Errorf("gorm: delete room %s: %w", id, err)
	}
	return nil
}

func (s *RoomStore) List(ctx context.Context) ([]domain.RoomSummary, error) {
	var out []domain.RoomSummary
	err := s.db.WithContext(ctx).
		Model(&domain.Room{}).
		Select("rooms.id, rooms.kind, rooms.name, rooms.creator_id AS creator, COUNT(memberships.user_id) AS member_count").
		Joins("LEFT JOIN memberships ON memberships.room_id = rooms.id").
		Group("rooms.id, rooms.kind, rooms.name, rooms.creator_id, rooms.created_at").
		Order("rooms.created_at").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list rooms: %w", err)
	}
	return out, nil
}
