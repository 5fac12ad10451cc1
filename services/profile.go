package services

import (
	"context"
	"fmt"
	"io"

	"subletsync/models"
)

// UserStore is the remote user-profile collection.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	UpsertUser(ctx context.Context, u *models.User) error
	UpdateUserBio(ctx context.Context, id, bio string) error
	UpdateUserAvatar(ctx context.Context, id, avatarURL string) error
}

// ImageUploader stores an image and returns its public URL.
type ImageUploader interface {
	UploadImage(ctx context.Context, data io.Reader) (string, error)
}

// ProfileService handles user profile reads and edits.
type ProfileService struct {
	users  UserStore
	images ImageUploader
}

func NewProfileService(users UserStore, images ImageUploader) *ProfileService {
	return &ProfileService{users: users, images: images}
}

// GetUser returns nil when the profile does not exist.
func (s *ProfileService) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.users.GetUser(ctx, id)
}

// SaveUser writes the account record at registration. Counters on an
// existing row are left alone; only the profile fields are overwritten.
func (s *ProfileService) SaveUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		return fmt.Errorf("user id is required")
	}
	return s.users.UpsertUser(ctx, u)
}

func (s *ProfileService) UpdateBio(ctx context.Context, id, bio string) error {
	return s.users.UpdateUserBio(ctx, id, bio)
}

// UpdateAvatar uploads the new image first; the profile only ever points at
// an upload that succeeded.
func (s *ProfileService) UpdateAvatar(ctx context.Context, id string, image io.Reader) (string, error) {
	if s.images == nil {
		return "", fmt.Errorf("no image store configured")
	}
	url, err := s.images.UploadImage(ctx, image)
	if err != nil {
		return "", fmt.Errorf("upload avatar: %w", err)
	}
	if err := s.users.UpdateUserAvatar(ctx, id, url); err != nil {
		return "", fmt.Errorf("update avatar: %w", err)
	}
	return url, nil
}
