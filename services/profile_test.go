package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"subletsync/models"
)

type fakeUsers struct {
	users map[string]*models.User
}

func (f *fakeUsers) GetUser(ctx context.Context, id string) (*models.User, error) {
	return f.users[id], nil
}

func (f *fakeUsers) UpsertUser(ctx context.Context, u *models.User) error {
	f.users[u.ID] = u
	return nil
}

func (f *fakeUsers) UpdateUserBio(ctx context.Context, id, bio string) error {
	u, ok := f.users[id]
	if !ok {
		return errors.New("no such user")
	}
	u.Bio = bio
	return nil
}

func (f *fakeUsers) UpdateUserAvatar(ctx context.Context, id, avatarURL string) error {
	u, ok := f.users[id]
	if !ok {
		return errors.New("no such user")
	}
	u.AvatarURL = avatarURL
	return nil
}

type fakeUploader struct {
	fail bool
	url  string
}

func (f *fakeUploader) UploadImage(ctx context.Context, data io.Reader) (string, error) {
	if f.fail {
		return "", errors.New("bucket unreachable")
	}
	io.Copy(io.Discard, data)
	return f.url, nil
}

func TestProfileServiceGetUserMissing(t *testing.T) {
	svc := NewProfileService(&fakeUsers{users: map[string]*models.User{}}, nil)

	u, err := svc.GetUser(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u != nil {
		t.Fatalf("expected nil for missing profile, got %+v", u)
	}
}

func TestProfileServiceSaveUser(t *testing.T) {
	users := &fakeUsers{users: map[string]*models.User{}}
	svc := NewProfileService(users, nil)

	if err := svc.SaveUser(context.Background(), &models.User{}); err == nil {
		t.Fatal("expected error for missing id")
	}
	if err := svc.SaveUser(context.Background(), &models.User{ID: "u1", Name: "Dana"}); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	if users.users["u1"] == nil || users.users["u1"].Name != "Dana" {
		t.Fatalf("user not saved: %+v", users.users["u1"])
	}
}

func TestProfileServiceUpdateBio(t *testing.T) {
	users := &fakeUsers{users: map[string]*models.User{"u1": {ID: "u1"}}}
	svc := NewProfileService(users, nil)

	if err := svc.UpdateBio(context.Background(), "u1", "hello"); err != nil {
		t.Fatalf("UpdateBio: %v", err)
	}
	if users.users["u1"].Bio != "hello" {
		t.Fatalf("bio not updated: %+v", users.users["u1"])
	}
}

func TestProfileServiceUpdateAvatarUploadsFirst(t *testing.T) {
	users := &fakeUsers{users: map[string]*models.User{"u1": {ID: "u1"}}}
	uploader := &fakeUploader{url: "https://cdn.example.com/images/avatar.jpg"}
	svc := NewProfileService(users, uploader)

	url, err := svc.UpdateAvatar(context.Background(), "u1", strings.NewReader("jpeg bytes"))
	if err != nil {
		t.Fatalf("UpdateAvatar: %v", err)
	}
	if url != uploader.url || users.users["u1"].AvatarURL != uploader.url {
		t.Fatalf("avatar url = %q, profile = %q", url, users.users["u1"].AvatarURL)
	}
}

func TestProfileServiceUpdateAvatarUploadFailure(t *testing.T) {
	users := &fakeUsers{users: map[string]*models.User{"u1": {ID: "u1", AvatarURL: "old"}}}
	svc := NewProfileService(users, &fakeUploader{fail: true})

	if _, err := svc.UpdateAvatar(context.Background(), "u1", strings.NewReader("x")); err == nil {
		t.Fatal("expected upload error")
	}
	if users.users["u1"].AvatarURL != "old" {
		t.Fatal("profile must keep the previous avatar when upload fails")
	}
}
