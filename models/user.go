package models

// User mirrors the auth provider's account record plus profile fields.
// FollowersCount and FollowingCount are denormalized counters maintained
// inside the same transaction as the Follow edge mutation.
type User struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	AvatarURL      string `json:"avatarUrl"`
	Bio            string `json:"bio"`
	FollowersCount int    `json:"followersCount"`
	FollowingCount int    `json:"followingCount"`
}
