package models

// Follow is a directed edge: follower follows followed. The composite id
// guarantees at most one edge per ordered pair.
type Follow struct {
	ID         string `json:"id"`
	FollowerID string `json:"followerId"`
	FollowedID string `json:"followedId"`
	Timestamp  int64  `json:"timestamp"` // epoch millis
}

// FollowID builds the deterministic edge id for an ordered pair.
func FollowID(followerID, followedID string) string {
	return followerID + "_" + followedID
}
