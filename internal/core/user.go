package core

// User is a presence-level user record cached by id.
type User struct {
	ID        int64
	Username  string
	AvatarURL string
	Supporter bool
	Bot       bool
	Online    bool
}
