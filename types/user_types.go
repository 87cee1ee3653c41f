package types

import "time"

type User struct {
	UserID    int64
	ChatID    int64
	Username  string
	FirstName string
	Allowed   bool
	Banned    bool
	MergeMode MergeMode
	CreatedAt time.Time
	UpdatedAt time.Time
}

type UserSettings interface {
	IsAllowed(userID int64) (bool, error)
}

type UserStore interface {
	UserSettings

	UpsertUser(user User) error
	GetUser(userID int64) (*User, error)

	IsBanned(userID int64) (bool, error)
	SetAllowed(userID int64, allowed bool) error
	SetBanned(userID int64, banned bool) error

	GetMergeMode(userID int64) (MergeMode, error)
	SetMergeMode(userID int64, mode MergeMode) error
}
