package model

import (
	"time"
)

// Account holds one chat user's Skland token. ID doubles as the
// registration order.
type Account struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Identity    string `gorm:"uniqueIndex;not null"` // Chat user id
	Token       string `gorm:"not null"`
	DisplayName string
	BoundAt     time.Time
}

// GroupMember enrolls a user in a group chat's status table.
type GroupMember struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time

	GroupID  string `gorm:"uniqueIndex:ux_group_member,priority:1;not null"`
	Identity string `gorm:"uniqueIndex:ux_group_member,priority:2;not null"`
}
