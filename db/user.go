package db

import "time"

type User struct {
	Id                  int64
	UserId              string `gorm:"NOT NULL;uniqueIndex:idx_user_id;size:128"`
	EmailAddress        string `gorm:"NOT NULL;size:256"`
	SubscribedToEmails  bool   `gorm:"NOT NULL;default:true"`
	LastAcknowledgement *time.Time
}

func (*User) TableName() string {
	return "user"
}
