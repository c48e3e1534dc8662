package db

import "time"

// Object tracks the restore progress of one archival-storage item. The row is
// shared by every bundle that references the object key.
type Object struct {
	Id             int64
	ObjectKey      string        `gorm:"NOT NULL;uniqueIndex:idx_object_key;size:768"`
	RequestStatus  RequestStatus `gorm:"NOT NULL;index:idx_object_request_status"`
	TierRequested  string        `gorm:"size:16"`
	BundleId       string        `gorm:"size:64"` // bundle that triggered the current restore round
	ExpirationDate *time.Time    // set iff RequestStatus is Available
}

func (*Object) TableName() string {
	return "object"
}
