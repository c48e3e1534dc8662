package db

import "time"

// Bundle groups the objects one user requested together in one open session.
type Bundle struct {
	Id        int64
	BundleId  string       `gorm:"NOT NULL;uniqueIndex:idx_bundle_id;size:64"`
	UserId    string       `gorm:"NOT NULL;index:idx_bundle_user;size:128"`
	Status    BundleStatus `gorm:"NOT NULL;index:idx_bundle_status"`
	OpenDate  time.Time    `gorm:"NOT NULL"`
	CloseDate *time.Time   // set iff Status is Closed
}

func (*Bundle) TableName() string {
	return "bundle"
}

// BundleObject resolves the many-to-many relation between bundles and objects.
type BundleObject struct {
	Id          int64
	BundleId    string    `gorm:"NOT NULL;uniqueIndex:idx_bundle_object,priority:1;size:64"`
	ObjectKey   string    `gorm:"NOT NULL;uniqueIndex:idx_bundle_object,priority:2;size:768"`
	RequestDate time.Time `gorm:"NOT NULL"`
}

func (*BundleObject) TableName() string {
	return "bundle_object"
}
