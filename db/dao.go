package db

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

type RestoreDao interface {
	ObjectDB
	BundleDB
	UserDB
}

type RestoreSvcDB struct {
	db *gorm.DB
}

func NewRestoreSvcDB(db *gorm.DB) RestoreDao {
	return &RestoreSvcDB{
		db,
	}
}

type ObjectDB interface {
	GetObject(objectKey string) (*Object, error)
	GetObjectsByStatus(status RequestStatus) ([]*Object, error)
	CreateObject(o *Object) error
	MarkObjectRetrieving(objectKey, tier, bundleId string) error
	MarkObjectAvailable(objectKey string, expirationDate time.Time) error
	ResetObjectToArchived(objectKey string) error
}

func (d *RestoreSvcDB) GetObject(objectKey string) (*Object, error) {
	object := Object{}
	err := d.db.Model(Object{}).Where("object_key = ?", objectKey).Take(&object).Error
	if err != nil {
		return nil, err
	}
	return &object, nil
}

func (d *RestoreSvcDB) GetObjectsByStatus(status RequestStatus) ([]*Object, error) {
	objects := make([]*Object, 0)
	if err := d.db.Where("request_status = ?", status).Order("id asc").Find(&objects).Error; err != nil {
		return objects, err
	}
	return objects, nil
}

func (d *RestoreSvcDB) CreateObject(o *Object) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		err := dbTx.Create(o).Error
		if err != nil && isDuplicateEntry(err) {
			return nil
		}
		return err
	})
}

// MarkObjectRetrieving is guarded by the archived status so that concurrent
// upkeep runs cannot rewind an object that already moved forward.
func (d *RestoreSvcDB) MarkObjectRetrieving(objectKey, tier, bundleId string) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		return dbTx.Model(Object{}).
			Where("object_key = ? and request_status = ?", objectKey, Archived).
			Updates(map[string]interface{}{
				"request_status": Retrieving,
				"tier_requested": tier,
				"bundle_id":      bundleId,
			}).Error
	})
}

func (d *RestoreSvcDB) MarkObjectAvailable(objectKey string, expirationDate time.Time) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		return dbTx.Model(Object{}).
			Where("object_key = ?", objectKey).
			Updates(map[string]interface{}{
				"request_status":  Available,
				"expiration_date": expirationDate,
			}).Error
	})
}

func (d *RestoreSvcDB) ResetObjectToArchived(objectKey string) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		return dbTx.Model(Object{}).
			Where("object_key = ?", objectKey).
			Updates(map[string]interface{}{
				"request_status":  Archived,
				"tier_requested":  "",
				"expiration_date": nil,
			}).Error
	})
}

type BundleDB interface {
	GetBundle(bundleId string) (*Bundle, error)
	GetOpenBundle(userId string) (*Bundle, error)
	GetOpenBundles() ([]*Bundle, error)
	GetBundlesForUser(userId string, cutoffDate time.Time) ([]*Bundle, error)
	CreateBundle(b *Bundle) error
	CloseBundle(bundleId string, closeDate time.Time) (bool, error)
	AddObjectToBundle(bundleId, objectKey string, requestDate time.Time) error
	GetBundleObjects(bundleId string) ([]*BundleObject, error)
	GetBundleObjectsSince(bundleId string, cutoffDate time.Time) ([]*BundleObject, error)
	CountUnavailableObjects(bundleId string) (int64, error)
}

func (d *RestoreSvcDB) GetBundle(bundleId string) (*Bundle, error) {
	bundle := Bundle{}
	err := d.db.Model(Bundle{}).Where("bundle_id = ?", bundleId).Take(&bundle).Error
	if err != nil {
		return nil, err
	}
	return &bundle, nil
}

func (d *RestoreSvcDB) GetOpenBundle(userId string) (*Bundle, error) {
	bundle := Bundle{}
	// oldest first so racing requests converge on one bundle
	err := d.db.Model(Bundle{}).Where("user_id = ? and status = ?", userId, Open).
		Order("open_date asc").Take(&bundle).Error
	if err != nil {
		return nil, err
	}
	return &bundle, nil
}

func (d *RestoreSvcDB) GetOpenBundles() ([]*Bundle, error) {
	bundles := make([]*Bundle, 0)
	if err := d.db.Where("status = ?", Open).Order("id asc").Find(&bundles).Error; err != nil {
		return bundles, err
	}
	return bundles, nil
}

func (d *RestoreSvcDB) GetBundlesForUser(userId string, cutoffDate time.Time) ([]*Bundle, error) {
	bundles := make([]*Bundle, 0)
	err := d.db.Where("user_id = ? and (status = ? or close_date >= ?)", userId, Open, cutoffDate).
		Order("open_date desc").Find(&bundles).Error
	if err != nil {
		return bundles, err
	}
	return bundles, nil
}

func (d *RestoreSvcDB) CreateBundle(b *Bundle) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		err := dbTx.Create(b).Error
		if err != nil && isDuplicateEntry(err) {
			return nil
		}
		return err
	})
}

// CloseBundle stamps the close date exactly once. The returned bool reports
// whether this call performed the transition, so the caller can emit the
// availability notification for the winning invocation only.
func (d *RestoreSvcDB) CloseBundle(bundleId string, closeDate time.Time) (bool, error) {
	var closed bool
	err := d.db.Transaction(func(dbTx *gorm.DB) error {
		result := dbTx.Model(Bundle{}).
			Where("bundle_id = ? and status = ?", bundleId, Open).
			Updates(map[string]interface{}{
				"status":     Closed,
				"close_date": closeDate,
			})
		if result.Error != nil {
			return result.Error
		}
		closed = result.RowsAffected > 0
		return nil
	})
	return closed, err
}

func (d *RestoreSvcDB) AddObjectToBundle(bundleId, objectKey string, requestDate time.Time) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		err := dbTx.Create(&BundleObject{
			BundleId:    bundleId,
			ObjectKey:   objectKey,
			RequestDate: requestDate,
		}).Error
		if err != nil && isDuplicateEntry(err) {
			return dbTx.Model(BundleObject{}).
				Where("bundle_id = ? and object_key = ?", bundleId, objectKey).
				Update("request_date", requestDate).Error
		}
		return err
	})
}

func (d *RestoreSvcDB) GetBundleObjects(bundleId string) ([]*BundleObject, error) {
	bundleObjects := make([]*BundleObject, 0)
	if err := d.db.Where("bundle_id = ?", bundleId).Order("request_date desc").Find(&bundleObjects).Error; err != nil {
		return bundleObjects, err
	}
	return bundleObjects, nil
}

func (d *RestoreSvcDB) GetBundleObjectsSince(bundleId string, cutoffDate time.Time) ([]*BundleObject, error) {
	bundleObjects := make([]*BundleObject, 0)
	err := d.db.Where("bundle_id = ? and request_date >= ?", bundleId, cutoffDate).
		Order("request_date desc").Find(&bundleObjects).Error
	if err != nil {
		return bundleObjects, err
	}
	return bundleObjects, nil
}

// CountUnavailableObjects counts bundle members whose shared object row is
// missing or not yet available. A bundle is complete when it has members and
// this count is zero.
func (d *RestoreSvcDB) CountUnavailableObjects(bundleId string) (int64, error) {
	var count int64
	err := d.db.Table("bundle_object").
		Joins("left join object on object.object_key = bundle_object.object_key").
		Where("bundle_object.bundle_id = ?", bundleId).
		Where("object.request_status is null or object.request_status != ?", Available).
		Count(&count).Error
	return count, err
}

type UserDB interface {
	GetUser(userId string) (*User, error)
	UpsertUserSubscription(userId, emailAddress string, subscribed bool) error
	UpdateLastAcknowledgement(userId string, ackDate time.Time) error
}

func (d *RestoreSvcDB) GetUser(userId string) (*User, error) {
	user := User{}
	err := d.db.Model(User{}).Where("user_id = ?", userId).Take(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (d *RestoreSvcDB) UpsertUserSubscription(userId, emailAddress string, subscribed bool) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		err := dbTx.Create(&User{
			UserId:             userId,
			EmailAddress:       emailAddress,
			SubscribedToEmails: true,
		}).Error
		if err != nil && !isDuplicateEntry(err) {
			return err
		}
		// the update always runs so an explicit false survives the column default
		updates := map[string]interface{}{"subscribed_to_emails": subscribed}
		if emailAddress != "" {
			updates["email_address"] = emailAddress
		}
		return dbTx.Model(User{}).Where("user_id = ?", userId).Updates(updates).Error
	})
}

func (d *RestoreSvcDB) UpdateLastAcknowledgement(userId string, ackDate time.Time) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		return dbTx.Model(User{}).Where("user_id = ?", userId).
			Update("last_acknowledgement", ackDate).Error
	})
}

func isDuplicateEntry(err error) bool {
	if MysqlErrCode(err) == ErrDuplicateEntryCode {
		return true
	}
	// sqlite reports uniqueness violations as plain errors
	return strings.Contains(err.Error(), "Duplicate entry") ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func AutoMigrateDB(db *gorm.DB) {
	var err error
	if err = db.AutoMigrate(&Object{}); err != nil {
		panic(err)
	}
	if err = db.AutoMigrate(&Bundle{}); err != nil {
		panic(err)
	}
	if err = db.AutoMigrate(&BundleObject{}); err != nil {
		panic(err)
	}
	if err = db.AutoMigrate(&User{}); err != nil {
		panic(err)
	}
}
