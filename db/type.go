package db

import (
	"github.com/go-sql-driver/mysql"
)

type RequestStatus int

const (
	Archived   RequestStatus = 0 // object sits in the archive tier, no restore in flight
	Retrieving RequestStatus = 1 // a restore request has been issued and is in progress
	Available  RequestStatus = 2 // restored copy is readable until its expiration date
)

type BundleStatus int

const (
	Open   BundleStatus = 0
	Closed BundleStatus = 1 // set exactly once, when every object in the bundle is available
)

var (
	ErrDuplicateEntryCode = 1062
)

func MysqlErrCode(err error) int {
	mysqlErr, ok := err.(*mysql.MySQLError)
	if !ok {
		return 0
	}
	return int(mysqlErr.Number)
}
