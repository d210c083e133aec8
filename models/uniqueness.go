package models

import (
	"errors"
	"fmt"
	"strings"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// UniquenessError reports a duplicate identifier with the identities of the entities that claim it,
// so that a person can decide how to merge them.
type UniquenessError struct {
	Entity    string
	Field     string
	Value     string
	Conflicts []string
}

func (e *UniquenessError) Error() string {
	if len(e.Conflicts) == 0 {
		return fmt.Sprintf("duplicate %s %s %q", e.Entity, e.Field, e.Value)
	}
	return fmt.Sprintf("duplicate %s %s %q: %s", e.Entity, e.Field, e.Value, strings.Join(e.Conflicts, ", "))
}

// IsDuplicateKeyErr recognizes unique constraint violations of the MySQL and SQLite drivers.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// MapDuplicateKey converts a driver duplicate key error into a UniquenessError and passes other errors through.
func MapDuplicateKey(err error, entity string, field string, value string) error {
	if IsDuplicateKeyErr(err) {
		return &UniquenessError{Entity: entity, Field: field, Value: value, Conflicts: []string{err.Error()}}
	}
	return err
}
