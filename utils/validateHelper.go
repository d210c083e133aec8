package utils

import (
	"context"

	"gorm.io/gorm"
)

// Filter narrows a count to a scope, e.g. {"shop = ?", shop}.
type Filter struct {
	Cond   string
	Values []interface{}
}

// ValidateUniqueWhere counts rows of T with column = value inside the filter, excluding
// exceptIds, and returns the ids of conflicting rows.
func ValidateUniqueWhere[T any](ctx context.Context, tx *gorm.DB, filter Filter, column string, value interface{}, exceptIds ...int) ([]int, error) {
	var model T
	var ids []int
	dbCtx := tx.WithContext(ctx).Model(&model).Where(column+" = ?", value)
	if filter.Cond != "" {
		dbCtx = dbCtx.Where(filter.Cond, filter.Values...)
	}
	if len(exceptIds) > 0 {
		dbCtx = dbCtx.Where("id NOT IN ?", exceptIds)
	}
	if err := dbCtx.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// count records, using WHERE $condition
func ResourceCountWhere[T any](ctx context.Context, tx *gorm.DB, condition string, value ...interface{}) (int64, error) {
	var model T

	var count int64
	if err := tx.WithContext(ctx).Model(&model).Where(condition, value...).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
