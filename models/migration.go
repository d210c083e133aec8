package models

import (
	"github.com/lhelwerd/rechu/config"
	"gorm.io/gorm"
)

// AllModels lists every table in creation order.
func AllModels() []interface{} {
	return []interface{}{
		&Shop{},
		&Receipt{}, &ProductItem{}, &Discount{}, &DiscountReference{},
		&Product{}, &LabelMatch{}, &PriceMatch{}, &DiscountMatch{},
		&ReconcileRun{}, &ReconcileError{},
	}
}

func MigrateTable() error {
	return Migrate(config.GetDB())
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
