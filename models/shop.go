package models

import (
	"context"

	"github.com/lhelwerd/rechu/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Shop struct {
	Key                string         `gorm:"primary_key;size:32" json:"key"`
	Name               *string        `gorm:"size:100" json:"name"`
	Website            *string        `gorm:"size:255" json:"website"`
	Wikidata           *string        `gorm:"size:20" json:"wikidata"`
	ProductsURL        *string        `gorm:"size:255" json:"products_url"`
	DiscountIndicators datatypes.JSON `json:"discount_indicators"`
}

func (s *Shop) SetDiscountIndicators(indicators []string) error {
	if len(indicators) == 0 {
		s.DiscountIndicators = nil
		return nil
	}
	data, err := utils.MarshalToJSON(indicators)
	if err != nil {
		return err
	}
	s.DiscountIndicators = datatypes.JSON(data)
	return nil
}

func (s Shop) GetDiscountIndicators() ([]string, error) {
	if len(s.DiscountIndicators) == 0 {
		return nil, nil
	}
	var indicators []string
	if err := utils.UnmarshalFromJSON(s.DiscountIndicators, &indicators); err != nil {
		return nil, err
	}
	return indicators, nil
}

// EnsureShop creates a bare shop row for key when none exists yet.
func EnsureShop(ctx context.Context, tx *gorm.DB, key string) (created bool, err error) {
	result := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&Shop{Key: key})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
