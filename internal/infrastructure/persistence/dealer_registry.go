package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/compliance"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormDealerRegistry implements compliance.DealerRegistry over the licensed_dealers table
type GormDealerRegistry struct {
	db *gorm.DB
}

// NewGormDealerRegistry creates a new GormDealerRegistry
func NewGormDealerRegistry(db *gorm.DB) *GormDealerRegistry {
	return &GormDealerRegistry{db: db}
}

// Lookup returns the dealer license for ref
func (r *GormDealerRegistry) Lookup(ctx context.Context, ref string) (*compliance.DealerRecord, error) {
	var row models.LicensedDealerModel
	if err := r.db.WithContext(ctx).First(&row, "ref = ?", ref).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, compliance.ErrDealerNotFound
		}
		return nil, err
	}
	return row.ToDomain(), nil
}

// Register inserts or refreshes a dealer license
func (r *GormDealerRegistry) Register(ctx context.Context, dealer *compliance.DealerRecord) error {
	now := time.Now().UTC()
	var row models.LicensedDealerModel
	row.FromDomain(dealer)
	row.CreatedAt = now
	row.UpdatedAt = now
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ref"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "license_number", "expires_at", "updated_at"}),
		}).
		Create(&row).Error
}
