package session

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"library-system/internal/models"
)

// Bootstrap creates the eight tables if they are missing. Each table's
// composite primary key mirrors its partition and clustering columns; no other
// constraint is declared, every invariant is enforced by the application.
func Bootstrap(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(models.AllTables()...); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return nil
}
