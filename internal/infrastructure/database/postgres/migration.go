// internal/infrastructure/database/postgres/migration.go
package postgres

import (
	"errors"
	"fmt"
	"log"

	"github.com/your-org/marketplace-billing/internal/domain/cart"
	"github.com/your-org/marketplace-billing/internal/domain/customer"
	"github.com/your-org/marketplace-billing/internal/domain/ledger"
	"github.com/your-org/marketplace-billing/internal/domain/order"
	"github.com/your-org/marketplace-billing/internal/domain/product"
	"github.com/your-org/marketplace-billing/internal/domain/subscription"
	"gorm.io/gorm"
)

// Migration handles database migrations
type Migration struct {
	db *gorm.DB
}

// NewMigration creates a new migration instance
func NewMigration(db *gorm.DB) *Migration {
	return &Migration{
		db: db,
	}
}

// Models lists every table in dependency order
func Models() []interface{} {
	return []interface{}{
		// Catalog
		&product.Product{},

		// Cart domain
		&cart.Cart{},
		&cart.CartItem{},

		// Order domain
		&order.Order{},
		&order.OrderItem{},
		&order.OrderStatusHistory{},

		// Subscription domain
		&subscription.Plan{},
		&subscription.Subscription{},

		// Gateway identity and event ledger
		&customer.Mapping{},
		&ledger.WebhookEvent{},
	}
}

// RunAutoMigrations runs GORM auto-migrations for all models
func (m *Migration) RunAutoMigrations() error {
	log.Println("🔄 Running database auto-migrations...")

	for _, model := range Models() {
		log.Printf("Migrating model: %T", model)
		if err := m.db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate model %T: %w", model, err)
		}
	}

	log.Println("✅ Database auto-migrations completed successfully")
	return nil
}

// Indexes returns the statements GORM tags cannot express
func Indexes() []string {
	return []string{
		// One active cart per user
		cart.ActiveCartIndexSQL,
		"CREATE INDEX IF NOT EXISTS idx_carts_user_status ON carts(user_id, status)",

		// Order lookups
		"CREATE INDEX IF NOT EXISTS idx_orders_user_created ON orders(user_id, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders(status, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id)",
		"CREATE INDEX IF NOT EXISTS idx_order_status_history_order ON order_status_history(order_id, created_at)",

		// Subscriptions
		"CREATE INDEX IF NOT EXISTS idx_subscriptions_user_status ON subscriptions(user_id, status)",

		// Ledger housekeeping
		"CREATE INDEX IF NOT EXISTS idx_webhook_events_status_created ON webhook_events(status, created_at)",
	}
}

// CreateIndexes creates additional indexes. A failed statement is logged and
// counted; the rest still run.
func (m *Migration) CreateIndexes() error {
	log.Println("🔄 Creating additional database indexes...")

	successCount := 0
	failCount := 0

	for _, indexSQL := range Indexes() {
		if err := m.db.Exec(indexSQL).Error; err != nil {
			log.Printf("⚠️ Failed to create index: %v", err)
			failCount++
		} else {
			successCount++
		}
	}

	log.Printf("✅ Created %d indexes successfully (%d failed)", successCount, failCount)
	if failCount > 0 {
		return fmt.Errorf("%d index statements failed", failCount)
	}
	return nil
}

// SeedInitialData inserts a small catalog and the subscription plans
func (m *Migration) SeedInitialData() error {
	log.Println("🌱 Seeding initial data...")

	if err := m.seedProducts(); err != nil {
		return fmt.Errorf("failed to seed products: %w", err)
	}

	if err := m.seedPlans(); err != nil {
		return fmt.Errorf("failed to seed plans: %w", err)
	}

	log.Println("✅ Initial data seeded successfully")
	return nil
}

func (m *Migration) seedProducts() error {
	products := []product.Product{
		{Name: "Sticker Pack", Slug: "sticker-pack", PriceMinor: 500, Currency: "jpy", IsActive: true},
		{Name: "Art Print A4", Slug: "art-print-a4", PriceMinor: 2400, Currency: "jpy", IsActive: true},
		{Name: "Digital Wallpaper Set", Slug: "digital-wallpaper-set", PriceMinor: 800, Currency: "jpy", IsActive: true},
	}

	for _, p := range products {
		var existing product.Product
		err := m.db.Where("slug = ?", p.Slug).First(&existing).Error
		if err == nil {
			log.Printf("⏭️ Product already exists: %s", p.Slug)
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := m.db.Create(&p).Error; err != nil {
			return err
		}
		log.Printf("✅ Created product: %s", p.Name)
	}
	return nil
}

// seedPlans creates one plan per target. Gateway price ids are left empty
// and must be set per environment before the plans can be purchased.
func (m *Migration) seedPlans() error {
	plans := []subscription.Plan{
		{Code: "buyer_monthly", Name: "Buyer Plus", Target: subscription.PlanTargetBuyer, PriceMinor: 480, Currency: "jpy", Interval: "month", IsActive: true},
		{Code: "creator_monthly", Name: "Creator Pro", Target: subscription.PlanTargetCreator, PriceMinor: 980, Currency: "jpy", Interval: "month", IsActive: true},
		{Code: "bundle_monthly", Name: "Bundle", Target: subscription.PlanTargetBundle, PriceMinor: 1280, Currency: "jpy", Interval: "month", IsActive: true},
	}

	for _, p := range plans {
		var existing subscription.Plan
		err := m.db.Where("code = ?", p.Code).First(&existing).Error
		if err == nil {
			log.Printf("⏭️ Plan already exists: %s", p.Code)
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := m.db.Create(&p).Error; err != nil {
			return err
		}
		log.Printf("✅ Created plan: %s", p.Code)
	}
	return nil
}

// GetTableInfo logs the row count of every public table
func (m *Migration) GetTableInfo() error {
	var tables []string

	if err := m.db.Raw("SELECT tablename FROM pg_tables WHERE schemaname = 'public' ORDER BY tablename").Scan(&tables).Error; err != nil {
		return err
	}

	log.Println("📊 Database Tables Information:")

	totalRecords := int64(0)
	for _, table := range tables {
		var count int64
		m.db.Table(table).Count(&count)
		totalRecords += count
		log.Printf("%-25s | %d records", table, count)
	}

	log.Printf("📈 Total records across all tables: %d", totalRecords)
	return nil
}
