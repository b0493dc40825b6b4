package cart

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/your-org/marketplace-billing/internal/domain/product"
	"github.com/your-org/marketplace-billing/internal/pkg/dbtest"
	"gorm.io/gorm"
)

func setupCartService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t, &product.Product{}, &Cart{}, &CartItem{})
	return NewService(db, product.NewService(db)), db
}

func createProduct(t *testing.T, db *gorm.DB, name string, price int64, currency string, active bool) product.Product {
	t.Helper()
	p := product.Product{Name: name, Slug: name, PriceMinor: price, Currency: currency, IsActive: active}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	return p
}

func TestGetOrCreateActiveReturnsSameCart(t *testing.T) {
	svc, _ := setupCartService(t)
	ctx := context.Background()
	userID := uuid.New()

	first, err := svc.GetOrCreateActive(ctx, userID)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := svc.GetOrCreateActive(ctx, userID)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same cart, got %s and %s", first.ID, second.ID)
	}
}

func TestCreateActiveRereadsOnConflict(t *testing.T) {
	svc, db := setupCartService(t)
	dbtest.Exec(t, db, ActiveCartIndexSQL)
	ctx := context.Background()
	userID := uuid.New()

	winner := Cart{UserID: userID, Status: CartStatusActive}
	if err := db.Create(&winner).Error; err != nil {
		t.Fatalf("seed cart: %v", err)
	}

	// Simulates the loser of a concurrent get-or-create
	got, err := svc.createActive(ctx, userID)
	if err != nil {
		t.Fatalf("create active: %v", err)
	}
	if got.ID != winner.ID {
		t.Fatalf("expected winner cart %s, got %s", winner.ID, got.ID)
	}

	var count int64
	db.Model(&Cart{}).Where("user_id = ?", userID).Count(&count)
	if count != 1 {
		t.Fatalf("expected one cart, got %d", count)
	}
}

func TestAddItemSnapshotsAndAccumulates(t *testing.T) {
	svc, db := setupCartService(t)
	ctx := context.Background()
	userID := uuid.New()
	p := createProduct(t, db, "poster", 1000, "jpy", true)

	if _, err := svc.AddItem(ctx, userID, &AddItemRequest{ProductID: p.ID, Quantity: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Catalog price changes after the first add must not affect the line
	if err := db.Model(&product.Product{}).Where("id = ?", p.ID).Update("price_minor", 9999).Error; err != nil {
		t.Fatalf("update price: %v", err)
	}

	resp, err := svc.AddItem(ctx, userID, &AddItemRequest{ProductID: p.ID, Quantity: 1, Op: OpAdd})
	if err != nil {
		t.Fatalf("add again: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected one line, got %d", len(resp.Items))
	}
	if resp.Items[0].Quantity != 2 || resp.Items[0].UnitPriceMinor != 1000 {
		t.Fatalf("unexpected line %+v", resp.Items[0])
	}
	if resp.Totals.SubtotalMinor != 2000 || resp.Totals.Currency != "jpy" {
		t.Fatalf("unexpected totals %+v", resp.Totals)
	}
}

func TestAddItemSetCapsAndDeletes(t *testing.T) {
	svc, db := setupCartService(t)
	ctx := context.Background()
	userID := uuid.New()
	p := createProduct(t, db, "mug", 500, "jpy", true)

	resp, err := svc.AddItem(ctx, userID, &AddItemRequest{ProductID: p.ID, Quantity: 250, Op: OpSet})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if resp.Items[0].Quantity != MaxItemQuantity {
		t.Fatalf("expected quantity capped at %d, got %d", MaxItemQuantity, resp.Items[0].Quantity)
	}

	resp, err = svc.AddItem(ctx, userID, &AddItemRequest{ProductID: p.ID, Quantity: 0, Op: OpSet})
	if err != nil {
		t.Fatalf("set zero: %v", err)
	}
	if len(resp.Items) != 0 {
		t.Fatalf("expected line removed, got %d items", len(resp.Items))
	}
}

func TestAddItemRejectsCurrencyMismatchAndInactive(t *testing.T) {
	svc, db := setupCartService(t)
	ctx := context.Background()
	userID := uuid.New()
	yen := createProduct(t, db, "yen", 1000, "jpy", true)
	dollar := createProduct(t, db, "dollar", 1000, "usd", true)
	hidden := createProduct(t, db, "hidden", 1000, "jpy", false)

	if _, err := svc.AddItem(ctx, userID, &AddItemRequest{ProductID: yen.ID, Quantity: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.AddItem(ctx, userID, &AddItemRequest{ProductID: dollar.ID, Quantity: 1}); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
	if _, err := svc.AddItem(ctx, userID, &AddItemRequest{ProductID: hidden.ID, Quantity: 1}); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
	if _, err := svc.AddItem(ctx, userID, &AddItemRequest{ProductID: yen.ID, Quantity: 1, Op: "merge"}); !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestCloseActiveCartsClosesDuplicatesOnce(t *testing.T) {
	svc, db := setupCartService(t)
	ctx := context.Background()
	userID := uuid.New()
	other := uuid.New()

	// Two active carts for one user, as left behind by racing get-or-create calls
	for i := 0; i < 2; i++ {
		c := Cart{UserID: userID, Status: CartStatusActive, Currency: "jpy"}
		if err := db.Create(&c).Error; err != nil {
			t.Fatalf("create cart: %v", err)
		}
		item := CartItem{CartID: c.ID, ProductID: uuid.New(), Title: "x", Quantity: 1, UnitPriceMinor: 100, Currency: "jpy"}
		if err := db.Create(&item).Error; err != nil {
			t.Fatalf("create item: %v", err)
		}
	}
	untouched := Cart{UserID: other, Status: CartStatusActive}
	if err := db.Create(&untouched).Error; err != nil {
		t.Fatalf("create other cart: %v", err)
	}

	closed, err := svc.CloseActiveCarts(ctx, db, userID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed != 2 {
		t.Fatalf("expected 2 carts closed, got %d", closed)
	}

	var active int64
	db.Model(&Cart{}).Where("user_id = ? AND status = ?", userID, CartStatusActive).Count(&active)
	if active != 0 {
		t.Fatalf("expected no active carts, got %d", active)
	}
	var items int64
	db.Model(&CartItem{}).Count(&items)
	if items != 0 {
		t.Fatalf("expected items cleared, got %d", items)
	}

	again, err := svc.CloseActiveCarts(ctx, db, userID)
	if err != nil {
		t.Fatalf("close again: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected second close to be a no-op, got %d", again)
	}

	var otherCart Cart
	if err := db.First(&otherCart, "id = ?", untouched.ID).Error; err != nil {
		t.Fatalf("load other cart: %v", err)
	}
	if otherCart.Status != CartStatusActive {
		t.Fatalf("other user's cart must stay active, got %s", otherCart.Status)
	}
}
