package order

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/your-org/marketplace-billing/internal/pkg/dbtest"
	"gorm.io/gorm"
)

func setupOrderService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t, &Order{}, &OrderItem{}, &OrderStatusHistory{})
	return NewService(db), db
}

func strPtr(s string) *string { return &s }

func newOrder(userID uuid.UUID, session string, status OrderStatus, total int64) *Order {
	return &Order{
		UserID:                  userID,
		Status:                  status,
		Currency:                "jpy",
		SubtotalMinor:           total,
		TotalMinor:              total,
		StripeCheckoutSessionID: strPtr(session),
		Items: []OrderItem{
			{ProductID: uuid.New(), Title: "a", Quantity: 2, UnitPriceMinor: 1000, Currency: "jpy"},
			{ProductID: uuid.New(), Title: "b", Quantity: 1, UnitPriceMinor: 500, Currency: "jpy"},
		},
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusPending, OrderStatusPaid, true},
		{OrderStatusPending, OrderStatusFailed, true},
		{OrderStatusPending, OrderStatusCanceled, true},
		{OrderStatusPaid, OrderStatusFailed, false},
		{OrderStatusPaid, OrderStatusCanceled, false},
		{OrderStatusPaid, OrderStatusPending, false},
		{OrderStatusPaid, OrderStatusPartiallyRefunded, true},
		{OrderStatusPaid, OrderStatusRefunded, true},
		{OrderStatusPartiallyRefunded, OrderStatusRefunded, true},
		{OrderStatusPartiallyRefunded, OrderStatusPaid, false},
		{OrderStatusRefunded, OrderStatusPartiallyRefunded, false},
		{OrderStatusRefunded, OrderStatusPaid, false},
		{OrderStatusFailed, OrderStatusPaid, false},
		{OrderStatusCanceled, OrderStatusPaid, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestRefundStatus(t *testing.T) {
	if got := RefundStatus(0, 2500); got != "" {
		t.Errorf("expected no status for zero refund, got %s", got)
	}
	if got := RefundStatus(1000, 2500); got != OrderStatusPartiallyRefunded {
		t.Errorf("expected partially_refunded, got %s", got)
	}
	if got := RefundStatus(2500, 2500); got != OrderStatusRefunded {
		t.Errorf("expected refunded, got %s", got)
	}
	if got := RefundStatus(3000, 2500); got != OrderStatusRefunded {
		t.Errorf("expected refunded for over-refund, got %s", got)
	}
}

func TestInsertIfAbsentIsKeyedBySession(t *testing.T) {
	svc, db := setupOrderService(t)
	ctx := context.Background()
	userID := uuid.New()

	inserted, err := svc.InsertIfAbsent(ctx, nil, newOrder(userID, "cs_1", OrderStatusPaid, 2500))
	if err != nil || !inserted {
		t.Fatalf("first insert: inserted=%v err=%v", inserted, err)
	}
	inserted, err = svc.InsertIfAbsent(ctx, nil, newOrder(userID, "cs_1", OrderStatusPaid, 2500))
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if inserted {
		t.Fatal("expected second insert to be skipped")
	}

	var orders, items int64
	db.Model(&Order{}).Count(&orders)
	db.Model(&OrderItem{}).Count(&items)
	if orders != 1 || items != 2 {
		t.Fatalf("expected 1 order and 2 items, got %d and %d", orders, items)
	}

	o, err := svc.GetBySessionID(ctx, nil, "cs_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if o.ItemsSubtotal() != o.SubtotalMinor {
		t.Fatalf("items sum %d does not match subtotal %d", o.ItemsSubtotal(), o.SubtotalMinor)
	}
	if o.Items[0].LineTotalMinor == 0 {
		t.Fatal("expected line total to be computed")
	}
}

func TestTransitionRespectsStateMachine(t *testing.T) {
	svc, _ := setupOrderService(t)
	ctx := context.Background()

	o := newOrder(uuid.New(), "cs_2", OrderStatusPending, 2500)
	if err := svc.CreatePending(ctx, nil, o); err != nil {
		t.Fatalf("create: %v", err)
	}

	changed, err := svc.Transition(ctx, nil, o.ID, OrderStatusPaid, "evt_1")
	if err != nil || !changed {
		t.Fatalf("pending -> paid: changed=%v err=%v", changed, err)
	}

	// Late failure and cancel notifications for a paid order are ignored
	for _, to := range []OrderStatus{OrderStatusFailed, OrderStatusCanceled, OrderStatusPending, OrderStatusPaid} {
		changed, err := svc.Transition(ctx, nil, o.ID, to, "evt_late")
		if err != nil {
			t.Fatalf("paid -> %s: %v", to, err)
		}
		if changed {
			t.Fatalf("paid -> %s must be rejected", to)
		}
	}

	got, err := svc.GetByID(ctx, nil, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != OrderStatusPaid || got.PaidAt == nil {
		t.Fatalf("unexpected order %+v", got)
	}
	if len(got.StatusHistory) != 1 || got.StatusHistory[0].FromStatus != OrderStatusPending {
		t.Fatalf("unexpected history %+v", got.StatusHistory)
	}
}

func TestTransitionUnknownOrder(t *testing.T) {
	svc, _ := setupOrderService(t)
	if _, err := svc.Transition(context.Background(), nil, uuid.New(), OrderStatusPaid, ""); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestBackfillKeepsExistingRefs(t *testing.T) {
	svc, _ := setupOrderService(t)
	ctx := context.Background()

	o := newOrder(uuid.New(), "cs_3", OrderStatusPaid, 2500)
	o.StripePaymentIntentID = strPtr("pi_original")
	if _, err := svc.InsertIfAbsent(ctx, nil, o); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := svc.Backfill(ctx, nil, o.ID, Refs{PaymentIntentID: "pi_other", ChargeID: "ch_1"}); err != nil {
		t.Fatalf("backfill: %v", err)
	}

	got, _ := svc.GetByID(ctx, nil, o.ID)
	if *got.StripePaymentIntentID != "pi_original" {
		t.Fatalf("payment intent overwritten: %s", *got.StripePaymentIntentID)
	}
	if got.StripeChargeID == nil || *got.StripeChargeID != "ch_1" {
		t.Fatalf("charge not backfilled: %v", got.StripeChargeID)
	}
}

func TestApplyRefundIsCumulativeAndMonotonic(t *testing.T) {
	svc, _ := setupOrderService(t)
	ctx := context.Background()

	o := newOrder(uuid.New(), "cs_4", OrderStatusPaid, 2500)
	if _, err := svc.InsertIfAbsent(ctx, nil, o); err != nil {
		t.Fatalf("insert: %v", err)
	}

	applied, got, err := svc.ApplyRefund(ctx, o.ID, 1000, "evt_r1")
	if err != nil || !applied {
		t.Fatalf("partial refund: applied=%v err=%v", applied, err)
	}
	if got.Status != OrderStatusPartiallyRefunded || got.RefundedMinor != 1000 {
		t.Fatalf("unexpected order after partial refund: %s %d", got.Status, got.RefundedMinor)
	}

	// Replaying the same cumulative figure changes nothing
	applied, got, err = svc.ApplyRefund(ctx, o.ID, 1000, "evt_r1")
	if err != nil || applied {
		t.Fatalf("replay: applied=%v err=%v", applied, err)
	}
	if got.RefundedMinor != 1000 {
		t.Fatalf("replay changed amount to %d", got.RefundedMinor)
	}

	applied, got, err = svc.ApplyRefund(ctx, o.ID, 2500, "evt_r2")
	if err != nil || !applied {
		t.Fatalf("full refund: applied=%v err=%v", applied, err)
	}
	if got.Status != OrderStatusRefunded || got.RefundedMinor != 2500 || got.RefundedAt == nil {
		t.Fatalf("unexpected order after full refund: %+v", got)
	}

	// An older, smaller figure arriving late is ignored
	applied, got, err = svc.ApplyRefund(ctx, o.ID, 1000, "evt_r1")
	if err != nil || applied {
		t.Fatalf("stale refund: applied=%v err=%v", applied, err)
	}
	if got.Status != OrderStatusRefunded || got.RefundedMinor != 2500 {
		t.Fatalf("stale refund regressed order: %s %d", got.Status, got.RefundedMinor)
	}
}

func TestApplyRefundRejectsUnsettledOrder(t *testing.T) {
	svc, _ := setupOrderService(t)
	ctx := context.Background()

	pending := newOrder(uuid.New(), "cs_5", OrderStatusPending, 2500)
	if err := svc.CreatePending(ctx, nil, pending); err != nil {
		t.Fatalf("create: %v", err)
	}
	applied, _, err := svc.ApplyRefund(ctx, pending.ID, 500, "evt")
	if !errors.Is(err, ErrNotYetPaid) || applied {
		t.Fatalf("expected ErrNotYetPaid, got applied=%v err=%v", applied, err)
	}
	got, err := svc.GetByID(ctx, nil, pending.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != OrderStatusPending || got.RefundedMinor != 0 {
		t.Fatalf("pending order changed: %+v", got)
	}

	// Once paid, the same figure applies
	if _, err := svc.Transition(ctx, nil, pending.ID, OrderStatusPaid, "evt_paid"); err != nil {
		t.Fatalf("pay: %v", err)
	}
	applied, got, err = svc.ApplyRefund(ctx, pending.ID, 500, "evt")
	if err != nil || !applied || got.Status != OrderStatusPartiallyRefunded {
		t.Fatalf("refund after payment: applied=%v err=%v order=%+v", applied, err, got)
	}

	canceled := newOrder(uuid.New(), "cs_5b", OrderStatusPending, 2500)
	if err := svc.CreatePending(ctx, nil, canceled); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Transition(ctx, nil, canceled.ID, OrderStatusCanceled, "evt_exp"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, _, err := svc.ApplyRefund(ctx, canceled.ID, 500, "evt"); !errors.Is(err, ErrNotRefundable) {
		t.Fatalf("expected ErrNotRefundable, got %v", err)
	}
}

func TestSettleAmountsOnlyTouchesPaidOrders(t *testing.T) {
	svc, _ := setupOrderService(t)
	ctx := context.Background()

	o := newOrder(uuid.New(), "cs_8", OrderStatusPending, 2500)
	if err := svc.CreatePending(ctx, nil, o); err != nil {
		t.Fatalf("create: %v", err)
	}
	charged := Amounts{Currency: "jpy", SubtotalMinor: 2500, TotalMinor: 2000}

	if err := svc.SettleAmounts(ctx, nil, o.ID, charged); err != nil {
		t.Fatalf("settle pending: %v", err)
	}
	got, _ := svc.GetByID(ctx, nil, o.ID)
	if got.TotalMinor != 2500 {
		t.Fatalf("pending order settled early: %d", got.TotalMinor)
	}

	if _, err := svc.Transition(ctx, nil, o.ID, OrderStatusPaid, "evt"); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if err := svc.SettleAmounts(ctx, nil, o.ID, charged); err != nil {
		t.Fatalf("settle: %v", err)
	}
	got, _ = svc.GetByID(ctx, nil, o.ID)
	if got.TotalMinor != 2000 || got.SubtotalMinor != 2500 {
		t.Fatalf("unexpected amounts %d/%d", got.SubtotalMinor, got.TotalMinor)
	}
}

func TestFindForRefundPrefersPaymentIntent(t *testing.T) {
	svc, _ := setupOrderService(t)
	ctx := context.Background()

	byPI := newOrder(uuid.New(), "cs_6", OrderStatusPaid, 100)
	byPI.StripePaymentIntentID = strPtr("pi_6")
	byCharge := newOrder(uuid.New(), "cs_7", OrderStatusPaid, 100)
	byCharge.StripeChargeID = strPtr("ch_7")
	for _, o := range []*Order{byPI, byCharge} {
		if _, err := svc.InsertIfAbsent(ctx, nil, o); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := svc.FindForRefund(ctx, "pi_6", "ch_7")
	if err != nil || got.ID != byPI.ID {
		t.Fatalf("expected payment intent match, got %v %v", got, err)
	}
	got, err = svc.FindForRefund(ctx, "pi_unknown", "ch_7")
	if err != nil || got.ID != byCharge.ID {
		t.Fatalf("expected charge fallback, got %v %v", got, err)
	}
	if _, err := svc.FindForRefund(ctx, "", ""); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestListForUserPaginates(t *testing.T) {
	svc, _ := setupOrderService(t)
	ctx := context.Background()
	userID := uuid.New()

	for _, session := range []string{"cs_a", "cs_b", "cs_c"} {
		if _, err := svc.InsertIfAbsent(ctx, nil, newOrder(userID, session, OrderStatusPaid, 2500)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if _, err := svc.InsertIfAbsent(ctx, nil, newOrder(uuid.New(), "cs_other", OrderStatusPaid, 2500)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	resp, err := svc.ListForUser(ctx, userID, &OrderListRequest{Page: 1, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if resp.Pagination.Total != 3 || len(resp.Orders) != 2 || !resp.Pagination.HasNext {
		t.Fatalf("unexpected page %+v", resp.Pagination)
	}
	if _, err := svc.GetForUserBySession(ctx, uuid.New(), "cs_a"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected other user's lookup to miss, got %v", err)
	}
}
