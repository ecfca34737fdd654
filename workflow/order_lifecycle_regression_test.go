package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/mmdatafocus/salesdesk_backend/utils"
	"github.com/shopspring/decimal"
)

// Full-stack regression: one order walked through its whole lifecycle. Status
// is always derived, lot counters follow item mutations, lock/unlock honors
// the unlock window, and the audit trail records every step.
func TestOrderLifecycleRegression(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startTestRedis(t)
	t.Cleanup(func() { _ = removeTestContainer(redisName) })

	mysqlName, mysqlPort := startTestMySQL(t)
	t.Cleanup(func() { _ = removeTestContainer(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "salesdesk_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Lifecycle Test")

	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{Name: "Lifecycle Co"})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	ctx = utils.SetBusinessIdInContext(ctx, biz.ID.String())

	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: "Daw Mya"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}

	lot, err := models.CreateProductLot(ctx, &models.NewProductLot{
		LotCode:         "LOT-LC-1",
		Name:            "Batch One",
		Unit:            "pcs",
		UnitPrice:       dec(t, "100"),
		QuantityCreated: dec(t, "50"),
	})
	if err != nil {
		t.Fatalf("CreateProductLot: %v", err)
	}

	order, err := models.CreateSalesOrder(ctx, &models.NewSalesOrder{
		CustomerId: customer.ID,
		OrderDate:  time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CreateSalesOrder: %v", err)
	}
	if order.CurrentStatus != models.OrderStatusDraft {
		t.Fatalf("fresh order status: got %s, want Draft", order.CurrentStatus)
	}

	assertOrder := func(wantStatus models.OrderStatus, wantPayment models.PaymentStatus) *models.SalesOrder {
		t.Helper()
		got, err := models.GetSalesOrder(ctx, order.ID)
		if err != nil {
			t.Fatalf("GetSalesOrder: %v", err)
		}
		if got.CurrentStatus != wantStatus || got.PaymentStatus != wantPayment {
			t.Fatalf("order state: got (%s, %s), want (%s, %s)",
				got.CurrentStatus, got.PaymentStatus, wantStatus, wantPayment)
		}
		return got
	}
	assertLotAvailable := func(want string) {
		t.Helper()
		got, err := models.GetProductLot(ctx, lot.ID)
		if err != nil {
			t.Fatalf("GetProductLot: %v", err)
		}
		if !got.QuantityAvailable.Equal(dec(t, want)) {
			t.Fatalf("lot available: got %s, want %s", got.QuantityAvailable, want)
		}
	}

	// Add an item: lot is deducted, total derived, status moves to Confirmed.
	if _, err := AddOrderItem(ctx, order.ID, &models.NewSalesOrderItem{
		ProductLotId: lot.ID,
		Quantity:     dec(t, "5"),
		UnitPrice:    dec(t, "100"),
	}); err != nil {
		t.Fatalf("AddOrderItem: %v", err)
	}
	assertLotAvailable("45")
	so := assertOrder(models.OrderStatusConfirmed, models.PaymentStatusReady)
	if !so.TotalAmount.Equal(dec(t, "500")) {
		t.Fatalf("order total: got %s, want 500", so.TotalAmount)
	}

	// Overdraw fails before any write.
	_, err = AddOrderItem(ctx, order.ID, &models.NewSalesOrderItem{
		ProductLotId: lot.ID,
		Quantity:     dec(t, "100"),
		UnitPrice:    dec(t, "100"),
	})
	if !errors.Is(err, utils.ErrInsufficientInventory) {
		t.Fatalf("overdraw: got %v, want ErrInsufficientInventory", err)
	}
	assertLotAvailable("45")

	// Discount reduces the net owed.
	if _, err := SetOrderDiscount(ctx, order.ID, dec(t, "100")); err != nil {
		t.Fatalf("SetOrderDiscount: %v", err)
	}

	pay := func(amount string) *models.OrderPayment {
		t.Helper()
		p, err := AddOrderPayment(ctx, order.ID, &models.NewOrderPayment{
			Amount:          dec(t, amount),
			PaymentMode:     models.PaymentModeCash,
			PaymentDateTime: time.Now(),
		})
		if err != nil {
			t.Fatalf("AddOrderPayment(%s): %v", amount, err)
		}
		return p
	}

	pay("200")
	assertOrder(models.OrderStatusConfirmed, models.PaymentStatusPartial)

	// Hold overrides the displayed status and blocks locking, nothing else.
	if _, err := PlaceHold(ctx, order.ID, "pending delivery check"); err != nil {
		t.Fatalf("PlaceHold: %v", err)
	}
	assertOrder(models.OrderStatusHold, models.PaymentStatusPartial)
	if _, err := LockOrder(ctx, order.ID); !errors.Is(err, utils.ErrOrderNotCompleted) {
		t.Fatalf("lock while on hold: got %v, want ErrOrderNotCompleted", err)
	}
	if _, err := RemoveHold(ctx, order.ID); err != nil {
		t.Fatalf("RemoveHold: %v", err)
	}
	assertOrder(models.OrderStatusConfirmed, models.PaymentStatusPartial)

	// Net owed is 500 - 100; the second payment completes the order.
	pay("200")
	completed := assertOrder(models.OrderStatusCompleted, models.PaymentStatusFull)
	if completed.CompletedAt == nil {
		t.Fatal("completed order has no completed_at")
	}
	firstCompletedAt := *completed.CompletedAt

	// Overpayment is accepted and completed_at is never restamped.
	extra := pay("50")
	still := assertOrder(models.OrderStatusCompleted, models.PaymentStatusFull)
	if still.CompletedAt == nil || !still.CompletedAt.Equal(firstCompletedAt) {
		t.Fatalf("completed_at restamped: got %v, want %v", still.CompletedAt, firstCompletedAt)
	}

	fetched, err := models.GetOrderPayment(ctx, extra.ID)
	if err != nil {
		t.Fatalf("GetOrderPayment: %v", err)
	}
	if fetched.SalesOrderId != order.ID {
		t.Fatalf("payment order: got %d, want %d", fetched.SalesOrderId, order.ID)
	}
	if fetched.IncomeQueuedAt == nil {
		t.Fatal("payment missing income_queued_at after fan-out")
	}

	// Fanned-out payments are immutable while strict mode is on. With strict
	// mode lifted, the delete goes through and queues an income reversal in the
	// same transaction.
	if _, err := DeleteOrderPayment(ctx, order.ID, extra.ID); !errors.Is(err, utils.ErrPaymentImmutable) {
		t.Fatalf("delete fanned-out payment: got %v, want ErrPaymentImmutable", err)
	}
	t.Setenv("STRICT_PAYMENT_IMMUTABLE", "false")
	if _, err := DeleteOrderPayment(ctx, order.ID, extra.ID); err != nil {
		t.Fatalf("DeleteOrderPayment: %v", err)
	}
	t.Setenv("STRICT_PAYMENT_IMMUTABLE", "")
	var reversals int64
	if err := config.GetDB().Model(&models.OutboxMessageRecord{}).
		Where("reference_type = ? AND reference_id = ? AND action = ?",
			models.OutboxReferenceTypeOrderPayment, extra.ID, models.OutboxActionDelete).
		Count(&reversals).Error; err != nil {
		t.Fatalf("count reversal rows: %v", err)
	}
	if reversals != 1 {
		t.Fatalf("reversal outbox rows: got %d, want 1", reversals)
	}
	assertOrder(models.OrderStatusCompleted, models.PaymentStatusFull)

	// Lock the completed order.
	locked, err := LockOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("LockOrder: %v", err)
	}
	if locked.LockedAt == nil || locked.CanUnlockUntil == nil {
		t.Fatal("locked order missing lock timestamps")
	}
	if got := locked.CanUnlockUntil.Sub(*locked.LockedAt); got != unlockWindow {
		t.Fatalf("unlock window: got %s, want %s", got, unlockWindow)
	}
	if _, err := LockOrder(ctx, order.ID); !errors.Is(err, utils.ErrAlreadyLocked) {
		t.Fatalf("double lock: got %v, want ErrAlreadyLocked", err)
	}

	// Locked orders reject every mutation.
	_, err = AddOrderItem(ctx, order.ID, &models.NewSalesOrderItem{
		ProductLotId: lot.ID,
		Quantity:     dec(t, "1"),
		UnitPrice:    dec(t, "100"),
	})
	if !errors.Is(err, utils.ErrOrderLocked) {
		t.Fatalf("mutate while locked: got %v, want ErrOrderLocked", err)
	}

	// Unlock needs a reason and must happen inside the window.
	if _, err := UnlockOrder(ctx, order.ID, ""); !errors.Is(err, utils.ErrReasonRequired) {
		t.Fatalf("unlock without reason: got %v, want ErrReasonRequired", err)
	}

	originalNow := timeNow
	timeNow = func() time.Time { return locked.CanUnlockUntil.Add(time.Second) }
	if _, err := UnlockOrder(ctx, order.ID, "pricing correction"); !errors.Is(err, utils.ErrUnlockWindowExpired) {
		timeNow = originalNow
		t.Fatalf("unlock after window: got %v, want ErrUnlockWindowExpired", err)
	}
	timeNow = originalNow

	if _, err := UnlockOrder(ctx, order.ID, "pricing correction"); err != nil {
		t.Fatalf("UnlockOrder: %v", err)
	}

	// Cancelling restores every item quantity and is terminal.
	if _, err := CancelOrder(ctx, order.ID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	assertLotAvailable("50")
	assertOrder(models.OrderStatusCancelled, models.PaymentStatusFull)
	if _, err := AddOrderPayment(ctx, order.ID, &models.NewOrderPayment{
		Amount:          dec(t, "10"),
		PaymentDateTime: time.Now(),
	}); !errors.Is(err, utils.ErrOrderCancelled) {
		t.Fatalf("pay cancelled order: got %v, want ErrOrderCancelled", err)
	}

	// The audit trail saw everything, newest first.
	events, err := models.ListOrderAuditEvents(ctx, order.ID)
	if err != nil {
		t.Fatalf("ListOrderAuditEvents: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("empty audit trail")
	}
	if events[0].EventKind != models.AuditOrderCancelled {
		t.Fatalf("newest audit event: got %s, want ORDER_CANCELLED", events[0].EventKind)
	}
	seen := map[models.AuditEventKind]bool{}
	for _, e := range events {
		seen[e.EventKind] = true
		if e.PerformerName != "Lifecycle Test" {
			t.Fatalf("audit performer: got %q, want %q", e.PerformerName, "Lifecycle Test")
		}
	}
	for _, kind := range []models.AuditEventKind{
		models.AuditOrderCreated, models.AuditItemAdded, models.AuditDiscountChanged,
		models.AuditPaymentAdded, models.AuditPaymentDeleted, models.AuditHoldPlaced,
		models.AuditHoldRemoved, models.AuditStatusChanged, models.AuditOrderCompleted,
		models.AuditOrderLocked, models.AuditOrderUnlocked, models.AuditOrderCancelled,
	} {
		if !seen[kind] {
			t.Errorf("audit trail missing %s", kind)
		}
	}

	// Lock events carry the unlock reason.
	lockEvents, err := models.ListLockEvents(ctx, order.ID)
	if err != nil {
		t.Fatalf("ListLockEvents: %v", err)
	}
	if len(lockEvents) != 2 {
		t.Fatalf("lock events: got %d, want 2", len(lockEvents))
	}
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return v
}

func startTestRedis(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("salesdesk-wf-redis-%d", time.Now().UnixNano())
	out, err := runDocker(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := containerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := runDocker("exec", name, "redis-cli", "ping"); err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startTestMySQL(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("salesdesk-wf-mysql-%d", time.Now().UnixNano())
	out, err := runDocker(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=salesdesk_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := containerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := runDocker("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent"); err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func containerHostPort(container, portProto string) (string, error) {
	out, err := runDocker("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func removeTestContainer(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := runDocker("rm", "-f", container)
	return err
}

func runDocker(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
