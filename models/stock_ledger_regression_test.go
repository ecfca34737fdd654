package models_test

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
	"gorm.io/gorm"
)

// Full-stack regression for the ledger-based inventory: balances must come out
// of the movement ledger alone, backdated rows must land correctly, and the
// ledger must be append only.
func TestStockLedgerRegression_BalancesAndImmutability(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

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
	ctx = utils.SetUserNameInContext(ctx, "Test")

	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{Name: "Ledger Co"})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	ctx = utils.SetBusinessIdInContext(ctx, biz.ID.String())

	item, err := models.CreateStockItem(ctx, &models.NewStockItem{
		Name:     "Flour",
		ItemType: models.StockItemTypeRawMaterial,
		Unit:     "kg",
	})
	if err != nil {
		t.Fatalf("CreateStockItem: %v", err)
	}

	day := func(d int) time.Time {
		return time.Date(2026, 8, d, 0, 0, 0, 0, time.UTC)
	}
	record := func(kind models.MovementKind, qty string, effective time.Time) *models.StockMovement {
		t.Helper()
		m, err := models.RecordStockMovement(ctx, &models.NewStockMovement{
			StockItemId:   item.ID,
			MovementKind:  kind,
			Quantity:      mustDecimal(t, qty),
			EffectiveDate: effective,
		})
		if err != nil {
			t.Fatalf("RecordStockMovement(%s %s): %v", kind, qty, err)
		}
		return m
	}

	record(models.MovementKindIn, "100", day(1))
	record(models.MovementKindConsumption, "30", day(2))
	record(models.MovementKindWaste, "5", day(3))
	record(models.MovementKindTransferOut, "10", day(4))
	record(models.MovementKindTransferIn, "2", day(5))

	assertBalance := func(asOf time.Time, want string) {
		t.Helper()
		got, err := models.StockBalance(ctx, item.ID, asOf)
		if err != nil {
			t.Fatalf("StockBalance(%s): %v", asOf, err)
		}
		if !got.Equal(mustDecimal(t, want)) {
			t.Fatalf("balance as of %s: got %s, want %s", asOf.Format("2006-01-02"), got, want)
		}
	}

	assertBalance(day(5), "57")
	assertBalance(day(2), "70")

	// A backdated movement changes historical balances, not just the latest.
	record(models.MovementKindIn, "10", day(1).Add(12*time.Hour))
	assertBalance(day(2), "80")
	assertBalance(day(5), "67")

	// Full replay must agree with the SUM projection.
	replayed, err := models.ReplayStockBalance(ctx, item.ID, day(5))
	if err != nil {
		t.Fatalf("ReplayStockBalance: %v", err)
	}
	if !replayed.Equal(mustDecimal(t, "67")) {
		t.Fatalf("replayed balance: got %s, want 67", replayed)
	}

	// History window opens with the balance just before the window.
	history, err := models.StockMovementHistory(ctx, item.ID, day(2), day(4))
	if err != nil {
		t.Fatalf("StockMovementHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history rows: got %d, want 3", len(history))
	}
	// Opening 110, then -30, -5, -10.
	wantRunning := []string{"80", "75", "65"}
	for i, row := range history {
		if !row.RunningBalance.Equal(mustDecimal(t, wantRunning[i])) {
			t.Fatalf("history row %d: running balance got %s, want %s", i, row.RunningBalance, wantRunning[i])
		}
	}

	// A movement in the sub-second gap just before the window still counts
	// toward the opening balance: the opening is everything strictly before
	// fromDate, not "fromDate minus one second".
	record(models.MovementKindIn, "3", day(2).Add(-500*time.Millisecond))
	history, err = models.StockMovementHistory(ctx, item.ID, day(2), day(4))
	if err != nil {
		t.Fatalf("StockMovementHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history rows after gap movement: got %d, want 3", len(history))
	}
	wantRunning = []string{"83", "78", "68"}
	for i, row := range history {
		if !row.RunningBalance.Equal(mustDecimal(t, wantRunning[i])) {
			t.Fatalf("history row %d after gap movement: running balance got %s, want %s", i, row.RunningBalance, wantRunning[i])
		}
	}

	// The ledger is append only.
	db := config.GetDB()
	victim := record(models.MovementKindIn, "1", day(6))
	if err := db.WithContext(ctx).Model(victim).Update("quantity", mustDecimal(t, "999")).Error; err == nil {
		t.Fatal("expected update on a stock movement to fail")
	}
	if err := db.WithContext(ctx).Delete(victim).Error; err == nil {
		t.Fatal("expected delete on a stock movement to fail")
	}

	// Zero and negative quantities never reach the ledger.
	for _, qty := range []string{"0", "-5"} {
		_, err := models.RecordStockMovement(ctx, &models.NewStockMovement{
			StockItemId:   item.ID,
			MovementKind:  models.MovementKindIn,
			Quantity:      mustDecimal(t, qty),
			EffectiveDate: day(6),
		})
		if !errors.Is(err, utils.ErrInvalidMovementQuantity) {
			t.Fatalf("quantity %s: got %v, want ErrInvalidMovementQuantity", qty, err)
		}
	}

	// Unknown reference types never reach the ledger either.
	badRef := models.MovementRefType("PurchaseOrder")
	if _, err := models.RecordStockMovement(ctx, &models.NewStockMovement{
		StockItemId:   item.ID,
		MovementKind:  models.MovementKindIn,
		Quantity:      mustDecimal(t, "1"),
		EffectiveDate: day(6),
		ReferenceType: &badRef,
	}); err == nil {
		t.Fatal("expected an unknown reference type to be rejected")
	}
}

// Lot counters: deductions serialize under row locks, short stock fails before
// any write, and waste stays consistent with the balance breakdown.
func TestLotCounterRegression_DeductRestoreWaste(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

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
	ctx = utils.SetUserNameInContext(ctx, "Test")

	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{Name: "Lot Co"})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	businessID := biz.ID.String()
	ctx = utils.SetBusinessIdInContext(ctx, businessID)

	lot, err := models.CreateProductLot(ctx, &models.NewProductLot{
		LotCode:         "LOT-2026-08-A",
		Name:            "Moon Cake Batch A",
		Unit:            "pcs",
		UnitPrice:       mustDecimal(t, "2500"),
		QuantityCreated: mustDecimal(t, "50"),
	})
	if err != nil {
		t.Fatalf("CreateProductLot: %v", err)
	}
	if !lot.QuantityAvailable.Equal(mustDecimal(t, "50")) {
		t.Fatalf("fresh lot available: got %s, want 50", lot.QuantityAvailable)
	}

	db := config.GetDB()

	// Short stock fails before any write.
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := models.DeductLotQuantity(tx, businessID, lot.ID, mustDecimal(t, "60"))
		return err
	})
	if !errors.Is(err, utils.ErrInsufficientInventory) {
		t.Fatalf("overdraw: got %v, want ErrInsufficientInventory", err)
	}
	fresh, err := models.GetProductLot(ctx, lot.ID)
	if err != nil {
		t.Fatalf("GetProductLot: %v", err)
	}
	if !fresh.QuantityAvailable.Equal(mustDecimal(t, "50")) {
		t.Fatalf("lot changed by failed deduction: got %s, want 50", fresh.QuantityAvailable)
	}

	// Waste deducts and ledgers in one transaction.
	if _, err := models.RecordLotWaste(ctx, &models.NewLotWaste{
		ProductLotId: lot.ID,
		Quantity:     mustDecimal(t, "10"),
		Reason:       "dropped tray",
	}); err != nil {
		t.Fatalf("RecordLotWaste: %v", err)
	}

	breakdown, err := models.GetLotBalanceBreakdown(ctx, lot.ID)
	if err != nil {
		t.Fatalf("GetLotBalanceBreakdown: %v", err)
	}
	if !breakdown.QuantityAvailable.Equal(mustDecimal(t, "40")) {
		t.Fatalf("available after waste: got %s, want 40", breakdown.QuantityAvailable)
	}
	if !breakdown.Derived.Equal(breakdown.QuantityAvailable) {
		t.Fatalf("breakdown mismatch: derived %s, stored %s", breakdown.Derived, breakdown.QuantityAvailable)
	}

	// Waste records are append only.
	wasteRecords, err := models.ListLotWaste(ctx, lot.ID)
	if err != nil {
		t.Fatalf("ListLotWaste: %v", err)
	}
	if len(wasteRecords) != 1 {
		t.Fatalf("waste records: got %d, want 1", len(wasteRecords))
	}
	if err := db.WithContext(ctx).Delete(wasteRecords[0]).Error; err == nil {
		t.Fatal("expected delete on a waste record to fail")
	}
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return v
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("salesdesk-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("salesdesk-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
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
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
