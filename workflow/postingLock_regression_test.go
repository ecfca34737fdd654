package workflow

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/mmdatafocus/salesdesk_backend/utils"
	"gorm.io/gorm"
)

// A competitor must not be able to acquire the per-order posting lock while a
// mutation's transaction is still uncommitted: under READ COMMITTED it would
// read the pre-commit order header and base its own write on stale state. The
// lock therefore has to outlive the COMMIT, on the same pinned connection.
func TestOrderMutationHoldsLockThroughCommit(t *testing.T) {
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
	ctx = utils.SetUserNameInContext(ctx, "Lock Test")

	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{Name: "Lock Co"})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	businessId := biz.ID.String()
	ctx = utils.SetBusinessIdInContext(ctx, businessId)

	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: "U Ba"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	order, err := models.CreateSalesOrder(ctx, &models.NewSalesOrder{
		CustomerId: customer.ID,
		OrderDate:  time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CreateSalesOrder: %v", err)
	}

	const sentinel = "written under the posting lock"
	db := config.GetDB()
	sawCh := make(chan string, 1)
	errCh := make(chan error, 1)

	// The competitor parks on GET_LOCK while the mutation's transaction is
	// open. Once it gets the lock it reads the order header outside any
	// transaction, so it sees whatever has been committed at that point.
	competitor := func() {
		err := db.Connection(func(conn *gorm.DB) error {
			if err := acquireOrderPostingLock(conn, businessId, order.ID); err != nil {
				return err
			}
			defer releaseOrderPostingLock(conn, businessId, order.ID)

			var notes string
			if err := conn.Model(&models.SalesOrder{}).Where("id = ?", order.ID).
				Select("notes").Scan(&notes).Error; err != nil {
				return err
			}
			sawCh <- notes
			return nil
		})
		if err != nil {
			errCh <- err
		}
	}

	_, err = withOrderMutation(ctx, order.ID, true, func(tx *gorm.DB, o *models.SalesOrder) error {
		if err := tx.Model(&models.SalesOrder{}).Where("id = ?", o.ID).
			Update("notes", sentinel).Error; err != nil {
			return err
		}
		go competitor()
		// give the competitor time to park on GET_LOCK before this
		// transaction commits
		time.Sleep(500 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("withOrderMutation: %v", err)
	}

	select {
	case notes := <-sawCh:
		if notes != sentinel {
			t.Fatalf("competitor acquired the lock before commit: read %q, want %q", notes, sentinel)
		}
	case err := <-errCh:
		t.Fatalf("competitor: %v", err)
	case <-time.After(15 * time.Second):
		t.Fatal("competitor never acquired the posting lock")
	}
}
