package models

import (
	"log"

	"github.com/mmdatafocus/salesdesk_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{}, &User{},
		&Customer{}, &SalesPerson{},
		&StockItem{}, &StockMovement{},
		&ProductLot{}, &LotWaste{},
		&SalesOrder{}, &SalesOrderItem{}, &OrderPayment{},
		&OrderAuditEvent{}, &LockEvent{},
		&OutboxMessageRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
