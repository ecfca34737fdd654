package models

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/utils"
	"gorm.io/gorm"
)

// OutboxMessageRecord is the transactional outbox row for income fan-out.
// It is written in the same transaction as the payment; publishing happens
// after commit via the dispatcher (workflow/outboxDispatcher.go).
type OutboxMessageRecord struct {
	ID              int       `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	BusinessId      string    `gorm:"size:64;not null;index" json:"business_id"`
	PaymentDateTime time.Time `gorm:"index;not null" json:"payment_date_time"`
	ReferenceId     int       `json:"reference_id"`
	ReferenceType   string    `gorm:"size:10" json:"reference_type"`
	Action          string    `gorm:"size:1" json:"action"`
	Payload         []byte    `gorm:"type:blob" json:"payload"`
	// publish happens after commit via the dispatcher
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

const (
	OutboxReferenceTypeOrderPayment = "OP"

	OutboxActionCreate = "C"
	OutboxActionDelete = "D"
)

// QueueIncomeMessage writes the outbox row for a payment inside the caller's
// transaction. The income record is generated downstream; order logic never
// reads it back.
func QueueIncomeMessage(tx *gorm.DB, payment *OrderPayment, action string) (*OutboxMessageRecord, error) {
	if payment == nil {
		return nil, errors.New("payment is required")
	}

	ctx := tx.Statement.Context
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	payload, err := json.Marshal(payment)
	if err != nil {
		return nil, err
	}

	record := OutboxMessageRecord{
		BusinessId:      payment.BusinessId,
		PaymentDateTime: payment.PaymentDateTime,
		ReferenceId:     payment.ID,
		ReferenceType:   OutboxReferenceTypeOrderPayment,
		Action:          action,
		Payload:         payload,
		PublishStatus:   OutboxPublishStatusPending,
		CorrelationId:   correlationId,
	}
	if err := tx.Create(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// ConvertToPubSubMessage builds the wire payload from an outbox row.
func ConvertToPubSubMessage(record OutboxMessageRecord) config.PubSubMessage {
	return config.PubSubMessage{
		ID:               record.ID,
		BusinessId:       record.BusinessId,
		PaymentDateTime:  record.PaymentDateTime,
		ReferenceId:      record.ReferenceId,
		ReferenceType:    record.ReferenceType,
		Action:           record.Action,
		FromSalesPayment: true,
		Payload:          record.Payload,
		CorrelationId:    record.CorrelationId,
	}
}
