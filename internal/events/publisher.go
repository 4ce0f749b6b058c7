package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/eventra/backend/internal/models"
)

// Topic carrying committed wallet transactions for downstream consumers
// (notifications, reporting). Events are emitted after the database commit
// and are strictly best-effort.
const TransactionsTopic = "wallet.transactions"

// TransactionCommitted is the wire shape of a ledger event.
type TransactionCommitted struct {
	TxnID        string `json:"txnId"`
	UserID       string `json:"userId"`
	Type         string `json:"type"`
	Amount       int64  `json:"amount"`
	BalanceAfter int64  `json:"balanceAfter"`
	RelatedID    string `json:"relatedId,omitempty"`
	TsUnixMs     int64  `json:"tsUnixMs"`
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	if len(brokers) == 0 {
		return nil
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        TransactionsTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (p *KafkaPublisher) PublishTransaction(ctx context.Context, txn models.WalletTransaction) error {
	e := TransactionCommitted{
		TxnID:        txn.ID,
		UserID:       txn.UserID,
		Type:         txn.Type,
		Amount:       txn.Amount,
		BalanceAfter: txn.BalanceAfter,
		RelatedID:    txn.RelatedID,
		TsUnixMs:     time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(e)
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(txn.UserID), // per-user ordering within a partition
		Value: b,
	})
}

func (p *KafkaPublisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
