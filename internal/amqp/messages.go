package amqp

import (
	"encoding/json"
	"time"
)

// TransferCommittedMessage announces a committed transfer on the event
// stream. It carries identifiers only; consumers fetch the legs from the
// gateway.
type TransferCommittedMessage struct {
	Correlator    string    `json:"correlator"`
	Kind          string    `json:"kind"`
	FromAccountID string    `json:"from_account_id"`
	ToAccountID   string    `json:"to_account_id"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewTransferCommittedMessage(correlator, kind, fromID, toID string) *TransferCommittedMessage {
	return &TransferCommittedMessage{
		Correlator:    correlator,
		Kind:          kind,
		FromAccountID: fromID,
		ToAccountID:   toID,
		Timestamp:     time.Now(),
	}
}

func (m *TransferCommittedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func TransferCommittedMessageFromJSON(data []byte) (*TransferCommittedMessage, error) {
	var msg TransferCommittedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// AllocationRetryMessage asks the worker to re-run allocation derivation for
// a transaction whose gateway write failed. The transaction id doubles as
// the idempotency key, so redelivery is harmless.
type AllocationRetryMessage struct {
	TransactionID string    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewAllocationRetryMessage(transactionID string) *AllocationRetryMessage {
	return &AllocationRetryMessage{
		TransactionID: transactionID,
		Timestamp:     time.Now(),
	}
}

func (m *AllocationRetryMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func AllocationRetryMessageFromJSON(data []byte) (*AllocationRetryMessage, error) {
	var msg AllocationRetryMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
