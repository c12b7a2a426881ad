package models

import "time"

// OperationMode identifies a paid product feature.
type OperationMode string

const (
	ModeVideo OperationMode = "video"
	ModePhoto OperationMode = "photo"
	ModeVoice OperationMode = "voice"
)

// Variant selects a sub-flavor of an operation mode.
type Variant string

const (
	VariantStandard Variant = "standard"
	// VariantMorph blends two source images instead of image+prompt.
	VariantMorph Variant = "morph"
)

type Direction string

const (
	DirectionIncome  Direction = "income"
	DirectionExpense Direction = "expense"
)

// Category separates reconciled gateway money from promotional funds.
// Bonus credits are spendable but never matched against gateway reports.
type Category string

const (
	CategoryReal  Category = "real"
	CategoryBonus Category = "bonus"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// ServiceType names the product feature a transaction is attached to.
type ServiceType string

const (
	ServiceVideo  ServiceType = "video"
	ServicePhoto  ServiceType = "photo"
	ServiceVoice  ServiceType = "voice"
	ServiceTopUp  ServiceType = "topup"
	ServiceRefund ServiceType = "refund"
)

type User struct {
	ID         int64
	TelegramID int64
	BotName    string
	Username   string
	FirstName  string
	LastName   string
	Locale     string
	Balance    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Transaction is a ledger row. Immutable once written except for the
// pending -> completed|failed status transition; never deleted.
type Transaction struct {
	ID          int64
	InvoiceID   string
	UserID      int64
	BotName     string
	Amount      int64
	Direction   Direction
	Category    Category
	ServiceType ServiceType
	Status      TransactionStatus
	CreatedAt   time.Time
}

// Artifact references the persisted output of one completed operation.
type Artifact struct {
	ID        int64
	UserID    int64
	InvoiceID string
	ModelKey  string
	SourceURL string
	StoredKey string
	StoredURL string
	CreatedAt time.Time
}

// OperationRequest is the validated input of one paid generation. It is
// assembled by the transport layer (bot command flow, dispatcher task) and
// passed through the pipeline by value; it is never persisted as its own row.
type OperationRequest struct {
	UserID     int64
	TelegramID int64
	ChatID     int64
	BotName    string
	Locale     string
	Mode       OperationMode
	Variant    Variant
	ModelKey   string
	Prompt     string
	SourceURL  string
	MorphAURL  string
	MorphBURL  string
}

// PaymentEvent is the payload of a payment-ingestion task. InvoiceID is the
// caller-supplied idempotency key, unique per logical payment.
type PaymentEvent struct {
	TelegramID  int64       `json:"telegram_id"`
	BotName     string      `json:"bot_name"`
	Amount      int64       `json:"amount"`
	Direction   Direction   `json:"direction"`
	InvoiceID   string      `json:"invoice_id"`
	ServiceType ServiceType `json:"service_type"`
	Category    Category    `json:"category"`
}
