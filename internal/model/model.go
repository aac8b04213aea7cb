package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Network string

const (
	NetworkMTN     Network = "MTN"
	NetworkAirtel  Network = "AT"
	NetworkTelecel Network = "TELECEL"
)

// ProviderBacked reports whether orders for the network are submitted to one
// of our provider adapters. Other networks are fulfilled by a dedicated
// external service and are never routed here.
func (n Network) ProviderBacked() bool {
	return n == NetworkMTN
}

type PaymentStatus string

const (
	PaymentUnpaid    PaymentStatus = "unpaid"
	PaymentCompleted PaymentStatus = "completed"
)

type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderProcessing      OrderStatus = "processing"
	OrderPendingDownload OrderStatus = "pending_download"
	OrderCompleted       OrderStatus = "completed"
	OrderFailed          OrderStatus = "failed"
	OrderBlacklisted     OrderStatus = "blacklisted"
)

type OrderQueue string

const (
	QueueDefault     OrderQueue = "default"
	QueueBlacklisted OrderQueue = "blacklisted"
)

type Order struct {
	ID            int64           `json:"id"`
	ShopID        *int64          `json:"shop_id,omitempty"`
	ParentShopID  *int64          `json:"parent_shop_id,omitempty"`
	Network       Network         `json:"network"`
	SizeGB        decimal.Decimal `json:"size_gb"`
	Recipient     string          `json:"recipient"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	Status        OrderStatus     `json:"status"`
	Queue         OrderQueue      `json:"queue"`
	Profit        decimal.Decimal `json:"profit"`
	ParentProfit  decimal.Decimal `json:"parent_profit"`
	ProviderRef   *string         `json:"provider_ref,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Direct orders are paid straight from a customer wallet and carry no shop,
// so they never produce ledger entries.
func (o Order) Direct() bool {
	return o.ShopID == nil
}

type TrackingStatus string

const (
	TrackingPending    TrackingStatus = "pending"
	TrackingProcessing TrackingStatus = "processing"
	TrackingCompleted  TrackingStatus = "completed"
	TrackingFailed     TrackingStatus = "failed"
)

func (s TrackingStatus) Terminal() bool {
	return s == TrackingCompleted || s == TrackingFailed
}

type OrderType string

const (
	OrderTypeShop   OrderType = "shop"
	OrderTypeDirect OrderType = "direct"
)

type FulfillmentTracking struct {
	ID          int64          `json:"id"`
	Provider    string         `json:"provider"`
	ProviderRef string         `json:"provider_ref"`
	Status      TrackingStatus `json:"status"`
	LastMessage string         `json:"last_message"`
	OrderID     int64          `json:"order_id"`
	OrderType   OrderType      `json:"order_type"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// WebhookEvent is an append-only audit record of every inbound provider
// callback, stored raw before any parsing is attempted.
type WebhookEvent struct {
	ID          string    `json:"id"`
	Provider    string    `json:"provider"`
	ProviderRef *string   `json:"provider_ref,omitempty"`
	Payload     string    `json:"payload"`
	ReceivedAt  time.Time `json:"received_at"`
}

type ProfitStatus string

const (
	ProfitPending   ProfitStatus = "pending"
	ProfitCredited  ProfitStatus = "credited"
	ProfitWithdrawn ProfitStatus = "withdrawn"
)

type ProfitRecord struct {
	ID        int64           `json:"id"`
	ShopID    int64           `json:"shop_id"`
	OrderID   int64           `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    ProfitStatus    `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// AvailableBalance is a materialized snapshot derived from profit records and
// approved withdrawals. It is never authoritative on its own.
type AvailableBalance struct {
	ShopID     int64           `json:"shop_id"`
	Total      decimal.Decimal `json:"total"`
	Credited   decimal.Decimal `json:"credited"`
	Withdrawn  decimal.Decimal `json:"withdrawn"`
	Pending    decimal.Decimal `json:"pending"`
	Available  decimal.Decimal `json:"available"`
	ComputedAt time.Time       `json:"computed_at"`
}

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

type WithdrawalRequest struct {
	ID          int64            `json:"id"`
	ShopID      int64            `json:"shop_id"`
	Amount      decimal.Decimal  `json:"amount"`
	Status      WithdrawalStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	ProcessedAt *time.Time       `json:"processed_at,omitempty"`
}

type BlacklistEntry struct {
	ID        int64     `json:"id"`
	Phone     string    `json:"phone"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

type Shop struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

type NotificationStatus string

const (
	NotificationSent   NotificationStatus = "sent"
	NotificationFailed NotificationStatus = "failed"
)

type NotificationLog struct {
	ID          int64              `json:"id"`
	BroadcastID *string            `json:"broadcast_id,omitempty"`
	Recipient   string             `json:"recipient"`
	Message     string             `json:"message"`
	Status      NotificationStatus `json:"status"`
	Error       string             `json:"error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}
