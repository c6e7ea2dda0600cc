// Package model содержит доменные сущности маркетплейса воркфлоу.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User представляет зарегистрированного пользователя (покупателя или продавца).
type User struct {
	ID           int64
	Email        string
	DisplayName  string
	PasswordHash []byte
	CreatedAt    time.Time
}

// ItemStatus описывает статус публикации воркфлоу.
type ItemStatus string

const (
	ItemStatusDraft     ItemStatus = "DRAFT"
	ItemStatusPublished ItemStatus = "PUBLISHED"
)

// DeliveryType описывает способ доставки купленного воркфлоу.
type DeliveryType string

const (
	DeliveryFile   DeliveryType = "FILE"
	DeliveryRemote DeliveryType = "REMOTE"
)

// Valid сообщает, является ли значение известным способом доставки.
func (d DeliveryType) Valid() bool {
	return d == DeliveryFile || d == DeliveryRemote
}

// Item описывает продаваемый воркфлоу продавца.
type Item struct {
	ID            int64
	SellerID      int64
	Title         string
	Description   string
	Price         decimal.Decimal
	Currency      string
	DeliveryType  DeliveryType
	Status        ItemStatus
	ArtifactPath  string
	ArtifactSize  int64
	PurchaseCount int64
	// DownloadTotal заполняется только в списке воркфлоу продавца.
	DownloadTotal int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PurchasableItem содержит факты о воркфлоу, необходимые для оформления заказа.
type PurchasableItem struct {
	ID       int64
	Title    string
	Price    decimal.Decimal
	Currency string
	SellerID int64
	Status   ItemStatus
}

// OrderStatus описывает статус оплаты заказа.
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "PENDING"
	OrderStatusPaid    OrderStatus = "PAID"
)

// Order описывает попытку покупки.
type Order struct {
	ID               int64
	BuyerID          int64
	TotalAmount      decimal.Decimal
	Currency         string
	Status           OrderStatus
	CreatedAt        time.Time
	PaidAt           *time.Time
	PaymentSessionID string
	PaymentIntentID  string
	Items            []OrderItem
}

// OrderItem описывает позицию заказа. Продавец и цены фиксируются на момент создания заказа.
type OrderItem struct {
	OrderID           int64
	ItemID            int64
	SellerID          int64
	UnitPrice         decimal.Decimal
	PlatformFeeAmount decimal.Decimal
	SellerEarnings    decimal.Decimal
}

// Entitlement описывает право покупателя на доступ к воркфлоу.
type Entitlement struct {
	ID             int64
	BuyerID        int64
	ItemID         int64
	OrderID        int64
	PurchasedAt    time.Time
	LastAccessedAt *time.Time
	DownloadCount  int64
}

// LibraryEntry описывает запись библиотеки покупателя.
type LibraryEntry struct {
	Entitlement Entitlement
	Title       string
	Price       decimal.Decimal
	Currency    string
}

// ArtifactRef указывает, где лежит артефакт купленного воркфлоу.
type ArtifactRef struct {
	EntitlementID int64
	Title         string
	DeliveryType  DeliveryType
	Location      string
}

// ItemPatch описывает частичное изменение черновика. Nil-поля не изменяются.
type ItemPatch struct {
	Title        *string
	Description  *string
	Price        *decimal.Decimal
	Currency     *string
	DeliveryType *DeliveryType
}

// Empty сообщает, что патч ничего не меняет.
func (p ItemPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Price == nil && p.Currency == nil && p.DeliveryType == nil
}
