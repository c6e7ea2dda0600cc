// Package payment описывает взаимодействие с внешним платёжным провайдером.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// EventCheckoutCompleted — вид уведомления об успешной оплате платёжной сессии.
const EventCheckoutCompleted = "checkout.session.completed"

var (
	// ErrInvalidSignature возвращается, если подпись уведомления отсутствует или неверна.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrWebhookSecretMissing возвращается, если секрет для проверки уведомлений не настроен.
	ErrWebhookSecretMissing = errors.New("webhook secret is not configured")
	// ErrMalformedMetadata возвращается при разборе метаданных сессии, созданных не нами.
	ErrMalformedMetadata = errors.New("malformed session metadata")
)

// Provider — платёжный провайдер: создаёт платёжные сессии и проверяет входящие уведомления.
type Provider interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	VerifyAndParseEvent(payload []byte, signature string) (*Event, error)
}

// LineItem — позиция платёжной сессии.
type LineItem struct {
	Name       string
	UnitAmount decimal.Decimal
	Currency   string
	Quantity   int64
}

// SessionRequest описывает запрос на создание платёжной сессии.
type SessionRequest struct {
	LineItems  []LineItem
	SuccessURL string
	CancelURL  string
	Metadata   Metadata
}

// Session — созданная платёжная сессия.
type Session struct {
	ID  string
	URL string
}

// Event — проверенное уведомление провайдера.
type Event struct {
	ID              string
	Type            string
	SessionID       string
	PaymentIntentID string
	Metadata        map[string]string
}

// Metadata связывает платёжную сессию с заказом.
type Metadata struct {
	OrderID int64
	BuyerID int64
	ItemIDs []int64
}

const (
	metaOrderID = "orderId"
	metaBuyerID = "buyerId"
	metaItemIDs = "workflowIds"
)

// Encode сериализует метаданные в формат ключ-значение провайдера.
func (m Metadata) Encode() map[string]string {
	ids := make([]string, 0, len(m.ItemIDs))
	for _, id := range m.ItemIDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	return map[string]string{
		metaOrderID: strconv.FormatInt(m.OrderID, 10),
		metaBuyerID: strconv.FormatInt(m.BuyerID, 10),
		metaItemIDs: strings.Join(ids, ","),
	}
}

// ParseMetadata разбирает метаданные, сохранённые Encode.
func ParseMetadata(raw map[string]string) (Metadata, error) {
	var m Metadata

	orderID, err := strconv.ParseInt(raw[metaOrderID], 10, 64)
	if err != nil || orderID <= 0 {
		return m, fmt.Errorf("%w: order id %q", ErrMalformedMetadata, raw[metaOrderID])
	}
	buyerID, err := strconv.ParseInt(raw[metaBuyerID], 10, 64)
	if err != nil || buyerID <= 0 {
		return m, fmt.Errorf("%w: buyer id %q", ErrMalformedMetadata, raw[metaBuyerID])
	}

	m.OrderID = orderID
	m.BuyerID = buyerID

	for _, part := range strings.Split(raw[metaItemIDs], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return Metadata{}, fmt.Errorf("%w: item id %q", ErrMalformedMetadata, part)
		}
		m.ItemIDs = append(m.ItemIDs, id)
	}

	return m, nil
}

// MinorUnits переводит сумму в минимальные единицы валюты (центы).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
