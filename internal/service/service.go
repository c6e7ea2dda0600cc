// Package service реализует бизнес-логику маркетплейса воркфлоу: публикацию, оформление
// заказов, обработку платёжных уведомлений и выдачу купленных артефактов.
package service

import (
	"context"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/workflow-market/internal/model"
	"github.com/mmeshcher/workflow-market/internal/payment"
	"github.com/mmeshcher/workflow-market/internal/repository"
	"github.com/mmeshcher/workflow-market/internal/storage"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	InTx(ctx context.Context, fn func(repository.Ledger) error) error

	CreateUser(ctx context.Context, email, displayName string, passwordHash []byte) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)

	CreateItem(ctx context.Context, it *model.Item) (int64, error)
	UpdateItem(ctx context.Context, sellerID, itemID int64, patch model.ItemPatch) error
	SetItemArtifact(ctx context.Context, sellerID, itemID int64, location string, size int64) error
	GetSellerItem(ctx context.Context, sellerID, itemID int64) (*model.Item, error)
	ListSellerItems(ctx context.Context, sellerID int64, status model.ItemStatus) ([]model.Item, error)
	TransitionToPublished(ctx context.Context, sellerID, itemID int64, check func(*model.Item) []string) ([]string, error)
	TransitionToDraft(ctx context.Context, sellerID, itemID int64) error

	GetPurchasableItem(ctx context.Context, itemID int64) (*model.PurchasableItem, error)
	ResolvePurchasableItems(ctx context.Context, itemIDs []int64) ([]model.PurchasableItem, error)

	SetOrderPaymentSession(ctx context.Context, orderID int64, sessionID string) error
	GetOrder(ctx context.Context, buyerID, orderID int64) (*model.Order, error)
	GetOrdersByBuyer(ctx context.Context, buyerID int64) ([]model.Order, error)

	FindEntitlement(ctx context.Context, buyerID, itemID int64) (*model.Entitlement, error)
	RecordAccess(ctx context.Context, buyerID, entitlementID int64) (*model.Entitlement, error)
	GetArtifactRef(ctx context.Context, buyerID, entitlementID int64) (*model.ArtifactRef, error)
	ListLibrary(ctx context.Context, buyerID int64) ([]model.LibraryEntry, error)
}

// ArtifactStore сохраняет загруженные артефакты и открывает их для выдачи.
type ArtifactStore interface {
	Save(sellerID int64, filename string, src io.Reader) (string, int64, error)
	Open(ctx context.Context, location string) (*storage.Object, error)
	Remove(location string) error
}

// Service содержит бизнес-логику маркетплейса.
type Service struct {
	repo     Repository
	provider payment.Provider
	store    ArtifactStore
	logger   *zap.Logger
	origin   string
}

// NewService создаёт сервис. provider может быть nil: тогда оформление через провайдера
// недоступно и покупки выполняются напрямую. origin задаёт адрес фронтенда для возвратов
// из платёжной сессии.
func NewService(repo Repository, provider payment.Provider, store ArtifactStore, logger *zap.Logger, origin string) *Service {
	return &Service{
		repo:     repo,
		provider: provider,
		store:    store,
		logger:   logger,
		origin:   strings.TrimRight(origin, "/"),
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// PaymentsEnabled сообщает, настроен ли внешний платёжный провайдер.
func (s *Service) PaymentsEnabled() bool {
	return s.provider != nil
}
