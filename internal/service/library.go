package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/workflow-market/internal/model"
	"github.com/mmeshcher/workflow-market/internal/repository"
	"github.com/mmeshcher/workflow-market/internal/storage"
)

const trackingTimeout = 5 * time.Second

var unsafeTitleChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Artifact — поток купленного артефакта для выдачи покупателю.
type Artifact struct {
	Body        io.ReadCloser
	Filename    string
	ContentType string
	// Size равен -1, если размер неизвестен.
	Size int64

	tracked <-chan error
	once    sync.Once
	err     error
}

// WithTracking связывает артефакт с каналом, в который придёт результат учёта скачивания.
func (a *Artifact) WithTracking(tracked <-chan error) *Artifact {
	a.tracked = tracked
	return a
}

// Tracked дожидается учёта скачивания и возвращает его результат. Ошибка учёта не
// влияет на выдачу потока и нужна только для диагностики.
func (a *Artifact) Tracked() error {
	a.once.Do(func() {
		if a.tracked != nil {
			a.err = <-a.tracked
		}
	})
	return a.err
}

// RecordAccess отмечает обращение покупателя к купленному воркфлоу.
func (s *Service) RecordAccess(ctx context.Context, buyerID, entitlementID int64) (*model.Entitlement, error) {
	e, err := s.repo.RecordAccess(ctx, buyerID, entitlementID)
	if err != nil {
		if errors.Is(err, repository.ErrEntitlementNotFound) {
			return nil, ErrNotFound
		}
		return nil, transient("record access", err)
	}
	return e, nil
}

// FetchArtifact открывает артефакт купленного воркфлоу и параллельно учитывает скачивание.
// Учёт выполняется в отдельной горутине и не отменяется вместе с запросом.
func (s *Service) FetchArtifact(ctx context.Context, buyerID, entitlementID int64) (*Artifact, error) {
	ref, err := s.repo.GetArtifactRef(ctx, buyerID, entitlementID)
	if err != nil {
		if errors.Is(err, repository.ErrEntitlementNotFound) {
			return nil, ErrNotFound
		}
		return nil, transient("get artifact ref", err)
	}
	if ref.Location == "" {
		return nil, fmt.Errorf("%w: artifact is not available", ErrNotFound)
	}

	obj, err := s.store.Open(ctx, ref.Location)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			s.logger.Warn("artifact missing in storage",
				zap.Int64("entitlementID", entitlementID), zap.String("location", ref.Location))
			return nil, fmt.Errorf("%w: artifact is missing", ErrNotFound)
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}

	ext := storage.Ext(ref.Location)
	if ext == "" {
		ext = ".json"
	}

	tracked := make(chan error, 1)
	a := (&Artifact{
		Body:        obj.Body,
		Filename:    downloadName(ref.Title, ext),
		ContentType: contentTypeFor(ext),
		Size:        obj.Size,
	}).WithTracking(tracked)

	go func() {
		trackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), trackingTimeout)
		defer cancel()

		_, err := s.repo.RecordAccess(trackCtx, buyerID, entitlementID)
		if err != nil {
			s.logger.Warn("download tracking error", zap.Error(err), zap.Int64("entitlementID", entitlementID))
		}
		tracked <- err
	}()

	return a, nil
}

// ListLibrary возвращает купленные покупателем воркфлоу.
func (s *Service) ListLibrary(ctx context.Context, buyerID int64) ([]model.LibraryEntry, error) {
	entries, err := s.repo.ListLibrary(ctx, buyerID)
	if err != nil {
		return nil, transient("list library", err)
	}
	return entries, nil
}

// ListOrders возвращает заказы покупателя.
func (s *Service) ListOrders(ctx context.Context, buyerID int64) ([]model.Order, error) {
	orders, err := s.repo.GetOrdersByBuyer(ctx, buyerID)
	if err != nil {
		return nil, transient("list orders", err)
	}
	return orders, nil
}

// GetOrder возвращает заказ покупателя с позициями.
func (s *Service) GetOrder(ctx context.Context, buyerID, orderID int64) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, buyerID, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, ErrNotFound
		}
		return nil, transient("get order", err)
	}
	return o, nil
}

func downloadName(title, ext string) string {
	base := unsafeTitleChars.ReplaceAllString(title, "_")
	if base == "" {
		base = "workflow"
	}
	return base + ext
}

func contentTypeFor(ext string) string {
	switch ext {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/x-yaml"
	default:
		return "application/octet-stream"
	}
}
