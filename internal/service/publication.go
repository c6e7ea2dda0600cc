package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/workflow-market/internal/model"
	"github.com/mmeshcher/workflow-market/internal/repository"
	"github.com/mmeshcher/workflow-market/internal/storage"
	"github.com/mmeshcher/workflow-market/internal/validation"
)

const defaultCurrency = "USD"

// Draft описывает новый воркфлоу продавца.
type Draft struct {
	Title        string
	Description  string
	Price        decimal.Decimal
	Currency     string
	DeliveryType model.DeliveryType
}

// CreateDraft создаёт воркфлоу в статусе DRAFT.
func (s *Service) CreateDraft(ctx context.Context, sellerID int64, d Draft) (*model.Item, error) {
	d.Title = strings.TrimSpace(d.Title)
	d.Currency = strings.ToUpper(strings.TrimSpace(d.Currency))
	if d.Currency == "" {
		d.Currency = defaultCurrency
	}

	patch := model.ItemPatch{
		Title:        &d.Title,
		Price:        &d.Price,
		Currency:     &d.Currency,
		DeliveryType: &d.DeliveryType,
	}
	if issues := validation.ItemFieldIssues(patch); len(issues) > 0 {
		return nil, invalid(issues...)
	}

	id, err := s.repo.CreateItem(ctx, &model.Item{
		SellerID:     sellerID,
		Title:        d.Title,
		Description:  d.Description,
		Price:        d.Price,
		Currency:     d.Currency,
		DeliveryType: d.DeliveryType,
		Status:       model.ItemStatusDraft,
	})
	if err != nil {
		return nil, transient("create item", err)
	}

	return s.sellerItem(ctx, sellerID, id)
}

// UpdateDraft применяет частичное изменение к воркфлоу продавца.
func (s *Service) UpdateDraft(ctx context.Context, sellerID, itemID int64, patch model.ItemPatch) (*model.Item, error) {
	if patch.Empty() {
		return nil, invalid("nothing to update")
	}

	if patch.Title != nil {
		t := strings.TrimSpace(*patch.Title)
		patch.Title = &t
	}
	if patch.Currency != nil {
		c := strings.ToUpper(strings.TrimSpace(*patch.Currency))
		patch.Currency = &c
	}
	if issues := validation.ItemFieldIssues(patch); len(issues) > 0 {
		return nil, invalid(issues...)
	}

	if err := s.repo.UpdateItem(ctx, sellerID, itemID, patch); err != nil {
		return nil, itemErr("update item", err)
	}

	return s.sellerItem(ctx, sellerID, itemID)
}

// UploadArtifact сохраняет файл артефакта воркфлоу продавца. Предыдущий локальный файл
// удаляется после успешной замены.
func (s *Service) UploadArtifact(ctx context.Context, sellerID, itemID int64, filename string, src io.Reader) (*model.Item, error) {
	prev, err := s.sellerItem(ctx, sellerID, itemID)
	if err != nil {
		return nil, err
	}

	location, size, err := s.store.Save(sellerID, filename, src)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, invalid("artifact exceeds the upload size limit")
		}
		return nil, fmt.Errorf("save artifact: %w", err)
	}

	if err := s.repo.SetItemArtifact(ctx, sellerID, itemID, location, size); err != nil {
		s.removeArtifact(location)
		return nil, itemErr("set item artifact", err)
	}

	if prev.ArtifactPath != "" && prev.ArtifactPath != location {
		s.removeArtifact(prev.ArtifactPath)
	}

	s.logger.Info("artifact uploaded",
		zap.Int64("sellerID", sellerID), zap.Int64("itemID", itemID), zap.Int64("size", size))
	return s.sellerItem(ctx, sellerID, itemID)
}

// SetRemoteArtifact задаёт ссылку на артефакт для воркфлоу с доставкой REMOTE.
func (s *Service) SetRemoteArtifact(ctx context.Context, sellerID, itemID int64, rawURL string) (*model.Item, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !storage.IsRemote(rawURL) {
		return nil, invalid("remote artifact URL must be an http(s) URL")
	}

	it, err := s.sellerItem(ctx, sellerID, itemID)
	if err != nil {
		return nil, err
	}
	if it.DeliveryType != model.DeliveryRemote {
		return nil, invalid("remote artifact URL requires REMOTE delivery type")
	}

	if err := s.repo.SetItemArtifact(ctx, sellerID, itemID, rawURL, 0); err != nil {
		return nil, itemErr("set item artifact", err)
	}

	if it.ArtifactPath != "" && it.ArtifactPath != rawURL {
		s.removeArtifact(it.ArtifactPath)
	}

	return s.sellerItem(ctx, sellerID, itemID)
}

// ValidateForPublish проверяет готовность воркфлоу к публикации без изменения состояния.
func (s *Service) ValidateForPublish(ctx context.Context, sellerID, itemID int64) ([]string, error) {
	it, err := s.sellerItem(ctx, sellerID, itemID)
	if err != nil {
		return nil, err
	}

	issues := validation.PublishIssues(it, s.opener(ctx))
	if issues == nil {
		issues = []string{}
	}
	return issues, nil
}

// TransitionToPublished публикует воркфлоу. При нарушении правил возвращается
// *ValidationError со всеми замечаниями.
func (s *Service) TransitionToPublished(ctx context.Context, sellerID, itemID int64) error {
	issues, err := s.repo.TransitionToPublished(ctx, sellerID, itemID, func(it *model.Item) []string {
		return validation.PublishIssues(it, s.opener(ctx))
	})
	if err != nil {
		return itemErr("publish item", err)
	}
	if len(issues) > 0 {
		return invalid(issues...)
	}

	s.logger.Info("workflow published", zap.Int64("sellerID", sellerID), zap.Int64("itemID", itemID))
	return nil
}

// TransitionToDraft снимает воркфлоу с продажи. Выданные доступы сохраняются.
func (s *Service) TransitionToDraft(ctx context.Context, sellerID, itemID int64) error {
	if err := s.repo.TransitionToDraft(ctx, sellerID, itemID); err != nil {
		return itemErr("unpublish item", err)
	}
	return nil
}

// ListSellerItems возвращает воркфлоу продавца, при непустом status только в этом статусе.
func (s *Service) ListSellerItems(ctx context.Context, sellerID int64, status model.ItemStatus) ([]model.Item, error) {
	status = model.ItemStatus(strings.ToUpper(strings.TrimSpace(string(status))))
	switch status {
	case "", model.ItemStatusDraft, model.ItemStatusPublished:
	default:
		return nil, invalid("status must be DRAFT or PUBLISHED")
	}

	items, err := s.repo.ListSellerItems(ctx, sellerID, status)
	if err != nil {
		return nil, transient("list seller items", err)
	}
	return items, nil
}

func (s *Service) sellerItem(ctx context.Context, sellerID, itemID int64) (*model.Item, error) {
	it, err := s.repo.GetSellerItem(ctx, sellerID, itemID)
	if err != nil {
		return nil, itemErr("get seller item", err)
	}
	return it, nil
}

func (s *Service) opener(ctx context.Context) validation.OpenFunc {
	return func(location string) (io.ReadCloser, error) {
		obj, err := s.store.Open(ctx, location)
		if err != nil {
			return nil, err
		}
		return obj.Body, nil
	}
}

func (s *Service) removeArtifact(location string) {
	if err := s.store.Remove(location); err != nil {
		s.logger.Warn("artifact file not removed", zap.String("location", location), zap.Error(err))
	}
}

func itemErr(op string, err error) error {
	if errors.Is(err, repository.ErrItemNotFound) {
		return ErrNotFound
	}
	return transient(op, err)
}
