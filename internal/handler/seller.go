package handler

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/workflow-market/internal/model"
	"github.com/mmeshcher/workflow-market/internal/service"
)

// maxUploadRequestBytes ограничивает тело multipart-запроса. Лимит на сам файл
// проверяет хранилище.
const maxUploadRequestBytes = 64 << 20

type itemRequest struct {
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	DeliveryType string          `json:"deliveryType"`
}

type itemPatchRequest struct {
	Title        *string          `json:"title"`
	Description  *string          `json:"description"`
	Price        *decimal.Decimal `json:"price"`
	Currency     *string          `json:"currency"`
	DeliveryType *string          `json:"deliveryType"`
}

type remoteArtifactRequest struct {
	URL string `json:"url"`
}

type itemResponse struct {
	ID            int64           `json:"id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	Currency      string          `json:"currency"`
	DeliveryType  string          `json:"deliveryType,omitempty"`
	Status        string          `json:"status"`
	HasArtifact   bool            `json:"hasArtifact"`
	ArtifactSize  int64           `json:"artifactSize,omitempty"`
	PurchaseCount int64           `json:"purchaseCount"`
	CreatedAt     string          `json:"createdAt"`
	UpdatedAt     string          `json:"updatedAt"`
}

// listedItemResponse дополняет карточку воркфлоу статистикой скачиваний.
type listedItemResponse struct {
	itemResponse
	DownloadTotal int64 `json:"downloadTotal"`
}

type validationResponse struct {
	OK     bool     `json:"ok"`
	Issues []string `json:"issues"`
}

func toItemResponse(it *model.Item) itemResponse {
	return itemResponse{
		ID:            it.ID,
		Title:         it.Title,
		Description:   it.Description,
		Price:         it.Price,
		Currency:      it.Currency,
		DeliveryType:  string(it.DeliveryType),
		Status:        string(it.Status),
		HasArtifact:   it.ArtifactPath != "",
		ArtifactSize:  it.ArtifactSize,
		PurchaseCount: it.PurchaseCount,
		CreatedAt:     it.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     it.UpdatedAt.Format(time.RFC3339),
	}
}

func (p itemPatchRequest) toPatch() model.ItemPatch {
	patch := model.ItemPatch{
		Title:       p.Title,
		Description: p.Description,
		Price:       p.Price,
		Currency:    p.Currency,
	}
	if p.DeliveryType != nil {
		dt := model.DeliveryType(*p.DeliveryType)
		patch.DeliveryType = &dt
	}
	return patch
}

// CreateItem создаёт черновик воркфлоу продавца.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req itemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	it, err := h.service.CreateDraft(r.Context(), sellerID, service.Draft{
		Title:        req.Title,
		Description:  req.Description,
		Price:        req.Price,
		Currency:     req.Currency,
		DeliveryType: model.DeliveryType(req.DeliveryType),
	})
	if err != nil {
		h.writeError(w, err, "create draft error", zap.Int64("sellerID", sellerID))
		return
	}
	writeJSON(w, http.StatusCreated, toItemResponse(it))
}

// UpdateItem частично изменяет черновик воркфлоу.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := h.userID(w, r)
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "workflowId")
	if !ok {
		return
	}

	var req itemPatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	it, err := h.service.UpdateDraft(r.Context(), sellerID, itemID, req.toPatch())
	if err != nil {
		h.writeError(w, err, "update draft error", zap.Int64("itemID", itemID))
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(it))
}

// ListItems возвращает воркфлоу продавца. Параметр status ограничивает выборку.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := h.userID(w, r)
	if !ok {
		return
	}

	status := model.ItemStatus(r.URL.Query().Get("status"))
	items, err := h.service.ListSellerItems(r.Context(), sellerID, status)
	if err != nil {
		h.writeError(w, err, "list seller items error", zap.Int64("sellerID", sellerID))
		return
	}

	resp := make([]listedItemResponse, 0, len(items))
	for i := range items {
		resp = append(resp, listedItemResponse{
			itemResponse:  toItemResponse(&items[i]),
			DownloadTotal: items[i].DownloadTotal,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// UploadArtifact принимает файл артефакта в поле file multipart-формы.
func (h *Handler) UploadArtifact(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := h.userID(w, r)
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "workflowId")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadRequestBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "multipart form expected"})
		return
	}

	part, err := filePart(mr)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "file field is required"})
		return
	}
	defer part.Close()

	it, err := h.service.UploadArtifact(r.Context(), sellerID, itemID, part.FileName(), part)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "upload is too large"})
			return
		}
		h.writeError(w, err, "upload artifact error", zap.Int64("itemID", itemID))
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(it))
}

func filePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" && part.FileName() != "" {
			return part, nil
		}
		_, _ = io.Copy(io.Discard, part)
		part.Close()
	}
}

// SetRemoteArtifact задаёт внешний адрес артефакта.
func (h *Handler) SetRemoteArtifact(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := h.userID(w, r)
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "workflowId")
	if !ok {
		return
	}

	var req remoteArtifactRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	it, err := h.service.SetRemoteArtifact(r.Context(), sellerID, itemID, req.URL)
	if err != nil {
		h.writeError(w, err, "set remote artifact error", zap.Int64("itemID", itemID))
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(it))
}

// ValidateItem возвращает список проблем, мешающих публикации.
func (h *Handler) ValidateItem(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := h.userID(w, r)
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "workflowId")
	if !ok {
		return
	}

	issues, err := h.service.ValidateForPublish(r.Context(), sellerID, itemID)
	if err != nil {
		h.writeError(w, err, "validate item error", zap.Int64("itemID", itemID))
		return
	}
	writeJSON(w, http.StatusOK, validationResponse{OK: len(issues) == 0, Issues: issues})
}

// PublishItem публикует воркфлоу.
func (h *Handler) PublishItem(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := h.userID(w, r)
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "workflowId")
	if !ok {
		return
	}

	if err := h.service.TransitionToPublished(r.Context(), sellerID, itemID); err != nil {
		h.writeError(w, err, "publish item error", zap.Int64("itemID", itemID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnpublishItem возвращает воркфлоу в черновики.
func (h *Handler) UnpublishItem(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := h.userID(w, r)
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "workflowId")
	if !ok {
		return
	}

	if err := h.service.TransitionToDraft(r.Context(), sellerID, itemID); err != nil {
		h.writeError(w, err, "unpublish item error", zap.Int64("itemID", itemID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
