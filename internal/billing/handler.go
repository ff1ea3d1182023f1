package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mickstmt/izisales/internal/platform/httpx"
)

// Enqueuer schedules asynchronous submission work. The HTTP surface never
// talks to the gateway directly; it only queues.
type Enqueuer interface {
	EnqueueSubmit(saleID int64) error
}

// Handler manages billing endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	enqueuer  Enqueuer
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, enqueuer Enqueuer) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		enqueuer:  enqueuer,
		validator: validator.New(),
	}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/sales", func(r chi.Router) {
		r.Post("/", h.createSale)
		r.Get("/{id}/status", h.saleStatus)
		r.Post("/{id}/submit", h.submitSale)
		r.Post("/{id}/resend", h.resendSale)
		r.Post("/{id}/void", h.voidSale)
		r.Get("/{id}/cdr", h.downloadCDR)
	})
	r.Get("/limits/current", h.currentLimit)
	r.Get("/correlatives/next", h.nextCorrelative)
}

type createSaleItem struct {
	SKU       string `json:"sku"`
	Name      string `json:"name" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	UnitPrice string `json:"unit_price" validate:"required"`
}

type createSaleForm struct {
	Kind         string           `json:"kind" validate:"omitempty,oneof=BOLETA FACTURA NOTA_CREDITO NOTA_DEBITO"`
	Series       string           `json:"series" validate:"required,len=4"`
	BuyerDocType string           `json:"buyer_doc_type" validate:"required,oneof=DNI RUC CE PASAPORTE OTRO"`
	BuyerDocNum  string           `json:"buyer_doc_number"`
	BuyerName    string           `json:"buyer_name"`
	Items        []createSaleItem `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	var form createSaleForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		var msgs []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				msgs = append(msgs, fieldErr.Field()+": "+fieldErr.Tag())
			}
		}
		httpx.ProblemWithErrors(w, http.StatusUnprocessableEntity, "Validation failed", msgs)
		return
	}

	input := CreateSaleInput{
		Kind:   DocumentKind(form.Kind),
		Series: form.Series,
		Buyer: Buyer{
			DocType:   BuyerDocType(form.BuyerDocType),
			DocNumber: form.BuyerDocNum,
			Name:      form.BuyerName,
		},
		IssuedAt: time.Now().UTC(),
	}
	for _, item := range form.Items {
		price, err := decimal.NewFromString(item.UnitPrice)
		if err != nil || !price.IsPositive() {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", "Invalid unit price for "+item.Name)
			return
		}
		input.Items = append(input.Items, SaleItem{
			ProductSKU:  item.SKU,
			ProductName: item.Name,
			Quantity:    item.Quantity,
			UnitPrice:   price,
		})
	}

	sale, err := h.service.CreateSale(r.Context(), input)
	if err != nil {
		h.logger.Error("create sale failed",
			slog.String("request_id", httpx.RequestIDFromContext(r.Context())),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if err := h.enqueuer.EnqueueSubmit(sale.ID); err != nil {
		h.logger.Error("enqueue submission failed",
			slog.String("request_id", httpx.RequestIDFromContext(r.Context())),
			slog.Int64("sale_id", sale.ID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "Could not queue submission")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{
		"sale_id":     sale.ID,
		"correlative": sale.Correlative,
		"status":      sale.Status,
		"gross":       sale.GrossAmount.StringFixed(2),
	})
}

func (h *Handler) submitSale(w http.ResponseWriter, r *http.Request) {
	id, ok := h.saleID(w, r)
	if !ok {
		return
	}
	status, err := h.service.Status(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, mapServiceError(err))
		return
	}
	if status.Status == StatusAccepted {
		httpx.JSON(w, http.StatusOK, status)
		return
	}
	if err := h.enqueuer.EnqueueSubmit(id); err != nil {
		h.logger.Error("enqueue submission failed",
			slog.String("request_id", httpx.RequestIDFromContext(r.Context())),
			slog.Int64("sale_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "Could not queue submission")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{
		"sale_id": id,
		"queued":  true,
	})
}

func (h *Handler) resendSale(w http.ResponseWriter, r *http.Request) {
	id, ok := h.saleID(w, r)
	if !ok {
		return
	}
	outcome, err := h.service.Resend(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, mapServiceError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, outcome)
}

type voidSaleForm struct {
	Reason string `json:"reason" validate:"required,min=3"`
}

func (h *Handler) voidSale(w http.ResponseWriter, r *http.Request) {
	id, ok := h.saleID(w, r)
	if !ok {
		return
	}
	var form voidSaleForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", "A void reason is required")
		return
	}
	if err := h.service.Void(r.Context(), id, form.Reason); err != nil {
		httpx.RespondError(w, mapServiceError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sale_id": id, "voided": true})
}

func (h *Handler) saleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.saleID(w, r)
	if !ok {
		return
	}
	status, err := h.service.Status(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, mapServiceError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) downloadCDR(w http.ResponseWriter, r *http.Request) {
	id, ok := h.saleID(w, r)
	if !ok {
		return
	}
	data, err := h.service.Acknowledgment(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, mapServiceError(err))
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) currentLimit(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Limits().CurrentStatus(r.Context())
	if err != nil {
		h.logger.Error("read limit status failed",
			slog.String("request_id", httpx.RequestIDFromContext(r.Context())),
			slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "Could not read monthly limit")
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) nextCorrelative(w http.ResponseWriter, r *http.Request) {
	kind := DocumentKind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = KindBoleta
	}
	series := r.URL.Query().Get("series")
	if series == "" {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "series is required")
		return
	}
	next, err := h.service.Allocator().PeekNext(r.Context(), kind, series)
	if err != nil {
		httpx.RespondError(w, mapServiceError(err))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"next": next})
}

func (h *Handler) saleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "Invalid sale id")
		return 0, false
	}
	return id, true
}

// mapServiceError translates domain sentinels onto the shared HTTP error
// vocabulary.
func mapServiceError(err error) error {
	switch {
	case errors.Is(err, ErrSaleNotFound), errors.Is(err, ErrNotFound):
		return httpx.ErrNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrSeriesInactive):
		return httpx.ErrInvalidState
	case errors.Is(err, ErrLimitExceeded):
		return httpx.ErrLimitExceeded
	default:
		return err
	}
}
