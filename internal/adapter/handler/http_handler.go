package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rl1809/pawfect-shop/internal/core/domain"
	"github.com/rl1809/pawfect-shop/internal/core/service"
	"github.com/rl1809/pawfect-shop/internal/logging"
)

const (
	maxBodyBytes = 1 << 20

	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"

	msgOrderCreated    = "Pedido criado com sucesso!"
	msgSubscribed      = "Cadastro realizado! Seu desconto de 10% foi enviado."
	msgIncompleteData  = "Dados incompletos"
	msgInvalidJSON     = "JSON inválido"
	msgInvalidID       = "ID inválido"
	msgProductNotFound = "Produto não encontrado"
	msgInvalidEmail    = "E-mail inválido"
	msgEmailTaken      = "E-mail já cadastrado"
	msgDuplicate       = "Pedido já está em processamento"
	msgInternal        = "Erro interno"
	msgNotFound        = "Endpoint não encontrado"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HTTPHandler struct {
	orders     *service.OrderService
	catalog    *service.CatalogService
	newsletter *service.NewsletterService
	store      Pinger
	logger     *zap.Logger
}

func NewHTTPHandler(
	orders *service.OrderService,
	catalog *service.CatalogService,
	newsletter *service.NewsletterService,
	store Pinger,
	logger *zap.Logger,
) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{
		orders:     orders,
		catalog:    catalog,
		newsletter: newsletter,
		store:      store,
		logger:     logger,
	}
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	placed, err := h.orders.PlaceOrder(r.Context(), req.toDomain(r.Header.Get(idempotencyHeader)))
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}

	if placed.Replayed {
		w.Header().Set(replayedHeader, "true")
	}
	writeJSON(w, http.StatusCreated, createOrderResponse{
		Message: msgOrderCreated,
		OrderID: placed.ID,
		Total:   domain.FormatBRL(placed.Total),
	})
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context(), r.URL.Query().Get("categoria"))
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}

	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, newProductResponse(p))
	}
	writeJSON(w, http.StatusOK, productListResponse{Products: out, Total: len(out)})
}

func (h *HTTPHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidID)
		return
	}
	h.getProduct(w, r, id)
}

func (h *HTTPHandler) getProduct(w http.ResponseWriter, r *http.Request, id int64) {
	p, err := h.catalog.GetProduct(r.Context(), id)
	if err != nil {
		h.writeCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, productEnvelope{Product: newProductResponse(p)})
}

func (h *HTTPHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req newsletterRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.newsletter.Subscribe(r.Context(), req.Email)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, messageResponse{Message: msgSubscribed})
	case errors.Is(err, service.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, msgInvalidEmail)
	case errors.Is(err, service.ErrAlreadySubscribed):
		writeError(w, http.StatusConflict, msgEmailTaken)
	default:
		h.internalError(w, r, err)
	}
}

// Legacy serves the single-script API, /api/produtos.php?action=..., that older
// storefront builds still call.
func (h *HTTPHandler) Legacy(w http.ResponseWriter, r *http.Request) {
	action := strings.Trim(r.URL.Query().Get("action"), "/")

	switch {
	case r.Method == http.MethodGet && action == "produtos":
		h.ListProducts(w, r)
	case r.Method == http.MethodGet && action == "produto":
		h.getProduct(w, r, parseNumber(strings.TrimSpace(r.URL.Query().Get("id"))))
	case r.Method == http.MethodPost && action == "newsletter":
		h.Subscribe(w, r)
	case r.Method == http.MethodPost && action == "pedido":
		h.CreateOrder(w, r)
	default:
		NotFound(w, r)
	}
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			logging.FromContextOr(r.Context(), h.logger).Warn("health_check_failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, msgNotFound)
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	// An empty body leaves dst zero and is judged by the field validation.
	if err != nil && !errors.Is(err, io.EOF) {
		logging.FromContextOr(r.Context(), h.logger).Debug("request_body_rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return false
	}
	return true
}

func (h *HTTPHandler) writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	var oe *service.OrderError
	if !errors.As(err, &oe) {
		h.internalError(w, r, err)
		return
	}

	switch oe.Kind {
	case service.ErrInvalidRequest:
		writeError(w, http.StatusBadRequest, msgIncompleteData)
	case service.ErrProductNotFound:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Produto ID %d não encontrado", oe.ProductID))
	case service.ErrInsufficientStock:
		writeError(w, http.StatusBadRequest, "Estoque insuficiente para "+oe.ProductName)
	case service.ErrDuplicateRequest:
		writeError(w, http.StatusConflict, msgDuplicate)
	default:
		h.internalError(w, r, err)
	}
}

func (h *HTTPHandler) writeCatalogError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidProductID):
		writeError(w, http.StatusBadRequest, msgInvalidID)
	case errors.Is(err, service.ErrProductNotFound):
		writeError(w, http.StatusNotFound, msgProductNotFound)
	default:
		h.internalError(w, r, err)
	}
}

// internalError logs the cause; clients only ever see a generic message.
func (h *HTTPHandler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	logging.FromContextOr(r.Context(), h.logger).Error("request_failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, msgInternal)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(data)
}
