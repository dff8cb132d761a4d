package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/pawfect-shop/internal/core/domain"
	"github.com/rl1809/pawfect-shop/internal/logging"
	"github.com/rl1809/pawfect-shop/internal/metrics"
	"github.com/rl1809/pawfect-shop/internal/port"
)

const (
	defaultTxTimeout = 5 * time.Second
	tracerName       = "github.com/rl1809/pawfect-shop/internal/core/service"
)

type OrderService struct {
	db        port.DatabaseRepository
	cache     port.CacheRepository
	events    port.EventPublisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	txTimeout time.Duration
	now       func() time.Time
}

type OrderOption func(*OrderService)

func WithOrderLogger(logger *zap.Logger) OrderOption {
	return func(s *OrderService) { s.logger = logger }
}

func WithOrderMetrics(m *metrics.Metrics) OrderOption {
	return func(s *OrderService) { s.metrics = m }
}

func WithEventPublisher(p port.EventPublisher) OrderOption {
	return func(s *OrderService) { s.events = p }
}

// WithTxTimeout bounds how long a placement may hold row locks.
func WithTxTimeout(d time.Duration) OrderOption {
	return func(s *OrderService) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

func WithClock(now func() time.Time) OrderOption {
	return func(s *OrderService) { s.now = now }
}

func NewOrderService(db port.DatabaseRepository, cache port.CacheRepository, opts ...OrderOption) *OrderService {
	s := &OrderService{
		db:        db,
		cache:     cache,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(tracerName),
		txTimeout: defaultTxTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder validates the requested items against live stock and records the
// order, its items and the stock decrements in a single transaction.
func (s *OrderService) PlaceOrder(ctx context.Context, req domain.OrderRequest) (placed domain.PlacedOrder, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.PlaceOrder", trace.WithAttributes(
		attribute.Int64("order.customer_id", req.CustomerID),
		attribute.Int("order.item_count", len(req.Items)),
	))
	logger := logging.FromContextOr(ctx, s.logger).With(zap.Int64("customer_id", req.CustomerID))
	start := time.Now()

	defer func() {
		elapsed := time.Since(start)
		result := outcome(err)
		if err == nil && placed.Replayed {
			result = "replayed"
		}
		s.metrics.ObserveOrder(result, elapsed)

		span.SetAttributes(attribute.String("order.outcome", result))
		fields := []zap.Field{
			zap.String("outcome", result),
			zap.Float64("latency_seconds", elapsed.Seconds()),
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
			fields = append(fields, zap.Error(err))
		} else {
			span.SetAttributes(attribute.Int64("order.id", placed.ID))
			span.SetStatus(codes.Ok, result)
			fields = append(fields, zap.Int64("order_id", placed.ID), zap.String("total", placed.Total.StringFixed(2)))
		}
		span.End()

		if errors.Is(err, ErrStoreFault) {
			logger.Error("place_order_done", fields...)
		} else {
			logger.Info("place_order_done", fields...)
		}
	}()

	if req.CustomerID <= 0 || len(req.Items) == 0 {
		return domain.PlacedOrder{}, &OrderError{Kind: ErrInvalidRequest}
	}

	var idemKey string
	if req.IdempotencyKey != "" {
		idemKey = strconv.FormatInt(req.CustomerID, 10) + ":" + req.IdempotencyKey
		prior, err := s.claimIdempotency(ctx, idemKey)
		if err != nil {
			return domain.PlacedOrder{}, err
		}
		if prior != nil {
			return domain.PlacedOrder{Order: *prior, Replayed: true}, nil
		}
	}

	order, err := s.place(ctx, logger, req)
	if err != nil {
		if idemKey != "" {
			if relErr := s.cache.ReleaseIdempotency(context.WithoutCancel(ctx), idemKey); relErr != nil {
				logger.Warn("idempotency_release_failed", zap.Error(relErr))
			}
		}
		return domain.PlacedOrder{}, err
	}

	s.afterCommit(ctx, logger, order, idemKey)
	return domain.PlacedOrder{Order: order}, nil
}

// claimIdempotency returns the order stored under key when the request was already
// served, nil when the key was claimed by this call.
func (s *OrderService) claimIdempotency(ctx context.Context, key string) (*domain.Order, error) {
	ok, err := s.cache.SetIdempotency(ctx, key)
	if err != nil {
		return nil, storeFault(fmt.Errorf("idempotency check failed: %w", err))
	}
	if ok {
		return nil, nil
	}

	prior, err := s.cache.GetIdempotentResult(ctx, key)
	if err != nil {
		return nil, storeFault(fmt.Errorf("idempotency lookup failed: %w", err))
	}
	if prior == nil {
		return nil, &OrderError{Kind: ErrDuplicateRequest}
	}
	return prior, nil
}

func (s *OrderService) place(ctx context.Context, logger *zap.Logger, req domain.OrderRequest) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	var order domain.Order
	err := s.db.InTx(ctx, func(ctx context.Context, tx port.Tx) error {
		// The transaction may be retried, so every attempt starts from scratch.
		order = domain.Order{
			CustomerID: req.CustomerID,
			Total:      decimal.Zero,
			CreatedAt:  s.now().UTC(),
		}
		reserved := make(map[int64]int)

		for _, item := range req.Items {
			if !item.Valid() {
				logger.Debug("line_item_skipped",
					zap.Int64("product_id", item.ProductID),
					zap.Int("quantity", item.Quantity),
				)
				continue
			}

			product, err := tx.LockProduct(ctx, item.ProductID)
			if err != nil {
				return storeFault(fmt.Errorf("lock product %d: %w", item.ProductID, err))
			}
			if product == nil {
				return &OrderError{Kind: ErrProductNotFound, ProductID: item.ProductID}
			}
			// Earlier lines of this request already claimed part of the stock.
			if product.Stock-reserved[product.ID] < item.Quantity {
				return &OrderError{Kind: ErrInsufficientStock, ProductID: product.ID, ProductName: product.Name}
			}
			reserved[product.ID] += item.Quantity

			line := domain.OrderItem{
				ProductID:   product.ID,
				ProductName: product.Name,
				Quantity:    item.Quantity,
				UnitPrice:   product.Price,
			}
			order.Items = append(order.Items, line)
			order.Total = order.Total.Add(line.Subtotal())
		}

		id, err := tx.InsertOrder(ctx, order)
		if err != nil {
			return storeFault(fmt.Errorf("insert order: %w", err))
		}
		order.ID = id

		for i := range order.Items {
			order.Items[i].OrderID = id
			if err := tx.InsertOrderItem(ctx, order.Items[i]); err != nil {
				return storeFault(fmt.Errorf("insert order item: %w", err))
			}
			if err := tx.DecrementStock(ctx, order.Items[i].ProductID, order.Items[i].Quantity); err != nil {
				return storeFault(fmt.Errorf("decrement stock of product %d: %w", order.Items[i].ProductID, err))
			}
		}
		return nil
	})
	if err != nil {
		var oe *OrderError
		if errors.As(err, &oe) {
			return domain.Order{}, err
		}
		return domain.Order{}, storeFault(err)
	}
	return order, nil
}

// afterCommit runs the best-effort follow-ups of a committed order. None of them
// can undo the order, so failures are only logged.
func (s *OrderService) afterCommit(ctx context.Context, logger *zap.Logger, order domain.Order, idemKey string) {
	ctx = context.WithoutCancel(ctx)

	if len(order.Items) > 0 {
		ids := make([]int64, 0, len(order.Items))
		for _, item := range order.Items {
			ids = append(ids, item.ProductID)
		}
		if err := s.cache.InvalidateProducts(ctx, ids...); err != nil {
			logger.Warn("catalog_cache_invalidate_failed", zap.Error(err), zap.Int64("order_id", order.ID))
		}
	}

	if idemKey != "" {
		if err := s.cache.SaveIdempotentResult(ctx, idemKey, order); err != nil {
			logger.Warn("idempotency_save_failed", zap.Error(err), zap.Int64("order_id", order.ID))
			// A key left pending would answer every retry with a conflict until it expires.
			if relErr := s.cache.ReleaseIdempotency(ctx, idemKey); relErr != nil {
				logger.Warn("idempotency_release_failed", zap.Error(relErr), zap.Int64("order_id", order.ID))
			}
		}
	}

	if s.events != nil {
		if err := s.events.PublishOrderPlaced(ctx, order); err != nil {
			logger.Warn("order_event_publish_failed", zap.Error(err), zap.Int64("order_id", order.ID))
		}
	}
}
