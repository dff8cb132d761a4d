package handler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/pawfect-shop/internal/adapter/handler/pb"
	"github.com/rl1809/pawfect-shop/internal/core/domain"
	"github.com/rl1809/pawfect-shop/internal/core/service"
	"github.com/rl1809/pawfect-shop/internal/logging"
)

type GRPCHandler struct {
	pb.UnimplementedOrderServiceServer
	orders  *service.OrderService
	catalog *service.CatalogService
}

func NewGRPCHandler(orders *service.OrderService, catalog *service.CatalogService) *GRPCHandler {
	return &GRPCHandler{orders: orders, catalog: catalog}
}

func (h *GRPCHandler) PlaceOrder(ctx context.Context, req *pb.PlaceOrderRequest) (*pb.PlaceOrderResponse, error) {
	items := make([]domain.LineItem, 0, len(req.GetItems()))
	for _, item := range req.GetItems() {
		items = append(items, domain.LineItem{ProductID: item.GetProductId(), Quantity: int(item.GetQuantity())})
	}

	placed, err := h.orders.PlaceOrder(ctx, domain.OrderRequest{
		CustomerID:     req.GetCustomerId(),
		Items:          items,
		IdempotencyKey: req.GetIdempotencyKey(),
	})
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	return &pb.PlaceOrderResponse{
		OrderId:        placed.ID,
		Total:          placed.Total.StringFixed(2),
		TotalFormatted: domain.FormatBRL(placed.Total),
		Replayed:       placed.Replayed,
	}, nil
}

func (h *GRPCHandler) GetProduct(ctx context.Context, req *pb.GetProductRequest) (*pb.GetProductResponse, error) {
	p, err := h.catalog.GetProduct(ctx, req.GetProductId())
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	return &pb.GetProductResponse{Product: &pb.Product{
		Id:           p.ID,
		Name:         p.Name,
		Description:  p.Description,
		Price:        p.Price.StringFixed(2),
		Stock:        int64(p.Stock),
		CategorySlug: p.CategorySlug,
		ImageUrl:     p.ImageURL,
	}}, nil
}

func toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrInvalidProductID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrProductNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrInsufficientStock):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, err.Error())
	default:
		logging.FromContext(ctx).Error("grpc_call_failed", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}

// UnaryLogging gives each call a logger in its context and logs the outcome.
func UnaryLogging(logger *zap.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		callLogger := logger.With(zap.String("grpc_method", info.FullMethod))

		resp, err := handler(logging.ContextWithLogger(ctx, callLogger), req)

		code := status.Code(err)
		fields := []zap.Field{
			zap.String("code", code.String()),
			zap.Float64("latency_seconds", time.Since(start).Seconds()),
		}
		if err != nil && code != codes.Internal {
			fields = append(fields, zap.String("reason", status.Convert(err).Message()))
		}
		callLogger.Info("grpc_request", fields...)
		return resp, err
	}
}
