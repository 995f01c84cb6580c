package handler

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/errors"
	"github.com/pesio-ai/be-ap-invoice-automation/internal/logger"
)

// ServiceName is the name reported by the gRPC health service.
const ServiceName = "ap.invoiceautomation.v1"

// GRPCServer is the operational gRPC endpoint: health checks and reflection.
type GRPCServer struct {
	*grpc.Server
	health *health.Server
	db     Pinger
	log    *logger.Logger
}

// NewGRPCServer creates the gRPC server. db may be nil.
func NewGRPCServer(db Pinger, log *logger.Logger) *GRPCServer {
	log = log.WithComponent("grpc")
	s := &GRPCServer{
		Server: grpc.NewServer(grpc.ChainUnaryInterceptor(
			requestIDInterceptor,
			loggingInterceptor(log),
		)),
		health: health.NewServer(),
		db:     db,
		log:    log,
	}
	healthpb.RegisterHealthServer(s.Server, s.health)
	reflection.Register(s.Server)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// WatchHealth pings the database every interval and publishes the result
// until ctx is cancelled.
func (s *GRPCServer) WatchHealth(ctx context.Context, interval time.Duration) {
	if s.db == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.checkHealth(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *GRPCServer) checkHealth(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	if err := s.db.Ping(ctx); err != nil {
		s.log.Warn().Err(err).Msg("database ping failed")
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName, st)
	s.health.SetServingStatus("", st)
}

// Shutdown marks the service as not serving and stops gracefully.
func (s *GRPCServer) Shutdown() {
	s.health.Shutdown()
	s.Server.GracefulStop()
}

func requestIDInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (interface{}, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 && ids[0] != "" {
			ctx = context.WithValue(ctx, requestIDKey, ids[0])
		}
	}
	return next(ctx, req)
}

func loggingInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		if _, ok := status.FromError(err); !ok {
			err = GRPCStatus(err)
		}

		ev := log.Debug()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("method", info.FullMethod).
			Str("request_id", RequestIDFrom(ctx)).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC call")
		return resp, err
	}
}

// GRPCStatus converts a service error into a gRPC status error.
func GRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	var c codes.Code
	switch errors.CodeOf(err) {
	case errors.ErrCodeValidation:
		c = codes.InvalidArgument
	case errors.ErrCodeNotFound:
		c = codes.NotFound
	case errors.ErrCodeConflict:
		c = codes.AlreadyExists
	case errors.ErrCodeInvalidTransition, errors.ErrCodeReconciliation:
		c = codes.FailedPrecondition
	default:
		c = codes.Internal
	}
	return status.Error(c, err.Error())
}
