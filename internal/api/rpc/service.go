// internal/api/rpc/service.go
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"distributed-fractal/internal/domain"
	"distributed-fractal/internal/master"
)

// Coordinator is the part of the dispatcher a controller drives.
type Coordinator interface {
	Stats(ctx context.Context) (master.Status, error)
	SetLimit(ctx context.Context, class domain.WorkerClass, limit int) (int, error)
	Init(sink string)
}

// Service implements ControllerServer on top of a coordinator.
type Service struct {
	coord    Coordinator
	validate *validator.Validate
	logger   *slog.Logger
	tracer   trace.Tracer
}

var _ ControllerServer = (*Service)(nil)

// NewService creates the controller service.
func NewService(coord Coordinator, logger *slog.Logger) *Service {
	return &Service{
		coord:    coord,
		validate: validator.New(),
		logger:   logger.With("component", "controller-service"),
		tracer:   otel.Tracer("distributed-fractal-controller"),
	}
}

// NewServer creates an instrumented gRPC server exposing the controller service.
func NewServer(coord Coordinator, logger *slog.Logger) *grpc.Server {
	s := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	RegisterControllerServer(s, NewService(coord, logger))
	return s
}

func (s *Service) SetLimit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	ctx, span := s.tracer.Start(ctx, "Controller.SetLimit")
	defer span.End()

	fields := in.GetFields()
	limit, ok := fields["limit"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "limit is required")
	}
	req := domain.LimitUpdate{
		Class: fields["class"].GetStringValue(),
		Limit: int(limit.GetNumberValue()),
	}
	if err := s.validate.Struct(req); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "validation failed")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	class, err := domain.ParseWorkerClass(req.Class)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	span.SetAttributes(attribute.String("worker.class", class.String()), attribute.Int("limit.requested", req.Limit))

	applied, err := s.coord.SetLimit(ctx, class, req.Limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "failed to apply limit")
		return nil, coordinatorStatus(err)
	}
	s.logger.Info("limit updated by controller", "class", class, "requested", req.Limit, "applied", applied)

	out, err := structpb.NewStruct(map[string]any{"class": class.String(), "limit": applied})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Service) GetPool(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	ctx, span := s.tracer.Start(ctx, "Controller.GetPool")
	defer span.End()

	st, err := s.coord.Stats(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "failed to read pool state")
		return nil, coordinatorStatus(err)
	}
	out, err := statusToStruct(st)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Service) Init(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	_, span := s.tracer.Start(ctx, "Controller.Init")
	defer span.End()

	sink := in.GetFields()["sink"].GetStringValue()
	if sink == "" {
		return nil, status.Error(codes.InvalidArgument, "sink is required")
	}
	s.coord.Init(sink)
	return &emptypb.Empty{}, nil
}

func coordinatorStatus(err error) error {
	if errors.Is(err, domain.ErrStopped) {
		return status.Error(codes.Unavailable, err.Error())
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Internal, err.Error())
}

// statusToStruct converts through the JSON form so the field names match the HTTP API.
func statusToStruct(st master.Status) (*structpb.Struct, error) {
	b, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return structpb.NewStruct(m)
}

func structToStatus(s *structpb.Struct) (master.Status, error) {
	var st master.Status
	b, err := s.MarshalJSON()
	if err != nil {
		return st, fmt.Errorf("failed to marshal status struct: %w", err)
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return st, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return st, nil
}
