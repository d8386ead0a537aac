// Package rpc exposes the engine over a Connect-RPC control API. Messages are
// protobuf well-known types, so the service works with any Connect, gRPC or
// gRPC-Web client without generated stubs.
package rpc

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/lcrostarosa/safetrack/internal/app"
	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
)

// ServiceName is the fully-qualified control service name.
const ServiceName = "safetrack.v1.ControlService"

// Procedure paths.
const (
	StatusProcedure          = "/" + ServiceName + "/Status"
	StartAllProcedure        = "/" + ServiceName + "/StartAll"
	StopAllProcedure         = "/" + ServiceName + "/StopAll"
	RestartProcedure         = "/" + ServiceName + "/Restart"
	CheckNowProcedure        = "/" + ServiceName + "/CheckNow"
	CaptureOnceProcedure     = "/" + ServiceName + "/CaptureOnce"
	RecordOpenProcedure      = "/" + ServiceName + "/RecordOpen"
	GetSettingsProcedure     = "/" + ServiceName + "/GetSettings"
	UpdateSettingsProcedure  = "/" + ServiceName + "/UpdateSettings"
	RecentLocationsProcedure = "/" + ServiceName + "/RecentLocations"
	PruneLocationsProcedure  = "/" + ServiceName + "/PruneLocations"
	AlertsProcedure          = "/" + ServiceName + "/Alerts"
	LogsProcedure            = "/" + ServiceName + "/Logs"
	ClearDataProcedure       = "/" + ServiceName + "/ClearData"
)

// WarningField is set on an UpdateSettings response when the settings were
// saved but a follow-up step failed.
const WarningField = "warning"

// DefaultListLimit is used when a list request asks for zero items.
const DefaultListLimit = 50

// Options configures the handler chain.
type Options struct {
	// APIKey, when set, is required on every call except Status.
	APIKey string
	// RequestsPerSecond and Burst bound calls per peer. Zero disables.
	RequestsPerSecond float64
	Burst             int
	Clock             clockwork.Clock
	Logger            *zap.Logger
}

// Server implements the control service on top of an App.
type Server struct {
	app  *app.App
	opts Options
}

// NewServer creates a control server for a.
func NewServer(a *app.App, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Server{app: a, opts: opts}
}

// RegisterHandlers mounts every procedure on mux.
func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	interceptors := []connect.Interceptor{newLoggingInterceptor(s.opts.Logger)}
	if s.opts.RequestsPerSecond > 0 {
		interceptors = append(interceptors, newRateLimitInterceptor(s.opts.RequestsPerSecond, s.opts.Burst, s.opts.Clock))
	}
	if s.opts.APIKey != "" {
		interceptors = append(interceptors, newAuthInterceptor(s.opts.APIKey))
	}
	opt := connect.WithInterceptors(interceptors...)

	mux.Handle(StatusProcedure, connect.NewUnaryHandler(StatusProcedure, s.Status, opt))
	mux.Handle(StartAllProcedure, connect.NewUnaryHandler(StartAllProcedure, s.StartAll, opt))
	mux.Handle(StopAllProcedure, connect.NewUnaryHandler(StopAllProcedure, s.StopAll, opt))
	mux.Handle(RestartProcedure, connect.NewUnaryHandler(RestartProcedure, s.Restart, opt))
	mux.Handle(CheckNowProcedure, connect.NewUnaryHandler(CheckNowProcedure, s.CheckNow, opt))
	mux.Handle(CaptureOnceProcedure, connect.NewUnaryHandler(CaptureOnceProcedure, s.CaptureOnce, opt))
	mux.Handle(RecordOpenProcedure, connect.NewUnaryHandler(RecordOpenProcedure, s.RecordOpen, opt))
	mux.Handle(GetSettingsProcedure, connect.NewUnaryHandler(GetSettingsProcedure, s.GetSettings, opt))
	mux.Handle(UpdateSettingsProcedure, connect.NewUnaryHandler(UpdateSettingsProcedure, s.UpdateSettings, opt))
	mux.Handle(RecentLocationsProcedure, connect.NewUnaryHandler(RecentLocationsProcedure, s.RecentLocations, opt))
	mux.Handle(PruneLocationsProcedure, connect.NewUnaryHandler(PruneLocationsProcedure, s.PruneLocations, opt))
	mux.Handle(AlertsProcedure, connect.NewUnaryHandler(AlertsProcedure, s.Alerts, opt))
	mux.Handle(LogsProcedure, connect.NewUnaryHandler(LogsProcedure, s.Logs, opt))
	mux.Handle(ClearDataProcedure, connect.NewUnaryHandler(ClearDataProcedure, s.ClearData, opt))
}

func (s *Server) Status(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	return s.statusResponse(ctx)
}

func (s *Server) StartAll(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	if err := s.app.Supervisor.StartAll(ctx); err != nil {
		return nil, toConnectError(err)
	}
	return s.statusResponse(ctx)
}

func (s *Server) StopAll(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	s.app.Supervisor.StopAll()
	return s.statusResponse(ctx)
}

func (s *Server) Restart(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	if err := s.app.Supervisor.Restart(ctx); err != nil {
		return nil, toConnectError(err)
	}
	return s.statusResponse(ctx)
}

func (s *Server) CheckNow(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	rep, err := s.app.Monitor.Check(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return structResponse(reportToMap(rep))
}

func (s *Server) CaptureOnce(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	rec, err := s.app.Capture.CaptureOnce(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return structResponse(locationToMap(rec))
}

func (s *Server) RecordOpen(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[timestamppb.Timestamp], error) {
	return connect.NewResponse(timestamppb.New(s.app.Liveness.RecordOpen(ctx))), nil
}

func (s *Server) GetSettings(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	cfg, err := s.app.Settings.Get(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return structResponse(settingsToMap(cfg))
}

// UpdateSettings applies the given fields as one batch. A changed capture
// interval restarts running jobs so it takes effect. Once the batch is saved
// the call succeeds: if that restart fails, monitoring is left stopped and
// the response carries the reason in its "warning" field.
func (s *Server) UpdateSettings(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	u, err := settingsUpdateFromStruct(req.Msg)
	if err != nil {
		return nil, toConnectError(err)
	}
	if err := s.app.Settings.Update(ctx, u); err != nil {
		return nil, toConnectError(err)
	}

	cfg, err := s.app.Settings.Get(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	m := settingsToMap(cfg)

	if u.LocationIntervalMinutes != nil && s.app.Supervisor.IsRunning() {
		if err := s.app.Supervisor.Restart(ctx); err != nil {
			s.opts.Logger.Warn("Settings saved but monitoring could not restart", zap.Error(err))
			m[WarningField] = "settings saved, monitoring stopped: " + apperrors.SanitizeError(err)
		}
	}
	return structResponse(m)
}

func (s *Server) RecentLocations(ctx context.Context, req *connect.Request[wrapperspb.Int32Value]) (*connect.Response[structpb.ListValue], error) {
	recs, err := s.app.Locations.Recent(ctx, listLimit(req.Msg))
	if err != nil {
		return nil, toConnectError(err)
	}
	return listResponse(mapSlice(recs, locationToMap))
}

func (s *Server) PruneLocations(ctx context.Context, req *connect.Request[wrapperspb.Int32Value]) (*connect.Response[wrapperspb.Int64Value], error) {
	n, err := s.app.Prune(ctx, int(req.Msg.GetValue()))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(wrapperspb.Int64(n)), nil
}

func (s *Server) Alerts(ctx context.Context, req *connect.Request[wrapperspb.Int32Value]) (*connect.Response[structpb.ListValue], error) {
	alerts, err := s.app.DB.ListAlerts(ctx, listLimit(req.Msg))
	if err != nil {
		return nil, toConnectError(err)
	}
	return listResponse(mapSlice(alerts, alertToMap))
}

// Logs returns the most recent buffered log entries, oldest first. Zero
// returns the whole buffer.
func (s *Server) Logs(_ context.Context, req *connect.Request[wrapperspb.Int32Value]) (*connect.Response[structpb.ListValue], error) {
	entries := s.app.Logs.Entries()
	if n := int(req.Msg.GetValue()); n > 0 && n < len(entries) {
		entries = entries[len(entries)-n:]
	}
	return listResponse(mapSlice(entries, logEntryToMap))
}

// ClearData stops monitoring and deletes every stored record, returning the
// resulting status.
func (s *Server) ClearData(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	if err := s.app.ClearData(ctx); err != nil {
		return nil, toConnectError(err)
	}
	return s.statusResponse(ctx)
}

func (s *Server) statusResponse(ctx context.Context) (*connect.Response[structpb.Struct], error) {
	st, err := s.app.Status(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return structResponse(statusToMap(st))
}

func listLimit(msg *wrapperspb.Int32Value) int {
	if n := int(msg.GetValue()); n > 0 {
		return n
	}
	return DefaultListLimit
}

func structResponse(m map[string]any) (*connect.Response[structpb.Struct], error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(st), nil
}

func listResponse(items []map[string]any) (*connect.Response[structpb.ListValue], error) {
	values := make([]any, len(items))
	for i, item := range items {
		values[i] = item
	}
	lv, err := structpb.NewList(values)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(lv), nil
}

// formatTime renders t as RFC3339 UTC, or null for the zero instant.
func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
