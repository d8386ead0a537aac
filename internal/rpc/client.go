package rpc

import (
	"context"
	"strings"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls the control API of a running daemon.
type Client struct {
	status          *connect.Client[emptypb.Empty, structpb.Struct]
	startAll        *connect.Client[emptypb.Empty, structpb.Struct]
	stopAll         *connect.Client[emptypb.Empty, structpb.Struct]
	restart         *connect.Client[emptypb.Empty, structpb.Struct]
	checkNow        *connect.Client[emptypb.Empty, structpb.Struct]
	captureOnce     *connect.Client[emptypb.Empty, structpb.Struct]
	recordOpen      *connect.Client[emptypb.Empty, timestamppb.Timestamp]
	getSettings     *connect.Client[emptypb.Empty, structpb.Struct]
	updateSettings  *connect.Client[structpb.Struct, structpb.Struct]
	recentLocations *connect.Client[wrapperspb.Int32Value, structpb.ListValue]
	pruneLocations  *connect.Client[wrapperspb.Int32Value, wrapperspb.Int64Value]
	alerts          *connect.Client[wrapperspb.Int32Value, structpb.ListValue]
	logs            *connect.Client[wrapperspb.Int32Value, structpb.ListValue]
	clearData       *connect.Client[emptypb.Empty, structpb.Struct]
}

// NewClient creates a client for the daemon at baseURL. A non-empty apiKey
// is sent with every call.
func NewClient(httpClient connect.HTTPClient, baseURL, apiKey string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if apiKey != "" {
		opts = append(opts, connect.WithInterceptors(apiKeyInterceptor(apiKey)))
	}
	return &Client{
		status:          connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+StatusProcedure, opts...),
		startAll:        connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+StartAllProcedure, opts...),
		stopAll:         connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+StopAllProcedure, opts...),
		restart:         connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+RestartProcedure, opts...),
		checkNow:        connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+CheckNowProcedure, opts...),
		captureOnce:     connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+CaptureOnceProcedure, opts...),
		recordOpen:      connect.NewClient[emptypb.Empty, timestamppb.Timestamp](httpClient, baseURL+RecordOpenProcedure, opts...),
		getSettings:     connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+GetSettingsProcedure, opts...),
		updateSettings:  connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+UpdateSettingsProcedure, opts...),
		recentLocations: connect.NewClient[wrapperspb.Int32Value, structpb.ListValue](httpClient, baseURL+RecentLocationsProcedure, opts...),
		pruneLocations:  connect.NewClient[wrapperspb.Int32Value, wrapperspb.Int64Value](httpClient, baseURL+PruneLocationsProcedure, opts...),
		alerts:          connect.NewClient[wrapperspb.Int32Value, structpb.ListValue](httpClient, baseURL+AlertsProcedure, opts...),
		logs:            connect.NewClient[wrapperspb.Int32Value, structpb.ListValue](httpClient, baseURL+LogsProcedure, opts...),
		clearData:       connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+ClearDataProcedure, opts...),
	}
}

func apiKeyInterceptor(key string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if req.Spec().IsClient {
				req.Header().Set(APIKeyHeader, key)
			}
			return next(ctx, req)
		}
	}
}

func empty() *connect.Request[emptypb.Empty] {
	return connect.NewRequest(&emptypb.Empty{})
}

func callStruct(ctx context.Context, c *connect.Client[emptypb.Empty, structpb.Struct]) (*structpb.Struct, error) {
	resp, err := c.CallUnary(ctx, empty())
	if err != nil {
		return nil, FromConnectError(err)
	}
	return resp.Msg, nil
}

func callList(ctx context.Context, c *connect.Client[wrapperspb.Int32Value, structpb.ListValue], n int) (*structpb.ListValue, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(wrapperspb.Int32(int32(n))))
	if err != nil {
		return nil, FromConnectError(err)
	}
	return resp.Msg, nil
}

func (c *Client) Status(ctx context.Context) (*structpb.Struct, error) {
	return callStruct(ctx, c.status)
}

func (c *Client) StartAll(ctx context.Context) (*structpb.Struct, error) {
	return callStruct(ctx, c.startAll)
}

func (c *Client) StopAll(ctx context.Context) (*structpb.Struct, error) {
	return callStruct(ctx, c.stopAll)
}

func (c *Client) Restart(ctx context.Context) (*structpb.Struct, error) {
	return callStruct(ctx, c.restart)
}

func (c *Client) CheckNow(ctx context.Context) (*structpb.Struct, error) {
	return callStruct(ctx, c.checkNow)
}

func (c *Client) CaptureOnce(ctx context.Context) (*structpb.Struct, error) {
	return callStruct(ctx, c.captureOnce)
}

// ClearData deletes every stored record and stops monitoring.
func (c *Client) ClearData(ctx context.Context) (*structpb.Struct, error) {
	return callStruct(ctx, c.clearData)
}

func (c *Client) GetSettings(ctx context.Context) (*structpb.Struct, error) {
	return callStruct(ctx, c.getSettings)
}

// RecordOpen marks the app as opened now and returns the recorded instant.
func (c *Client) RecordOpen(ctx context.Context) (time.Time, error) {
	resp, err := c.recordOpen.CallUnary(ctx, empty())
	if err != nil {
		return time.Time{}, FromConnectError(err)
	}
	return resp.Msg.AsTime(), nil
}

// UpdateSettings sends the given fields, keyed by settings key.
func (c *Client) UpdateSettings(ctx context.Context, fields map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	resp, err := c.updateSettings.CallUnary(ctx, connect.NewRequest(st))
	if err != nil {
		return nil, FromConnectError(err)
	}
	return resp.Msg, nil
}

func (c *Client) RecentLocations(ctx context.Context, n int) (*structpb.ListValue, error) {
	return callList(ctx, c.recentLocations, n)
}

func (c *Client) Alerts(ctx context.Context, n int) (*structpb.ListValue, error) {
	return callList(ctx, c.alerts, n)
}

func (c *Client) Logs(ctx context.Context, n int) (*structpb.ListValue, error) {
	return callList(ctx, c.logs, n)
}

// PruneLocations deletes records older than days and returns how many went.
func (c *Client) PruneLocations(ctx context.Context, days int) (int64, error) {
	resp, err := c.pruneLocations.CallUnary(ctx, connect.NewRequest(wrapperspb.Int32(int32(days))))
	if err != nil {
		return 0, FromConnectError(err)
	}
	return resp.Msg.GetValue(), nil
}
