package rpc

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lcrostarosa/safetrack/internal/metrics"
)

// APIKeyHeader carries the control API key.
const APIKeyHeader = "X-API-Key"

// loggingInterceptor logs RPC calls and records their metrics
type loggingInterceptor struct {
	log *zap.Logger
}

func newLoggingInterceptor(log *zap.Logger) connect.Interceptor {
	return &loggingInterceptor{log: log}
}

func (i *loggingInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		procedure := req.Spec().Procedure
		start := time.Now()
		resp, err := next(ctx, req)
		elapsed := time.Since(start)

		code := "ok"
		if err != nil {
			code = connect.CodeOf(err).String()
		}
		metrics.RPCRequestsTotal.WithLabelValues(procedure, code).Inc()
		metrics.RPCRequestDuration.WithLabelValues(procedure).Observe(elapsed.Seconds())

		if err != nil {
			i.log.Debug("RPC error", zap.String("procedure", procedure), zap.String("code", code), zap.Error(err))
		} else {
			i.log.Debug("RPC call", zap.String("procedure", procedure), zap.Duration("duration", elapsed))
		}
		return resp, err
	}
}

func (i *loggingInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next // No streaming RPCs in our API
}

func (i *loggingInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next // No streaming RPCs in our API
}

// authInterceptor validates API key authentication
type authInterceptor struct {
	apiKey string
}

func newAuthInterceptor(apiKey string) connect.Interceptor {
	return &authInterceptor{apiKey: apiKey}
}

// unauthenticatedProcedures are exempt from authentication
var unauthenticatedProcedures = map[string]bool{
	StatusProcedure: true,
}

func (i *authInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if unauthenticatedProcedures[req.Spec().Procedure] {
			return next(ctx, req)
		}

		apiKey := req.Header().Get(APIKeyHeader)
		if apiKey == "" {
			if auth := req.Header().Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(i.apiKey)) != 1 {
			return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("missing or invalid API key"))
		}
		return next(ctx, req)
	}
}

func (i *authInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *authInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}

// peerIdleTTL is how long an idle peer's limiter is kept.
const peerIdleTTL = 5 * time.Minute

type peerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimitInterceptor bounds calls per peer address
type rateLimitInterceptor struct {
	rps   rate.Limit
	burst int
	clock clockwork.Clock

	mu        sync.Mutex
	peers     map[string]*peerLimiter
	lastSweep time.Time
}

func newRateLimitInterceptor(rps float64, burst int, clock clockwork.Clock) *rateLimitInterceptor {
	return &rateLimitInterceptor{
		rps:       rate.Limit(rps),
		burst:     burst,
		clock:     clock,
		peers:     make(map[string]*peerLimiter),
		lastSweep: clock.Now(),
	}
}

func (i *rateLimitInterceptor) allow(peer string) bool {
	now := i.clock.Now()

	i.mu.Lock()
	defer i.mu.Unlock()

	if now.Sub(i.lastSweep) > peerIdleTTL {
		for addr, p := range i.peers {
			if now.Sub(p.lastSeen) > peerIdleTTL {
				delete(i.peers, addr)
			}
		}
		i.lastSweep = now
	}

	p, ok := i.peers[peer]
	if !ok {
		p = &peerLimiter{limiter: rate.NewLimiter(i.rps, i.burst)}
		i.peers[peer] = p
	}
	p.lastSeen = now
	return p.limiter.AllowN(now, 1)
}

func (i *rateLimitInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if !i.allow(peerHost(req.Peer().Addr)) {
			return nil, connect.NewError(connect.CodeResourceExhausted, errors.New("too many requests"))
		}
		return next(ctx, req)
	}
}

func (i *rateLimitInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *rateLimitInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}

func peerHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
