package server_test

import (
	"InsureLedger/internal/core"
	"InsureLedger/internal/ingestion"
	"InsureLedger/internal/observability"
	"InsureLedger/internal/projection"
	"InsureLedger/internal/query"
	"InsureLedger/internal/server"
	"InsureLedger/internal/store"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

var (
	authorityHex = strings.Repeat("a1", 32)
	ownerHex     = strings.Repeat("b2", 32)
)

type harness struct {
	conn   *grpc.ClientConn
	projCh chan core.CoreOutput
	views  *projection.Store
	health *observability.HealthChecker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	projCh := make(chan core.CoreOutput, 1024)
	engine, err := core.NewEngine(core.Config{}, store.NewMemoryStore(), core.NewManualClock(0), nil, projCh, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		_ = engine.Run(ctx)
	}()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	views, err := projection.Open(fmt.Sprintf("file:srv_%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	hc := observability.NewHealthChecker()
	srv := server.NewGRPCServer("", "", &server.ServerDeps{
		Commands:      ingestion.NewCommandService(engine, metrics, zerolog.Nop()),
		Queries:       query.NewQueryService(views, nil, core.NewManualClock(0), metrics),
		HealthChecker: hc,
		Logger:        zerolog.Nop(),
	})

	lis := bufconn.Listen(1 << 20)
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		_ = srv.Serve(ctx, lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		<-serveDone
		<-engineDone
		_ = views.Close()
	})
	return &harness{conn: conn, projCh: projCh, views: views, health: hc}
}

// command invokes a command method with a JSON body.
func (h *harness) command(t *testing.T, method, body string) (*core.Result, error) {
	t.Helper()
	req := json.RawMessage(body)
	var res core.Result
	if err := h.conn.Invoke(context.Background(), server.FullMethod(method), &req, &res, server.CallOption()); err != nil {
		return nil, err
	}
	return &res, nil
}

// project applies every pending engine output to the views.
func (h *harness) project(t *testing.T) {
	t.Helper()
	for {
		select {
		case o := <-h.projCh:
			if err := h.views.Apply(context.Background(), o.Envelope.Sequence, o.Records); err != nil {
				t.Fatalf("Apply: %v", err)
			}
		default:
			return
		}
	}
}

func (h *harness) seed(t *testing.T) *core.Result {
	t.Helper()
	if _, err := h.command(t, "InitializePool", fmt.Sprintf(`{"request_id":%q,"authority":%q}`, uuid.NewString(), authorityHex)); err != nil {
		t.Fatalf("InitializePool: %v", err)
	}
	res, err := h.command(t, "PurchaseInsurance", fmt.Sprintf(
		`{"request_id":%q,"owner":%q,"deposit_amount":1000,"premium_amount":100,"coverage_amount":60}`,
		uuid.NewString(), ownerHex))
	if err != nil {
		t.Fatalf("PurchaseInsurance: %v", err)
	}
	h.project(t)
	return res
}

// ============================================================================
// Test: gRPC
// ============================================================================

func TestGRPC_CommandThenQuery(t *testing.T) {
	h := newHarness(t)
	res := h.seed(t)
	if res.Sequence != 2 || res.PolicyID == nil {
		t.Fatalf("purchase result: got seq=%d policy=%v", res.Sequence, res.PolicyID)
	}

	var pool query.PoolResponse
	if err := h.conn.Invoke(context.Background(), server.FullMethod("GetPool"), &server.PoolRequest{}, &pool, server.CallOption()); err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if got := pool.TotalPremiumCollected.String(); got != "100" {
		t.Errorf("premium collected: got %s, want 100", got)
	}

	var policy query.PolicyResponse
	req := &server.PolicyRequest{PolicyID: res.PolicyID.String()}
	if err := h.conn.Invoke(context.Background(), server.FullMethod("GetPolicy"), req, &policy, server.CallOption()); err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if got := policy.CoverageAmount.String(); got != "60" {
		t.Errorf("coverage: got %s, want 60", got)
	}
}

func TestGRPC_DuplicateRequestID(t *testing.T) {
	h := newHarness(t)
	body := fmt.Sprintf(`{"request_id":%q,"authority":%q}`, uuid.NewString(), authorityHex)

	first, err := h.command(t, "InitializePool", body)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := h.command(t, "InitializePool", body)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.Duplicate || second.Sequence != first.Sequence {
		t.Errorf("replay: got duplicate=%v seq=%d, want true/%d", second.Duplicate, second.Sequence, first.Sequence)
	}
}

func TestGRPC_StatusCodes(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	tests := []struct {
		name   string
		method string
		req    any
		resp   any
		want   codes.Code
	}{
		{"bad policy id", "GetPolicy", &server.PolicyRequest{PolicyID: "nope"}, new(query.PolicyResponse), codes.InvalidArgument},
		{"unknown policy", "GetPolicy", &server.PolicyRequest{PolicyID: uuid.NewString()}, new(query.PolicyResponse), codes.NotFound},
		{"unknown pool", "GetPool", &server.PoolRequest{PoolKey: "other"}, new(query.PoolResponse), codes.NotFound},
		{"journal without event log", "GetJournalHistory", &server.JournalRequest{AccountPath: "external:deposits:USDC"}, new(server.JournalResponse), codes.Unimplemented},
		{"missing request id", "InitializePool", &json.RawMessage{'{', '}'}, new(core.Result), codes.InvalidArgument},
		{
			"pool exists", "InitializePool",
			ptr(json.RawMessage(fmt.Sprintf(`{"request_id":%q,"authority":%q}`, uuid.NewString(), authorityHex))),
			new(core.Result), codes.AlreadyExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.conn.Invoke(context.Background(), server.FullMethod(tt.method), tt.req, tt.resp, server.CallOption())
			if got := status.Code(err); got != tt.want {
				t.Errorf("code: got %s, want %s (err=%v)", got, tt.want, err)
			}
		})
	}
}

func TestGRPC_Health(t *testing.T) {
	h := newHarness(t)
	resp, err := healthpb.NewHealthClient(h.conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: server.ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status: got %s, want SERVING", resp.Status)
	}
}

// ============================================================================
// Test: HTTP gateway
// ============================================================================

func TestGateway_Routes(t *testing.T) {
	h := newHarness(t)
	handler, err := server.NewGatewayHandler(h.conn, h.health)
	if err != nil {
		t.Fatalf("NewGatewayHandler: %v", err)
	}
	ts := httptest.NewServer(handler)
	defer ts.Close()

	post := func(path, body string) *http.Response {
		t.Helper()
		resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		return resp
	}
	get := func(path string) *http.Response {
		t.Helper()
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		return resp
	}

	resp := post("/v1/initialize_pool", fmt.Sprintf(`{"request_id":%q,"authority":%q}`, uuid.NewString(), authorityHex))
	var res core.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || res.Sequence != 1 {
		t.Fatalf("initialize_pool: got status=%d seq=%d", resp.StatusCode, res.Sequence)
	}
	h.project(t)

	tests := []struct {
		name   string
		resp   func() *http.Response
		status int
	}{
		{"pool", func() *http.Response { return get("/v1/pools/main") }, http.StatusOK},
		{"policies", func() *http.Response { return get("/v1/policies?active_only=true") }, http.StatusOK},
		{"bad policy id", func() *http.Response { return get("/v1/policies/nope") }, http.StatusBadRequest},
		{"bad active_only", func() *http.Response { return get("/v1/policies?active_only=maybe") }, http.StatusBadRequest},
		{"bad proposal id", func() *http.Response { return get("/v1/proposals/x/votes") }, http.StatusBadRequest},
		{"unknown operation", func() *http.Response { return post("/v1/liquidate", `{}`) }, http.StatusNotFound},
		{"invalid json", func() *http.Response { return post("/v1/cancel_policy", `{`) }, http.StatusBadRequest},
		{"duplicate pool", func() *http.Response {
			return post("/v1/initialize_pool", fmt.Sprintf(`{"request_id":%q,"authority":%q}`, uuid.NewString(), authorityHex))
		}, http.StatusConflict},
		{"integrity", func() *http.Response { return get("/v1/admin/integrity") }, http.StatusOK},
		{"liveness", func() *http.Response { return get("/healthz") }, http.StatusOK},
		{"readiness before ready", func() *http.Response { return get("/readyz") }, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tt.resp()
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("status: got %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestGateway_PoolBody(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	handler, err := server.NewGatewayHandler(h.conn, nil)
	if err != nil {
		t.Fatalf("NewGatewayHandler: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/pools/main", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var pool query.PoolResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pool); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if pool.PoolKey != "main" || pool.TotalPremiumCollected.String() != "100" {
		t.Errorf("pool: got key=%s premium=%s", pool.PoolKey, pool.TotalPremiumCollected)
	}
}

func ptr[T any](v T) *T { return &v }
