package server

import (
	"InsureLedger/internal/core"
	"InsureLedger/internal/event"
	"InsureLedger/internal/observability"
	"InsureLedger/internal/query"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxCommandBody = 1 << 20

// gateway proxies HTTP/JSON requests to the gRPC service over conn.
type gateway struct {
	mux       *runtime.ServeMux
	conn      grpc.ClientConnInterface
	marshaler runtime.Marshaler
}

// NewGatewayHandler builds the HTTP/JSON surface:
//
//	POST /v1/{operation}                     command, e.g. /v1/purchase_insurance
//	GET  /v1/pools/{pool_key}
//	GET  /v1/policies?pool_key=&owner=&active_only=&limit=&offset=
//	GET  /v1/policies/{policy_id}
//	GET  /v1/policies/{policy_id}/history
//	GET  /v1/governance[/{governance_key}]
//	GET  /v1/proposals/{proposal_id}/votes
//	GET  /v1/balances/{account_path}
//	GET  /v1/balances/{account_path}/journal?limit=&after_sequence=
//	GET  /v1/admin/integrity
//
// plus /healthz and /readyz when hc is non-nil.
func NewGatewayHandler(conn grpc.ClientConnInterface, hc *observability.HealthChecker) (http.Handler, error) {
	g := &gateway{
		mux:       runtime.NewServeMux(),
		conn:      conn,
		marshaler: &runtime.JSONPb{},
	}

	routes := []struct {
		method  string
		pattern string
		h       runtime.HandlerFunc
	}{
		{http.MethodPost, "/v1/{operation}", g.command},
		{http.MethodGet, "/v1/pools/{pool_key}", g.getPool},
		{http.MethodGet, "/v1/policies", g.listPolicies},
		{http.MethodGet, "/v1/policies/{policy_id}", g.getPolicy},
		{http.MethodGet, "/v1/policies/{policy_id}/history", g.getPolicyHistory},
		{http.MethodGet, "/v1/governance", g.getGovernance},
		{http.MethodGet, "/v1/governance/{governance_key}", g.getGovernance},
		{http.MethodGet, "/v1/proposals/{proposal_id}/votes", g.listVotes},
		{http.MethodGet, "/v1/balances/{account_path}", g.getBalance},
		{http.MethodGet, "/v1/balances/{account_path}/journal", g.getJournal},
		{http.MethodGet, "/v1/admin/integrity", g.verifyIntegrity},
	}
	for _, rt := range routes {
		if err := g.mux.HandlePath(rt.method, rt.pattern, rt.h); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if hc != nil {
		httpMux.HandleFunc("/healthz", hc.LivenessHandler)
		httpMux.HandleFunc("/readyz", hc.ReadinessHandler)
	}
	httpMux.Handle("/", g.mux)
	return httpMux, nil
}

func (g *gateway) command(w http.ResponseWriter, r *http.Request, params map[string]string) {
	et, err := event.ParseOperation(params["operation"])
	if err != nil {
		g.fail(w, r, status.Error(codes.NotFound, err.Error()))
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBody))
	if err != nil {
		g.fail(w, r, status.Errorf(codes.InvalidArgument, "read body: %v", err))
		return
	}
	if !json.Valid(body) {
		g.fail(w, r, status.Error(codes.InvalidArgument, "body is not valid JSON"))
		return
	}
	req := json.RawMessage(body)
	g.invoke(w, r, et.String(), &req, new(core.Result))
}

func (g *gateway) getPool(w http.ResponseWriter, r *http.Request, params map[string]string) {
	g.invoke(w, r, "GetPool", &PoolRequest{PoolKey: params["pool_key"]}, new(query.PoolResponse))
}

func (g *gateway) listPolicies(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	req := &ListPoliciesRequest{
		PoolKey: q.Get("pool_key"),
		Owner:   q.Get("owner"),
	}
	var err error
	if req.ActiveOnly, err = boolParam(q.Get("active_only")); err != nil {
		g.fail(w, r, err)
		return
	}
	if req.Limit, err = intParam("limit", q.Get("limit")); err != nil {
		g.fail(w, r, err)
		return
	}
	if req.Offset, err = intParam("offset", q.Get("offset")); err != nil {
		g.fail(w, r, err)
		return
	}
	g.invoke(w, r, "ListPolicies", req, new(query.PolicyListResponse))
}

func (g *gateway) getPolicy(w http.ResponseWriter, r *http.Request, params map[string]string) {
	g.invoke(w, r, "GetPolicy", &PolicyRequest{PolicyID: params["policy_id"]}, new(query.PolicyResponse))
}

func (g *gateway) getPolicyHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	g.invoke(w, r, "GetPolicyHistory", &PolicyRequest{PolicyID: params["policy_id"]}, new(query.HistoryResponse))
}

func (g *gateway) getGovernance(w http.ResponseWriter, r *http.Request, params map[string]string) {
	g.invoke(w, r, "GetGovernance", &GovernanceRequest{GovernanceKey: params["governance_key"]}, new(query.GovernanceResponse))
}

func (g *gateway) listVotes(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := strconv.ParseUint(params["proposal_id"], 10, 64)
	if err != nil {
		g.fail(w, r, status.Errorf(codes.InvalidArgument, "proposal_id: %v", err))
		return
	}
	g.invoke(w, r, "ListVotes", &VotesRequest{ProposalID: id}, new(query.VotesResponse))
}

func (g *gateway) getBalance(w http.ResponseWriter, r *http.Request, params map[string]string) {
	g.invoke(w, r, "GetBalance", &BalanceRequest{AccountPath: params["account_path"]}, new(query.BalanceResponse))
}

func (g *gateway) getJournal(w http.ResponseWriter, r *http.Request, params map[string]string) {
	q := r.URL.Query()
	req := &JournalRequest{AccountPath: params["account_path"]}
	var err error
	if req.Limit, err = intParam("limit", q.Get("limit")); err != nil {
		g.fail(w, r, err)
		return
	}
	if s := q.Get("after_sequence"); s != "" {
		after, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			g.fail(w, r, status.Errorf(codes.InvalidArgument, "after_sequence: %v", err))
			return
		}
		req.AfterSequence = &after
	}
	g.invoke(w, r, "GetJournalHistory", req, new(JournalResponse))
}

func (g *gateway) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.invoke(w, r, "VerifyIntegrity", &IntegrityRequest{}, new(query.IntegrityReport))
}

func (g *gateway) invoke(w http.ResponseWriter, r *http.Request, method string, req, resp any) {
	if err := g.conn.Invoke(r.Context(), FullMethod(method), req, resp, CallOption()); err != nil {
		g.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		g.fail(w, r, status.Errorf(codes.Internal, "encode response: %v", err))
	}
}

func (g *gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	runtime.HTTPError(r.Context(), g.mux, g.marshaler, w, r, err)
}

func boolParam(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, status.Errorf(codes.InvalidArgument, "active_only: %v", err)
	}
	return v, nil
}

func intParam(name, s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "%s: %v", name, err)
	}
	return v, nil
}
