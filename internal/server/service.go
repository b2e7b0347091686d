package server

import (
	"InsureLedger/internal/core"
	"InsureLedger/internal/event"
	"InsureLedger/internal/ingestion"
	"InsureLedger/internal/query"
	"context"
	"encoding/json"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "insureledger.v1.InsuranceService"

// ============================================================================
// Requests
// ============================================================================

type PoolRequest struct {
	PoolKey string `json:"pool_key"`
}

type PolicyRequest struct {
	PolicyID string `json:"policy_id"`
}

type ListPoliciesRequest struct {
	PoolKey    string `json:"pool_key"`
	Owner      string `json:"owner"`
	ActiveOnly bool   `json:"active_only"`
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
}

type GovernanceRequest struct {
	GovernanceKey string `json:"governance_key"`
}

type VotesRequest struct {
	ProposalID uint64 `json:"proposal_id"`
}

type BalanceRequest struct {
	AccountPath string `json:"account_path"`
}

type JournalRequest struct {
	AccountPath   string `json:"account_path"`
	Limit         int    `json:"limit"`
	AfterSequence *int64 `json:"after_sequence,omitempty"`
}

type IntegrityRequest struct{}

type JournalResponse struct {
	Entries []query.JournalHistoryEntry `json:"entries"`
}

// InsuranceServiceServer is the server side of ServiceName. Every
// command operation shares Execute; op is the snake_case operation name.
type InsuranceServiceServer interface {
	Execute(ctx context.Context, op string, body json.RawMessage) (*core.Result, error)
	GetPool(ctx context.Context, req *PoolRequest) (*query.PoolResponse, error)
	GetPolicy(ctx context.Context, req *PolicyRequest) (*query.PolicyResponse, error)
	ListPolicies(ctx context.Context, req *ListPoliciesRequest) (*query.PolicyListResponse, error)
	GetPolicyHistory(ctx context.Context, req *PolicyRequest) (*query.HistoryResponse, error)
	GetGovernance(ctx context.Context, req *GovernanceRequest) (*query.GovernanceResponse, error)
	ListVotes(ctx context.Context, req *VotesRequest) (*query.VotesResponse, error)
	GetBalance(ctx context.Context, req *BalanceRequest) (*query.BalanceResponse, error)
	GetJournalHistory(ctx context.Context, req *JournalRequest) (*JournalResponse, error)
	VerifyIntegrity(ctx context.Context, req *IntegrityRequest) (*query.IntegrityReport, error)
}

// ============================================================================
// Service descriptor
// ============================================================================

// ServiceDesc registers one method per command (named after the event
// type, e.g. "PurchaseInsurance") plus the read methods.
var ServiceDesc = buildServiceDesc()

func buildServiceDesc() grpc.ServiceDesc {
	methods := make([]grpc.MethodDesc, 0, len(event.EventTypes())+9)
	for _, et := range event.EventTypes() {
		op := et.Operation()
		methods = append(methods, method(et.String(), func(s InsuranceServiceServer, ctx context.Context, in *json.RawMessage) (*core.Result, error) {
			return s.Execute(ctx, op, *in)
		}))
	}

	methods = append(methods,
		method("GetPool", InsuranceServiceServer.GetPool),
		method("GetPolicy", InsuranceServiceServer.GetPolicy),
		method("ListPolicies", InsuranceServiceServer.ListPolicies),
		method("GetPolicyHistory", InsuranceServiceServer.GetPolicyHistory),
		method("GetGovernance", InsuranceServiceServer.GetGovernance),
		method("ListVotes", InsuranceServiceServer.ListVotes),
		method("GetBalance", InsuranceServiceServer.GetBalance),
		method("GetJournalHistory", InsuranceServiceServer.GetJournalHistory),
		method("VerifyIntegrity", InsuranceServiceServer.VerifyIntegrity),
	)

	return grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*InsuranceServiceServer)(nil),
		Methods:     methods,
		Streams:     []grpc.StreamDesc{},
		Metadata:    "insureledger/v1/insurance.json",
	}
}

func method[Req, Resp any](
	name string,
	call func(InsuranceServiceServer, context.Context, *Req) (Resp, error),
) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(InsuranceServiceServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// FullMethod returns the invoke path for a method name.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// ============================================================================
// Implementation
// ============================================================================

type insuranceService struct {
	commands *ingestion.CommandService
	queries  *query.QueryService
}

func (s *insuranceService) Execute(ctx context.Context, op string, body json.RawMessage) (*core.Result, error) {
	return s.commands.Execute(ctx, op, body)
}

func (s *insuranceService) GetPool(ctx context.Context, req *PoolRequest) (*query.PoolResponse, error) {
	return s.queries.GetPool(ctx, req.PoolKey)
}

func (s *insuranceService) GetPolicy(ctx context.Context, req *PolicyRequest) (*query.PolicyResponse, error) {
	return s.queries.GetPolicy(ctx, req.PolicyID)
}

func (s *insuranceService) ListPolicies(ctx context.Context, req *ListPoliciesRequest) (*query.PolicyListResponse, error) {
	return s.queries.ListPolicies(ctx, req.PoolKey, req.Owner, req.ActiveOnly, req.Limit, req.Offset)
}

func (s *insuranceService) GetPolicyHistory(ctx context.Context, req *PolicyRequest) (*query.HistoryResponse, error) {
	return s.queries.GetPolicyHistory(ctx, req.PolicyID)
}

func (s *insuranceService) GetGovernance(ctx context.Context, req *GovernanceRequest) (*query.GovernanceResponse, error) {
	return s.queries.GetGovernance(ctx, req.GovernanceKey)
}

func (s *insuranceService) ListVotes(ctx context.Context, req *VotesRequest) (*query.VotesResponse, error) {
	return s.queries.ListVotes(ctx, req.ProposalID)
}

func (s *insuranceService) GetBalance(ctx context.Context, req *BalanceRequest) (*query.BalanceResponse, error) {
	return s.queries.GetBalance(ctx, req.AccountPath)
}

func (s *insuranceService) GetJournalHistory(ctx context.Context, req *JournalRequest) (*JournalResponse, error) {
	entries, err := s.queries.GetJournalHistory(ctx, req.AccountPath, req.Limit, req.AfterSequence)
	if err != nil {
		return nil, err
	}
	return &JournalResponse{Entries: entries}, nil
}

func (s *insuranceService) VerifyIntegrity(ctx context.Context, _ *IntegrityRequest) (*query.IntegrityReport, error) {
	return s.queries.VerifyIntegrity(ctx)
}
