package server

import (
	"RedirectLedger/internal/ingestion"
	"RedirectLedger/internal/persistence"
	"RedirectLedger/internal/projection"
	"RedirectLedger/internal/query"
	"context"
	"database/sql"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	QueryServiceName  = "redirectledger.v1.QueryService"
	IngestServiceName = "redirectledger.v1.IngestService"
	AdminServiceName  = "redirectledger.v1.AdminService"
)

// QueryServer answers read requests.
type QueryServer interface {
	GetBalance(context.Context, *AccountRequest) (*query.BalanceResponse, error)
	GetAllowance(context.Context, *AllowanceRequest) (*query.AllowanceResponse, error)
	GetHat(context.Context, *HatRequest) (*query.HatResponse, error)
	GetHatByAddress(context.Context, *AccountRequest) (*query.HatResponse, error)
	GetGlobalStats(context.Context, *Empty) (*query.GlobalStatsResponse, error)
	GetInterestHistory(context.Context, *HistoryRequest) (*query.InterestHistoryResponse, error)
	ListLoans(context.Context, *HistoryRequest) (*ListLoansResponse, error)
	ListEvents(context.Context, *HistoryRequest) (*ListEventsResponse, error)
}

// IngestServer applies commands synchronously.
type IngestServer interface {
	SubmitCommand(context.Context, *SubmitCommandRequest) (*ingestion.SubmitResult, error)
}

// AdminServer exposes operational controls.
type AdminServer interface {
	TakeSnapshot(context.Context, *Empty) (*TakeSnapshotResponse, error)
	RebuildProjections(context.Context, *Empty) (*RebuildProjectionsResponse, error)
	GetEventLogInfo(context.Context, *Empty) (*EventLogInfoResponse, error)
	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
	Faucet(context.Context, *FaucetRequest) (*FaucetResponse, error)
}

// Funder mints simulated underlying for an account. Only the in-memory
// money market provides one.
type Funder interface {
	Fund(ctx context.Context, account uuid.UUID, amount sdkmath.Uint) error
}

// unary builds a method descriptor that decodes Req and calls fn on the
// registered implementation S.
func unary[S any, Req any, Resp any](service, method string, fn func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + service + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(S), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var queryServiceDesc = grpc.ServiceDesc{
	ServiceName: QueryServiceName,
	HandlerType: (*QueryServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(QueryServiceName, "GetBalance", QueryServer.GetBalance),
		unary(QueryServiceName, "GetAllowance", QueryServer.GetAllowance),
		unary(QueryServiceName, "GetHat", QueryServer.GetHat),
		unary(QueryServiceName, "GetHatByAddress", QueryServer.GetHatByAddress),
		unary(QueryServiceName, "GetGlobalStats", QueryServer.GetGlobalStats),
		unary(QueryServiceName, "GetInterestHistory", QueryServer.GetInterestHistory),
		unary(QueryServiceName, "ListLoans", QueryServer.ListLoans),
		unary(QueryServiceName, "ListEvents", QueryServer.ListEvents),
	},
}

var ingestServiceDesc = grpc.ServiceDesc{
	ServiceName: IngestServiceName,
	HandlerType: (*IngestServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(IngestServiceName, "SubmitCommand", IngestServer.SubmitCommand),
	},
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(AdminServiceName, "TakeSnapshot", AdminServer.TakeSnapshot),
		unary(AdminServiceName, "RebuildProjections", AdminServer.RebuildProjections),
		unary(AdminServiceName, "GetEventLogInfo", AdminServer.GetEventLogInfo),
		unary(AdminServiceName, "VerifyIntegrity", AdminServer.VerifyIntegrity),
		unary(AdminServiceName, "Faucet", AdminServer.Faucet),
	},
}

// ============================================================================
// QueryService implementation
// ============================================================================

type queryServiceImpl struct {
	qs *query.QueryService
}

func (s *queryServiceImpl) GetBalance(ctx context.Context, req *AccountRequest) (*query.BalanceResponse, error) {
	account, err := parseAccount("account", req.Account)
	if err != nil {
		return nil, err
	}
	resp, err := s.qs.GetBalance(ctx, account)
	return resp, toStatus(err)
}

func (s *queryServiceImpl) GetAllowance(ctx context.Context, req *AllowanceRequest) (*query.AllowanceResponse, error) {
	owner, err := parseAccount("owner", req.Owner)
	if err != nil {
		return nil, err
	}
	spender, err := parseAccount("spender", req.Spender)
	if err != nil {
		return nil, err
	}
	resp, err := s.qs.GetAllowance(ctx, owner, spender)
	return resp, toStatus(err)
}

func (s *queryServiceImpl) GetHat(ctx context.Context, req *HatRequest) (*query.HatResponse, error) {
	resp, err := s.qs.GetHat(ctx, req.HatID)
	return resp, toStatus(err)
}

func (s *queryServiceImpl) GetHatByAddress(ctx context.Context, req *AccountRequest) (*query.HatResponse, error) {
	account, err := parseAccount("account", req.Account)
	if err != nil {
		return nil, err
	}
	resp, err := s.qs.GetHatByAddress(ctx, account)
	return resp, toStatus(err)
}

func (s *queryServiceImpl) GetGlobalStats(ctx context.Context, _ *Empty) (*query.GlobalStatsResponse, error) {
	resp, err := s.qs.GetGlobalStats(ctx)
	return resp, toStatus(err)
}

func (s *queryServiceImpl) GetInterestHistory(_ context.Context, req *HistoryRequest) (*query.InterestHistoryResponse, error) {
	account, err := parseAccount("account", req.Account)
	if err != nil {
		return nil, err
	}
	return s.qs.GetInterestHistory(account, req.Limit), nil
}

func (s *queryServiceImpl) ListLoans(ctx context.Context, req *HistoryRequest) (*ListLoansResponse, error) {
	recipient, err := parseAccount("account", req.Account)
	if err != nil {
		return nil, err
	}
	loans, err := s.qs.GetLoansTo(ctx, recipient, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListLoansResponse{Loans: loans}, nil
}

func (s *queryServiceImpl) ListEvents(ctx context.Context, req *HistoryRequest) (*ListEventsResponse, error) {
	account, err := parseAccount("account", req.Account)
	if err != nil {
		return nil, err
	}
	events, err := s.qs.GetEventHistory(ctx, account, req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := &ListEventsResponse{Events: events}
	if req.Limit > 0 && len(events) == req.Limit {
		next := events[len(events)-1].Sequence
		resp.NextBeforeSequence = &next
	}
	return resp, nil
}

// ============================================================================
// IngestService implementation
// ============================================================================

type ingestServiceImpl struct {
	svc *ingestion.GRPCIngestService
}

func (s *ingestServiceImpl) SubmitCommand(ctx context.Context, req *SubmitCommandRequest) (*ingestion.SubmitResult, error) {
	if req.EventType == "" {
		return nil, status.Error(codes.InvalidArgument, "event_type is required")
	}
	if len(req.Payload) == 0 {
		return nil, status.Error(codes.InvalidArgument, "payload is required")
	}
	res, err := s.svc.Submit(ctx, req.EventType, req.Payload)
	return res, toStatus(err)
}

// ============================================================================
// AdminService implementation
// ============================================================================

type adminServiceImpl struct {
	db           *sql.DB
	snapMgr      *persistence.SnapshotManager
	snapshotter  *persistence.Snapshotter
	queryService *query.QueryService
	faucet       Funder
	startTime    time.Time
	logger       zerolog.Logger
}

func (s *adminServiceImpl) TakeSnapshot(ctx context.Context, _ *Empty) (*TakeSnapshotResponse, error) {
	if s.snapshotter == nil {
		return nil, status.Error(codes.Unimplemented, "snapshots are disabled")
	}
	seq, err := s.snapshotter.TakeSnapshot(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &TakeSnapshotResponse{Sequence: seq}, nil
}

func (s *adminServiceImpl) RebuildProjections(ctx context.Context, _ *Empty) (*RebuildProjectionsResponse, error) {
	if s.db == nil {
		return nil, toStatus(query.ErrNoDatabase)
	}
	if err := projection.RebuildProjections(ctx, s.db, s.logger); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	watermark, err := s.queryService.GetWatermark(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RebuildProjectionsResponse{Watermark: watermark}, nil
}

func (s *adminServiceImpl) GetEventLogInfo(ctx context.Context, _ *Empty) (*EventLogInfoResponse, error) {
	resp := &EventLogInfoResponse{
		LastSequence:       -1,
		ProjectionSequence: -1,
		SnapshotSequence:   -1,
		UptimeSeconds:      int64(time.Since(s.startTime).Seconds()),
	}

	stats, err := s.queryService.GetGlobalStats(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	resp.LiveSequence = stats.AsOfSequence

	if s.snapMgr != nil {
		if resp.LastSequence, err = s.snapMgr.GetLatestSequence(ctx); err != nil {
			return nil, status.Errorf(codes.Internal, "get latest sequence: %v", err)
		}
	}
	if s.db != nil {
		if resp.ProjectionSequence, err = s.queryService.GetWatermark(ctx); err != nil {
			return nil, status.Errorf(codes.Internal, "get watermark: %v", err)
		}
	}
	if s.snapshotter != nil {
		resp.SnapshotSequence = s.snapshotter.LastSequence()
	}
	return resp, nil
}

func (s *adminServiceImpl) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	report, err := s.queryService.VerifyIntegrity(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
	}
	if !report.IsHealthy {
		s.logger.Warn().Ints64("hash_chain_breaks", report.HashChainBreaks).
			Str("live_supply_error", report.LiveSupplyError).Msg("integrity check failed")
	}
	return report, nil
}

func (s *adminServiceImpl) Faucet(ctx context.Context, req *FaucetRequest) (*FaucetResponse, error) {
	if s.faucet == nil {
		return nil, status.Error(codes.Unimplemented, "faucet is only available on the simulated market")
	}
	account, err := parseAccount("account", req.Account)
	if err != nil {
		return nil, err
	}
	amount, err := sdkmath.ParseUint(req.Amount)
	if err != nil || amount.IsZero() {
		return nil, status.Errorf(codes.InvalidArgument, "invalid amount %q", req.Amount)
	}
	if err := s.faucet.Fund(ctx, account, amount); err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info().Str("account", account.String()).Str("amount", amount.String()).Msg("faucet funded account")
	return &FaucetResponse{Account: account, Amount: amount}, nil
}

// ============================================================================
// Helpers
// ============================================================================

func parseAccount(field, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid %s: %v", field, err)
	}
	return id, nil
}
