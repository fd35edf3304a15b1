package server

import (
	"RedirectLedger/internal/observability"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxCommandBytes = 1 << 20

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// newGateway serves the same services over HTTP/JSON for tooling,
// dashboards and curl. Handlers call the service implementations in
// process, so both transports share validation and error mapping.
func newGateway(
	qs *queryServiceImpl,
	is *ingestServiceImpl,
	as *adminServiceImpl,
	healthChecker *observability.HealthChecker,
	logger zerolog.Logger,
) http.Handler {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{http.MethodGet, "/v1/accounts/{account}/balance", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			resp, err := qs.GetBalance(r.Context(), &AccountRequest{Account: p["account"]})
			writeResponse(w, resp, err, logger)
		}},
		{http.MethodGet, "/v1/accounts/{account}/hat", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			resp, err := qs.GetHatByAddress(r.Context(), &AccountRequest{Account: p["account"]})
			writeResponse(w, resp, err, logger)
		}},
		{http.MethodGet, "/v1/accounts/{account}/interest", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			req, err := historyRequest(r, p["account"])
			if err != nil {
				writeError(w, err, logger)
				return
			}
			resp, err := qs.GetInterestHistory(r.Context(), req)
			writeResponse(w, resp, err, logger)
		}},
		{http.MethodGet, "/v1/accounts/{account}/loans", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			req, err := historyRequest(r, p["account"])
			if err != nil {
				writeError(w, err, logger)
				return
			}
			resp, err := qs.ListLoans(r.Context(), req)
			writeResponse(w, resp, err, logger)
		}},
		{http.MethodGet, "/v1/accounts/{account}/events", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			req, err := historyRequest(r, p["account"])
			if err != nil {
				writeError(w, err, logger)
				return
			}
			resp, err := qs.ListEvents(r.Context(), req)
			writeResponse(w, resp, err, logger)
		}},
		{http.MethodGet, "/v1/allowances/{owner}/{spender}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			resp, err := qs.GetAllowance(r.Context(), &AllowanceRequest{Owner: p["owner"], Spender: p["spender"]})
			writeResponse(w, resp, err, logger)
		}},
		{http.MethodGet, "/v1/hats/{hat_id}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			hatID, err := strconv.ParseUint(p["hat_id"], 10, 64)
			if err != nil {
				writeError(w, status.Errorf(codes.InvalidArgument, "invalid hat_id: %v", err), logger)
				return
			}
			resp, err := qs.GetHat(r.Context(), &HatRequest{HatID: hatID})
			writeResponse(w, resp, err, logger)
		}},
		{http.MethodGet, "/v1/stats", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := qs.GetGlobalStats(r.Context(), &Empty{})
			writeResponse(w, resp, err, logger)
		}},
		{http.MethodPost, "/v1/commands/{event_type}", func(w http.ResponseWriter, r *http.Request, p map[string]string) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBytes))
			if err != nil {
				writeError(w, status.Errorf(codes.InvalidArgument, "read body: %v", err), logger)
				return
			}
			resp, err := is.SubmitCommand(r.Context(), &SubmitCommandRequest{EventType: p["event_type"], Payload: body})
			writeResponse(w, resp, err, logger)
		}},
		{http.MethodPost, "/v1/admin/snapshot", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := as.TakeSnapshot(r.Context(), &Empty{})
			writeResponse(w, resp, err, logger)
		}},
		{http.MethodPost, "/v1/admin/projections/rebuild", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := as.RebuildProjections(r.Context(), &Empty{})
			writeResponse(w, resp, err, logger)
		}},
		{http.MethodGet, "/v1/admin/event-log", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := as.GetEventLogInfo(r.Context(), &Empty{})
			writeResponse(w, resp, err, logger)
		}},
		{http.MethodGet, "/v1/admin/integrity", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := as.VerifyIntegrity(r.Context(), &Empty{})
			writeResponse(w, resp, err, logger)
		}},
		{http.MethodPost, "/v1/admin/faucet", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			var req FaucetRequest
			if err := json.NewDecoder(io.LimitReader(r.Body, maxCommandBytes)).Decode(&req); err != nil {
				writeError(w, status.Errorf(codes.InvalidArgument, "decode body: %v", err), logger)
				return
			}
			resp, err := as.Faucet(r.Context(), &req)
			writeResponse(w, resp, err, logger)
		}},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			// Patterns are constant; a failure here is a programming error.
			panic(err)
		}
	}

	httpMux := http.NewServeMux()
	if healthChecker != nil {
		httpMux.HandleFunc("/healthz", healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
	}
	httpMux.Handle("/", mux)
	return httpMux
}

func historyRequest(r *http.Request, account string) (*HistoryRequest, error) {
	req := &HistoryRequest{Account: account}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return nil, status.Errorf(codes.InvalidArgument, "invalid limit %q", v)
		}
		req.Limit = limit
	}
	if v := q.Get("before_sequence"); v != "" {
		before, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid before_sequence %q", v)
		}
		req.BeforeSequence = &before
	}
	return req, nil
}

func writeResponse(w http.ResponseWriter, resp any, err error, logger zerolog.Logger) {
	if err != nil {
		writeError(w, err, logger)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Warn().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, err error, logger zerolog.Logger) {
	st := status.Convert(toStatus(err))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
	if err := json.NewEncoder(w).Encode(errorBody{Code: st.Code().String(), Message: st.Message()}); err != nil {
		logger.Warn().Err(err).Msg("encode error")
	}
}
