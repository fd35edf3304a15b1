package server_test

import (
	"RedirectLedger/internal/ingestion"
	"RedirectLedger/internal/projection"
	"RedirectLedger/internal/protocol"
	"RedirectLedger/internal/query"
	"RedirectLedger/internal/server"
	"RedirectLedger/internal/testutil"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

var (
	alice = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	bob   = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
)

func newServer(t *testing.T) (*testutil.Ledger, *server.GRPCServer) {
	t.Helper()
	l := testutil.NewLedger(t, sdkmath.ZeroUint())
	qs := query.NewQueryService(nil, l.Dispatcher, projection.NewInterestHistory(10))
	ing := ingestion.NewGRPCIngestService(l.Dispatcher, nil, zerolog.Nop())
	srv := server.NewGRPCServer("", "", &server.ServerDeps{
		QueryService:  qs,
		IngestService: ing,
		StartTime:     time.Now(),
	}, zerolog.Nop())
	return l, srv
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func depositBody(opID uuid.UUID, account uuid.UUID, amount string) string {
	return fmt.Sprintf(`{"operation_id":%q,"account":%q,"amount":%q,"new_hat":{"recipients":[%q],"weights":[1]}}`,
		opID, account, amount, bob)
}

func TestGateway_DepositThenQuery(t *testing.T) {
	l, srv := newServer(t)
	h := srv.Handler()
	l.Fund(alice, 1000)

	op := uuid.New()
	code, res := do(t, h, http.MethodPost, "/v1/commands/Deposit", depositBody(op, alice, "1000"))
	require.Equal(t, http.StatusOK, code, res)
	assert.Equal(t, float64(0), res["sequence"])
	assert.Equal(t, false, res["duplicate"])
	assert.Equal(t, "1000", res["amount"])
	hatID := uint64(res["hat_id"].(float64))

	code, res = do(t, h, http.MethodPost, "/v1/commands/Deposit", depositBody(op, alice, "1000"))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, res["duplicate"])

	code, res = do(t, h, http.MethodGet, "/v1/accounts/"+alice.String()+"/balance", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1000", res["balance"])
	assert.Equal(t, float64(hatID), res["hat_id"])

	code, res = do(t, h, http.MethodGet, "/v1/accounts/"+bob.String()+"/balance", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "0", res["balance"])
	assert.Equal(t, "1000", res["received_loan"])

	code, res = do(t, h, http.MethodGet, fmt.Sprintf("/v1/hats/%d", hatID), "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []interface{}{bob.String()}, res["recipients"])

	code, res = do(t, h, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1000", res["total_supply"])
	assert.Equal(t, float64(0), res["as_of_sequence"])
}

func TestGateway_ErrorMapping(t *testing.T) {
	l, srv := newServer(t)
	h := srv.Handler()
	l.Fund(alice, 10)

	cases := []struct {
		name     string
		method   string
		path     string
		body     string
		httpCode int
		code     string
	}{
		{"bad account", http.MethodGet, "/v1/accounts/nope/balance", "", http.StatusBadRequest, "InvalidArgument"},
		{"unknown hat", http.MethodGet, "/v1/hats/999", "", http.StatusNotFound, "NotFound"},
		{"bad hat id", http.MethodGet, "/v1/hats/x", "", http.StatusBadRequest, "InvalidArgument"},
		{"malformed command", http.MethodPost, "/v1/commands/Deposit", `{}`, http.StatusBadRequest, "InvalidArgument"},
		{"unknown command", http.MethodPost, "/v1/commands/Liquidate", `{"a":1}`, http.StatusBadRequest, "InvalidArgument"},
		{"insufficient balance", http.MethodPost, "/v1/commands/Withdraw",
			fmt.Sprintf(`{"operation_id":%q,"account":%q,"amount":"5"}`, uuid.New(), bob),
			http.StatusBadRequest, "FailedPrecondition"},
		{"no database", http.MethodGet, "/v1/accounts/" + alice.String() + "/loans", "", http.StatusNotImplemented, "Unimplemented"},
		{"bad limit", http.MethodGet, "/v1/accounts/" + alice.String() + "/events?limit=x", "", http.StatusBadRequest, "InvalidArgument"},
		{"snapshots disabled", http.MethodPost, "/v1/admin/snapshot", "", http.StatusNotImplemented, "Unimplemented"},
		{"faucet disabled", http.MethodPost, "/v1/admin/faucet",
			fmt.Sprintf(`{"account":%q,"amount":"5"}`, alice), http.StatusNotImplemented, "Unimplemented"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, res := do(t, h, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.httpCode, code, res)
			assert.Equal(t, tc.code, res["code"])
		})
	}
}

func TestGateway_AdminWithoutDatabase(t *testing.T) {
	_, srv := newServer(t)
	h := srv.Handler()

	code, res := do(t, h, http.MethodGet, "/v1/admin/integrity", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, res["is_healthy"])

	code, res = do(t, h, http.MethodGet, "/v1/admin/event-log", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(-1), res["live_sequence"])
	assert.Equal(t, float64(-1), res["last_sequence"])
}

func TestGateway_FaucetFundsDeposits(t *testing.T) {
	l := testutil.NewLedger(t, sdkmath.ZeroUint())
	srv := server.NewGRPCServer("", "", &server.ServerDeps{
		QueryService:  query.NewQueryService(nil, l.Dispatcher, nil),
		IngestService: ingestion.NewGRPCIngestService(l.Dispatcher, nil, zerolog.Nop()),
		StartTime:     time.Now(),
		Faucet:        protocol.NewFaucet(l.Token, testutil.Pool),
	}, zerolog.Nop())
	h := srv.Handler()

	code, res := do(t, h, http.MethodPost, "/v1/admin/faucet", fmt.Sprintf(`{"account":%q,"amount":"250"}`, alice))
	require.Equal(t, http.StatusOK, code, res)
	assert.Equal(t, "250", res["amount"])

	code, res = do(t, h, http.MethodPost, "/v1/admin/faucet", fmt.Sprintf(`{"account":%q,"amount":"0"}`, alice))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "InvalidArgument", res["code"])

	code, res = do(t, h, http.MethodPost, "/v1/commands/Deposit",
		fmt.Sprintf(`{"operation_id":%q,"account":%q,"amount":"250"}`, uuid.New(), alice))
	require.Equal(t, http.StatusOK, code, res)

	code, res = do(t, h, http.MethodGet, "/v1/accounts/"+alice.String()+"/balance", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "250", res["balance"])
}

func TestGateway_Healthz(t *testing.T) {
	_, srv := newServer(t)
	code, res := do(t, srv.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", res["status"])
}

func TestGRPC_JSONCodec(t *testing.T) {
	l, srv := newServer(t)
	l.Fund(alice, 300)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, lis)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(server.CodecName)),
	)
	require.NoError(t, err)
	defer conn.Close()

	submit := &server.SubmitCommandRequest{
		EventType: "Deposit",
		Payload:   json.RawMessage(fmt.Sprintf(`{"operation_id":%q,"account":%q,"amount":"300"}`, uuid.New(), alice)),
	}
	var result ingestion.SubmitResult
	require.NoError(t, conn.Invoke(ctx, "/"+server.IngestServiceName+"/SubmitCommand", submit, &result))
	assert.Equal(t, int64(0), result.Sequence)

	var bal query.BalanceResponse
	require.NoError(t, conn.Invoke(ctx, "/"+server.QueryServiceName+"/GetBalance",
		&server.AccountRequest{Account: alice.String()}, &bal))
	assert.Equal(t, "300", bal.Balance.String())

	err = conn.Invoke(ctx, "/"+server.QueryServiceName+"/GetHat", &server.HatRequest{HatID: 42}, &query.HatResponse{})
	assert.Equal(t, codes.NotFound, status.Code(err))
}
