package payments

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleIPNAcknowledgesSuccess(t *testing.T) {
	f := newReconcilerFixture(t)
	h := NewCallbackHandler(f.reconciler, nil)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("SELECT (.+) FROM payments WHERE order_ref = \\$1 FOR UPDATE").
		WithArgs("spaabc123").
		WillReturnRows(paymentRow(uuid.New(), "spaabc123", nil, 150000, MethodGateway, StatusPending))
	f.mock.ExpectExec("UPDATE payments").
		WithArgs(pgxmock.AnyArg(), string(StatusCompleted), "gw-789", "00", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.mock.ExpectCommit()

	req := httptest.NewRequest("GET", "/payments/ipn?"+callback(f.gateway, "spaabc123", "00", 150000).Encode(), nil)
	rec := httptest.NewRecorder()
	h.HandleIPN(rec, req)

	assert.Equal(t, 200, rec.Code)
	var ack ipnAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, AckOK, ack.RspCode)
}

func TestHandleIPNBadSignature(t *testing.T) {
	f := newReconcilerFixture(t)
	h := NewCallbackHandler(f.reconciler, nil)

	req := httptest.NewRequest("GET", "/payments/ipn?orderId=&responseCode=00&amount=1", nil)
	rec := httptest.NewRecorder()
	h.HandleIPN(rec, req)

	assert.Equal(t, 200, rec.Code)
	var ack ipnAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, AckBadSignature, ack.RspCode)
}

func TestHandleReturnShowsClientVerdict(t *testing.T) {
	f := newReconcilerFixture(t)
	h := NewCallbackHandler(f.reconciler, nil)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery("SELECT (.+) FROM payments WHERE order_ref = \\$1 FOR UPDATE").
		WithArgs("spaabc123").
		WillReturnRows(paymentRow(uuid.New(), "spaabc123", nil, 150000, MethodGateway, StatusPending))
	f.mock.ExpectExec("UPDATE payments").
		WithArgs(pgxmock.AnyArg(), string(StatusFailed), "gw-789", "24", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.mock.ExpectCommit()

	req := httptest.NewRequest("GET", "/payments/return?"+callback(f.gateway, "spaabc123", "24", 150000).Encode(), nil)
	rec := httptest.NewRecorder()
	h.HandleReturn(rec, req)

	assert.Equal(t, 400, rec.Code)
	var resp returnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "spaabc123", resp.OrderRef)
}
