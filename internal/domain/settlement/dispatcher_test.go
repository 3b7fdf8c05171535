package settlement_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotpool/internal/domain/events"
	"lotpool/internal/domain/settlement"
	"lotpool/internal/infrastructure/storage/memory"
)

type recordingHandler struct {
	seen []string
	err  error
}

func (h *recordingHandler) Handle(_ context.Context, msg *events.Message) error {
	if h.err != nil {
		return h.err
	}
	h.seen = append(h.seen, msg.EventType)
	return nil
}

func publishClosed(t *testing.T, e *env, payload events.LotClosedPayload) {
	t.Helper()
	err := memory.NewTxManager().RunInTransaction(context.Background(), func(ctx context.Context) error {
		return e.outbox.Publish(ctx, events.Event{
			AggregateType: events.AggregateLot,
			AggregateID:   payload.LotID,
			EventType:     events.LotClosed,
			Payload:       payload,
		})
	})
	require.NoError(t, err)
}

func TestDispatcher_LotClosedMaterializesAndForwards(t *testing.T) {
	e := newEnv(t, nil, nil)
	closed := e.closeLot(t)
	publishClosed(t, e, events.LotClosedPayload{LotID: closed.ID, AccumulatedQty: closed.AccumulatedQty})

	fwd := &recordingHandler{}
	d := settlement.NewDispatcher(e.m, fwd)
	ctx := context.Background()

	n, err := e.outbox.ProcessBatch(ctx, d, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, e.orders.Count())

	// order.materialized was written by settlement and is relayed next.
	n, err = e.outbox.ProcessBatch(ctx, d, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{events.LotClosed, events.OrderMaterialized}, fwd.seen)
	assert.Equal(t, 1, e.orders.Count())
}

func TestDispatcher_SettlementFailureKeepsMessagePending(t *testing.T) {
	orders := &failingOrders{OrderStore: memory.NewOrderStore(), fail: true}
	e := newEnv(t, orders, nil)
	closed := e.closeLot(t)
	publishClosed(t, e, events.LotClosedPayload{LotID: closed.ID})

	d := settlement.NewDispatcher(e.m, nil)
	ctx := context.Background()

	n, err := e.outbox.ProcessBatch(ctx, d, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.Len(t, e.outbox.Pending(), 1)
	assert.Equal(t, 1, e.outbox.Pending()[0].RetryCount)

	orders.fail = false
	n, err = e.outbox.ProcessBatch(ctx, d, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, orders.Count())
}

func TestDispatcher_ForwardErrorRetries(t *testing.T) {
	e := newEnv(t, nil, nil)
	closed := e.closeLot(t)
	publishClosed(t, e, events.LotClosedPayload{LotID: closed.ID})

	d := settlement.NewDispatcher(e.m, &recordingHandler{err: errors.New("broker down")})
	n, err := e.outbox.ProcessBatch(context.Background(), d, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Settlement already happened; retrying the message must not create a second order.
	_, err = e.outbox.ProcessBatch(context.Background(), d, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, e.orders.Count())
}
