package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"propbot/internal/storage"
	"propbot/internal/warpcast"
	logx "propbot/pkg/logx"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendDirectCast(ctx context.Context, recipient int64, message, key string) (warpcast.SendResult, error) {
	args := m.Called(ctx, recipient, message, key)
	return args.Get(0).(warpcast.SendResult), args.Error(1)
}

// steppingClock advances one second per call so enqueue timestamps differ.
func steppingClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, WithClock(steppingClock(time.Unix(1_700_000_000, 0))))
}

func notification(recipient int64, number int) *Notification {
	return &Notification{
		Recipient: recipient,
		Kind:      KindProposal,
		PlannedAt: 1_700_000_000,
		Proposal: ProposalInfo{
			ID:             "0xp",
			ProposalNumber: number,
			Title:          "Fund the thing",
			DAOID:          "0xdao",
			DAOName:        "Purple DAO",
			ChainID:        8453,
			ChainName:      "Base",
			CreatedAt:      1_700_000_000 - 3*3600,
			VoteStart:      1_700_000_000 + 86400,
			VoteEnd:        1_700_000_000 + 4*86400,
		},
	}
}

func TestPayloadEnvelope(t *testing.T) {
	n := notification(42, 7)
	ms := 1
	n.Propdate = &PropdateInfo{ID: "0xu", Content: "done", MilestoneID: &ms, CreatedAt: 5}

	raw, err := EncodePayload(n)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"notification"`)

	got, err := DecodePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, n, got)

	inv := &Invitation{Recipient: 9, DAOs: []DAORef{{ID: "0xa", Name: "Gnars DAO", ChainID: 8453}}}
	raw, err = EncodePayload(inv)
	require.NoError(t, err)
	got, err = DecodePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, inv, got)

	_, err = DecodePayload([]byte(`{"type":"test","recipient":1}`))
	assert.ErrorIs(t, err, ErrUnknownPayload)
}

func TestConsumeIsFIFOAndHonorsLimit(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	first, err := q.Enqueue(ctx, notification(1, 1))
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, notification(2, 2))
	require.NoError(t, err)

	sender := new(MockSender)
	sender.On("SendDirectCast", mock.Anything, int64(1), mock.Anything, mock.Anything).
		Return(warpcast.SendResult{Success: true}, nil).Once()

	c := NewConsumer(q, sender, 0, logx.Nop())
	sum, err := c.Consume(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Sent: 1}, sum)
	sender.AssertExpectations(t)

	pending, err := q.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second, pending[0].ID)
	assert.NotEqual(t, first, pending[0].ID)
}

func TestConsumeRetriesFailedSends(t *testing.T) {
	cases := []struct {
		name string
		res  warpcast.SendResult
		err  error
	}{
		{"unsuccessful", warpcast.SendResult{Success: false}, nil},
		{"error", warpcast.SendResult{}, errors.New("boom")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			q := newTestQueue(t)
			orig, err := q.Enqueue(ctx, notification(1, 1))
			require.NoError(t, err)

			sender := new(MockSender)
			sender.On("SendDirectCast", mock.Anything, int64(1), mock.Anything, mock.Anything).Return(tc.res, tc.err).Once()

			sum, err := NewConsumer(q, sender, 0, logx.Nop()).Consume(ctx, 0)
			require.NoError(t, err)
			assert.Equal(t, Summary{Processed: 1, Retried: 1}, sum)

			pending, err := q.Pending(ctx, 0)
			require.NoError(t, err)
			require.Len(t, pending, 1)
			assert.NotEqual(t, orig, pending[0].ID)

			p, err := DecodePayload(pending[0].Payload)
			require.NoError(t, err)
			assert.Equal(t, notification(1, 1), p)

			stats, err := q.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, storage.TaskCounts{Pending: 1, Completed: 1}, stats)
		})
	}
}

func TestConsumeRetryKeepsIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	_, err := q.Enqueue(ctx, notification(1, 1))
	require.NoError(t, err)

	var keys []string
	sender := new(MockSender)
	sender.On("SendDirectCast", mock.Anything, int64(1), mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { keys = append(keys, args.String(3)) }).
		Return(warpcast.SendResult{Success: false}, nil).Once()
	sender.On("SendDirectCast", mock.Anything, int64(1), mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { keys = append(keys, args.String(3)) }).
		Return(warpcast.SendResult{Success: true}, nil).Once()

	c := NewConsumer(q, sender, 0, logx.Nop())
	_, err = c.Consume(ctx, 0)
	require.NoError(t, err)
	_, err = c.Consume(ctx, 0)
	require.NoError(t, err)

	require.Len(t, keys, 2)
	assert.Equal(t, keys[0], keys[1])
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.TaskCounts{Pending: 0, Completed: 2}, stats)
}

func TestConsumeDropsUndecodablePayload(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	require.NoError(t, q.store.InsertTask(ctx, storage.TaskRecord{
		ID: "bad", Payload: []byte(`{"type":"test"}`), Status: storage.TaskPending, EnqueuedAt: time.Unix(1, 0),
	}))

	sender := new(MockSender)
	sum, err := NewConsumer(q, sender, 0, logx.Nop()).Consume(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Dropped: 1}, sum)
	sender.AssertNotCalled(t, "SendDirectCast", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.TaskCounts{Completed: 1}, stats)
}

func TestConsumeEmptyQueue(t *testing.T) {
	sender := new(MockSender)
	sum, err := NewConsumer(newTestQueue(t), sender, 0, logx.Nop()).Consume(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, sum)
}

func TestLogSenderSucceeds(t *testing.T) {
	res, err := LogSender{}.SendDirectCast(context.Background(), 1, "hi", IdempotencyKey("hi"))
	require.NoError(t, err)
	assert.True(t, res.Success)
}
