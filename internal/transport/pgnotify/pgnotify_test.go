// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

package pgnotify

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/passy/passy/pkg/errutil"
)

const notifySQL = "SELECT pg_notify($1, $2)"

func fastBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewConstant(time.Millisecond))
}

// fakeConn is a scripted listening session.
type fakeConn struct {
	notifications chan *pgconn.Notification
	failWait      chan error
	mu            sync.Mutex
	executed      []string
	closed        bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		notifications: make(chan *pgconn.Notification, 10),
		failWait:      make(chan error, 1),
	}
}

func (c *fakeConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executed = append(c.executed, sql)
	return pgconn.NewCommandTag("LISTEN"), nil
}

func (c *fakeConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-c.failWait:
		return nil, err
	case n := <-c.notifications:
		return n, nil
	}
}

func (c *fakeConn) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.executed...)
}

// dialSequence hands out conns in order.
func dialSequence(conns ...*fakeConn) (Dialer, *int) {
	var mu sync.Mutex
	calls := 0
	return func(context.Context) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		if calls >= len(conns) {
			calls++
			return nil, errors.New("no more connections")
		}
		c := conns[calls]
		calls++
		return c, nil
	}, &calls
}

func TestPublish_SendsNotify(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta(notifySQL)).
		WithArgs("plugin", `{"plugin":"vault"}`).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	tr := New(mock, nil, WithBackoff(fastBackoff))
	require.NoError(t, tr.Publish(context.Background(), "plugin", []byte(`{"plugin":"vault"}`)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublish_RetriesConnectionFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta(notifySQL)).
		WithArgs("plugin", "x").
		WillReturnError(&pgconn.PgError{Code: pgerrcode.ConnectionFailure})
	mock.ExpectExec(regexp.QuoteMeta(notifySQL)).
		WithArgs("plugin", "x").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	tr := New(mock, nil, WithBackoff(fastBackoff))
	require.NoError(t, tr.Publish(context.Background(), "plugin", []byte("x")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublish_DoesNotRetryPermanentFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta(notifySQL)).
		WithArgs("plugin", "x").
		WillReturnError(&pgconn.PgError{Code: pgerrcode.InsufficientPrivilege})

	tr := New(mock, nil, WithBackoff(fastBackoff))
	err = tr.Publish(context.Background(), "plugin", []byte("x"))
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeNotifyFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublish_PayloadTooLarge(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tr := New(mock, nil)
	err = tr.Publish(context.Background(), "plugin", []byte(strings.Repeat("a", MaxPayloadSize+1)))
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodePayloadTooLarge)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscribe_DeliversNotifications(t *testing.T) {
	defer goleak.VerifyNone(t)

	conn := newFakeConn()
	dial, _ := dialSequence(conn)
	tr := New(nil, dial, WithBackoff(fastBackoff))

	got := make(chan string, 2)
	dispose, err := tr.Subscribe(context.Background(), "plugin_res", func(_ context.Context, p []byte) {
		got <- string(p)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`LISTEN "plugin_res"`}, conn.statements())

	conn.notifications <- &pgconn.Notification{Channel: "other", Payload: "skip"}
	conn.notifications <- &pgconn.Notification{Channel: "plugin_res", Payload: "hello"}

	select {
	case p := <-got:
		assert.Equal(t, "hello", p)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}

	dispose()
	dispose()
	tr.Wait()
	assert.True(t, conn.isClosed())
}

func TestSubscribe_ReconnectsAfterConnectionLoss(t *testing.T) {
	defer goleak.VerifyNone(t)

	first := newFakeConn()
	second := newFakeConn()
	dial, calls := dialSequence(first, second)
	tr := New(nil, dial, WithBackoff(fastBackoff))

	got := make(chan string, 1)
	dispose, err := tr.Subscribe(context.Background(), "plugin_res", func(_ context.Context, p []byte) {
		got <- string(p)
	})
	require.NoError(t, err)

	first.failWait <- errors.New("connection reset")
	assert.Eventually(t, func() bool { return len(second.statements()) == 1 }, time.Second, time.Millisecond)
	assert.True(t, first.isClosed())

	second.notifications <- &pgconn.Notification{Channel: "plugin_res", Payload: "after"}
	select {
	case p := <-got:
		assert.Equal(t, "after", p)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered after reconnect")
	}

	dispose()
	tr.Wait()
	assert.Equal(t, 2, *calls)
}

func TestSubscribe_DialFailure(t *testing.T) {
	dial, _ := dialSequence()
	tr := New(nil, dial)

	_, err := tr.Subscribe(context.Background(), "plugin_res", func(context.Context, []byte) {})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeListenFailed)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&pgconn.PgError{Code: pgerrcode.ConnectionException}))
	assert.True(t, isRetryable(&pgconn.PgError{Code: pgerrcode.TooManyConnections}))
	assert.False(t, isRetryable(&pgconn.PgError{Code: pgerrcode.SyntaxError}))
	assert.False(t, isRetryable(errors.New("boom")))
}
