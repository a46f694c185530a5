package terminal_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facilityops/accesscontrol-sync/internal/records"
	"github.com/facilityops/accesscontrol-sync/internal/terminal"
	"github.com/facilityops/accesscontrol-sync/internal/terminal/terminaltest"
)

func fastDialer() *terminal.HTTPDialer {
	return terminal.NewHTTPDialer(
		terminal.WithInitialBackoff(5*time.Millisecond),
		terminal.WithMaxAttemptTimeout(time.Second),
	)
}

func TestDialAndInfo(t *testing.T) {
	t.Parallel()

	term := terminaltest.New(
		terminaltest.WithFirmware("Ver 6.70 Jan 1 2020"),
		terminaltest.WithUsers(
			records.User{UID: 1, Name: "Ana", Templates: []records.Template{{FingerIndex: 0, Data: []byte{1}}}},
			records.User{UID: 2, Name: "Ben"},
		),
	)
	t.Cleanup(term.Close)

	sess, err := fastDialer().Dial(context.Background(), term.Device("door-1"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	info, err := sess.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Ver 6.70 Jan 1 2020", info.FirmwareVersion)
	assert.Equal(t, 2, info.UserCount)
	assert.Equal(t, 1, info.TemplateCount)
}

func TestDialRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	term := terminaltest.New()
	t.Cleanup(term.Close)
	term.FailNext(2)

	sess, err := fastDialer().Dial(context.Background(), term.Device("door-1"))
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, 3, term.Requests())
}

func TestDialGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	term := terminaltest.New()
	t.Cleanup(term.Close)
	term.SetUnavailable(true)

	_, err := fastDialer().Dial(context.Background(), term.Device("door-1"))
	require.Error(t, err)

	var contactErr *terminal.ContactError
	require.ErrorAs(t, err, &contactErr)
	assert.Equal(t, "door-1", contactErr.DeviceID)
	assert.Equal(t, "connect", contactErr.Op)
	assert.Equal(t, 3, contactErr.Attempts)
	assert.Equal(t, 3, term.Requests())

	var httpErr *terminal.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestDialDoesNotRetryAuthFailure(t *testing.T) {
	t.Parallel()

	term := terminaltest.New(terminaltest.WithPassword("1234"))
	t.Cleanup(term.Close)

	dev := term.Device("door-1")
	dev.Password = "wrong"

	_, err := fastDialer().Dial(context.Background(), dev)
	require.Error(t, err)
	assert.Equal(t, 1, term.Requests())

	var httpErr *terminal.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
}

func TestDialTimesOutPerAttempt(t *testing.T) {
	t.Parallel()

	term := terminaltest.New()
	t.Cleanup(term.Close)
	term.SetDelay(500 * time.Millisecond)

	dev := term.Device("door-1")
	dev.Timeout = 20 * time.Millisecond

	d := terminal.NewHTTPDialer(
		terminal.WithMaxAttempts(2),
		terminal.WithInitialBackoff(time.Millisecond),
		terminal.WithMaxAttemptTimeout(30*time.Millisecond),
	)
	start := time.Now()
	_, err := d.Dial(context.Background(), dev)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 450*time.Millisecond)
}

func TestDialUnreachable(t *testing.T) {
	t.Parallel()

	term := terminaltest.New()
	dev := term.Device("gone")
	term.Close()

	_, err := fastDialer().Dial(context.Background(), dev)
	require.Error(t, err)

	var contactErr *terminal.ContactError
	require.ErrorAs(t, err, &contactErr)
	assert.Equal(t, 3, contactErr.Attempts)
	assert.Contains(t, err.Error(), "failed to execute request")
}

func TestDialRespectsContext(t *testing.T) {
	t.Parallel()

	term := terminaltest.New()
	t.Cleanup(term.Close)
	term.SetUnavailable(true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := terminal.NewHTTPDialer().Dial(ctx, term.Device("door-1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSessionUserOperations(t *testing.T) {
	t.Parallel()

	term := terminaltest.New(terminaltest.WithPassword("1234"), terminaltest.WithUsers(records.User{UID: 9, Name: "Old"}))
	t.Cleanup(term.Close)

	ctx := context.Background()
	sess, err := fastDialer().Dial(ctx, term.Device("door-1"))
	require.NoError(t, err)

	require.NoError(t, sess.PutUser(ctx, records.User{
		UID: 1, Name: "Ana", Card: 42,
		Templates: []records.Template{{FingerIndex: 3, Data: []byte("tpl")}},
	}))
	require.NoError(t, sess.DeleteUser(ctx, 9))

	users, err := sess.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.True(t, users[0].Equal(records.User{
		UID: 1, Name: "Ana", Card: 42,
		Templates: []records.Template{{FingerIndex: 3, Data: []byte("tpl")}},
	}))

	require.NoError(t, sess.Close())
	_, err = sess.ListUsers(ctx)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "session closed"))
}

func TestSessionOperationErrors(t *testing.T) {
	t.Parallel()

	term := terminaltest.New()
	t.Cleanup(term.Close)

	ctx := context.Background()
	sess, err := fastDialer().Dial(ctx, term.Device("door-1"))
	require.NoError(t, err)

	term.SetUnavailable(true)
	err = sess.PutUser(ctx, records.User{UID: 5, Name: "X"})
	require.Error(t, err)

	var contactErr *terminal.ContactError
	require.ErrorAs(t, err, &contactErr)
	assert.Equal(t, "put user 5", contactErr.Op)
	assert.Equal(t, "door-1", contactErr.DeviceID)
}
