package question

import (
	"context"
	"testing"
	"time"

	"github.com/agentforge/agentcore/internal/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAskBlocksUntilReply(t *testing.T) {
	c := New(bus.New())

	done := make(chan struct{})
	var got Answers
	var err error
	go func() {
		got, err = c.Ask(context.Background(), "ses_1", []Info{{Question: "ok?", Header: "h"}}, "call_1", "msg_1", time.Second)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(c.Pending()) == 1 }, time.Second, time.Millisecond)
	assert.True(t, c.Reply("ses_1", "call_1", Answers{{"yes"}}))

	<-done
	require.NoError(t, err)
	assert.Equal(t, Answers{{"yes"}}, got)
}

func TestAskReturnsRejectedError(t *testing.T) {
	c := New(bus.New())

	done := make(chan struct{})
	var err error
	go func() {
		_, err = c.Ask(context.Background(), "ses_1", []Info{{Question: "ok?"}}, "call_2", "", time.Second)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(c.Pending()) == 1 }, time.Second, time.Millisecond)
	assert.True(t, c.Reject("ses_1", "call_2"))

	<-done
	assert.ErrorIs(t, err, ErrRejected)
}

func TestAskTimesOut(t *testing.T) {
	c := New(bus.New())
	_, err := c.Ask(context.Background(), "ses_1", []Info{{Question: "ok?"}}, "call_3", "", 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Empty(t, c.Pending())
}

func TestReplyToUnknownRequestReturnsFalse(t *testing.T) {
	c := New(bus.New())
	assert.False(t, c.Reply("ses_1", "no-such-request", Answers{{"x"}}))
	assert.False(t, c.Reject("ses_1", "no-such-request"))
}

func TestReplyResolvesOnlyOnce(t *testing.T) {
	c := New(bus.New())

	done := make(chan struct{})
	go func() {
		c.Ask(context.Background(), "ses_1", []Info{{Question: "ok?"}}, "call_4", "", time.Second)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(c.Pending()) == 1 }, time.Second, time.Millisecond)
	assert.True(t, c.Reply("ses_1", "call_4", Answers{{"a"}}))
	assert.False(t, c.Reply("ses_1", "call_4", Answers{{"b"}}))
	<-done
}
