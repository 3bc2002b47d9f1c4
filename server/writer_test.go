package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueOutboundArmsWriteInterest(t *testing.T) {
	srv := newTestServer()
	c := newTestConnection(srv, 7)

	err := c.queueOutbound([]byte("hi"))
	require.Nil(t, err)
	assert.True(t, c.writeInt)

	fr := srv.reactor.(*fakeReactor)
	assert.True(t, fr.writeInterest[7])
}

func TestQueueOutboundRejectsOverPendingBound(t *testing.T) {
	srv := newTestServer()
	srv.opts.MaxPendingOut = 4
	c := newTestConnection(srv, 1)

	err := c.queueOutbound([]byte("too much data"))
	require.NotNil(t, err)
	assert.Equal(t, CloseInternalServerErr, err.Reason)
}

func TestFlushOutboundDrainsAndDisarmsWriteInterest(t *testing.T) {
	srv := newTestServer()
	c := newTestConnection(srv, 3)

	require.Nil(t, c.queueOutbound([]byte("payload")))
	require.True(t, c.writeInt)

	require.Nil(t, c.flushOutbound())
	assert.False(t, c.out.pending())
	assert.False(t, c.writeInt)

	fc := c.conn.(*fakeConn)
	assert.Equal(t, "payload", fc.String())
}

func TestInitiateCloseSendsFrameAndMarksClosing(t *testing.T) {
	srv := newTestServer()
	c := newTestConnection(srv, 4)

	err := c.initiateClose(uint16(CloseNormal), "bye")
	require.Nil(t, err)
	assert.True(t, c.sentClose)
	assert.Equal(t, phaseClosing, c.ph)
	assert.True(t, c.out.pending())
}

func TestInitiateCloseClosesSocketWhenBothSidesDone(t *testing.T) {
	srv := newTestServer()
	c := newTestConnection(srv, 5)
	c.receivedClose = true

	require.Nil(t, c.initiateClose(uint16(CloseNormal), ""))
	require.Nil(t, c.flushOutbound())

	fc := c.conn.(*fakeConn)
	assert.True(t, fc.closed)
	assert.Equal(t, phaseClosed, c.ph)
}
