package ws

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/faroukBakari/trader-pro-sub005/internal/logging"
	"github.com/faroukBakari/trader-pro-sub005/internal/metrics"
)

// ReadPump reads frames until the connection dies and feeds text frames
// to onMessage. Any inbound frame, control frames included, counts as a
// heartbeat and pushes the read deadline out; the lifespan cap is a
// hard ceiling the deadline never crosses.
func (c *Client) ReadPump(onMessage func(c *Client, frame []byte)) {
	defer logging.RecoverPanic(c.logger, "readPump")

	reason := ReasonReadError
	defer func() {
		c.Close(ws.StatusNormalClosure, "", reason)
	}()

	reader := &wsutil.Reader{
		Source:         c.conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: c.handleControl,
	}

	c.resetReadDeadline()

	for {
		hdr, err := reader.NextFrame()
		if err != nil {
			reason = c.classifyReadError(err)
			return
		}
		c.resetReadDeadline()

		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, reader); err != nil {
				var closed wsutil.ClosedError
				if errors.As(err, &closed) {
					reason = ReasonClientClose
				} else {
					reason = c.classifyReadError(err)
				}
				return
			}
			continue
		}

		frame, err := io.ReadAll(reader)
		if err != nil {
			reason = c.classifyReadError(err)
			return
		}

		metrics.MessagesReceived.Inc()

		if hdr.OpCode != ws.OpText {
			continue
		}

		// Token bucket guards the dispatch loop; drop the frame but
		// keep the connection (might be a temporary spike).
		if !c.limiter.Allow() {
			metrics.RateLimitedMessages.Inc()
			c.logger.Warn().Msg("client rate limited")
			continue
		}

		onMessage(c, frame)
	}
}

// handleControl answers control frames inline. Pong replies go out
// under the write lock like every other frame, so the read pump never
// races the write pump on the socket.
func (c *Client) handleControl(hdr ws.Header, rd io.Reader) error {
	payload, err := io.ReadAll(rd)
	if err != nil {
		return err
	}
	switch hdr.OpCode {
	case ws.OpPing:
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err = ws.WriteFrame(c.conn, ws.NewPongFrame(payload))
		c.writeMu.Unlock()
		return err
	case ws.OpClose:
		code, reason := ws.ParseCloseFrameData(payload)
		return wsutil.ClosedError{Code: code, Reason: reason}
	}
	return nil
}

// resetReadDeadline extends the heartbeat window, capped at the
// connection's hard expiry.
func (c *Client) resetReadDeadline() {
	deadline := time.Now().Add(c.opts.HeartbeatTimeout)
	if deadline.After(c.expiresAt) {
		deadline = c.expiresAt
	}
	c.conn.SetReadDeadline(deadline)
}

func (c *Client) classifyReadError(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		if !time.Now().Before(c.expiresAt) {
			return ReasonLifespan
		}
		return ReasonHeartbeat
	}
	return ReasonReadError
}
