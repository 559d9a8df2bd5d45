package ws

import (
	"bufio"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/faroukBakari/trader-pro-sub005/internal/logging"
	"github.com/faroukBakari/trader-pro-sub005/internal/metrics"
)

const writeWait = 5 * time.Second

// WritePump is the single writer for the connection: it drains the send
// channel, batching queued frames behind one flush, and pings the peer
// so idle clients keep resetting their heartbeat.
func (c *Client) WritePump() {
	defer logging.RecoverPanic(c.logger, "writePump")

	writer := bufio.NewWriter(c.conn)
	pingPeriod := c.opts.HeartbeatTimeout * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close(ws.StatusNormalClosure, "", ReasonWriteError)
	}()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			if err := c.writeBatch(writer, message); err != nil {
				c.logger.Debug().Err(err).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug().Err(err).Msg("failed to send ping")
				return
			}
		}
	}
}

// writeBatch writes the first frame plus whatever else is already
// queued behind one flush, holding the write lock for the whole batch
// so the flushed bytes hit the socket as one contiguous sequence.
func (c *Client) writeBatch(writer *bufio.Writer, first []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := wsutil.WriteServerMessage(writer, ws.OpText, first); err != nil {
		return err
	}
	metrics.MessagesSent.Inc()

	n := len(c.send)
	for i := 0; i < n; i++ {
		if err := wsutil.WriteServerMessage(writer, ws.OpText, <-c.send); err != nil {
			return err
		}
		metrics.MessagesSent.Inc()
	}
	return writer.Flush()
}
