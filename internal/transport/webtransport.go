package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"github.com/rustyguts/clasp/internal/router"
	"github.com/rustyguts/clasp/internal/session"
	"github.com/rustyguts/clasp/internal/wire"
)

// streamReader turns a raw byte stream with no message boundaries into a
// sequence of complete CLASP frames, leaning on wire.DecodeFrame's "not
// enough bytes yet" (nil, 0, nil) convention. A WebSocket connection already
// delivers one message per Read; a WebTransport/QUIC stream does not, so
// this is the piece ws.go's wsConn never needed.
type streamReader struct {
	r   io.Reader
	buf []byte
}

func newStreamReader(r io.Reader) *streamReader {
	return &streamReader{r: r, buf: make([]byte, 0, 4096)}
}

// next returns the bytes of one complete frame (header included), blocking
// on further stream reads until a full frame has been buffered.
func (sr *streamReader) next(maxFrameSize int) ([]byte, error) {
	for {
		frame, n, err := wire.DecodeFrame(sr.buf, maxFrameSize)
		if err != nil {
			return nil, err
		}
		if frame != nil {
			out := make([]byte, n)
			copy(out, sr.buf[:n])
			sr.buf = append(sr.buf[:0], sr.buf[n:]...)
			return out, nil
		}

		chunk := make([]byte, 4096)
		n, err = sr.r.Read(chunk)
		if n > 0 {
			sr.buf = append(sr.buf, chunk[:n]...)
		}
		if err != nil {
			return nil, err
		}
	}
}

// wtConn adapts a WebTransport session's single control stream to
// router.Receiver + session.Sender. CLASP speaks one bidirectional stream
// per session rather than datagrams; the length-prefixed frame already
// embedded by wire.EncodeFrame is the only stream framing needed.
type wtConn struct {
	sess   *webtransport.Session
	stream webtransport.Stream
	reader *streamReader
	mu     sync.Mutex
}

func newWTConn(sess *webtransport.Session, stream webtransport.Stream) *wtConn {
	return &wtConn{sess: sess, stream: stream, reader: newStreamReader(stream)}
}

func (c *wtConn) Recv(ctx context.Context) ([]byte, error) {
	type result struct {
		frame []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		frame, err := c.reader.next(wire.DefaultMaxFrameSize)
		done <- result{frame, err}
	}()
	select {
	case res := <-done:
		return res.frame, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *wtConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.stream.Write(frame)
	return err
}

func (c *wtConn) Close() error {
	c.stream.Close()
	return c.sess.CloseWithError(0, "closed")
}

// WTHandler owns the WebTransport/QUIC transport: it terminates the HTTP/3
// upgrade, accepts the client's control stream, and hands the resulting
// connection to the router core exactly as WSHandler does for WebSocket.
type WTHandler struct {
	router *router.Router
	server *webtransport.Server
	log    *slog.Logger
}

// NewWTHandler creates a WebTransport handler bound to r. addr is the UDP
// listen address for the underlying QUIC/HTTP3 server (e.g. ":4433"); cert
// is the TLS certificate the teacher's own server.go loads for HTTPS.
func NewWTHandler(r *router.Router, addr string, cert tls.Certificate, log *slog.Logger) *WTHandler {
	if log == nil {
		log = slog.Default()
	}
	h := &WTHandler{router: r, log: log}
	h.server = &webtransport.Server{
		H3: http3.Server{
			Addr:      addr,
			TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
			QUICConfig: &quic.Config{
				EnableDatagrams: false,
			},
		},
		CheckOrigin: func(_ *http.Request) bool { return true },
	}
	return h
}

// Register binds the WebTransport upgrade route alongside the H3 mux and
// starts listening on the server's UDP address.
func (h *WTHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/wt", h.handleUpgrade)
	h.server.H3.Handler = mux
}

// ListenAndServe blocks serving QUIC/HTTP3 connections. Call it from its
// own goroutine, mirroring the teacher's cmd/main.go server-loop idiom.
func (h *WTHandler) ListenAndServe() error {
	return h.server.ListenAndServe()
}

func (h *WTHandler) Close() error {
	return h.server.Close()
}

func (h *WTHandler) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	remoteAddr := r.RemoteAddr
	sess, err := h.server.Upgrade(w, r)
	if err != nil {
		h.log.Error("webtransport upgrade failed", "remote", remoteAddr, "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	stream, err := sess.AcceptStream(ctx)
	if err != nil {
		h.log.Error("webtransport accept stream failed", "remote", remoteAddr, "err", err)
		_ = sess.CloseWithError(1, "no control stream")
		return
	}

	wc := newWTConn(sess, stream)
	h.router.HandleConnection(ctx, wc, wc, remoteAddr)
}

// DialLink opens an outbound WebTransport connection to a federation peer
// and returns the resulting session.Sender + router.Receiver pair, mirroring
// the client dial idiom used for federation link establishment (spec §4.8).
func DialLink(ctx context.Context, url string, insecureSkipVerify bool) (session.Sender, router.Receiver, func() error, error) {
	d := &webtransport.Dialer{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: insecureSkipVerify},
		QUICConfig: &quic.Config{
			EnableDatagrams:                 true,
			EnableStreamResetPartialDelivery: true,
		},
	}
	_, sess, err := d.Dial(ctx, url, http.Header{})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("dial webtransport link: %w", err)
	}
	stream, err := sess.OpenStream()
	if err != nil {
		_ = sess.CloseWithError(0, "open stream failed")
		return nil, nil, nil, fmt.Errorf("open control stream: %w", err)
	}
	wc := newWTConn(sess, stream)
	return wc, wc, wc.Close, nil
}

var _ session.Sender = (*wtConn)(nil)
var _ router.Receiver = (*wtConn)(nil)
