package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dicomweb-dimse/bridge/dimse"
	"github.com/dicomweb-dimse/bridge/interfaces"
	"github.com/dicomweb-dimse/bridge/pdu"
)

// Option configures a Server instance.
type Option func(*Server)

// WithLogger overrides the logger used by the server.
func WithLogger(logger *zerolog.Logger) Option {
	return func(s *Server) {
		s.Logger = logger
	}
}

// WithReadTimeout sets the read timeout for client connections.
func WithReadTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.ReadTimeout = timeout
	}
}

// WithWriteTimeout sets the write timeout for client connections.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.WriteTimeout = timeout
	}
}

// WithUncompressedOnly restricts every accepted association's transfer
// syntaxes to the codec-free subset.
func WithUncompressedOnly(enabled bool) Option {
	return func(s *Server) {
		s.UncompressedOnly = enabled
	}
}

// Server exposes a reusable DICOM listener that wires the DIMSE and PDU layers.
type Server struct {
	AETitle          string
	Handler          interfaces.ServiceHandler
	Logger           *zerolog.Logger
	ReadTimeout      time.Duration // Read timeout for connections (zero: no deadline)
	WriteTimeout     time.Duration // Write timeout for connections (zero: no deadline)
	UncompressedOnly bool          // Negotiate only uncompressed transfer syntaxes
}

// New builds a Server with the provided AE title and handler.
func New(aeTitle string, handler interfaces.ServiceHandler, opts ...Option) *Server {
	srv := &Server{AETitle: aeTitle, Handler: handler}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// ListenAndServe listens on the given address and serves until the context is done or an error occurs.
func ListenAndServe(ctx context.Context, address, aeTitle string, handler interfaces.ServiceHandler, opts ...Option) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	defer listener.Close()

	srv := New(aeTitle, handler, opts...)
	return srv.Serve(ctx, listener)
}

// Serve accepts connections from listener until ctx is cancelled or an unrecoverable error occurs.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	if listener == nil {
		return errors.New("dicomserver: listener is required")
	}
	if s == nil {
		return errors.New("dicomserver: server is nil")
	}
	if s.Handler == nil {
		return errors.New("dicomserver: handler is required")
	}
	if s.AETitle == "" {
		return errors.New("dicomserver: AE title is required")
	}

	logger := s.logger()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	logger.Info().Str("address", listener.Addr().String()).Str("ae_title", s.AETitle).Msg("DICOM server listening")

	var (
		wg       sync.WaitGroup
		serveErr error
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				logger.Warn().Err(err).Msg("Accept timeout")
				continue
			}
			serveErr = err
			break
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			s.handleConnection(ctx, c, logger)
		}(conn)
	}

	wg.Wait()

	if serveErr != nil {
		return serveErr
	}

	return ctx.Err()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn, logger *zerolog.Logger) {
	logger.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("Accepted DICOM connection")

	// Set timeouts if configured
	if s.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(s.ReadTimeout)); err != nil {
			logger.Warn().Err(err).Msg("Failed to set read deadline")
		}
	}
	if s.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout)); err != nil {
			logger.Warn().Err(err).Msg("Failed to set write deadline")
		}
	}

	adapter := &dimseHandlerAdapter{service: dimse.NewService(s.Handler, logger)}
	var layerOpts []pdu.LayerOption
	if s.UncompressedOnly {
		layerOpts = append(layerOpts, pdu.WithUncompressedOnly())
	}
	layer := pdu.NewLayer(conn, adapter, s.AETitle, logger, layerOpts...)

	if err := layer.HandleConnection(); err != nil && ctx.Err() == nil {
		logger.Warn().Err(err).Str("remote_addr", conn.RemoteAddr().String()).Msg("DIMSE connection ended")
	} else {
		logger.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("DIMSE connection closed")
	}
}

func (s *Server) logger() *zerolog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return &log.Logger
}

type dimseHandlerAdapter struct {
	service *dimse.Service
}

func (a *dimseHandlerAdapter) HandleDIMSEMessage(presContextID byte, msgCtrlHeader byte, data []byte, layer *pdu.Layer) error {
	return a.service.HandleDIMSEMessage(presContextID, msgCtrlHeader, data, layer)
}
