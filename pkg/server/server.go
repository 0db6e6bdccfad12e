// Package server binds the upload and download sessions to HTTP routes.
package server

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fly-io/imageuploader/pkg/errors"
	"github.com/fly-io/imageuploader/pkg/identity"
	"github.com/fly-io/imageuploader/pkg/normalize"
	"github.com/fly-io/imageuploader/pkg/security"
	"github.com/fly-io/imageuploader/pkg/session"
)

// Identity variants for upload sessions.
const (
	IdentityQuery = "query"
	IdentityFrame = "frame"
)

// DefaultMaxFrameSize applies when Options.MaxFrameSize is unset.
const DefaultMaxFrameSize = 64 << 20

// Store is the part of the metadata store the routes use.
type Store interface {
	session.Inserter
	session.Selector
	Done() <-chan struct{}
}

// Observer receives session telemetry. *metrics.Metrics satisfies it.
type Observer = session.Observer

// Options configures the HTTP surface.
type Options struct {
	ImageRoot string
	// UploadIdentity selects where an upload's tuple comes from:
	// IdentityQuery (route parameters) or IdentityFrame (first frame).
	UploadIdentity string
	MaxFrameSize   int64
	// MaxPixels bounds the declared width*height of an uploaded image.
	// Zero selects security.DefaultMaxPixels.
	MaxPixels int64
	// CORSOrigins enables cross-origin requests from the listed origins.
	// "*" allows any origin.
	CORSOrigins []string
	Normalizer  session.Normalizer
	Observer    Observer
	Gatherer    prometheus.Gatherer
}

// Server owns the gin engine and the shared session state.
type Server struct {
	engine     *gin.Engine
	upgrader   websocket.Upgrader
	store      Store
	resolver   *identity.Resolver
	uploader   *session.Uploader
	downloader *session.Downloader
	opts       Options
}

// New creates a server serving images from opts.ImageRoot.
func New(store Store, opts Options) *Server {
	if opts.UploadIdentity == "" {
		opts.UploadIdentity = IdentityQuery
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = DefaultMaxFrameSize
	}

	validator := security.NewValidator(opts.MaxFrameSize, opts.MaxPixels)
	resolver := identity.NewResolver(validator)
	if opts.Normalizer == nil {
		opts.Normalizer = normalize.NewNormalizer(normalize.DefaultCompression, validator)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(recovery(), requestLogger())
	if len(opts.CORSOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		if len(opts.CORSOrigins) == 1 && opts.CORSOrigins[0] == "*" {
			corsConfig.AllowAllOrigins = true
		} else {
			corsConfig.AllowOrigins = opts.CORSOrigins
		}
		corsConfig.AllowMethods = []string{http.MethodGet}
		corsConfig.AllowWebSockets = true
		engine.Use(cors.New(corsConfig))
	}

	s := &Server{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		store:      store,
		resolver:   resolver,
		uploader:   session.NewUploader(opts.ImageRoot, opts.Normalizer, store, resolver, validator, opts.Observer),
		downloader: session.NewDownloader(store, opts.Observer),
		opts:       opts,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/upload/ws", s.handleUpload)
	s.engine.GET("/download", s.handleDownload)
	s.engine.GET("/download/ws", s.handleDownloadStream)
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleUpload(c *gin.Context) {
	var tuple *identity.Tuple
	if s.opts.UploadIdentity == IdentityQuery {
		t, ok := s.queryIdentity(c)
		if !ok {
			return
		}
		tuple = &t
	}

	conn, ok := s.upgrade(c)
	if !ok {
		return
	}
	s.uploader.NewSession(conn, c.Request.RemoteAddr).Run(c.Request.Context(), tuple)
}

func (s *Server) handleDownloadStream(c *gin.Context) {
	tuple, ok := s.queryIdentity(c)
	if !ok {
		return
	}

	conn, ok := s.upgrade(c)
	if !ok {
		return
	}
	s.downloader.Stream(c.Request.Context(), conn, tuple, c.Request.RemoteAddr)
}

// handleDownload returns every stored file of the tuple, concatenated, as the
// response body. A file that fails after the body has started aborts the
// connection so the client sees a truncated transfer instead of a short success.
func (s *Server) handleDownload(c *gin.Context) {
	tuple, ok := s.queryIdentity(c)
	if !ok {
		return
	}

	slog.Info("download_connection_new", "remote", c.Request.RemoteAddr, "identity", tuple.String())

	body, count, err := s.downloader.Open(c.Request.Context(), tuple)
	if err != nil {
		slog.Error("download_select_failed", "identity", tuple.String(), "error", err)
		s.observeSession("download", err)
		c.String(http.StatusInternalServerError, "failed to look up images")
		return
	}
	defer body.Close()

	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, body); err != nil {
		slog.Error("download_body_aborted", "identity", tuple.String(), "error", err)
		s.observeSession("download", err)
		panic(http.ErrAbortHandler)
	}

	s.observeSession("download", nil)
	slog.Info("download_disconnected", "remote", c.Request.RemoteAddr, "username", tuple.Username, "count", count)
}

func (s *Server) handleHealth(c *gin.Context) {
	select {
	case <-s.store.Done():
		c.String(http.StatusServiceUnavailable, errors.ErrStoreUnavailable.Error())
	default:
		c.String(http.StatusOK, "ok")
	}
}

// queryIdentity resolves the tuple from the query string, answering 400 when
// it is missing or malformed.
func (s *Server) queryIdentity(c *gin.Context) (identity.Tuple, bool) {
	t, err := s.resolver.FromQuery(c.Request.URL.Query())
	if err != nil {
		slog.Warn("request_identity_rejected", "path", c.Request.URL.Path, "remote", c.Request.RemoteAddr, "error", err)
		c.String(http.StatusBadRequest, err.Error())
		return identity.Tuple{}, false
	}
	return t, true
}

func (s *Server) upgrade(c *gin.Context) (*websocket.Conn, bool) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already answered the client.
		slog.Warn("websocket_upgrade_failed", "path", c.Request.URL.Path, "remote", c.Request.RemoteAddr, "error", err)
		return nil, false
	}
	conn.SetReadLimit(s.opts.MaxFrameSize)
	return conn, true
}

func (s *Server) observeSession(direction string, err error) {
	if s.opts.Observer == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	s.opts.Observer.ObserveSession(direction, result)
}

// recovery turns handler panics into a 500, except http.ErrAbortHandler which
// must reach net/http so the connection is torn down.
func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if r == http.ErrAbortHandler {
				panic(r)
			}
			slog.Error("handler_panic", "path", c.Request.URL.Path, "panic", r)
			c.AbortWithStatus(http.StatusInternalServerError)
		}()
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http_request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"remote", c.Request.RemoteAddr)
	}
}
