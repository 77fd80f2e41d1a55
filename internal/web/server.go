package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"student-photo-go/internal/compressor"
	"student-photo-go/internal/config"
	"student-photo-go/internal/inspector"
	"student-photo-go/internal/logger"
	"student-photo-go/internal/statistics"
)

// Server exposes the photo compressor over HTTP for the portal UI.
type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.RWMutex

	compressor compressor.Compressor
	inspector  inspector.Inspector
	stats      *statistics.Statistics
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// CompressResponse is returned by POST /api/photos/compress.
type CompressResponse struct {
	JobID        string  `json:"job_id"`
	DataURI      string  `json:"data_uri"`
	SizeKB       float64 `json:"size_kb"`
	Quality      float64 `json:"quality"`
	Attempts     int     `json:"attempts"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	SourceWidth  int     `json:"source_width"`
	SourceHeight int     `json:"source_height"`
	Undersized   bool    `json:"undersized"`
	Hash         string  `json:"hash"`
}

// dataURIRequest lets the UI send back an already stored photo.
type dataURIRequest struct {
	DataURI string `json:"data_uri"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// errUploadMissing is returned when a request carries no image bytes.
var errUploadMissing = errors.New("photo is required")

func NewServer(cfg *config.Config, log *logrus.Logger, c compressor.Compressor, in inspector.Inspector, stats *statistics.Statistics) *Server {
	if stats == nil {
		stats = statistics.NewStatistics()
	}
	s := &Server{
		cfg:        cfg,
		log:        log,
		router:     mux.NewRouter(),
		wsClients:  make(map[*websocket.Conn]bool),
		compressor: c,
		inspector:  in,
		stats:      stats,
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // The portal UI is served from a different origin in development
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes registers every route on the root router. mux only reports
// method mismatches as 405 for routes it matches directly, not through a subrouter.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/statistics", s.handleGetStatistics).Methods("GET")
	s.router.HandleFunc("/api/photos/compress", s.handleCompress).Methods("POST")
	s.router.HandleFunc("/api/photos/inspect", s.handleInspect).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path), http.StatusMethodNotAllowed)
	})
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, "not found: "+r.URL.Path, http.StatusNotFound)
	})
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.wsMutex.Lock()
	for conn := range s.wsClients {
		conn.Close()
		delete(s.wsClients, conn)
	}
	s.wsMutex.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"status": "ok",
		"window": map[string]float64{
			"min_kb": s.cfg.Photo.MinSizeKB,
			"max_kb": s.cfg.Photo.MaxSizeKB,
		},
		"bounding_box": map[string]int{
			"max_width":  s.cfg.Photo.MaxWidth,
			"max_height": s.cfg.Photo.MaxHeight,
		},
		"statistics": s.stats.Snapshot(),
	}
	if cached, ok := s.inspector.(inspector.CachedInspector); ok {
		data["inspector_cache"] = cached.GetCacheStats()
	}
	s.writeJSON(w, APIResponse{Success: true, Data: data})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary":  s.stats.GetSummary(),
			"counters": s.stats.Snapshot(),
		},
	})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	jobID := uuid.NewString()
	entry := logger.WithJob(s.log, jobID, "compress")

	minKB, maxKB, err := s.parseWindow(r)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := s.readUpload(w, r)
	if err != nil {
		s.writeUploadError(w, err)
		return
	}

	s.broadcastWSMessage("compress_started", map[string]interface{}{
		"job_id": jobID,
		"bytes":  len(data),
		"min_kb": minKB,
		"max_kb": maxKB,
	})

	res, err := s.compressor.Compress(r.Context(), data, minKB, maxKB)
	if err != nil {
		status, details := classifyError(err)
		entry.WithError(err).WithField("status", status).Warn("photo compression failed")
		s.stats.AddError(jobID, "compress", err)
		s.broadcastWSMessage("compress_failed", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
		s.writeErrorDetails(w, err.Error(), status, details)
		return
	}

	entry.WithFields(logrus.Fields{
		"size_kb":    res.SizeKB,
		"quality":    res.Quality,
		"attempts":   res.Attempts,
		"undersized": res.Undersized,
	}).Info("photo compressed")
	s.broadcastWSMessage("compress_completed", map[string]interface{}{
		"job_id":   jobID,
		"size_kb":  res.SizeKB,
		"quality":  res.Quality,
		"attempts": res.Attempts,
		"hash":     res.Hash,
	})

	w.Header().Set("ETag", strconv.Quote(res.Hash))
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: CompressResponse{
			JobID:        jobID,
			DataURI:      res.DataURI,
			SizeKB:       res.SizeKB,
			Quality:      res.Quality,
			Attempts:     res.Attempts,
			Width:        res.Width,
			Height:       res.Height,
			SourceWidth:  res.SourceWidth,
			SourceHeight: res.SourceHeight,
			Undersized:   res.Undersized,
			Hash:         res.Hash,
		},
	})
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	data, err := s.readUpload(w, r)
	if err != nil {
		s.writeUploadError(w, err)
		return
	}

	info, err := s.inspector.Inspect(data)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.writeJSON(w, APIResponse{Success: true, Data: info})
}

// parseWindow reads min_kb and max_kb from the query, defaulting to the configured window.
func (s *Server) parseWindow(r *http.Request) (float64, float64, error) {
	minKB, maxKB := s.cfg.Photo.MinSizeKB, s.cfg.Photo.MaxSizeKB
	q := r.URL.Query()
	if v := q.Get("min_kb"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid min_kb: %s", v)
		}
		minKB = f
	}
	if v := q.Get("max_kb"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid max_kb: %s", v)
		}
		maxKB = f
	}
	return minKB, maxKB, nil
}

// readUpload accepts a multipart "photo" field, a JSON {"data_uri": ...} body, or raw image bytes.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limit := s.cfg.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var data []byte
	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		if err := r.ParseMultipartForm(limit); err != nil {
			return nil, err
		}
		file, _, err := r.FormFile("photo")
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) {
				return nil, errUploadMissing
			}
			return nil, err
		}
		defer file.Close()
		data, err = io.ReadAll(file)
		if err != nil {
			return nil, err
		}
	case mediaType == "application/json":
		var req dataURIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, fmt.Errorf("invalid request body: %w", err)
		}
		if req.DataURI == "" {
			return nil, errUploadMissing
		}
		decoded, err := compressor.DecodeDataURI(req.DataURI)
		if err != nil {
			return nil, err
		}
		data = decoded
	default:
		var err error
		data, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
	}
	if len(data) == 0 {
		return nil, errUploadMissing
	}
	return data, nil
}

func (s *Server) writeUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.writeError(w, fmt.Sprintf("photo exceeds %d MB upload limit", s.cfg.Server.MaxUploadMB), http.StatusRequestEntityTooLarge)
		return
	}
	s.writeError(w, err.Error(), http.StatusBadRequest)
}

// classifyError maps compressor failures onto HTTP status codes.
func classifyError(err error) (int, interface{}) {
	var sizeErr *compressor.SizeConstraintError
	switch {
	case errors.Is(err, compressor.ErrInvalidWindow):
		return http.StatusBadRequest, nil
	case errors.As(err, &sizeErr):
		return http.StatusUnprocessableEntity, map[string]interface{}{
			"min_kb":       sizeErr.MinSizeKB,
			"max_kb":       sizeErr.MaxSizeKB,
			"attempts":     sizeErr.Attempts,
			"last_size_kb": sizeErr.LastSizeKB,
		}
	case compressor.IsDecodeError(err):
		return http.StatusUnprocessableEntity, nil
	case compressor.IsEncodeError(err):
		return http.StatusInternalServerError, nil
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, nil
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, nil
	default:
		return http.StatusInternalServerError, nil
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	// Remove client on disconnect
	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (s *Server) clientCount() int {
	s.wsMutex.RLock()
	defer s.wsMutex.RUnlock()
	return len(s.wsClients)
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	// Writers are serialized by the write lock; gorilla connections allow one concurrent writer.
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	s.writeErrorDetails(w, message, statusCode, nil)
}

func (s *Server) writeErrorDetails(w http.ResponseWriter, message string, statusCode int, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
		Details: details,
	})
}
