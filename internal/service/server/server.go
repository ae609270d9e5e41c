package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"e2e_trace/internal/model"
	"e2e_trace/internal/service/platform"
	"e2e_trace/internal/utils/log"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

type (
	// MessageCache holds envelopes for users who are offline.
	MessageCache interface {
		RPush(ctx context.Context, key string, value ...any) error
		Drain(ctx context.Context, key string) ([]string, error)
	}

	UserFinder interface {
		GetByName(ctx context.Context, name string) (*model.User, error)
	}

	// client serializes writes; a websocket allows one concurrent writer.
	client struct {
		mu   sync.Mutex
		conn *websocket.Conn
	}

	HttpServer struct {
		addr string

		mu     sync.RWMutex
		mapper map[model.UserID]*client

		users    UserFinder
		cache    MessageCache
		platform *platform.Platform
	}

	ReportRequest struct {
		Reporter model.UserID `json:"reporter"`
		model.TraceReport
	}

	VerifyRequest struct {
		Sender   model.UserID `json:"sender"`
		Reporter model.UserID `json:"reporter"`
		model.TraceReport
	}

	VerifyResponse struct {
		Valid bool `json:"valid"`
	}

	UserResponse struct {
		Name string `json:"name"`
	}
)

func NewHttpServer(addr string, users UserFinder, cache MessageCache, plt *platform.Platform) *HttpServer {
	return &HttpServer{
		addr:     addr,
		mapper:   make(map[model.UserID]*client),
		users:    users,
		cache:    cache,
		platform: plt,
	}
}

func (s *HttpServer) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/init", s.HandleInitWS()).Methods(http.MethodGet)
	r.HandleFunc("/users/{name}", s.GetUser()).Methods(http.MethodGet)
	r.HandleFunc("/report", s.HandleReport()).Methods(http.MethodPost)
	r.HandleFunc("/report/verify", s.HandleVerifyReport()).Methods(http.MethodPost)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	return r
}

// Run serves until ctx is done.
func (s *HttpServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HttpServer) HandleInitWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID := model.UserID(r.URL.Query().Get("userID"))
		if userID == "" {
			http.Error(w, "userID cannot be empty", http.StatusBadRequest)
			return
		}

		registered, err := s.registered(r.Context(), userID)
		if err != nil {
			log.Error("get user failed", zap.Error(err))
			http.Error(w, "get user failed", http.StatusInternalServerError)
			return
		}
		if !registered {
			http.Error(w, "user is not registered", http.StatusForbidden)
			return
		}

		s.mu.RLock()
		_, ok := s.mapper[userID]
		s.mu.RUnlock()
		if ok {
			http.Error(w, "duplicated userID", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("websocket upgrade failed", zap.Error(err))
			return
		}

		c := &client{conn: conn}
		pending, err := s.register(context.Background(), userID, c)
		if err != nil {
			log.Error("register websocket failed", zap.Error(err))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
			conn.Close()
			return
		}

		go s.processWSMessage(userID, c)
		if err := s.ForwardUnsentMessages(context.Background(), userID, c, pending); err != nil {
			log.Error("forward msg failed", zap.Error(err))
		}
	}
}

// register maps userID to c and takes its cached envelopes under one lock.
// An envelope pushed after the drain is flushed by deliver.
func (s *HttpServer) register(ctx context.Context, userID model.UserID, c *client) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mapper[userID]; ok {
		return nil, errors.New("duplicated userID")
	}
	pending, err := s.GetMessagesFromCache(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.mapper[userID] = c
	return pending, nil
}

// registered reports whether userID exists and holds a usable identity key.
func (s *HttpServer) registered(ctx context.Context, userID model.UserID) (bool, error) {
	user, err := s.users.GetByName(ctx, string(userID))
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, nil
	}
	_, ok := user.Key()
	return ok, nil
}

// Online reports whether userID has a live connection.
func (s *HttpServer) Online(userID model.UserID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.mapper[userID]
	return ok
}

func (s *HttpServer) processWSMessage(userID model.UserID, c *client) {
	defer func() {
		s.mu.Lock()
		if s.mapper[userID] == c {
			delete(s.mapper, userID)
		}
		s.mu.Unlock()
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug("worker web socket closed", zap.Error(err))
			return
		}

		var envelope model.Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			log.Error("Unmarshal message failed", zap.Error(err))
			continue
		}
		if err := envelope.Validate(); err != nil {
			log.Warn("invalid envelope", zap.String("user", string(userID)), zap.Error(err))
			continue
		}
		if envelope.From != userID {
			log.Warn("envelope sender mismatch",
				zap.String("user", string(userID)),
				zap.String("from", string(envelope.From)),
			)
			continue
		}

		ctx := context.Background()
		registered, err := s.registered(ctx, envelope.To)
		if err != nil {
			log.Error("get user failed", zap.Error(err))
			continue
		}
		if !registered {
			log.Warn("envelope to unregistered user",
				zap.String("user", string(userID)),
				zap.String("to", string(envelope.To)),
			)
			continue
		}

		link := model.Link{Sender: envelope.From, Receiver: envelope.To}
		if err := s.platform.Record(ctx, link, envelope.Tag); err != nil {
			log.Error("record envelope failed", zap.Error(err))
			continue
		}

		if err := s.deliver(ctx, &envelope, data); err != nil {
			log.Error("deliver envelope failed", zap.Error(err))
		}
	}
}

func (s *HttpServer) lookup(userID model.UserID) *client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mapper[userID]
}

// deliver writes data to the live recipient or queues it in the inbox. No lock
// is held across the write or the push. If the recipient registered after the
// first lookup, its inbox drain may have run before the push, so the inbox is
// flushed to the new connection.
func (s *HttpServer) deliver(ctx context.Context, envelope *model.Envelope, data []byte) error {
	to := s.lookup(envelope.To)
	if to != nil {
		err := to.write(data)
		if err == nil {
			return nil
		}
		log.Debug("live delivery failed", zap.String("to", string(envelope.To)), zap.Error(err))
	}

	if err := s.PutMessagesToCache(ctx, envelope.To, envelope); err != nil {
		return err
	}

	if now := s.lookup(envelope.To); now != nil && now != to {
		pending, err := s.GetMessagesFromCache(ctx, envelope.To)
		if err != nil {
			return err
		}
		return s.ForwardUnsentMessages(ctx, envelope.To, now, pending)
	}
	return nil
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *HttpServer) ForwardUnsentMessages(ctx context.Context, userID model.UserID, c *client, messages [][]byte) error {
	for i, message := range messages {
		if err := c.write(message); err != nil {
			// put back what was not delivered
			for _, m := range messages[i:] {
				var e model.Envelope
				if json.Unmarshal(m, &e) == nil {
					_ = s.PutMessagesToCache(ctx, userID, &e)
				}
			}
			return err
		}
	}
	return nil
}

// GetUser tells a client whether a recipient is registered.
func (s *HttpServer) GetUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]

		user, err := s.users.GetByName(r.Context(), name)
		if err != nil {
			log.Error("get user failed", zap.Error(err))
			http.Error(w, "get user failed", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "user does not exist", http.StatusNotFound)
			return
		}

		writeJSON(w, &UserResponse{Name: user.Name})
	}
}

func (s *HttpServer) HandleReport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid report", http.StatusBadRequest)
			return
		}
		if req.Reporter == "" {
			http.Error(w, "reporter cannot be empty", http.StatusBadRequest)
			return
		}

		log.Info("trace requested", zap.String("reporter", string(req.Reporter)))
		tr, err := s.platform.Trace(r.Context(), req.TraceReport, req.Reporter)
		if err != nil {
			log.Error("trace failed", zap.Error(err))
			http.Error(w, "trace failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, tr)
	}
}

func (s *HttpServer) HandleVerifyReport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VerifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid report", http.StatusBadRequest)
			return
		}
		if req.Sender == "" || req.Reporter == "" {
			http.Error(w, "sender and reporter are required", http.StatusBadRequest)
			return
		}

		ok, err := s.platform.VerifyReport(r.Context(), req.TraceReport, req.Sender, req.Reporter)
		if err != nil {
			log.Error("verify report failed", zap.Error(err))
			http.Error(w, "verify report failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, &VerifyResponse{Valid: ok})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("encode response failed", zap.Error(err))
		http.Error(w, "encode response failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
