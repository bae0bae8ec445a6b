package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/browserpilot/internal/agent"
	"github.com/xkilldash9x/browserpilot/internal/config"
	"github.com/xkilldash9x/browserpilot/internal/store"
)

// Replies sent for commands and rejected messages.
const (
	msgGreeting    = "Hi! Send me a task like \"play lofi beats on youtube\" or \"open https://example.com\" and I will do it in the browser."
	msgUnsupported = "Sorry, I can only process text messages."
	msgChatBusy    = "I'm still working on your previous task. Please wait for it to finish."
	msgServerBusy  = "I'm busy with other tasks right now. Please try again in a minute."
	msgNoHistory   = "No runs yet."
	msgRunFailed   = "Sorry, an error occurred while processing your request."
)

const historyLimit = 5

// Runner executes one automation task. *agent.Controller satisfies it.
type Runner interface {
	Execute(ctx context.Context, task string) agent.Result
}

// Sender delivers a reply to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// RunLister reads past runs for the /history command.
type RunLister interface {
	RecentRuns(ctx context.Context, chatID int64, limit int) ([]store.Run, error)
}

// Recorder receives every finished run, e.g. to persist it.
type Recorder interface {
	Record(chatID int64, res agent.Result)
}

// Options carries the optional collaborators of a Server.
type Options struct {
	Runs     RunLister
	Recorder Recorder
	Metrics  http.Handler
	// Assistant routes messages before they reach the browser. Without one every
	// message is a browser task.
	Assistant Assistant
}

// Server is the chat webhook transport. It turns incoming text messages into
// controller runs and sends each result back to the chat it came from.
type Server struct {
	cfg           config.ServerConfig
	runner        Runner
	sender        Sender
	opts          Options
	conversations *Conversations
	logger        *zap.Logger

	runCtx    context.Context
	cancelRun context.CancelFunc
	runs      errgroup.Group

	mu   sync.Mutex
	busy map[int64]bool
}

// NewServer creates the transport. Nothing listens until Start is called.
func NewServer(cfg config.ServerConfig, runner Runner, sender Sender, opts Options, logger *zap.Logger) *Server {
	limit := cfg.MaxConcurrentRun
	if limit <= 0 {
		limit = 4
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:           cfg,
		runner:        runner,
		sender:        sender,
		opts:          opts,
		conversations: NewConversations(cfg.ConversationCap),
		logger:        logger.Named("chat"),
		runCtx:        runCtx,
		cancelRun:     cancel,
		busy:          make(map[int64]bool),
	}
	s.runs.SetLimit(limit)
	return s
}

// Conversations exposes the per-chat message log.
func (s *Server) Conversations() *Conversations { return s.conversations }

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/", s.handleHealth)
	r.Post(s.webhookPath(), s.handleWebhook)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, s.metricsPath(), s.opts.Metrics)
	}
	return r
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Chat server listening.", zap.String("address", s.cfg.ListenAddr), zap.String("webhook", s.webhookPath()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			s.cancelRun()
			return fmt.Errorf("chat server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("Shutting down chat server.")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	return s.Drain(shutdownCtx)
}

// Drain waits for background runs to finish. If ctx expires first the remaining runs
// are cancelled and Drain waits for them to return.
func (s *Server) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		_ = s.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("Background runs did not finish in time, cancelling them.")
		s.cancelRun()
		<-done
		return ctx.Err()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "browserpilot is running"})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var update Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "error": fmt.Sprintf("invalid update: %v", err)})
		return
	}

	msg := update.Message
	if msg == nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if msg.Chat.ID == 0 {
		respondJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "error": "no chat_id in payload"})
		return
	}

	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)
	logger := s.logger.With(zap.Int64("chat_id", chatID), zap.Int64("update_id", update.UpdateID))

	if text == "" {
		logger.Info("Unsupported message type.", zap.Bool("voice", msg.Voice != nil))
		s.reply(r.Context(), chatID, msgUnsupported)
		respondJSON(w, http.StatusOK, map[string]string{"status": "unsupported_message_type"})
		return
	}

	switch command(text) {
	case "/start":
		s.reply(r.Context(), chatID, msgGreeting)
		respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
		return
	case "/history":
		s.reply(r.Context(), chatID, s.history(r.Context(), chatID))
		respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
		return
	}

	status := s.dispatch(chatID, text, logger)
	respondJSON(w, http.StatusOK, map[string]string{"status": status})
}

// dispatch starts a background run for the task unless the chat or the server is busy.
func (s *Server) dispatch(chatID int64, task string, logger *zap.Logger) string {
	if !s.claim(chatID) {
		s.reply(s.runCtx, chatID, msgChatBusy)
		return "busy"
	}

	started := s.runs.TryGo(func() error {
		defer s.release(chatID)
		s.execute(chatID, task, logger)
		return nil
	})
	if !started {
		s.release(chatID)
		logger.Warn("Run limit reached, rejecting task.")
		s.reply(s.runCtx, chatID, msgServerBusy)
		return "busy"
	}

	logger.Info("Task accepted.", zap.String("task", task))
	return "accepted"
}

func (s *Server) execute(chatID int64, text string, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while running task.", zap.Any("panic", r))
			s.reply(s.runCtx, chatID, msgRunFailed)
		}
	}()

	history := s.conversations.Get(chatID)
	s.conversations.Append(chatID, RoleUser, text)

	reply := s.respond(chatID, text, history, logger)
	s.conversations.Append(chatID, RoleBot, reply)
	s.reply(s.runCtx, chatID, reply)
}

// respond produces the reply to one message: a direct answer, an answer from search
// results, or the result of a browser run.
func (s *Server) respond(chatID int64, text string, history []Entry, logger *zap.Logger) string {
	task := text
	if s.opts.Assistant != nil {
		route := s.opts.Assistant.Route(s.runCtx, text, history)
		logger.Info("Message routed.", zap.String("intent", string(route.Intent)))
		switch route.Intent {
		case IntentReply:
			if route.Reply != "" {
				return route.Reply
			}
		case IntentSearch:
			answer, err := s.opts.Assistant.Answer(s.runCtx, text, route.Query)
			if err == nil {
				return answer
			}
			logger.Warn("Search answer failed, running the message as a browser task.", zap.Error(err))
		case IntentBrowse:
			if route.Task != "" {
				task = route.Task
			}
		}
	}
	return s.run(chatID, task, logger)
}

// run executes task in the browser and returns the message to send back.
func (s *Server) run(chatID int64, task string, logger *zap.Logger) string {
	res := s.runner.Execute(s.runCtx, task)
	logger.Info("Task finished.",
		zap.String("run_id", res.RunID),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("iterations", res.Iterations),
		zap.Duration("duration", res.Duration()),
	)

	if s.opts.Recorder != nil {
		s.opts.Recorder.Record(chatID, res)
	}

	if res.Message == "" {
		return msgRunFailed
	}
	return res.Message
}

func (s *Server) history(ctx context.Context, chatID int64) string {
	if s.opts.Runs != nil {
		runs, err := s.opts.Runs.RecentRuns(ctx, chatID, historyLimit)
		if err != nil {
			s.logger.Error("Failed to load run history.", zap.Int64("chat_id", chatID), zap.Error(err))
			return msgRunFailed
		}
		return formatRuns(runs)
	}
	return formatConversation(s.conversations.Get(chatID))
}

func (s *Server) reply(ctx context.Context, chatID int64, text string) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.sender.SendMessage(sendCtx, chatID, text); err != nil {
		s.logger.Error("Failed to send reply.", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (s *Server) claim(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[chatID] {
		return false
	}
	s.busy[chatID] = true
	return true
}

func (s *Server) release(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busy, chatID)
}

func (s *Server) webhookPath() string {
	if s.cfg.WebhookPath == "" {
		return "/webhook/telegram"
	}
	return s.cfg.WebhookPath
}

func (s *Server) metricsPath() string {
	if s.cfg.MetricsPath == "" {
		return "/metrics"
	}
	return s.cfg.MetricsPath
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// command returns the bot command at the start of text, without any @botname suffix.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	first, _, _ := strings.Cut(text, " ")
	name, _, _ := strings.Cut(first, "@")
	return strings.ToLower(name)
}

func formatRuns(runs []store.Run) string {
	if len(runs) == 0 {
		return msgNoHistory
	}
	var b strings.Builder
	b.WriteString("Recent runs:\n")
	for i, run := range runs {
		fmt.Fprintf(&b, "\n%d. [%s] %s\n%s", i+1, run.Outcome, run.Task, run.Message)
	}
	return b.String()
}

func formatConversation(entries []Entry) string {
	var tasks []string
	for _, e := range entries {
		if e.Role == RoleUser {
			tasks = append(tasks, e.Text)
		}
	}
	if len(tasks) == 0 {
		return msgNoHistory
	}
	if len(tasks) > historyLimit {
		tasks = tasks[len(tasks)-historyLimit:]
	}
	var b strings.Builder
	b.WriteString("Recent tasks:\n")
	for i := len(tasks) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "\n%d. %s", len(tasks)-i, tasks[i])
	}
	return b.String()
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
