package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/quantfeed/corpus-data/internal/config"
	"github.com/quantfeed/corpus-data/internal/credential"
	"github.com/quantfeed/corpus-data/internal/model"
	"github.com/quantfeed/corpus-data/internal/store"
)

const rejectsBuffer = 256

// Session is a streaming ingest session. It drives a Transport through
// the connect/auth/subscribe handshake, buffers documents by
// natural_id, and persists flushed batches through the store.
type Session struct {
	cfg     config.StreamConfig
	creds   *credential.Pool
	st      store.Store
	factory TransportFactory
	logger  *slog.Logger
	runID   string

	queue   *Queue[[]model.RawDocument]
	rejects chan Reject

	// Dedup buffer: natural_id to the earliest-received copy
	bufMu  sync.Mutex
	buffer map[string]model.RawDocument

	// State
	mu        sync.RWMutex
	state     State
	watermark time.Time
	stats     SessionStats
	runErr    error

	// Lifecycle. The ingest loops must be down before the final flush,
	// so they wait on their own group, apart from the persist loop.
	ctx       context.Context
	cancel    context.CancelFunc
	ingestWG  sync.WaitGroup
	persistWG sync.WaitGroup

	now func() time.Time
}

// NewSession creates a session. creds may be nil for unauthenticated
// feeds; factory builds a fresh transport per connection attempt.
func NewSession(
	cfg config.StreamConfig,
	creds *credential.Pool,
	st store.Store,
	factory TransportFactory,
	runID string,
	logger *slog.Logger,
) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:     cfg,
		creds:   creds,
		st:      st,
		factory: factory,
		logger:  logger,
		runID:   runID,
		queue:   NewQueue[[]model.RawDocument](cfg.QueueCapacity),
		rejects: make(chan Reject, rejectsBuffer),
		buffer:  make(map[string]model.RawDocument),
		now:     time.Now,
	}
}

// Start begins the session.
func (s *Session) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.ingestWG.Add(1)
	go s.runLoop()

	s.ingestWG.Add(1)
	go s.flushLoop()

	s.persistWG.Add(1)
	go s.persistLoop()

	s.logger.Info("ingest session started",
		"url", s.cfg.URL,
		"topics", s.cfg.Topics,
		"flush_size", s.cfg.FlushSize,
		"flush_interval", s.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down: stops the read loop, flushes the buffer,
// and drains the persistence queue within the context deadline. It
// returns the terminal error that ended the run loop, if any.
func (s *Session) Stop(ctx context.Context) error {
	s.logger.Info("stopping ingest session")
	s.setState(StateClosing)

	if s.cancel != nil {
		s.cancel()
	}

	// The read loop must be out of handleFrame before the final flush,
	// or a late document could land in the buffer and never persist.
	if !waitGroup(ctx, &s.ingestWG) {
		s.logger.Warn("ingest loops did not stop in time")
	}

	// Final flush, then let the persist loop drain to the store.
	s.flush()
	s.queue.Close()

	if waitGroup(ctx, &s.persistWG) {
		s.logger.Info("ingest session stopped")
	} else {
		s.logger.Warn("ingest session stop timed out")
	}

	s.setState(StateDisconnected)
	return s.Err()
}

// waitGroup waits for wg to finish within the context deadline.
func waitGroup(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Err returns the error that terminated the run loop, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runErr
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.runErr = err
	s.mu.Unlock()
}

// Rejects returns the sink of frames that could not be ingested.
func (s *Session) Rejects() <-chan Reject {
	return s.rejects
}

// Stats returns a snapshot of session counters.
func (s *Session) Stats() SessionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.stats
	st.State = s.state
	st.Watermark = s.watermark
	return st
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Watermark returns the latest accepted published_at.
func (s *Session) Watermark() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermark
}

// runLoop owns connection attempts and reconnection backoff.
func (s *Session) runLoop() {
	defer s.ingestWG.Done()

	attempt := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		cred, err := s.acquireCredential()
		if err != nil {
			s.logger.Warn("no credential available", "error", err)
			if !s.waitBackoff(attempt) {
				return
			}
			attempt++
			continue
		}

		s.setState(StateConnecting)
		transport := s.factory()

		if err := transport.Connect(s.ctx); err != nil {
			s.reportCredential(cred.ID, credential.OutcomeTransient)
			s.logger.Warn("connect failed", "attempt", attempt, "error", err)
			transport.Close()
			if attempt+1 >= s.cfg.MaxReconnectAttempts {
				s.fail(fmt.Errorf("%w: %v", ErrMaxReconnects, err))
				s.logger.Error("giving up after repeated connect failures", "attempts", attempt+1)
				s.setState(StateDisconnected)
				return
			}
			if !s.waitBackoff(attempt) {
				return
			}
			attempt++
			continue
		}

		connectedAt := s.now()
		serveErr := s.serve(transport, cred)
		transport.Close()

		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// A connection that held long enough resets the failure budget.
		if s.now().Sub(connectedAt) >= s.cfg.StableResetAfter {
			attempt = 0
		} else {
			attempt++
		}

		if attempt >= s.cfg.MaxReconnectAttempts {
			s.fail(fmt.Errorf("%w: %v", ErrMaxReconnects, serveErr))
			s.logger.Error("max reconnect attempts exceeded", "error", serveErr)
			s.setState(StateDisconnected)
			return
		}

		s.logger.Warn("connection lost, reconnecting",
			"attempt", attempt,
			"error", serveErr,
		)
		if !s.waitBackoff(attempt) {
			return
		}

		s.mu.Lock()
		s.stats.Reconnects++
		s.mu.Unlock()
	}
}

// serve consumes one connection until it fails or the session stops.
func (s *Session) serve(transport Transport, cred credential.Credential) error {
	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()

		case err := <-transport.Errors():
			s.reportCredential(cred.ID, credential.OutcomeTransient)
			return err

		case msg, ok := <-transport.Messages():
			if !ok {
				return ErrNotConnected
			}
			if err := s.handleFrame(transport, cred, msg); err != nil {
				return err
			}
		}
	}
}

// handleFrame decodes one frame and dispatches its envelopes.
func (s *Session) handleFrame(transport Transport, cred credential.Credential, msg TimestampedMessage) error {
	envs, err := decodeFrame(msg.Data)
	if err != nil {
		s.reject(Reject{Data: msg.Data, Class: RejectMalformed, Err: err, ReceivedAt: msg.ReceivedAt})
		return nil
	}

	for _, env := range envs {
		s.mu.Lock()
		s.stats.Received++
		s.mu.Unlock()

		switch env.Type {
		case envSuccess:
			if err := s.handleSuccess(transport, cred, env); err != nil {
				return err
			}

		case envSubscription:
			s.setState(StateSubscribed)
			s.logger.Info("subscribed", "topics", env.News)

		case envDocument:
			s.handleDocument(env, msg.ReceivedAt)

		case envError:
			s.reportCredential(cred.ID, outcomeForCode(env.Code))
			return fmt.Errorf("provider error %d: %s", env.Code, env.Msg)

		default:
			s.reject(Reject{
				Data:       msg.Data,
				Class:      RejectUnknownType,
				Err:        fmt.Errorf("unrecognized envelope type %q", env.Type),
				ReceivedAt: msg.ReceivedAt,
			})
		}
	}
	return nil
}

// handleSuccess advances the handshake: connected triggers auth,
// authenticated triggers subscribe.
func (s *Session) handleSuccess(transport Transport, cred credential.Credential, env envelope) error {
	switch env.Msg {
	case msgConnected:
		auth, err := json.Marshal(authRequest{Action: "auth", Key: cred.Key, Secret: cred.Secret})
		if err != nil {
			return fmt.Errorf("marshal auth request: %w", err)
		}
		return transport.Send(auth)

	case msgAuthenticated:
		s.setState(StateAuthenticated)
		s.reportCredential(cred.ID, credential.OutcomeOK)

		sub, err := json.Marshal(subscribeRequest{Action: "subscribe", News: s.cfg.Topics})
		if err != nil {
			return fmt.Errorf("marshal subscribe request: %w", err)
		}
		return transport.Send(sub)
	}
	return nil
}

// handleDocument validates a document envelope and adds it to the
// dedup buffer.
func (s *Session) handleDocument(env envelope, receivedAt time.Time) {
	s.setState(StateStreaming)

	publishedAt, err := time.Parse(time.RFC3339, env.CreatedAt)
	if err != nil {
		raw, _ := json.Marshal(env)
		s.reject(Reject{Data: raw, Class: RejectBadTime, Err: err, ReceivedAt: receivedAt})
		return
	}

	naturalID := fmt.Sprintf("%d", env.ID)
	if env.ID == 0 {
		naturalID = model.FallbackNaturalID(env.Headline, s.cfg.Source, publishedAt)
	}

	raw, _ := json.Marshal(env)
	doc := model.RawDocument{
		NaturalID:   naturalID,
		PublishedAt: publishedAt.UTC(),
		ReceivedAt:  receivedAt.UTC(),
		Source:      s.cfg.Source,
		Symbols:     env.Symbols,
		Headline:    env.Headline,
		Summary:     env.Summary,
		URL:         env.URL,
		Raw:         raw,
		RunID:       s.runID,
	}

	if doc.ClockSkewed() {
		s.mu.Lock()
		s.stats.SkewFlagged++
		s.mu.Unlock()
		s.logger.Warn("document published_at ahead of received_at",
			"natural_id", doc.NaturalID,
			"published_at", doc.PublishedAt,
			"received_at", doc.ReceivedAt,
		)
	}

	s.bufMu.Lock()
	if existing, ok := s.buffer[doc.NaturalID]; !ok || doc.ReceivedAt.Before(existing.ReceivedAt) {
		s.buffer[doc.NaturalID] = doc
	}
	size := len(s.buffer)
	s.bufMu.Unlock()

	s.mu.Lock()
	s.stats.Documents++
	if doc.PublishedAt.After(s.watermark) {
		s.watermark = doc.PublishedAt
	}
	s.mu.Unlock()

	if size >= s.cfg.FlushSize {
		s.flush()
	}
}

// flushLoop flushes the buffer on the configured interval.
func (s *Session) flushLoop() {
	defer s.ingestWG.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

// flush hands the current buffer to the persistence queue.
func (s *Session) flush() {
	s.bufMu.Lock()
	if len(s.buffer) == 0 {
		s.bufMu.Unlock()
		return
	}
	batch := make([]model.RawDocument, 0, len(s.buffer))
	for _, d := range s.buffer {
		batch = append(batch, d)
	}
	s.buffer = make(map[string]model.RawDocument)
	s.bufMu.Unlock()

	sort.Slice(batch, func(i, j int) bool {
		return batch[i].PublishedAt.Before(batch[j].PublishedAt)
	})

	if !s.queue.Enqueue(batch) {
		// The queue only refuses after Close; persist in place rather
		// than drop the final batch.
		s.persistBatch(batch)
	}

	s.mu.Lock()
	s.stats.Flushes++
	s.mu.Unlock()

	s.logger.Debug("flushed buffer", "count", len(batch))
}

// persistMaxAttempts bounds retries of a failed store write.
const persistMaxAttempts = 5

// persistLoop drains flushed batches into the store.
func (s *Session) persistLoop() {
	defer s.persistWG.Done()

	for {
		batch, ok := s.queue.Dequeue()
		if !ok {
			return
		}
		s.persistBatch(batch)
	}
}

// persistBatch writes one batch, retrying transient store errors with
// jittered backoff. It keeps its own context so the final drain
// survives session cancellation.
func (s *Session) persistBatch(batch []model.RawDocument) {
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		inserted, err := s.st.Append(ctx, batch)
		cancel()

		if err == nil {
			s.logger.Debug("persisted batch",
				"count", len(batch),
				"inserted", inserted,
				"skipped", len(batch)-inserted,
			)
			return
		}

		if attempt+1 >= persistMaxAttempts {
			s.logger.Error("dropping batch after repeated append failures",
				"error", err,
				"count", len(batch),
				"attempts", attempt+1,
			)
			return
		}

		backoff := backoffDelay(s.cfg.ReconnectBaseDelay, s.cfg.ReconnectMaxDelay, attempt)
		wait := backoff/2 + time.Duration(rand.Int63n(int64(backoff)))
		s.logger.Warn("append batch failed, retrying",
			"error", err,
			"attempt", attempt,
			"wait", wait,
		)
		time.Sleep(wait)
	}
}

// waitBackoff sleeps the jittered exponential delay for the attempt.
// Returns false if the session is stopping.
func (s *Session) waitBackoff(attempt int) bool {
	backoff := backoffDelay(s.cfg.ReconnectBaseDelay, s.cfg.ReconnectMaxDelay, attempt)

	// Jitter: backoff * (0.5 to 1.5)
	wait := backoff/2 + time.Duration(rand.Int63n(int64(backoff)))

	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

func (s *Session) acquireCredential() (credential.Credential, error) {
	if s.creds == nil {
		return credential.Credential{}, nil
	}
	return s.creds.Acquire()
}

func (s *Session) reportCredential(id string, outcome credential.Outcome) {
	if s.creds == nil || id == "" {
		return
	}
	s.creds.ReportResult(id, outcome)
}

func (s *Session) reject(r Reject) {
	s.mu.Lock()
	s.stats.Rejected++
	s.mu.Unlock()

	select {
	case s.rejects <- r:
	default:
		s.logger.Warn("rejects sink full, dropping reject", "class", r.Class)
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = state
	s.mu.Unlock()

	s.logger.Debug("session state changed", "from", prev.String(), "to", state.String())
}

// backoffDelay is the undithered exponential delay for a reconnect
// attempt, capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	backoff := base
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= max {
			return max
		}
	}
	return backoff
}

// decodeFrame parses a frame as an envelope array, falling back to a
// single envelope object.
func decodeFrame(data []byte) ([]envelope, error) {
	var envs []envelope
	if err := json.Unmarshal(data, &envs); err == nil {
		return envs, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return []envelope{env}, nil
}

// outcomeForCode maps a provider error code to a credential outcome.
// 401/402 are auth failures, 406/429 are connection/quota limits.
func outcomeForCode(code int) credential.Outcome {
	switch code {
	case 401, 402:
		return credential.OutcomeAuthFailed
	case 406, 429:
		return credential.OutcomeQuotaExhausted
	default:
		return credential.OutcomeTransient
	}
}
