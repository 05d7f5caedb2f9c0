// Package reader hosts the read-aloud pipeline behind the message bus: one
// long-lived service that segments, synthesizes and plays each request.
package reader

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/narralabs/narra-core/internal/bus"
	"github.com/narralabs/narra-core/internal/playback"
	"github.com/narralabs/narra-core/internal/protocol"
	"github.com/narralabs/narra-core/internal/store"
	"github.com/narralabs/narra-core/internal/synth"
)

type Service struct {
	bus        *bus.Client
	store      *store.Store
	orch       *synth.Orchestrator
	controller *playback.Controller
	logger     *slog.Logger

	subRequest *nats.Subscription
	subCancel  *nats.Subscription
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	mu       sync.Mutex
	active   bool
	activeID string
	stop     atomic.Bool

	readCount metric.Int64Counter
}

func NewService(parent context.Context, busClient *bus.Client, st *store.Store, orch *synth.Orchestrator, controller *playback.Controller, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	meter := otel.Meter("github.com/narralabs/narra-core/reader")
	readCount, err := meter.Int64Counter("narra.reader.requests",
		metric.WithDescription("Read requests by terminal state"))
	if err != nil {
		log.Warn("failed to create request counter", slog.String("error", err.Error()))
	}
	return &Service{
		bus:        busClient,
		store:      st,
		orch:       orch,
		controller: controller,
		logger:     log.With(slog.String("component", "reader")),
		ctx:        ctx,
		cancel:     cancel,
		readCount:  readCount,
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectReadRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.subRequest = sub

	subCancel, err := s.bus.Conn().Subscribe(protocol.SubjectReadCancel, s.handleCancel)
	if err != nil {
		_ = sub.Drain()
		return err
	}
	s.subCancel = subCancel
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.controller.Cancel()
	if s.subRequest != nil {
		_ = s.subRequest.Drain()
	}
	if s.subCancel != nil {
		_ = s.subCancel.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.subRequest != nil && s.subCancel != nil
}

// Busy reports whether a read request is currently running.
func (s *Service) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.ReadRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode read request", slogError(err))
		return
	}
	if req.Text == "" {
		s.publishStatus(req.RequestID, protocol.StateError, 0, "no text to read")
		return
	}

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		s.publishStatus(req.RequestID, protocol.StateBusy, 0, "another read is in progress")
		return
	}
	s.active = true
	s.activeID = req.RequestID
	s.stop.Store(false)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.active = false
			s.activeID = ""
			s.mu.Unlock()
		}()
		s.run(req)
	}()
}

func (s *Service) handleCancel(msg *nats.Msg) {
	var req protocol.CancelRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode cancel request", slogError(err))
		return
	}

	s.mu.Lock()
	active := s.active
	activeID := s.activeID
	s.mu.Unlock()
	if !active {
		return
	}
	if req.RequestID != "" && req.RequestID != activeID {
		return
	}

	// Playback stops now; a synthesis call already in flight runs to its
	// end and its result is discarded.
	s.stop.Store(true)
	s.controller.Cancel()
	s.logger.Info("read cancelled", slog.String("request_id", activeID))
}

func (s *Service) run(req protocol.ReadRequest) {
	settings, err := s.store.Settings(s.ctx)
	if err != nil {
		s.finish(req.RequestID, protocol.StateError, 0, "load settings: "+err.Error())
		return
	}
	if req.Speaker != "" {
		settings.Speaker = req.Speaker
	}

	s.publishStatus(req.RequestID, protocol.StateSpeaking, 0, "")

	buffers, err := s.orch.SynthesizeAll(s.ctx, req.Text, settings, func(index, total int) {
		s.publishProgress(req.RequestID, index, total)
	})
	if err != nil {
		s.finish(req.RequestID, protocol.StateError, 0, err.Error())
		return
	}
	if s.stop.Load() {
		s.finish(req.RequestID, protocol.StateCancelled, len(buffers), "")
		return
	}

	if err := s.controller.Start(buffers, playback.MIMEType(settings.Format)); err != nil {
		s.finish(req.RequestID, protocol.StateError, len(buffers), err.Error())
		return
	}
	// A cancel that raced the start of playback would otherwise be lost.
	if s.stop.Load() {
		s.controller.Cancel()
	}
	if err := <-s.controller.Done(); err != nil {
		s.finish(req.RequestID, protocol.StateError, len(buffers), err.Error())
		return
	}

	state := protocol.StateDone
	if s.controller.State() == playback.StateCancelled {
		state = protocol.StateCancelled
	}
	s.finish(req.RequestID, state, len(buffers), "")
}

func (s *Service) finish(requestID, state string, segments int, errMsg string) {
	s.publishStatus(requestID, state, segments, errMsg)
	if s.readCount != nil {
		s.readCount.Add(s.ctx, 1, metric.WithAttributes(attribute.String("state", state)))
	}
	entry := store.HistoryEntry{
		RequestID: requestID,
		State:     state,
		Segments:  segments,
		Error:     errMsg,
	}
	if err := s.store.AppendHistory(context.Background(), entry); err != nil {
		s.logger.Warn("failed to record history", slogError(err))
	}
}

func (s *Service) publishProgress(requestID string, index, total int) {
	msg := protocol.ReadProgress{RequestID: requestID, Index: index, Total: total}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal progress", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectReadProgress, data); err != nil {
		s.logger.Warn("failed to publish progress", slogError(err))
	}
}

func (s *Service) publishStatus(requestID, state string, segments int, errMsg string) {
	msg := protocol.ReadStatus{
		RequestID: requestID,
		State:     state,
		Segments:  segments,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal status", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectReadStatus, data); err != nil {
		s.logger.Warn("failed to publish status", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
