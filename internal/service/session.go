// Package service composes the stream client, location store, clustering
// engine and intent predictor into one viewer session. A Session is built
// explicitly and passed by reference; there is no ambient global state, and
// independent sessions share nothing.
package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openfleet/dispatchmap/internal/cluster"
	"github.com/openfleet/dispatchmap/internal/config"
	"github.com/openfleet/dispatchmap/internal/geo"
	"github.com/openfleet/dispatchmap/internal/intent"
	"github.com/openfleet/dispatchmap/internal/models"
	"github.com/openfleet/dispatchmap/internal/store"
	"github.com/openfleet/dispatchmap/internal/stream"
)

// ViewUpdate is the derived view model pushed to the rendering layer after
// each recompute or connection change.
type ViewUpdate struct {
	State             models.ConnectionState   `json:"state"`
	Quality           models.ConnectionQuality `json:"quality"`
	ReconnectAttempts int                      `json:"reconnect_attempts"`
	Clusters          []models.ClusterData     `json:"clusters"`
}

// Session is one viewer's tracking session, scoped to a fleet and role.
type Session struct {
	cfg       *config.Config
	logger    *zap.Logger
	client    *stream.Client
	store     *store.Store
	predictor *intent.Predictor
	engine    *cluster.Engine

	mu             sync.Mutex
	lastErr        error
	malformedCount uint64
	zoom           float64
	subscribers    []chan ViewUpdate
	pendingNearby  map[string]chan []models.DriverLocation
	closed         bool

	debounceMu sync.Mutex
	debounce   *time.Timer
}

// NewSession wires up the core for one viewer.
func NewSession(cfg *config.Config, logger *zap.Logger) *Session {
	s := &Session{
		cfg:           cfg,
		logger:        logger,
		zoom:          cfg.DefaultZoom,
		pendingNearby: make(map[string]chan []models.DriverLocation),
	}

	s.store = store.New(logger, store.Config{
		StalenessWindow: cfg.StalenessWindow,
		HistoryDepth:    cfg.HistoryDepth,
		HistoryWindow:   cfg.HistoryWindow,
		Smoothing:       cfg.Smoothing,
		SmoothingFactor: cfg.SmoothingFactor,
	})

	s.predictor = intent.New(logger, intent.Config{
		EnRouteSpeedMin:     cfg.EnRouteSpeedMin,
		MovingSpeedMax:      cfg.MovingSpeedMax,
		HeadingStabilityMin: cfg.HeadingStabilityMin,
		StalenessWindow:     cfg.StalenessWindow,
		StatusSettleWindow:  cfg.StatusSettleWindow,
		Bases:               cfg.ReturnBases,
	})

	s.engine = cluster.New(logger, cluster.Config{})

	s.client = stream.NewClient(logger, stream.Options{
		URL:                  cfg.BackendURL,
		Role:                 cfg.Role,
		FleetID:              cfg.FleetID,
		ZoneIDs:              cfg.ZoneScope,
		DriverIDs:            cfg.DriverScope,
		DialTimeout:          cfg.DialTimeout,
		ReadTimeout:          cfg.ReadTimeout,
		PingInterval:         cfg.PingInterval,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectDelay:    cfg.MaxReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		QueueCap:             cfg.QueueCap,
		RTTWindow:            cfg.RTTWindow,
		GoodLatency:          cfg.GoodLatency,
		PoorLatency:          cfg.PoorLatency,
		GapThreshold:         cfg.GapThreshold,
	})

	s.client.SetCallbacks(stream.Callbacks{
		OnMessage: s.Dispatch,
		OnStateChange: func(from, to models.ConnectionState) {
			logger.Info("connection state changed",
				zap.String("from", string(from)),
				zap.String("to", string(to)))
			s.scheduleRecompute()
		},
		OnQualityChange: func(q models.ConnectionQuality) {
			logger.Debug("connection quality changed", zap.String("quality", string(q)))
			s.scheduleRecompute()
		},
		OnError: s.recordError,
	})

	return s
}

// Start connects to the tracking backend.
func (s *Session) Start(ctx context.Context) error {
	return s.client.Connect(ctx)
}

// Stop tears down the session: connection, retry timers, subscribers.
func (s *Session) Stop() {
	s.client.Disconnect()

	s.debounceMu.Lock()
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	s.debounceMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subscribers
	s.subscribers = nil
	s.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
	s.logger.Info("session stopped")
}

// Dispatch is the single entry point for every validated inbound message.
// It runs on the stream's read goroutine, so store mutations happen in
// arrival order and finish before the next frame is read.
func (s *Session) Dispatch(msg models.InboundMessage) {
	switch m := msg.(type) {
	case *models.LocationUpdateMsg:
		s.store.ApplyLocation(m.Location())
		s.scheduleRecompute()

	case *models.StatusUpdateMsg:
		s.store.ApplyStatus(m.Status())
		s.scheduleRecompute()

	case *models.DriverPresenceMsg:
		var loc *models.DriverLocation
		if m.Location != nil {
			l := m.Location.Location()
			loc = &l
		}
		s.store.SetPresence(m.DriverID, m.Online(), time.UnixMilli(m.Timestamp), loc)
		s.scheduleRecompute()

	case *models.NearbyResultMsg:
		s.resolveNearby(m)

	default:
		s.logger.Debug("unhandled message kind", zap.String("kind", msg.Kind()))
	}
}

// Recompute runs one full clustering + aggregation pass at the given zoom
// and remembers the zoom for debounced passes. Synchronous and read-only
// over a snapshot; safe to call from any goroutine.
func (s *Session) Recompute(zoom float64) []models.ClusterData {
	s.mu.Lock()
	s.zoom = zoom
	s.mu.Unlock()

	return s.recompute(zoom)
}

func (s *Session) recompute(zoom float64) []models.ClusterData {
	snap := s.store.Snapshot()

	clusters, dropped := s.engine.Cluster(snap, zoom)
	for i := range dropped {
		s.recordError(&dropped[i])
	}

	now := snap.TakenAt
	for i := range clusters {
		preds := make([]models.DriverIntentPrediction, 0, len(clusters[i].Members))
		for _, member := range clusters[i].Members {
			preds = append(preds, s.classify(member.DriverID, snap, now))
		}
		clusters[i].Predictions = preds
		clusters[i].Metrics = intent.Aggregate(preds)
	}

	return clusters
}

func (s *Session) classify(driverID string, snap models.Snapshot, now time.Time) models.DriverIntentPrediction {
	steady, _ := s.store.TimeSinceStatusChange(driverID)
	return s.predictor.Classify(intent.Input{
		DriverID:  driverID,
		Record:    snap.Drivers[driverID],
		History:   s.store.History(driverID),
		SteadyFor: steady,
	}, now)
}

// scheduleRecompute coalesces bursts of updates into a single pass per frame
// interval so a chatty fleet does not recompute per micro-update.
func (s *Session) scheduleRecompute() {
	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()

	if s.debounce != nil {
		return // a pass is already pending; this update rides along
	}

	s.debounce = time.AfterFunc(s.cfg.FrameInterval, func() {
		s.debounceMu.Lock()
		s.debounce = nil
		s.debounceMu.Unlock()

		s.mu.Lock()
		zoom := s.zoom
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		s.publish(ViewUpdate{
			State:             s.client.State(),
			Quality:           s.client.Quality(),
			ReconnectAttempts: s.client.ReconnectAttempts(),
			Clusters:          s.recompute(zoom),
		})
	})
}

// Subscribe returns a channel of view updates. Slow consumers miss updates
// rather than blocking ingestion.
func (s *Session) Subscribe() <-chan ViewUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan ViewUpdate, 10)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// publish sends under the lock: Stop nils the subscriber list before closing
// the channels, so holding s.mu here rules out a send on a closed channel.
func (s *Session) publish(update ViewUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- update:
		default:
		}
	}
}

// Snapshot exposes the current location/status view, read-only.
func (s *Session) Snapshot() models.Snapshot {
	return s.store.Snapshot()
}

// ConnectionState returns the channel lifecycle state.
func (s *Session) ConnectionState() models.ConnectionState {
	return s.client.State()
}

// ConnectionQuality returns the derived channel quality.
func (s *Session) ConnectionQuality() models.ConnectionQuality {
	return s.client.Quality()
}

// ReconnectAttempts returns consecutive failed reconnects.
func (s *Session) ReconnectAttempts() int {
	return s.client.ReconnectAttempts()
}

// LastError returns the most recent captured error, if any.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ClearError resets the last-error slot.
func (s *Session) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = nil
}

// Retry clears the error slot and forces a fresh connection attempt with the
// backoff counter reset.
func (s *Session) Retry(ctx context.Context) {
	s.ClearError()
	s.client.Reconnect(ctx)
}

// MalformedCount returns how many inbound frames failed validation and were
// dropped.
func (s *Session) MalformedCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.malformedCount
}

func (s *Session) recordError(err error) {
	s.mu.Lock()
	s.lastErr = err
	if _, ok := err.(*models.MalformedMessageError); ok {
		s.malformedCount++
	}
	s.mu.Unlock()
}

// FindNearby asks the backend for drivers near a point, falling back to a
// scan of the local snapshot if no answer arrives before ctx expires. The
// result is bounded by limit either way.
func (s *Session) FindNearby(ctx context.Context, center models.LatLng, radiusMeters float64, limit int) []models.DriverLocation {
	if limit <= 0 {
		limit = 20
	}

	queryID := uuid.NewString()
	ch := make(chan []models.DriverLocation, 1)

	s.mu.Lock()
	s.pendingNearby[queryID] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pendingNearby, queryID)
		s.mu.Unlock()
	}()

	if err := s.client.FindNearby(queryID, center, radiusMeters, limit); err != nil {
		s.recordError(err)
	}

	select {
	case drivers := <-ch:
		if len(drivers) > limit {
			drivers = drivers[:limit]
		}
		return drivers
	case <-ctx.Done():
		// Degraded but functional: answer from what we already know.
		return s.localNearby(center, radiusMeters, limit)
	}
}

func (s *Session) resolveNearby(m *models.NearbyResultMsg) {
	s.mu.Lock()
	ch, ok := s.pendingNearby[m.QueryID]
	s.mu.Unlock()
	if !ok {
		s.logger.Debug("nearby result for unknown query",
			zap.String("query_id", m.QueryID))
		return
	}

	drivers := make([]models.DriverLocation, 0, len(m.Drivers))
	for i := range m.Drivers {
		drivers = append(drivers, m.Drivers[i].Location())
	}

	select {
	case ch <- drivers:
	default:
	}
}

func (s *Session) localNearby(center models.LatLng, radiusMeters float64, limit int) []models.DriverLocation {
	snap := s.store.Snapshot()

	type hit struct {
		loc  models.DriverLocation
		dist float64
	}
	var hits []hit
	for _, rec := range snap.Drivers {
		if rec.Location == nil {
			continue
		}
		d := geo.Haversine(center.Lat, center.Lng, rec.Location.Lat, rec.Location.Lng)
		if d <= radiusMeters {
			hits = append(hits, hit{loc: *rec.Location, dist: d})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })

	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]models.DriverLocation, len(hits))
	for i, h := range hits {
		out[i] = h.loc
	}
	return out
}
