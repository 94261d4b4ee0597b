package incident

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"sentinel-engine/internal/queue"
	"sentinel-engine/internal/schema"
	"sentinel-engine/internal/storage"
)

// Dispatcher forwards escalated incidents to notification channels without
// blocking the caller.
type Dispatcher interface {
	Dispatch(inc schema.SecurityIncident)
}

// StoreConfig holds incident store settings.
type StoreConfig struct {
	// MaxIncidents bounds the in-memory working set.
	MaxIncidents int
}

// Store is the authoritative in-memory working set of recent incidents with a
// best-effort durable write-through. The durable sink holds history beyond
// the buffer capacity.
type Store struct {
	mu       sync.Mutex
	ring     *queue.Ring[*schema.SecurityIncident]
	index    map[string]*schema.SecurityIncident
	sink     storage.IncidentSink
	dispatch Dispatcher
	logger   *slog.Logger
	validate *validator.Validate
}

// NewStore creates a Store. sink and dispatch may be nil; a nil sink means
// in-memory-only degraded operation, a nil dispatch disables escalation.
func NewStore(cfg StoreConfig, sink storage.IncidentSink, dispatch Dispatcher, logger *slog.Logger) *Store {
	if cfg.MaxIncidents <= 0 {
		cfg.MaxIncidents = 10000
	}
	return &Store{
		ring:     queue.NewRing[*schema.SecurityIncident](cfg.MaxIncidents),
		index:    make(map[string]*schema.SecurityIncident),
		sink:     sink,
		dispatch: dispatch,
		logger:   logger,
		validate: validator.New(),
	}
}

// Create registers a new incident. Missing ID, timestamp and status are
// filled in, response actions are computed from (threat_level, category),
// and the incident is pushed to the ring buffer. The durable append is
// best-effort with one retry; its failure never fails the create. High and
// critical incidents are handed to the dispatcher asynchronously.
func (s *Store) Create(ctx context.Context, inc schema.SecurityIncident) (schema.SecurityIncident, error) {
	if inc.Timestamp.IsZero() {
		inc.Timestamp = time.Now().UTC()
	}
	if inc.ID == "" {
		inc.ID = schema.IncidentID(inc.Title, inc.Timestamp, inc.SourceIP)
	}
	if inc.Status == "" {
		inc.Status = schema.StatusOpen
	}
	inc.ResponseActions = ResponseActions(inc.ThreatLevel, inc.Category)

	if err := s.validate.Struct(inc); err != nil {
		return schema.SecurityIncident{}, storage.NewSinkError("Create", "", err)
	}

	stored := inc

	s.mu.Lock()
	if evicted, ok := s.ring.Push(&stored); ok {
		delete(s.index, evicted.ID)
	}
	s.index[stored.ID] = &stored
	s.mu.Unlock()

	s.appendDurable(ctx, inc)

	if inc.ThreatLevel.Escalates() && s.dispatch != nil {
		go s.dispatch.Dispatch(inc)
	}

	s.logger.Info("incident created",
		"id", inc.ID,
		"threat_level", inc.ThreatLevel,
		"category", inc.Category,
		"title", inc.Title,
	)
	return inc, nil
}

// appendDurable writes the incident to the sink, retrying once on a
// transient failure. Failures are logged, never raised.
func (s *Store) appendDurable(ctx context.Context, inc schema.SecurityIncident) {
	if s.sink == nil {
		return
	}
	err := s.sink.AppendIncident(ctx, inc)
	if err != nil && storage.IsTransient(err) {
		err = s.sink.AppendIncident(ctx, inc)
	}
	if err != nil {
		s.logger.Error("durable incident append failed", "id", inc.ID, "error", err)
	}
}

// UpdateFields names the mutable incident fields. Nil means unchanged.
type UpdateFields struct {
	Status          *schema.IncidentStatus
	AssignedTo      *string
	ResolutionNotes *string
}

// Update mutates an incident's lifecycle fields in place. Unknown IDs
// return storage.ErrNotFound.
func (s *Store) Update(id string, fields UpdateFields) (schema.SecurityIncident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.index[id]
	if !ok {
		return schema.SecurityIncident{}, storage.NewSinkError("Update", "", storage.ErrNotFound)
	}

	if fields.Status != nil {
		if !fields.Status.IsValid() {
			return schema.SecurityIncident{}, storage.NewSinkError("Update", "", storage.ErrInvalidData)
		}
		inc.Status = *fields.Status
	}
	if fields.AssignedTo != nil {
		inc.AssignedTo = *fields.AssignedTo
	}
	if fields.ResolutionNotes != nil {
		inc.ResolutionNotes = *fields.ResolutionNotes
	}
	return *inc, nil
}

// Get returns one incident by ID.
func (s *Store) Get(id string) (schema.SecurityIncident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.index[id]
	if !ok {
		return schema.SecurityIncident{}, storage.NewSinkError("Get", "", storage.ErrNotFound)
	}
	return *inc, nil
}

// QueryFilter narrows a Query. Zero values match everything.
type QueryFilter struct {
	ThreatLevel schema.ThreatLevel
	Category    schema.Category
	Status      schema.IncidentStatus
	SourceIP    string
	Since       time.Time
	Until       time.Time
	Limit       int
}

// Query returns matching incidents, most recent first.
func (s *Store) Query(f QueryFilter) []schema.SecurityIncident {
	snap := s.snapshot()

	var out []schema.SecurityIncident
	for i := len(snap) - 1; i >= 0; i-- {
		inc := snap[i]
		if f.ThreatLevel != "" && inc.ThreatLevel != f.ThreatLevel {
			continue
		}
		if f.Category != "" && inc.Category != f.Category {
			continue
		}
		if f.Status != "" && inc.Status != f.Status {
			continue
		}
		if f.SourceIP != "" && inc.SourceIP != f.SourceIP {
			continue
		}
		if !f.Since.IsZero() && inc.Timestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && inc.Timestamp.After(f.Until) {
			continue
		}
		out = append(out, inc)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// CountCreatedSince counts incidents with a timestamp at or after t.
func (s *Store) CountCreatedSince(t time.Time) int {
	n := 0
	for _, inc := range s.snapshot() {
		if !inc.Timestamp.Before(t) {
			n++
		}
	}
	return n
}

// Len returns the current buffer depth.
func (s *Store) Len() int {
	return s.ring.Len()
}

// RemoveOlderThan drops incidents created before cutoff from the in-memory
// buffer, returning the removed incidents oldest first. The durable sink is
// purged separately by the retention job.
func (s *Store) RemoveOlderThan(cutoff time.Time) []schema.SecurityIncident {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.ring.Snapshot()
	var removed []schema.SecurityIncident

	s.ring.Reset()
	for _, inc := range snap {
		if inc.Timestamp.Before(cutoff) {
			removed = append(removed, *inc)
			delete(s.index, inc.ID)
			continue
		}
		s.ring.Push(inc)
	}
	return removed
}

func (s *Store) snapshot() []schema.SecurityIncident {
	s.mu.Lock()
	defer s.mu.Unlock()

	ptrs := s.ring.Snapshot()
	out := make([]schema.SecurityIncident, 0, len(ptrs))
	for _, p := range ptrs {
		out = append(out, *p)
	}
	return out
}
