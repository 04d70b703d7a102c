package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/ambulance-dispatch/internal/auth"
	"github.com/ukydev/ambulance-dispatch/internal/models"
	"github.com/ukydev/ambulance-dispatch/internal/observability"
	"github.com/ukydev/ambulance-dispatch/internal/registry"
)

// Store persists committed records to the backing store.
type Store interface {
	CreateIncident(ctx context.Context, inc models.Incident) (models.Incident, error)
	UpdateIncident(ctx context.Context, inc models.Incident) (models.Incident, error)
	CreateAmbulance(ctx context.Context, a models.Ambulance) (models.Ambulance, error)
	UpdateAmbulance(ctx context.Context, a models.Ambulance) (models.Ambulance, error)
	DeleteAmbulance(ctx context.Context, id models.ID) error
}

// EventSink receives an event for every committed command.
type EventSink interface {
	Record(ctx context.Context, ev models.DispatchEvent) error
}

// Refresher is told that local state changed and the store should be re-read.
type Refresher interface {
	MarkDirty(reason string)
}

// DefaultServiceArea is where incidents reported without coordinates are placed.
var DefaultServiceArea = models.Location{Lat: 33.5731, Lng: -7.5898}

const (
	defaultPersistTimeout = 10 * time.Second
	defaultJitterDeg      = 0.05
)

// Service is the command surface of the dispatch core. Every method checks the
// actor's role through the authorization gate before touching the registry.
type Service struct {
	reg       *registry.Registry
	planner   *Planner
	gate      *auth.Gate
	store     Store
	sinks     []EventSink
	refresher Refresher
	metrics   *observability.Collector
	log       logrus.FieldLogger
	order     *writeOrder

	persistTimeout time.Duration
	serviceArea    models.Location
	jitterDeg      float64
	random         func() float64
}

// Option configures a Service.
type Option func(*Service)

func WithEventSinks(sinks ...EventSink) Option {
	return func(s *Service) { s.sinks = append(s.sinks, sinks...) }
}

func WithRefresher(r Refresher) Option {
	return func(s *Service) { s.refresher = r }
}

func WithMetrics(m *observability.Collector) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) { s.log = log }
}

// WithPersistTimeout bounds each backing-store write made after a commit.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.persistTimeout = d
		}
	}
}

// WithServiceArea sets the centre and spread used for incidents without coordinates.
func WithServiceArea(center models.Location, jitterDeg float64) Option {
	return func(s *Service) {
		s.serviceArea = center
		s.jitterDeg = jitterDeg
	}
}

// WithRandom overrides the [0,1) source used for position jitter.
func WithRandom(f func() float64) Option {
	return func(s *Service) { s.random = f }
}

// NewService wires the command surface. store may be nil to run without a
// backing store.
func NewService(reg *registry.Registry, gate *auth.Gate, store Store, opts ...Option) *Service {
	s := &Service{
		reg:            reg,
		planner:        NewPlanner(reg),
		gate:           gate,
		store:          store,
		log:            logrus.StandardLogger(),
		order:          newWriteOrder(),
		persistTimeout: defaultPersistTimeout,
		serviceArea:    DefaultServiceArea,
		jitterDeg:      defaultJitterDeg,
		random:         rand.Float64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateIncident records a new PENDING incident.
func (s *Service) CreateIncident(ctx context.Context, actor models.Actor, req models.CreateIncidentRequest) (models.Incident, error) {
	const op = "create_incident"
	var inc models.Incident
	err := s.gate.Authorize(actor.Role, models.PermCreateIncident, func() error {
		var (
			cs  registry.ChangeSet
			err error
		)
		inc, cs, err = s.reg.Incidents().Create(registry.NewIncident{
			Type:        req.Type,
			Severity:    req.Severity,
			Address:     req.Address,
			Position:    s.positionFor(req),
			Description: req.Description,
		})
		if err != nil {
			return err
		}
		s.afterCommit(ctx, op, cs, map[models.ID]bool{inc.ID: true}, models.DispatchEvent{
			Kind:       models.EventIncidentCreated,
			IncidentID: inc.ID,
			Severity:   inc.Severity,
			Status:     string(inc.Status),
		}, actor)
		return nil
	})
	s.metrics.ObserveCommand(op, err)
	return inc, err
}

// UpdateIncidentDescription edits the description of an open incident.
func (s *Service) UpdateIncidentDescription(ctx context.Context, actor models.Actor, id models.ID, description string) (models.Incident, error) {
	const op = "update_incident"
	var inc models.Incident
	err := s.gate.Authorize(actor.Role, models.PermCreateIncident, func() error {
		var (
			cs  registry.ChangeSet
			err error
		)
		inc, cs, err = s.reg.Incidents().Describe(id, description)
		if err != nil {
			return err
		}
		s.afterCommit(ctx, op, cs, nil, models.DispatchEvent{
			Kind:       models.EventIncidentUpdated,
			IncidentID: inc.ID,
			Severity:   inc.Severity,
			Status:     string(inc.Status),
		}, actor)
		return nil
	})
	s.metrics.ObserveCommand(op, err)
	return inc, err
}

// Candidates ranks available vehicles for an incident.
func (s *Service) Candidates(actor models.Actor, incidentID models.ID) ([]Candidate, error) {
	return auth.AuthorizeValue(s.gate, actor.Role, models.PermAssignAmbulance, func() ([]Candidate, error) {
		return s.planner.Candidates(incidentID)
	})
}

// AssignAmbulance commits the chosen vehicle to an incident.
func (s *Service) AssignAmbulance(ctx context.Context, actor models.Actor, incidentID, ambulanceID models.ID) (Assignment, error) {
	const op = "assign_ambulance"
	a, err := auth.AuthorizeValue(s.gate, actor.Role, models.PermAssignAmbulance, func() (Assignment, error) {
		a, cs, err := s.planner.CommitAssignment(incidentID, ambulanceID)
		if err != nil {
			return Assignment{}, err
		}
		s.afterCommit(ctx, op, cs, nil, assignedEvent(a), actor)
		return a, nil
	})
	s.metrics.ObserveCommand(op, err)
	return a, err
}

// AutoAssign commits the nearest available vehicle to an incident.
func (s *Service) AutoAssign(ctx context.Context, actor models.Actor, incidentID models.ID) (Assignment, error) {
	const op = "auto_assign"
	a, err := auth.AuthorizeValue(s.gate, actor.Role, models.PermAssignAmbulance, func() (Assignment, error) {
		a, cs, err := s.planner.AutoAssign(incidentID)
		if err != nil {
			return Assignment{}, err
		}
		s.afterCommit(ctx, op, cs, nil, assignedEvent(a), actor)
		return a, nil
	})
	s.metrics.ObserveCommand(op, err)
	return a, err
}

// ResolveIncident closes an incident and frees its vehicle.
func (s *Service) ResolveIncident(ctx context.Context, actor models.Actor, incidentID models.ID) (Release, error) {
	const op = "resolve_incident"
	r, err := auth.AuthorizeValue(s.gate, actor.Role, models.PermAssignAmbulance, func() (Release, error) {
		r, cs, err := s.planner.ResolveAndRelease(incidentID)
		if err != nil {
			return Release{}, err
		}
		ev := models.DispatchEvent{
			Kind:       models.EventIncidentResolved,
			IncidentID: r.Incident.ID,
			Severity:   r.Incident.Severity,
			Status:     string(r.Incident.Status),
		}
		if r.Ambulance != nil {
			ev.AmbulanceID = r.Ambulance.ID
		}
		s.afterCommit(ctx, op, cs, nil, ev, actor)
		return r, nil
	})
	s.metrics.ObserveCommand(op, err)
	return r, err
}

// CreateAmbulance registers a new vehicle.
func (s *Service) CreateAmbulance(ctx context.Context, actor models.Actor, req models.CreateAmbulanceRequest) (models.Ambulance, error) {
	const op = "create_ambulance"
	a, err := auth.AuthorizeValue(s.gate, actor.Role, models.PermAddRemoveVehicles, func() (models.Ambulance, error) {
		a, cs, err := s.reg.Fleet().Create(req)
		if err != nil {
			return models.Ambulance{}, err
		}
		s.afterCommit(ctx, op, cs, map[models.ID]bool{a.ID: true}, models.DispatchEvent{
			Kind:        models.EventAmbulanceCreated,
			AmbulanceID: a.ID,
			Status:      string(a.Status),
		}, actor)
		return a, nil
	})
	s.metrics.ObserveCommand(op, err)
	return a, err
}

// SetAmbulanceStatus changes a vehicle's availability by hand.
func (s *Service) SetAmbulanceStatus(ctx context.Context, actor models.Actor, id models.ID, status models.AmbulanceStatus) (models.Ambulance, error) {
	const op = "set_ambulance_status"
	perms := []models.Permission{models.PermModifyAmbulanceStatus, models.PermManageVehicleAvailability}
	a, err := auth.AuthorizeAnyValue(s.gate, actor.Role, perms, func() (models.Ambulance, error) {
		var (
			prev    models.AmbulanceStatus
			updated models.Ambulance
		)
		cs, err := s.reg.Update(func(tx *registry.Tx) error {
			if cur, err := tx.Ambulance(id); err == nil {
				prev = cur.Status
			}
			a, err := registry.SetAmbulanceStatus(tx, id, status)
			updated = a
			return err
		})
		if err != nil {
			return models.Ambulance{}, err
		}
		if prev == models.AmbulanceBusy && updated.Status != models.AmbulanceBusy {
			s.log.WithFields(logrus.Fields{
				"ambulance_id": id,
				"status":       updated.Status,
				"actor":        actor.ID,
			}).Warn("Ambulance manually released from BUSY without a resolved incident")
		}
		s.afterCommit(ctx, op, cs, nil, models.DispatchEvent{
			Kind:        models.EventAmbulanceStatus,
			AmbulanceID: updated.ID,
			Status:      string(updated.Status),
		}, actor)
		return updated, nil
	})
	s.metrics.ObserveCommand(op, err)
	return a, err
}

// UpdateAmbulanceLocation records a vehicle's new position.
func (s *Service) UpdateAmbulanceLocation(ctx context.Context, actor models.Actor, id models.ID, loc models.Location) (models.Ambulance, error) {
	const op = "update_ambulance_location"
	perms := []models.Permission{models.PermManageVehicleAvailability, models.PermModifyAmbulanceStatus}
	a, err := auth.AuthorizeAnyValue(s.gate, actor.Role, perms, func() (models.Ambulance, error) {
		a, cs, err := s.reg.Fleet().UpdateLocation(id, loc)
		if err != nil {
			return models.Ambulance{}, err
		}
		s.afterCommit(ctx, op, cs, nil, models.DispatchEvent{
			Kind:        models.EventAmbulanceMoved,
			AmbulanceID: a.ID,
			Status:      string(a.Status),
		}, actor)
		return a, nil
	})
	s.metrics.ObserveCommand(op, err)
	return a, err
}

// RemoveAmbulance deletes a vehicle that no open incident holds.
func (s *Service) RemoveAmbulance(ctx context.Context, actor models.Actor, id models.ID) error {
	const op = "remove_ambulance"
	err := s.gate.Authorize(actor.Role, models.PermAddRemoveVehicles, func() error {
		cs, err := s.reg.Fleet().Remove(id)
		if err != nil {
			return err
		}
		s.afterCommit(ctx, op, cs, nil, models.DispatchEvent{
			Kind:        models.EventAmbulanceRemoved,
			AmbulanceID: id,
		}, actor)
		return nil
	})
	s.metrics.ObserveCommand(op, err)
	return err
}

func assignedEvent(a Assignment) models.DispatchEvent {
	return models.DispatchEvent{
		Kind:        models.EventAmbulanceAssigned,
		IncidentID:  a.Incident.ID,
		AmbulanceID: a.Ambulance.ID,
		Severity:    a.Incident.Severity,
		Status:      string(a.Incident.Status),
	}
}

func (s *Service) positionFor(req models.CreateIncidentRequest) models.Location {
	if req.Lat != nil && req.Lng != nil {
		return models.Location{Lat: *req.Lat, Lng: *req.Lng}
	}
	return models.Location{
		Lat: s.serviceArea.Lat + (s.random()-0.5)*2*s.jitterDeg,
		Lng: s.serviceArea.Lng + (s.random()-0.5)*2*s.jitterDeg,
	}
}

// afterCommit pushes a committed change set downstream. Failures here are
// logged and never undo the in-memory commit.
func (s *Service) afterCommit(ctx context.Context, op string, cs registry.ChangeSet, created map[models.ID]bool, ev models.DispatchEvent, actor models.Actor) {
	ctx = context.WithoutCancel(ctx)
	persisted := s.persist(ctx, op, cs, created)

	ev.ActorID = actor.ID
	ev.Role = actor.Role
	ev.At = s.reg.Now()
	for _, sink := range s.sinks {
		if err := sink.Record(ctx, ev); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"op":   op,
				"kind": ev.Kind,
			}).Warn("Failed to record dispatch event")
		}
	}

	if s.refresher != nil {
		reason := op
		if !persisted {
			reason = op + " (persist failed)"
		}
		s.refresher.MarkDirty(reason)
	}
}

func (s *Service) persist(ctx context.Context, op string, cs registry.ChangeSet, created map[models.ID]bool) bool {
	if s.store == nil || cs.Empty() {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()

	start := time.Now()
	var errs []error
	write := func(kind string, id models.ID, fn func() error) {
		skipped, err := s.order.do(recordKey{kind: kind, id: id}, cs.Seq, fn)
		if skipped {
			s.log.WithFields(logrus.Fields{
				"op":   op,
				"kind": kind,
				"id":   id,
				"seq":  cs.Seq,
			}).Debug("Skipped store write superseded by a later commit")
		}
		errs = append(errs, err)
	}
	for _, inc := range cs.Incidents {
		write(kindIncident, inc.ID, func() error {
			var err error
			if created[inc.ID] {
				_, err = s.store.CreateIncident(ctx, inc)
			} else {
				_, err = s.store.UpdateIncident(ctx, inc)
			}
			return err
		})
	}
	for _, a := range cs.Ambulances {
		write(kindAmbulance, a.ID, func() error {
			var err error
			if created[a.ID] {
				_, err = s.store.CreateAmbulance(ctx, a)
			} else {
				_, err = s.store.UpdateAmbulance(ctx, a)
			}
			return err
		})
	}
	for _, id := range cs.RemovedAmbulances {
		write(kindAmbulance, id, func() error {
			return s.store.DeleteAmbulance(ctx, id)
		})
	}

	err := errors.Join(errs...)
	s.metrics.ObservePersist(time.Since(start), err)
	if err != nil {
		s.log.WithError(err).WithField("op", op).Warn("Committed locally but failed to persist to backing store")
		return false
	}
	return true
}
