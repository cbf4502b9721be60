// Package control is the shell-agnostic control surface of proposer. The
// Controller turns start/stop/pause/resume and template selection into
// engine and store calls; the HTTP API, the WebSocket progress feed, and the
// MCP tools are thin adapters over it, so every frontend behaves the same.
package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/germanamz/proposer/pkg/browser"
	"github.com/germanamz/proposer/pkg/engine"
	"github.com/germanamz/proposer/pkg/incident"
	"github.com/germanamz/proposer/pkg/settings"
	"github.com/germanamz/proposer/pkg/templates"
)

// ErrInvalidRequest is returned for malformed control requests.
var ErrInvalidRequest = errors.New("control: invalid request")

// SessionReporter exposes the browser session state.
type SessionReporter interface {
	State() browser.SessionState
}

// StartRequest optionally overrides the settings snapshot for one run.
type StartRequest struct {
	MaxSends   *int     `json:"max_sends,omitempty"`
	MinDelay   *float64 `json:"min_delay_seconds,omitempty"`
	MaxDelay   *float64 `json:"max_delay_seconds,omitempty"`
	TemplateID *int     `json:"template_id,omitempty"`
}

// Status is the combined view returned by status queries.
type Status struct {
	Run     engine.RunState         `json:"run"`
	Config  engine.RunConfiguration `json:"config"`
	Session *browser.SessionState   `json:"session,omitempty"`
}

// Controller coordinates the engine with the settings and template stores.
type Controller struct {
	runCtx    context.Context
	engine    *engine.Engine
	templates *templates.Store
	settings  *settings.Store
	session   SessionReporter
	incidents *incident.Log
}

// Option configures a Controller.
type Option func(*Controller)

// WithSession reports browser session state in Status.
func WithSession(s SessionReporter) Option {
	return func(c *Controller) { c.session = s }
}

// WithIncidents exposes recent incidents.
func WithIncidents(l *incident.Log) Option {
	return func(c *Controller) { c.incidents = l }
}

// New creates a Controller. Runs are bound to runCtx rather than to the
// request that started them.
func New(runCtx context.Context, eng *engine.Engine, tpl *templates.Store, st *settings.Store, opts ...Option) *Controller {
	c := &Controller{
		runCtx:    runCtx,
		engine:    eng,
		templates: tpl,
		settings:  st,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Engine returns the controlled engine.
func (c *Controller) Engine() *engine.Engine { return c.engine }

// Start takes a settings snapshot, applies req, and starts a run.
func (c *Controller) Start(req StartRequest) (Status, error) {
	s, err := c.settings.Load()
	if err != nil {
		return Status{}, err
	}

	cfg := s.RunConfig()
	if req.MaxSends != nil {
		cfg.MaxSends = *req.MaxSends
	}
	if req.MinDelay != nil {
		cfg.MinDelay = *req.MinDelay
	}
	if req.MaxDelay != nil {
		cfg.MaxDelay = *req.MaxDelay
	}
	if err := cfg.Validate(); err != nil {
		return Status{}, err
	}

	if req.TemplateID != nil {
		if c.engine.State().Status.Active() {
			return Status{}, engine.ErrAlreadyRunning
		}
		prev, err := c.templates.Active()
		if err != nil {
			return Status{}, err
		}
		if err := c.templates.Activate(*req.TemplateID); err != nil {
			return Status{}, err
		}
		cfg.ActiveTemplateID = *req.TemplateID

		if err := c.engine.Start(c.runCtx, cfg); err != nil {
			if rerr := c.templates.Activate(prev.ID); rerr != nil {
				return Status{}, errors.Join(err, rerr)
			}
			return Status{}, err
		}
		return c.Status(), nil
	}

	if err := c.engine.Start(c.runCtx, cfg); err != nil {
		return Status{}, err
	}

	return c.Status(), nil
}

// Stop requests graceful termination of the active run.
func (c *Controller) Stop() (Status, error) {
	if err := c.engine.Stop(); err != nil {
		return Status{}, err
	}
	return c.Status(), nil
}

// Pause pauses the active run at its next suspension point.
func (c *Controller) Pause() (Status, error) {
	if err := c.engine.Pause(); err != nil {
		return Status{}, err
	}
	return c.Status(), nil
}

// Resume resumes a paused run.
func (c *Controller) Resume() (Status, error) {
	if err := c.engine.Resume(); err != nil {
		return Status{}, err
	}
	return c.Status(), nil
}

// Status returns the run state, its configuration, and the browser session.
func (c *Controller) Status() Status {
	st := Status{
		Run:    c.engine.State(),
		Config: c.engine.Config(),
	}
	if c.session != nil {
		ss := c.session.State()
		st.Session = &ss
	}
	return st
}

// Templates lists all templates.
func (c *Controller) Templates() []templates.Template {
	return c.templates.List()
}

// ActivateTemplate marks id active. The running loop picks it up on its next
// send.
func (c *Controller) ActivateTemplate(id int) (templates.Template, error) {
	if err := c.templates.Activate(id); err != nil {
		return templates.Template{}, err
	}
	return c.templates.Get(id)
}

// Incidents returns up to n of today's incidents.
func (c *Controller) Incidents(n int) ([]incident.Incident, error) {
	if c.incidents == nil {
		return nil, nil
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidRequest)
	}
	return c.incidents.Recent(n)
}
