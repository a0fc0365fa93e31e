// Package reconcile drives a topology document into NetBox. Every object is
// made to exist with Ensure: create it, and on a uniqueness conflict either
// fetch the existing object or skip it. Steps run in a fixed order so that
// every reference an object needs was ensured by an earlier step.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/newtron-network/nbseed/pkg/audit"
	"github.com/newtron-network/nbseed/pkg/metrics"
	"github.com/newtron-network/nbseed/pkg/netbox"
	"github.com/newtron-network/nbseed/pkg/topology"
	"github.com/newtron-network/nbseed/pkg/util"
)

// Options wires optional observers and hooks into a run.
type Options struct {
	Reporter Reporter     // console progress; nil discards
	Audit    audit.Logger // nil disables auditing
	Metrics  *metrics.Run // nil disables metrics
	RunID    string       // shared by the run's audit events

	// BeforeStep runs before every step; an error aborts the run. The CLI
	// refreshes its run lock here.
	BeforeStep func(ctx context.Context, step string) error
}

// Result is what a run did.
type Result struct {
	Devices map[topology.Tier][]netbox.Device
	Events  []Event
}

// Count returns how many objects ended in state s.
func (r *Result) Count(s State) int {
	n := 0
	for _, ev := range r.Events {
		if ev.Err == nil && ev.State == s {
			n++
		}
	}
	return n
}

// CountKind is Count restricted to one kind.
func (r *Result) CountKind(kind string, s State) int {
	n := 0
	for _, ev := range r.Events {
		if ev.Err == nil && ev.Kind == kind && ev.State == s {
			n++
		}
	}
	return n
}

// Reconciler seeds one document into one NetBox.
type Reconciler struct {
	client *netbox.Client
	doc    *topology.Document
	opts   Options

	step   string
	result *Result

	sites         map[string]*netbox.Site
	roles         map[string]*netbox.DeviceRole
	manufacturers map[string]*netbox.Manufacturer
	deviceTypes   map[string]*netbox.DeviceType // by model
	tags          map[string]*netbox.Tag
	devices       map[topology.Tier][]netbox.Device
	ifPrefix      map[int]string // device ID -> interface naming prefix

	transit  *netbox.Prefix
	loopback *netbox.Prefix
	rir      *netbox.RIR
	spineASN *netbox.ASN
	leafASNs []*netbox.ASN // parallel to devices[TierLeaf]
}

// New creates a reconciler. The document must already be normalized and
// validated (topology.Load and topology.Default do both).
func New(client *netbox.Client, doc *topology.Document, opts Options) *Reconciler {
	if opts.Reporter == nil {
		opts.Reporter = nopReporter{}
	}
	if opts.RunID == "" {
		opts.RunID = audit.NewRunID()
	}
	return &Reconciler{client: client, doc: doc, opts: opts}
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

// steps returns the run's steps in dependency order. Loopback and VLAN
// steps are left out when the document has none.
func (r *Reconciler) steps() []step {
	steps := []step{
		{"sites", r.ensureSites},
		{"device roles", r.ensureRoles},
		{"manufacturers", r.ensureManufacturers},
		{"device types", r.ensureDeviceTypes},
		{"interface templates", r.ensureInterfaceTemplates},
		{"tags", r.ensureTags},
		{"devices", r.ensureDevices},
		{"cabling", r.ensureCabling},
		{"transit prefix", r.ensureTransitPrefix},
	}
	if !r.doc.Loopback.IsZero() {
		steps = append(steps, step{"loopback prefix", r.ensureLoopbackPrefix})
	}
	steps = append(steps,
		step{"rir and asns", r.ensureASNs},
		step{"links", r.ensureLinks},
	)
	if !r.doc.Loopback.IsZero() {
		steps = append(steps, step{"loopbacks", r.ensureLoopbacks})
	}
	if len(r.doc.VLANs) > 0 {
		steps = append(steps, step{"vlans", r.ensureVLANs})
	}
	return steps
}

// StepNames lists the steps Run will execute, in order.
func (r *Reconciler) StepNames() []string {
	var names []string
	for _, s := range r.steps() {
		names = append(names, s.name)
	}
	return names
}

func (r *Reconciler) reset() {
	r.result = &Result{}
	r.sites = map[string]*netbox.Site{}
	r.roles = map[string]*netbox.DeviceRole{}
	r.manufacturers = map[string]*netbox.Manufacturer{}
	r.deviceTypes = map[string]*netbox.DeviceType{}
	r.tags = map[string]*netbox.Tag{}
	r.devices = map[topology.Tier][]netbox.Device{}
	r.ifPrefix = map[int]string{}
	r.transit, r.loopback, r.rir, r.spineASN, r.leafASNs = nil, nil, nil, nil, nil
}

// Run executes every step in order and stops at the first error. The
// returned Result covers everything done up to that point.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	r.reset()
	start := time.Now()
	steps := r.steps()
	r.opts.Reporter.RunStart(r.client.BaseURL(), r.doc.Name, len(steps))
	util.WithField("run", r.opts.RunID).Infof("seeding %s into %s", r.doc.Name, r.client.BaseURL())

	var err error
	for i, s := range steps {
		if err = ctx.Err(); err != nil {
			break
		}
		if r.opts.BeforeStep != nil {
			if err = r.opts.BeforeStep(ctx, s.name); err != nil {
				err = fmt.Errorf("before %s: %w", s.name, err)
				break
			}
		}
		r.step = s.name
		r.opts.Reporter.StepStart(s.name, i, len(steps))
		t := time.Now()
		err = s.run(ctx)
		d := time.Since(t)
		r.opts.Reporter.StepEnd(s.name, d, err)
		if r.opts.Metrics != nil {
			r.opts.Metrics.RecordStep(s.name, d)
		}
		if err != nil {
			err = fmt.Errorf("%s: %w", s.name, err)
			break
		}
	}

	r.result.Devices = r.devices
	total := time.Since(start)
	if r.opts.Metrics != nil {
		r.opts.Metrics.Finish(total, err)
	}
	r.opts.Reporter.RunEnd(r.result, total, err)
	return r.result, err
}

// identified is satisfied by every netbox read record.
type identified interface{ ObjectID() int }

// ensure runs Ensure and reports the outcome.
func ensure[T any](ctx context.Context, r *Reconciler, op EnsureOp[T]) (*T, State, error) {
	start := time.Now()
	out, err := Ensure(ctx, op)
	ev := Event{
		Step:     r.step,
		Kind:     op.Kind,
		Key:      op.Key,
		State:    out.State,
		Duration: time.Since(start),
		Err:      err,
	}
	if o, ok := any(out.Record).(identified); ok && out.Record != nil {
		ev.ObjectID = o.ObjectID()
	}
	r.observe(ev)
	return out.Record, out.State, err
}

func (r *Reconciler) observe(ev Event) {
	r.result.Events = append(r.result.Events, ev)
	r.opts.Reporter.Object(ev)

	log := util.WithKind(ev.Kind, ev.Key)
	switch {
	case ev.Err != nil:
		log.WithError(ev.Err).Error("ensure failed")
	case ev.State == Created:
		log.WithField("id", ev.ObjectID).Info("created")
	case ev.State == Existing:
		log.WithField("id", ev.ObjectID).Info("already exists, skipping create")
	case ev.State == Skipped:
		log.Info("already exists, skipping")
	}

	if r.opts.Metrics != nil {
		state := ev.State.String()
		if ev.Err != nil {
			state = "error"
		}
		r.opts.Metrics.RecordObject(ev.Kind, state, ev.Duration)
	}

	if r.opts.Audit != nil {
		ae := audit.NewEvent(r.opts.RunID, ev.Kind, ev.Key).
			WithNetBox(r.client.BaseURL()).
			WithStep(ev.Step).
			WithDuration(ev.Duration)
		if ev.Err != nil {
			ae.WithError(ev.Err)
		} else {
			ae.WithOutcome(ev.State.String(), ev.ObjectID)
		}
		if err := r.opts.Audit.Log(ae); err != nil {
			util.Warnf("audit: %v", err)
		}
	}
}

// found adapts a Get-style result to a Lookup: not found is not an error.
func found[T any](rec *T, err error) (*T, bool, error) {
	if netbox.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func refID(ref *netbox.Ref) int {
	if ref == nil {
		return 0
	}
	return ref.ID
}

// siteID resolves an optional site name to the ensured site's ID.
func (r *Reconciler) siteID(name string) (int, error) {
	if name == "" {
		return 0, nil
	}
	s, ok := r.sites[name]
	if !ok {
		return 0, fmt.Errorf("site %q was not ensured", name)
	}
	return s.ID, nil
}
