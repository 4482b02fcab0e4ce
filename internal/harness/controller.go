// Package harness decides, per test, which backend variants run and which are
// skipped.
//
// A test declares what it needs with a Decl. A test that needs a backend and
// names none is expanded into one instance per selected backend, in selector
// order; a test that names its backends runs exactly those. Every instance
// is then checked against the selector: if its keywords (tags plus the
// instance id split on '-' and '/') mention a backend kind that is not
// selected, the instance is skipped with a reason naming that kind.
// Instances are skipped, never removed, so the run still reports them.
package harness

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/storeharness/internal/docstore"
	"github.com/fyrsmithlabs/storeharness/internal/logging"
	"go.uber.org/zap"
)

// Decl declares a test's backend needs and categories.
type Decl struct {
	// Name is the test name. Run defaults it to t.Name().
	Name string

	// Tags are explicit categories. When set they are authoritative and no
	// category is inferred from Name.
	Tags []string

	// NeedsBackend expands the test into one instance per backend.
	NeedsBackend bool

	// Backends overrides the selector for this test. A non-empty list
	// implies NeedsBackend.
	Backends []docstore.Kind

	// Params are extra parametrization ids. Each backend instance is
	// combined with every param ("memory-dpr"); a test without a backend
	// gets one instance per param.
	Params []string
}

// Instance is one expanded variant of a test.
type Instance struct {
	Name    string
	Backend docstore.Kind
	ID      string
	Tags    []string

	// SkipReason is non-empty when the instance must be skipped.
	SkipReason string
}

// Skipped reports whether the instance is skipped.
func (i Instance) Skipped() bool { return i.SkipReason != "" }

// Keywords returns the tags plus the id split on '-' and '/'.
func (i Instance) Keywords() []string {
	kw := append([]string(nil), i.Tags...)
	if i.ID != "" {
		kw = append(kw, strings.FieldsFunc(i.ID, func(r rune) bool { return r == '-' || r == '/' })...)
	}
	return kw
}

// SkipReason formats the message for a test skipped because kind is not
// selected.
func SkipReason(kind docstore.Kind) string {
	return fmt.Sprintf("%s is disabled. Enable via -backends=%q", kind, string(kind))
}

// Controller expands and evaluates test declarations against a selector.
type Controller struct {
	selector   Selector
	strictTags bool
	logger     *logging.Logger
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithStrictTags disables category inference from test names.
func WithStrictTags(strict bool) ControllerOption {
	return func(c *Controller) { c.strictTags = strict }
}

// WithLogger sets the logger used for skip decisions.
func WithLogger(l *logging.Logger) ControllerOption {
	return func(c *Controller) { c.logger = l }
}

// NewController creates a Controller for sel.
func NewController(sel Selector, opts ...ControllerOption) *Controller {
	c := &Controller{selector: sel, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("harness")
	return c
}

// Selector returns the controller's selector.
func (c *Controller) Selector() Selector { return c.selector }

// Tags returns the effective categories of d: its explicit tags, or the one
// category inferred from its name when it has none and inference is on.
func (c *Controller) Tags(d Decl) []string {
	if len(d.Tags) > 0 || c.strictTags {
		return append([]string(nil), d.Tags...)
	}
	if cat, ok := InferCategory(d.Name); ok {
		return []string{cat}
	}
	return nil
}

// Expand returns the instances of d with their skip decision.
func (c *Controller) Expand(d Decl) []Instance {
	tags := c.Tags(d)

	backends := d.Backends
	if len(backends) == 0 && d.NeedsBackend {
		backends = c.selector.Kinds()
	}

	var out []Instance
	add := func(kind docstore.Kind, id string) {
		inst := Instance{Name: d.Name, Backend: kind, ID: id, Tags: tags}
		inst.SkipReason = c.Evaluate(inst)
		out = append(out, inst)
	}

	switch {
	case len(backends) > 0 && len(d.Params) > 0:
		for _, kind := range backends {
			for _, p := range d.Params {
				add(kind, string(kind)+"-"+p)
			}
		}
	case len(backends) > 0:
		for _, kind := range backends {
			add(kind, string(kind))
		}
	case len(d.Params) > 0:
		for _, p := range d.Params {
			add("", p)
		}
	default:
		add("", "")
	}
	return out
}

// Evaluate returns the skip reason for inst, or "" if it runs. Kinds are
// checked in enumeration order; the first unselected one wins.
func (c *Controller) Evaluate(inst Instance) string {
	keywords := make(map[string]struct{})
	for _, kw := range inst.Keywords() {
		keywords[strings.ToLower(kw)] = struct{}{}
	}
	for _, kind := range docstore.Kinds() {
		if _, mentioned := keywords[string(kind)]; mentioned && !c.selector.Contains(kind) {
			return SkipReason(kind)
		}
	}
	return ""
}

// Run expands d and runs fn once per instance. Backend and param instances
// run as subtests named by their id; skipped ones call t.Skip with their
// reason.
func (c *Controller) Run(t *testing.T, d Decl, fn func(t *testing.T, inst Instance)) {
	t.Helper()
	if d.Name == "" {
		d.Name = t.Name()
	}

	run := func(t *testing.T, inst Instance) {
		t.Helper()
		recordDecision(inst)
		if inst.Skipped() {
			c.logger.Debug(logging.WithTestName(context.Background(), t.Name()), "skipping test instance",
				zap.String("backend", string(inst.Backend)),
				zap.String("reason", inst.SkipReason))
			t.Skip(inst.SkipReason)
		}
		fn(t, inst)
	}

	instances := c.Expand(d)
	if len(instances) == 1 && instances[0].ID == "" {
		run(t, instances[0])
		return
	}
	for _, inst := range instances {
		inst := inst
		t.Run(inst.ID, func(t *testing.T) { run(t, inst) })
	}
}
