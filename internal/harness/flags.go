package harness

import (
	"flag"
	"strings"

	"github.com/fyrsmithlabs/storeharness/internal/config"
)

// BackendsFlag is the command line flag carrying the selector.
const BackendsFlag = "backends"

// Flags holds the harness command line flags.
type Flags struct {
	Backends string
}

// RegisterFlags registers -backends on fs. Call it before flag parsing,
// e.g. from TestMain:
//
//	var flags = harness.RegisterFlags(flag.CommandLine)
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.Backends, BackendsFlag, "",
		`comma separated document store backends to run, e.g. "memory, sql" (default: run.backends / STOREHARNESS_RUN_BACKENDS)`)
	return f
}

// Selector resolves the selector: the flag if given, else run.backends from
// cfg (which already carries the env override), else DefaultBackends.
func (f *Flags) Selector(cfg *config.Config) (Selector, error) {
	raw := ""
	if f != nil {
		raw = f.Backends
	}
	if strings.TrimSpace(raw) == "" && cfg != nil {
		raw = cfg.Run.Backends
	}
	if strings.TrimSpace(raw) == "" {
		raw = config.DefaultBackends
	}
	return ParseSelector(raw)
}
