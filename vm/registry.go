package vm

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/tolelom/lottochain/core"
)

// ErrUnknownTxType is returned for a transaction type no installed module
// handles.
var ErrUnknownTxType = errors.New("unknown transaction type")

// Handler executes one transaction type against ctx.
type Handler func(ctx *Context, payload json.RawMessage) error

// Module is a feature's set of transaction types, e.g. the lottery's
// join, open and force.
type Module struct {
	Name     string
	Handlers map[core.TxType]Handler
}

type route struct {
	module string
	h      Handler
}

// Registry routes transaction types to the module that executes them.
type Registry struct {
	mu      sync.RWMutex
	routes  map[core.TxType]route
	modules []string
}

// NewRegistry creates a Registry with no modules.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[core.TxType]route)}
}

// Install adds every handler of m. It panics when m is unnamed, empty,
// already installed, or claims a type another module owns; all of those
// are wiring bugs caught at init.
func (r *Registry) Install(m Module) {
	if m.Name == "" || len(m.Handlers) == 0 {
		panic("vm: module needs a name and at least one handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.modules, m.Name) {
		panic(fmt.Sprintf("vm: module %q installed twice", m.Name))
	}
	for typ := range m.Handlers {
		if owner, taken := r.routes[typ]; taken {
			panic(fmt.Sprintf("vm: %s cannot claim %q, owned by %s", m.Name, typ, owner.module))
		}
	}
	for typ, h := range m.Handlers {
		r.routes[typ] = route{module: m.Name, h: h}
	}
	r.modules = append(r.modules, m.Name)
	slices.Sort(r.modules)
}

// Route returns the module name and handler for typ.
func (r *Registry) Route(typ core.TxType) (string, Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routes[typ]
	if !ok {
		return "", nil, fmt.Errorf("%w %q", ErrUnknownTxType, typ)
	}
	return rt.module, rt.h, nil
}

// Modules lists installed module names in order.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.modules)
}

// installed is the process-wide registry modules add themselves to from
// init().
var installed = NewRegistry()

// Install adds m to the process-wide registry.
func Install(m Module) { installed.Install(m) }

// Supports reports which installed module executes typ.
func Supports(typ core.TxType) (string, bool) {
	name, _, err := installed.Route(typ)
	return name, err == nil
}

// InstalledModules lists the modules linked into this binary.
func InstalledModules() []string { return installed.Modules() }
