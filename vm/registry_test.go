package vm_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/vm"
)

func noop(*vm.Context, json.RawMessage) error { return nil }

func TestRegistryRoutesByModule(t *testing.T) {
	r := vm.NewRegistry()
	r.Install(vm.Module{Name: "lottery", Handlers: map[core.TxType]vm.Handler{
		core.TxLottoJoin: noop,
		core.TxLottoOpen: noop,
	}})
	r.Install(vm.Module{Name: "economy", Handlers: map[core.TxType]vm.Handler{core.TxTransfer: noop}})

	name, h, err := r.Route(core.TxLottoOpen)
	require.NoError(t, err)
	assert.Equal(t, "lottery", name)
	assert.NotNil(t, h)

	_, _, err = r.Route("mint_asset")
	assert.ErrorIs(t, err, vm.ErrUnknownTxType)

	assert.Equal(t, []string{"economy", "lottery"}, r.Modules())
}

func TestRegistryRefusesConflicts(t *testing.T) {
	r := vm.NewRegistry()
	r.Install(vm.Module{Name: "lottery", Handlers: map[core.TxType]vm.Handler{core.TxLottoJoin: noop}})

	assert.Panics(t, func() {
		r.Install(vm.Module{Name: "lottery", Handlers: map[core.TxType]vm.Handler{core.TxLottoOpen: noop}})
	})
	assert.Panics(t, func() {
		r.Install(vm.Module{Name: "rival", Handlers: map[core.TxType]vm.Handler{core.TxLottoJoin: noop}})
	})
	assert.Panics(t, func() { r.Install(vm.Module{Name: "empty"}) })

	// A refused install leaves nothing behind.
	_, _, err := r.Route(core.TxLottoOpen)
	assert.ErrorIs(t, err, vm.ErrUnknownTxType)
	assert.Equal(t, []string{"lottery"}, r.Modules())
}

func TestInstalledModules(t *testing.T) {
	assert.Equal(t, []string{"economy", "lottery"}, vm.InstalledModules())
	for typ, want := range map[core.TxType]string{
		core.TxTransfer:   "economy",
		core.TxLottoJoin:  "lottery",
		core.TxLottoOpen:  "lottery",
		core.TxLottoForce: "lottery",
	} {
		got, ok := vm.Supports(typ)
		assert.True(t, ok, typ)
		assert.Equal(t, want, got, typ)
	}
}
