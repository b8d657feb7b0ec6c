package decode

import (
	"fmt"
	"sync"

	"gpudbg/internal/common"
	"gpudbg/internal/gpu"
	"gpudbg/internal/pm4"
	"gpudbg/internal/sdma"
	"gpudbg/internal/stream"
)

// FamilyFunc runs one packet family's state machine over a stream.
type FamilyFunc func(st *stream.DecoderState, sink stream.Sink, env *stream.Env) error

// Register maps packet families to their decoders.
type Register struct {
	mu     sync.RWMutex
	byName map[string]gpu.Family
	funcs  map[gpu.Family]FamilyFunc
}

var defaultRegister = NewRegister()

func init() {
	for _, f := range []struct {
		name   string
		family gpu.Family
		fn     FamilyFunc
	}{
		{"pm4", gpu.FamilyPM4, pm4.Decode},
		{"sdma", gpu.FamilySDMA, sdma.Decode},
	} {
		if err := defaultRegister.RegisterFamily(f.name, f.family, f.fn); err != nil {
			panic(err)
		}
	}
}

// DefaultRegister returns the register holding the built-in families.
func DefaultRegister() *Register { return defaultRegister }

func NewRegister() *Register {
	return &Register{byName: make(map[string]gpu.Family), funcs: make(map[gpu.Family]FamilyFunc)}
}

// RegisterFamily adds a decoder under a name. Names and families may only
// be registered once.
func (r *Register) RegisterFamily(name string, f gpu.Family, fn FamilyFunc) error {
	if fn == nil {
		return common.NewErrorMsg(gpu.ErrSevError, gpu.ErrBadConfig, "nil family decoder")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return common.NewErrorf(gpu.ErrSevError, gpu.ErrBadConfig, "family name %q already registered", name)
	}
	if _, ok := r.funcs[f]; ok {
		return common.NewErrorf(gpu.ErrSevError, gpu.ErrBadConfig, "family %d already registered", f)
	}
	r.byName[name] = f
	r.funcs[f] = fn
	return nil
}

func (r *Register) Lookup(f gpu.Family) (FamilyFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if fn, ok := r.funcs[f]; ok {
		return fn, nil
	}
	return nil, common.NewErrorf(gpu.ErrSevError, gpu.ErrBadConfig, "no decoder for packet family %s", f)
}

func (r *Register) ByName(name string) (gpu.Family, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.byName[name]; ok {
		return f, nil
	}
	return 0, fmt.Errorf("unknown packet family %q", name)
}
