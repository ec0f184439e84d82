// services/hal/internal/platform/platform.go
package platform

import (
	"sync"

	"soilcode-go/services/hal/internal/halcore"

	"tinygo.org/x/drivers"
)

// Factory is a fixed id -> bus mapping, usable on every platform. Tests
// and hosts without real buses populate it with fakes.
type Factory struct {
	mu    sync.RWMutex
	buses map[string]drivers.I2C
}

var _ halcore.I2CBusFactory = (*Factory)(nil)

func NewFactory() *Factory {
	return &Factory{buses: map[string]drivers.I2C{}}
}

func (f *Factory) Add(id string, b drivers.I2C) {
	f.mu.Lock()
	f.buses[id] = b
	f.mu.Unlock()
}

func (f *Factory) ByID(id string) (drivers.I2C, bool) {
	f.mu.RLock()
	b, ok := f.buses[id]
	f.mu.RUnlock()
	return b, ok
}

// HostI2C implements tinygo drivers.I2C for host-side tests. It records
// the last transaction and answers reads with zeros.
type HostI2C struct {
	mu     sync.Mutex
	LastTx struct {
		Addr uint16
		W    []byte
		Rn   int
	}
}

func (h *HostI2C) Tx(addr uint16, w, r []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LastTx.Addr = addr
	h.LastTx.W = append([]byte(nil), w...)
	h.LastTx.Rn = len(r)
	for i := range r {
		r[i] = 0
	}
	return nil
}
