package workspace

import (
	"fmt"
	"net"
	"sync"

	"github.com/perry-systems/perryd/internal/apperr"
)

// PortAllocator manages the reserved ssh forward port range
// across all workspaces. It tracks which ports are claimed by which
// workspace and provides thread-safe allocation and release within the
// configured range, retrying the next port on an OS bind conflict.
type PortAllocator struct {
	basePort  int
	maxPort   int
	allocated map[int]string // port -> workspace name
	mu        sync.Mutex
}

// NewPortAllocator creates a PortAllocator managing ports in [basePort, maxPort].
func NewPortAllocator(basePort, maxPort int) *PortAllocator {
	return &PortAllocator{
		basePort:  basePort,
		maxPort:   maxPort,
		allocated: make(map[int]string),
	}
}

// Seed pre-populates the allocator from persisted state on startup, so a
// restart does not hand out ports already recorded as in use by a
// workspace.
func (p *PortAllocator) Seed(portsByWorkspace map[string]int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, port := range portsByWorkspace {
		if port >= p.basePort && port <= p.maxPort {
			p.allocated[port] = name
		}
	}
}

// Allocate finds the lowest unused port for the given workspace, verifying
// the OS will actually let it bind. On an OS-level conflict it retries the
// next port up to the range end, returning a NO_PORTS_AVAILABLE error if
// the range is exhausted.
func (p *PortAllocator) Allocate(workspaceName string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for port := p.basePort; port <= p.maxPort; port++ {
		if _, claimed := p.allocated[port]; claimed {
			continue
		}
		if !bindable(port) {
			continue
		}
		p.allocated[port] = workspaceName
		return port, nil
	}

	return 0, apperr.New(apperr.PreconditionFail,
		fmt.Sprintf("NO_PORTS_AVAILABLE: no free port in range [%d, %d]", p.basePort, p.maxPort))
}

// bindable reports whether the OS currently permits binding to port.
func bindable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// Release frees a previously allocated port. No-op if the port is not
// currently allocated.
func (p *PortAllocator) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.allocated, port)
}

// PortFor returns the port currently allocated to workspaceName, if any.
func (p *PortAllocator) PortFor(workspaceName string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for port, name := range p.allocated {
		if name == workspaceName {
			return port, true
		}
	}
	return 0, false
}
