package session

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/dhruva-antino/live-drm/internal/pipeline"
)

// portPool hands out ports from [start, end], skipping ports that are held
// by a session or that the probe reports as busy.
type portPool struct {
	mu    sync.Mutex
	start int
	end   int
	used  map[int]string
	probe func(port int) bool
}

func newPortPool(start, end int, probe func(int) bool) *portPool {
	return &portPool{start: start, end: end, used: make(map[int]string), probe: probe}
}

// acquire reserves n consecutive free ports for owner.
func (p *portPool) acquire(owner string, n int) ([]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

next:
	for first := p.start; first+n-1 <= p.end; first++ {
		for port := first; port < first+n; port++ {
			if _, held := p.used[port]; held {
				continue next
			}
			if p.probe != nil && !p.probe(port) {
				continue next
			}
		}
		ports := make([]int, n)
		for i := range ports {
			ports[i] = first + i
			p.used[first+i] = owner
		}
		return ports, nil
	}
	return nil, fmt.Errorf("%w: no %d free ports in %d-%d", pipeline.ErrValidation, n, p.start, p.end)
}

// reserve claims a caller-chosen port.
func (p *portPool) reserve(owner string, port int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if other, held := p.used[port]; held {
		return fmt.Errorf("%w: port %d is assigned to %s", pipeline.ErrValidation, port, other)
	}
	p.used[port] = owner
	return nil
}

func (p *portPool) release(ports ...int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, port := range ports {
		delete(p.used, port)
	}
}

// ingestPortFree reports whether both a TCP and a UDP listener can bind port.
func ingestPortFree(port int) bool {
	addr := ":" + strconv.Itoa(port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	_ = l.Close()
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return false
	}
	_ = pc.Close()
	return true
}

// loopbackUDPFree reports whether a UDP socket can bind 127.0.0.1:port.
func loopbackUDPFree(port int) bool {
	pc, err := net.ListenPacket("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = pc.Close()
	return true
}
