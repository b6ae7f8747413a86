// Package transport implements the raw TCP socket primitives the fabric's
// four socket roles are built from (spec.md §4.B/§4.C): Reply (server side
// of request/response), Request (client side), Publish (server side of
// pub/sub), and Subscribe (client side). Framing is delegated to pkg/wire;
// this package owns connection lifecycle and port auto-binding.
//
// The teacher's gRPC server (coreengine/grpc) showed the graceful
// start/stop-with-idempotency-guard idiom this package follows, but this
// spec's daemon/client IPC is itself a raw framed-socket fabric rather than
// an RPC-with-schema system, so the sockets here are built on net.Listener
// and net.Conn directly (see DESIGN.md for why grpc was not carried
// forward).
package transport

import (
	"fmt"
	"net"

	"github.com/KeckObservatory/mktl-go/pkg/mktlerr"
)

// BindAutoPort scans [low, high] for a free TCP port, skipping any port in
// avoid, and returns a listener bound to the first one found (§4.C). If
// every port in range is taken, it retries once against the avoid set
// itself (a port an earlier process bound that since become free again)
// before giving up with a PortError.
func BindAutoPort(host string, low, high int, avoid map[int]bool, role string) (net.Listener, int, error) {
	for _, pass := range []bool{false, true} {
		for port := low; port <= high; port++ {
			if !pass && avoid[port] {
				continue
			}
			addr := fmt.Sprintf("%s:%d", host, port)
			ln, err := net.Listen("tcp", addr)
			if err == nil {
				return ln, port, nil
			}
		}
	}
	return nil, 0, &mktlerr.PortError{RangeLow: low, RangeHigh: high, Role: role}
}

// BindPreferredOrAuto tries to rebind preferred first (a daemon's previously
// persisted port, §4.K step 2), falling back to BindAutoPort over [low, high]
// avoiding preferred itself if the rebind fails (another process may have
// taken it while this daemon was down).
func BindPreferredOrAuto(host string, preferred, low, high int, role string) (net.Listener, int, error) {
	if preferred > 0 {
		addr := fmt.Sprintf("%s:%d", host, preferred)
		if ln, err := net.Listen("tcp", addr); err == nil {
			return ln, preferred, nil
		}
	}
	avoid := map[int]bool{}
	if preferred > 0 {
		avoid[preferred] = true
	}
	return BindAutoPort(host, low, high, avoid, role)
}
