//go:build linux || darwin

package squall

import (
	"github.com/joeycumines/go-squall/coroutine"
	"github.com/joeycumines/go-squall/stream"
)

// Listen binds a TCP server, served by handler. See [stream.Listen].
func (r *Runtime) Listen(handler stream.Handler, host string, port int, backlog int, opts ...stream.Option) ([]*stream.Listener, error) {
	return stream.Listen(r.scheduler, handler, host, port, backlog, r.serverOptions(opts)...)
}

// StartServer binds a TCP server, served by handler, returning the handles
// of its acceptor coroutines. See [stream.StartServer].
func (r *Runtime) StartServer(handler stream.Handler, host string, port int, backlog int, opts ...stream.Option) ([]coroutine.Handle, error) {
	return stream.StartServer(r.scheduler, handler, host, port, backlog, r.serverOptions(opts)...)
}

func (r *Runtime) serverOptions(opts []stream.Option) []stream.Option {
	return append(append(make([]stream.Option, 0, len(r.streamOptions)+len(opts)), r.streamOptions...), opts...)
}
