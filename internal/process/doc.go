// Package process supervises external helper programs.
//
// Many instruments are driven through a vendor tool rather than a library: a
// GDB server for a JTAG adapter, candump for a SocketCAN interface, a
// logic-analyzer capture CLI. A Supervisor runs one such tool, hands each
// line it prints to a callback, restarts it when it dies unexpectedly and
// terminates its whole process group on Stop.
//
// Example usage:
//
//	sup := process.New(process.Config{
//	    Name:             "candump-can0",
//	    Binary:           "candump",
//	    Args:             []string{"-L", "can0"},
//	    RestartOnFailure: true,
//	    OnLine: func(stream string, line []byte) {
//	        // parse and publish
//	    },
//	})
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package process
