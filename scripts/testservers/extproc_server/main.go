// Command extproc_server runs a minimal ext_proc server for manual sweeps.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"time"

	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"google.golang.org/grpc"

	"github.com/torosent/extproc-bench/internal/extproc/extproctest"
)

type serverMode string

const (
	modeEcho            serverMode = "echo"
	modeCloseAfterFirst serverMode = "close-after-first"
	modeFailAfterFirst  serverMode = "fail-after-first"
)

func main() {
	mode := flag.String("mode", string(modeEcho), "Server mode: echo, close-after-first, fail-after-first")
	port := flag.Int("port", 0, "Listening port")
	delay := flag.Duration("delay", 0, "Delay before each response")
	flag.Parse()

	if *port <= 0 {
		log.Fatalf("port must be > 0")
	}

	behavior, err := parseMode(serverMode(*mode))
	if err != nil {
		log.Fatal(err)
	}
	log.Fatal(run(*port, serverMode(*mode), &extproctest.Server{Behavior: behavior, Delay: *delay}))
}

func parseMode(mode serverMode) (extproctest.Behavior, error) {
	switch mode {
	case modeEcho:
		return extproctest.Echo, nil
	case modeCloseAfterFirst:
		return extproctest.CloseAfterFirst, nil
	case modeFailAfterFirst:
		return extproctest.FailAfterFirst, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", mode)
	}
}

func run(port int, mode serverMode, srv *extproctest.Server) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	gs := grpc.NewServer()
	extprocv3.RegisterExternalProcessorServer(gs, srv)

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			log.Printf("streams served: %d", srv.Streams())
		}
	}()

	log.Printf("ext_proc server (%s) listening on %s", mode, lis.Addr())
	return gs.Serve(lis)
}
