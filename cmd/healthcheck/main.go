// Command healthcheck probes a running gateway's /healthz endpoint and
// exits 0 when healthy. Intended for container health checks.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	addr := flag.String("addr", "http://localhost:8090", "gateway base URL")
	timeout := flag.Duration("timeout", 2*time.Second, "probe timeout")
	flag.Parse()

	status, body, err := fasthttp.GetTimeout(nil, *addr+"/healthz", *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe failed: %v\n", err)
		os.Exit(1)
	}
	if status != fasthttp.StatusOK {
		fmt.Fprintf(os.Stderr, "unhealthy: status %d: %s\n", status, body)
		os.Exit(1)
	}
	fmt.Println("ok")
}
