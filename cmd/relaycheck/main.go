// Command relaycheck drives a handler through a handful of invocations
// against an in-process fake of the Lambda runtime API, for local
// smoke-testing without a real execution environment. It is not part of
// relay's public API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/relaykit/relay"
)

type echoRequest struct {
	N int `json:"n"`
}

type echoResponse struct {
	Echo int `json:"echo"`
}

func handler(_ context.Context, in echoRequest) (echoResponse, error) {
	return echoResponse{Echo: in.N}, nil
}

func main() {
	server := httptest.NewServer(fakeRuntimeAPI())
	defer server.Close()

	cfg := &relay.Configuration{
		RuntimeEndpoint: strings.TrimPrefix(server.URL, "http://"),
		LogLevel:        "info",
		MaxInvocations:  3,
		StopSignal:      15,
		KeepAlive:       true,
		RequestTimeout:  2 * time.Second,
		LifecycleID:     "relaycheck",
	}

	if err := relay.Start(handler, relay.WithConfig(cfg)); err != nil {
		fmt.Println("relaycheck: lifecycle ended with error:", err)
	}
}

// fakeRuntimeAPI stands in for the control plane: each GET next returns a
// freshly numbered invocation, and every POST response/error is printed
// as an observed wire event.
func fakeRuntimeAPI() http.Handler {
	var counter int64
	mux := http.NewServeMux()

	mux.HandleFunc("/2018-06-01/runtime/invocation/next", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&counter, 1)
		requestID := fmt.Sprintf("req-%d", n)

		w.Header().Set("Lambda-Runtime-Aws-Request-Id", requestID)
		w.Header().Set("Lambda-Runtime-Deadline-Ms", strconv.FormatInt(time.Now().Add(5*time.Second).UnixMilli(), 10))
		w.Header().Set("Lambda-Runtime-Trace-Id", fmt.Sprintf("Root=1-relaycheck-%d;Sampled=1", n))
		w.Header().Set("Lambda-Runtime-Invoked-Function-Arn", "arn:aws:lambda:us-east-1:000000000000:function:relaycheck")

		body, _ := json.Marshal(echoRequest{N: int(n)})
		fmt.Printf("[relaycheck] next -> %s %s\n", requestID, body)
		w.Write(body)
	})

	mux.HandleFunc("/2018-06-01/runtime/invocation/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		kind := "response"
		if strings.HasSuffix(r.URL.Path, "/error") {
			kind = "error"
		}
		fmt.Printf("[relaycheck] %s <- %s %s\n", kind, r.URL.Path, body)
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("/2018-06-01/runtime/init/error", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fmt.Printf("[relaycheck] init error <- %s\n", body)
		w.WriteHeader(http.StatusAccepted)
	})

	return mux
}
