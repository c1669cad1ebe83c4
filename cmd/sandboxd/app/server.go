// Copyright The TrustTunnel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package app

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/cloudflare/sandbox-sdk-sub004/internal/api"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/logutil"
	"github.com/cloudflare/sandbox-sdk-sub004/internal/portproxy"
)

// runServer configures logging, starts the metrics server, builds the
// Router, and serves the main API until a shutdown signal arrives.
func runServer(opt *Option) error {
	level, err := logrus.ParseLevel(opt.LogConfig.Level)
	if err != nil {
		return err
	}

	logutil.SetLevel(level)
	logutil.SetExpireDay(opt.LogConfig.ExpireDays)

	logGlobalConfig(opt)

	go startMonitorServer(opt.MonitorPort)

	rt := api.NewRouter()

	if p, err := strconv.Atoi(opt.Port); err == nil {
		portproxy.SetControlPort(p)
	}

	addr := net.JoinHostPort(opt.Host, opt.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: rt.Handler(),
	}

	setupSignal(func() {
		logrus.Info("shutting down sandboxd")

		rt.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(opt.ShutdownGrace)*time.Second)
		defer cancel()

		_ = srv.Shutdown(ctx)
	})

	logrus.Infof("sandboxd listening on %s", addr)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// startMonitorServer serves /metrics on its own port, matching the
// teacher's separation of the data-plane listener from the metrics one.
func startMonitorServer(port string) {
	addr := net.JoinHostPort("0.0.0.0", port)
	server := &http.Server{Addr: addr}

	r := mux.NewRouter()
	r.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	server.Handler = r

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logrus.Warnf("monitor server exited: %v", err)
	}
}
