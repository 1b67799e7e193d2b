// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/rditech/rdi-noisecal/ccdb"

	"go.uber.org/zap"
)

var storeURL = flag.String("store", "file://ccdb", "object store: file://dir, gs://bucket or sqlite://file")

func printUsage() {
	fmt.Fprintf(os.Stderr,
		`Usage: `+os.Args[0]+` [options]

Serves the objects of a store over HTTP on $PORT (default 8080).

options:
`,
	)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = printUsage
	flag.Parse()
	os.Exit(execute())
}

// execute returns the exit code once every deferred cleanup has happened.
func execute() int {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "unable to create logger:", err)
		return 1
	}
	defer logger.Sync()

	store, err := ccdb.OpenStore(context.Background(), *storeURL, os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if err != nil {
		logger.Error("unable to open store", zap.String("store", *storeURL), zap.Error(err))
		return 1
	}
	defer store.Close()

	port := os.Getenv("PORT")
	if len(port) == 0 {
		port = "8080"
	}
	var handler http.Handler = (&ccdb.Server{Store: store, Logger: logger}).Handler()
	switch strings.ToLower(os.Getenv("SECURE_ONLY")) {
	case "true", "on":
		logger.Info("enabling HTTP proxy securing middleware")
		handler = secure(handler, logger)
	}
	srv := &http.Server{Addr: ":" + port, Handler: handler}

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		<-c
		srv.Shutdown(context.Background())
	}()

	logger.Info("http server started", zap.String("port", port), zap.String("store", *storeURL))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("ListenAndServe", zap.Error(err))
		return 1
	}
	logger.Info("successful quit")
	return 0
}

// secure redirects requests that reached a proxy over plain http to https.
func secure(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			if strings.ToLower(r.Header.Get("x-forwarded-proto")) == "http" {
				target := "https://" + r.Host + r.URL.Path
				if len(r.URL.RawQuery) > 0 {
					target += "?" + r.URL.RawQuery
				}
				logger.Debug("redirect", zap.String("target", target))
				http.Redirect(w, r, target, http.StatusTemporaryRedirect)
				return
			}
			next.ServeHTTP(w, r)
		},
	)
}
