// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/flashdeck/pkg/api"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the bench over HTTP and WebSocket",
	Long: `Expose every bench operation as a JSON endpoint, plus a WebSocket
stream of the serial buffer at /ws/serial (?format=cbor for binary frames).

There is no authentication; bind to localhost or put a proxy in front.

Example:
  flashdeck serve --listen 127.0.0.1:8080`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "Listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	if !verbose {
		logrus.SetLevel(logrus.InfoLevel)
	}

	st, err := openStation()
	if err != nil {
		return err
	}
	defer st.Close()

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           api.NewServer(st, logrus.WithField("component", "api")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{
			"addr":     listenAddr,
			"data_dir": st.Config.DataDir,
		}).Info("serving")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return &exitError{code: ExitConnection, err: err}
		}
		return nil
	case <-ctx.Done():
	}

	logrus.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
