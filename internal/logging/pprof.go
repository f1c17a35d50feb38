package logging

import (
	"log/slog"
	"net/http"
	_ "net/http/pprof"
)

const pprofAddr = "localhost:6060"

func startPprof(addr string) {
	log := ForComponent(CompDebug)
	log.Info("pprof_listening", slog.String("addr", addr))
	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Error("pprof_failed", slog.String("error", err.Error()))
		}
	}()
}
