package server

import (
	"log"
	"net/http"
)

func Handler(hub *Hub, store RecordingStore, controller Controller) http.Handler {
	mux := http.NewServeMux()
	registerWSRoute(mux, hub, controller)
	registerAPIRoutes(mux, store, controller)
	return mux
}

func Serve(addr string, hub *Hub, store RecordingStore, controller Controller) error {
	log.Printf("API listening on http://%s", addr)
	return http.ListenAndServe(addr, Handler(hub, store, controller))
}
