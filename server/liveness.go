package server

import (
	"net/http"
)

const livenessBody = "OK"

func NewLiveness(config Config) *http.Server {
	router := http.NewServeMux()
	router.Handle("/", Liveness())

	return newServer("liveness", config, router)
}

// Liveness answers every request with 200 and a fixed body.
func Liveness() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(livenessBody))
	})
}
