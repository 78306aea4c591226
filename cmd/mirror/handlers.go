package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	mirror "github.com/drpcorg/mirror"
	"github.com/drpcorg/mirror/state"
)

func AddCorsHeaders(f func(w http.ResponseWriter, req *http.Request)) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Max-Age", "86400")
		f(w, req)
	}
}

type digestReply struct {
	Digest      state.Digest `json:"digest"`
	Fingerprint string       `json:"fingerprint"`
}

func DigestHandler(d *daemon) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, fmt.Sprintf("Unsupported method %s", req.Method), http.StatusMethodNotAllowed)
			return
		}
		var reply digestReply
		d.mirror.View(func(s *mirror.Store) {
			reply.Digest = s.Digest()
			reply.Fingerprint = fmt.Sprintf("%016x", s.Fingerprint())
		})
		writeJSON(w, reply)
	}
}

func PeersHandler(d *daemon) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string][]string{
			"peers":   d.net.Peers(),
			"listens": d.net.Listens(),
		})
	}
}

// addressHandler takes a plain text address in a POST body.
func addressHandler(action func(addr string) error) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodOptions:
			w.Header().Set("Access-Control-Allow-Methods", "POST")
			w.WriteHeader(http.StatusNoContent)
		case http.MethodPost:
			body, err := io.ReadAll(io.LimitReader(req.Body, 1024))
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			addr := strings.TrimSpace(string(body))
			if addr == "" {
				http.Error(w, "address expected", http.StatusUnprocessableEntity)
				return
			}
			if err := action(addr); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, fmt.Sprintf("Unsupported method %s", req.Method), http.StatusMethodNotAllowed)
		}
	}
}

func ListenHandler(d *daemon) func(w http.ResponseWriter, req *http.Request) {
	return addressHandler(d.net.Listen)
}

func ConnectHandler(d *daemon) func(w http.ResponseWriter, req *http.Request) {
	return addressHandler(d.net.Connect)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
