// Package server exposes the mediator over HTTP: pages start credential calls
// and poll for their results, the selection UI lists and answers prompts, and
// wallets post their responses.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/kokukuma/dc-mediator/exchange"
	"github.com/kokukuma/dc-mediator/shim"
)

var logger = log.New("server")

type correlator interface {
	Select(exchangeID, walletID string) error
	Dismiss(exchangeID string) error
	Lookup(ctx context.Context, exchangeID string) (*exchange.PendingExchange, error)
}

type Server struct {
	shim        *shim.Shim
	correlator  correlator
	selections  *Selections
	exchanges   *Exchanges
	certManager *CertManager

	allowedOrigins []string
}

type Opt func(s *Server)

// WithCertManager serves the trust anchor API from cm.
func WithCertManager(cm *CertManager) Opt {
	return func(s *Server) {
		s.certManager = cm
	}
}

func WithAllowedOrigins(origins ...string) Opt {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func NewServer(sh *shim.Shim, c correlator, selections *Selections, opts ...Opt) *Server {
	s := &Server{
		shim:           sh,
		correlator:     c,
		selections:     selections,
		exchanges:      NewExchanges(defaultRetention),
		allowedOrigins: []string{"*"},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Router returns the HTTP handler of the server.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(handlers.CORS(
		handlers.AllowedMethods([]string{"POST", "GET", "DELETE"}),
		handlers.AllowedHeaders([]string{"content-type"}),
		handlers.AllowedOrigins(s.allowedOrigins),
		handlers.AllowCredentials(),
	))

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/exchanges", s.CreateExchange).Methods("POST", "OPTIONS")
	api.HandleFunc("/exchanges/{id}", s.GetExchange).Methods("GET", "OPTIONS")
	api.HandleFunc("/exchanges/{id}/select", s.SelectWallet).Methods("POST", "OPTIONS")
	api.HandleFunc("/exchanges/{id}/cancel", s.CancelExchange).Methods("POST", "OPTIONS")
	api.HandleFunc("/exchanges/{id}/response", s.PostResponse).Methods("POST", "OPTIONS")
	api.HandleFunc("/selections", s.ListSelections).Methods("GET", "OPTIONS")

	if s.certManager != nil {
		anchors := api.PathPrefix("/trust-anchors").Subrouter()
		anchors.HandleFunc("", s.ListTrustAnchorsHandler).Methods("GET", "OPTIONS")
		anchors.HandleFunc("", s.AddTrustAnchorHandler).Methods("POST", "OPTIONS")
		anchors.HandleFunc("/reload", s.ReloadTrustAnchorsHandler).Methods("POST", "OPTIONS")
		anchors.HandleFunc("/{filename}", s.GetTrustAnchorHandler).Methods("GET", "OPTIONS")
		anchors.HandleFunc("/{filename}", s.DeleteTrustAnchorHandler).Methods("DELETE", "OPTIONS")
	}

	return r
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func parseJSON(r *http.Request, v interface{}) error {
	if r == nil || r.Body == nil {
		return errors.New("no request given")
	}

	defer r.Body.Close()
	defer io.Copy(io.Discard, r.Body) //nolint:errcheck

	return json.NewDecoder(r.Body).Decode(v)
}

func jsonResponse(w http.ResponseWriter, d interface{}, c int) {
	dj, err := json.Marshal(d)
	if err != nil {
		http.Error(w, "Error creating JSON response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(c)
	_, _ = w.Write(dj)
}

func jsonErrorResponse(w http.ResponseWriter, e error, c int) {
	logger.Debug("request failed", log.WithError(e))
	jsonResponse(w, ErrorResponse{Error: e.Error()}, c)
}
