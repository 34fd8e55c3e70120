package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/skip2/go-qrcode"

	"github.com/kokukuma/dc-mediator/exchange"
	"github.com/kokukuma/dc-mediator/internal/logfields"
	"github.com/kokukuma/dc-mediator/protocol"
	"github.com/kokukuma/dc-mediator/shim"
	"github.com/kokukuma/dc-mediator/wallet"
)

const (
	qrCodeSize      = 256
	maxResponseSize = 1 << 20
)

type CreateExchangeRequest struct {
	Origin  string                 `json:"origin"`
	Options map[string]interface{} `json:"options"`
}

type CreateExchangeResponse struct {
	ExchangeID string `json:"exchangeId"`
}

// ExchangeStatus is what a page polls for while its call is in flight.
type ExchangeStatus struct {
	ExchangeID string               `json:"exchangeId"`
	Origin     string               `json:"origin"`
	State      exchange.State       `json:"state,omitempty"`
	WalletID   string               `json:"walletId,omitempty"`
	Deadline   *time.Time           `json:"deadline,omitempty"`
	Invocation *exchange.Invocation `json:"invocation,omitempty"`
	Result     *exchange.Result     `json:"result,omitempty"`
	Error      string               `json:"error,omitempty"`
}

type SelectRequest struct {
	WalletID string `json:"walletId"`
}

func (s *Server) CreateExchange(w http.ResponseWriter, r *http.Request) {
	req := CreateExchangeRequest{}
	if err := parseJSON(r, &req); err != nil {
		jsonErrorResponse(w, fmt.Errorf("failed to parse request: %v", err), http.StatusBadRequest)
		return
	}

	if req.Origin == "" {
		req.Origin = r.Header.Get("Origin")
	}

	// The call outlives this HTTP request.
	call, err := s.shim.Begin(context.Background(), req.Origin, req.Options)
	switch {
	case errors.Is(err, shim.ErrNotDigitalCredentialRequest), protocol.IsValidationError(err):
		jsonErrorResponse(w, err, http.StatusBadRequest)
		return
	case err != nil:
		jsonErrorResponse(w, fmt.Errorf("failed to begin credential call: %v", err), http.StatusInternalServerError)
		return
	}

	s.exchanges.Track(call)

	logger.Info("credential call started",
		logfields.WithExchangeID(call.ID), logfields.WithOrigin(req.Origin))

	jsonResponse(w, CreateExchangeResponse{ExchangeID: call.ID}, http.StatusCreated)
}

// GetExchange reports the status of a credential call. With qrcode=true it
// renders the wallet invocation URL as a PNG QR code instead.
func (s *Server) GetExchange(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, ok := s.exchanges.Get(id)
	if !ok {
		jsonErrorResponse(w, fmt.Errorf("exchange %s not found", id), http.StatusNotFound)
		return
	}

	inv := rec.call.Invocation()

	if r.URL.Query().Get("qrcode") == "true" {
		if inv == nil {
			jsonErrorResponse(w, fmt.Errorf("exchange %s has no wallet invocation", id), http.StatusNotFound)
			return
		}

		png, err := qrcode.Encode(inv.Invocation.AuthorizationURL, qrcode.Medium, qrCodeSize)
		if err != nil {
			jsonErrorResponse(w, fmt.Errorf("failed to render QR code: %v", err), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(png)
		return
	}

	status := ExchangeStatus{
		ExchangeID: id,
		Origin:     rec.call.Origin,
		Invocation: inv,
	}

	switch {
	case rec.result != nil:
		status.State = rec.result.State
		status.WalletID = rec.result.WalletID
		status.Result = rec.result
	case rec.err != nil:
		status.State = exchange.StateCancelled
		status.Error = rec.err.Error()
	default:
		p, err := s.correlator.Lookup(r.Context(), id)
		if err == nil {
			status.State = p.State
			status.WalletID = p.WalletID
			if !p.Deadline.IsZero() {
				status.Deadline = &p.Deadline
			}
		}
	}

	jsonResponse(w, status, http.StatusOK)
}

func (s *Server) ListSelections(w http.ResponseWriter, _ *http.Request) {
	jsonResponse(w, s.selections.List(), http.StatusOK)
}

func (s *Server) SelectWallet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	req := SelectRequest{}
	if err := parseJSON(r, &req); err != nil {
		jsonErrorResponse(w, fmt.Errorf("failed to parse request: %v", err), http.StatusBadRequest)
		return
	}

	p, err := s.selections.Get(id)
	if err != nil {
		jsonErrorResponse(w, err, http.StatusNotFound)
		return
	}

	if _, ok := wallet.Find(p.Candidates, req.WalletID); !ok {
		jsonErrorResponse(w, fmt.Errorf("wallet %q is not a candidate", req.WalletID), http.StatusBadRequest)
		return
	}

	if err := s.correlator.Select(id, req.WalletID); err != nil {
		jsonErrorResponse(w, fmt.Errorf("failed to select wallet: %v", err), http.StatusServiceUnavailable)
		return
	}

	jsonResponse(w, map[string]string{"message": "wallet selected"}, http.StatusAccepted)
}

// CancelExchange dismisses the wallet selector of an exchange.
func (s *Server) CancelExchange(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := s.selections.Get(id); err != nil {
		jsonErrorResponse(w, fmt.Errorf("exchange %s is not awaiting selection", id), http.StatusConflict)
		return
	}

	if err := s.correlator.Dismiss(id); err != nil {
		jsonErrorResponse(w, fmt.Errorf("failed to cancel exchange: %v", err), http.StatusServiceUnavailable)
		return
	}

	jsonResponse(w, map[string]string{"message": "exchange cancelled"}, http.StatusAccepted)
}

// PostResponse accepts the authorization response of a wallet, either
// form-encoded as a direct_post or as a JSON object.
func (s *Server) PostResponse(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	data, err := responseData(r)
	if err != nil {
		jsonErrorResponse(w, err, http.StatusBadRequest)
		return
	}

	err = s.shim.Respond(r.Context(), id, data)
	switch {
	case errors.Is(err, shim.ErrUnknownCall):
		jsonErrorResponse(w, fmt.Errorf("exchange %s not found", id), http.StatusNotFound)
		return
	case err != nil:
		jsonErrorResponse(w, fmt.Errorf("failed to deliver response: %v", err), http.StatusInternalServerError)
		return
	}

	jsonResponse(w, map[string]string{"message": "response received"}, http.StatusAccepted)
}

func responseData(r *http.Request) (interface{}, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "application/json" {
		var data map[string]interface{}
		if err := parseJSON(r, &data); err != nil {
			return nil, fmt.Errorf("failed to parse response: %v", err)
		}
		return data, nil
	}

	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %v", err)
	}
	return string(body), nil
}
