package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/trustbloc/logutil-go/pkg/log"
	"go.uber.org/zap"
)

const maxTrustAnchorSize = 1 << 20

// trustAnchorUpload is the JSON body accepted by AddTrustAnchorHandler.
type trustAnchorUpload struct {
	Filename string `json:"filename"`
	PEMData  string `json:"pem_data"`
}

// ListTrustAnchorsHandler lists the anchors request objects are verified against.
func (s *Server) ListTrustAnchorsHandler(w http.ResponseWriter, r *http.Request) {
	anchors, err := s.certManager.ListCertificates()
	if err != nil {
		jsonErrorResponse(w, fmt.Errorf("failed to list trust anchors: %v", err), http.StatusInternalServerError)
		return
	}

	jsonResponse(w, anchors, http.StatusOK)
}

// GetTrustAnchorHandler returns one anchor with its PEM data.
func (s *Server) GetTrustAnchorHandler(w http.ResponseWriter, r *http.Request) {
	info, pemData, err := s.certManager.GetCertificate(mux.Vars(r)["filename"])
	if err != nil {
		jsonErrorResponse(w, err, trustAnchorErrorStatus(err))
		return
	}

	jsonResponse(w, struct {
		*CertInfo
		PEMData string `json:"pem_data"`
	}{info, string(pemData)}, http.StatusOK)
}

// AddTrustAnchorHandler stores a root certificate sent as a multipart upload
// (field "certificate"), a JSON document or a bare PEM body.
func (s *Server) AddTrustAnchorHandler(w http.ResponseWriter, r *http.Request) {
	filename, pemData, err := trustAnchorFromRequest(r)
	if err != nil {
		jsonErrorResponse(w, err, http.StatusBadRequest)
		return
	}

	info, err := s.certManager.AddCertificate(filename, pemData)
	if err != nil {
		jsonErrorResponse(w, fmt.Errorf("failed to add trust anchor: %v", err), http.StatusBadRequest)
		return
	}

	logger.Info("trust anchor added",
		zap.String("filename", info.Filename), zap.String("subject", info.Subject))

	jsonResponse(w, info, http.StatusCreated)
}

// DeleteTrustAnchorHandler removes one anchor from the pool.
func (s *Server) DeleteTrustAnchorHandler(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]

	if err := s.certManager.DeleteCertificate(filename); err != nil {
		jsonErrorResponse(w, err, trustAnchorErrorStatus(err))
		return
	}

	logger.Info("trust anchor removed", zap.String("filename", filename))

	w.WriteHeader(http.StatusNoContent)
}

// ReloadTrustAnchorsHandler rebuilds the pool from disk and returns the anchors now in use.
func (s *Server) ReloadTrustAnchorsHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.certManager.ReloadCertificates(); err != nil {
		logger.Warn("trust anchor reload failed", log.WithError(err))
		jsonErrorResponse(w, fmt.Errorf("failed to reload trust anchors: %v", err), http.StatusInternalServerError)
		return
	}

	s.ListTrustAnchorsHandler(w, r)
}

func trustAnchorFromRequest(r *http.Request) (string, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxTrustAnchorSize); err != nil {
			return "", nil, fmt.Errorf("failed to parse form: %v", err)
		}

		file, header, err := r.FormFile("certificate")
		if err != nil {
			return "", nil, fmt.Errorf("missing certificate file: %v", err)
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxTrustAnchorSize))
		if err != nil {
			return "", nil, fmt.Errorf("failed to read certificate file: %v", err)
		}
		return header.Filename, data, nil

	case "application/json":
		var upload trustAnchorUpload
		if err := parseJSON(r, &upload); err != nil {
			return "", nil, fmt.Errorf("failed to parse request: %v", err)
		}
		if upload.PEMData == "" {
			return "", nil, errors.New("pem_data is required")
		}
		return upload.Filename, []byte(upload.PEMData), nil

	default:
		defer r.Body.Close()

		data, err := io.ReadAll(io.LimitReader(r.Body, maxTrustAnchorSize))
		if err != nil {
			return "", nil, fmt.Errorf("failed to read certificate: %v", err)
		}
		return r.URL.Query().Get("filename"), data, nil
	}
}

func trustAnchorErrorStatus(err error) int {
	if errors.Is(err, ErrCertificateNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}
