package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/brickvest/estate-finance/internal/amortization"
	"github.com/brickvest/estate-finance/internal/models"
	"github.com/brickvest/estate-finance/internal/repository"
	"github.com/brickvest/estate-finance/internal/service"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	svc *service.Service
	log *logrus.Logger
}

func NewHandler(svc *service.Service, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		http.Error(w, "username, email and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.svc.Register(req.Username, req.Email, req.Password, req.Role)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, user)
}

// Login handles user authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	token, err := h.svc.Login(req.Email, req.Password)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

// CreateProperty handles listing creation
func (h *Handler) CreateProperty(w http.ResponseWriter, r *http.Request) {
	var property models.Property
	if err := json.NewDecoder(r.Body).Decode(&property); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.svc.CreateProperty(r.Context(), &property)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, created)
}

// ListProperties returns all listings
func (h *Handler) ListProperties(w http.ResponseWriter, r *http.Request) {
	properties, err := h.svc.ListProperties()
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, properties)
}

// FinanceProperty creates a financing contract with its repayment schedule
func (h *Handler) FinanceProperty(w http.ResponseWriter, r *http.Request) {
	var req models.LoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	loan, payments, err := h.svc.FinanceProperty(r.Context(), &req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"loan":     loan,
		"payments": payments,
	})
}

// GetSchedule returns the repayment schedule of a loan
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid loan id", http.StatusBadRequest)
		return
	}

	view, err := h.svc.GetSchedule(r.Context(), loanID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, view)
}

// RecordPayment marks a scheduled payment as paid
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "invalid payment id", http.StatusBadRequest)
		return
	}

	payment, err := h.svc.RecordPayment(r.Context(), paymentID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, payment)
}

// Portfolio returns the authenticated user's aggregate positions
func (h *Handler) Portfolio(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Portfolio(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, summary)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Errorf("Failed to encode response: %v", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, amortization.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, repository.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		h.log.Errorf("Internal error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}
