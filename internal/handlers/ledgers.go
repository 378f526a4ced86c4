package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/salonops/booker/internal/model"
	"github.com/salonops/booker/internal/storage"
)

type LedgerHandler struct {
	ledgers *storage.LedgerRepository
	catalog *storage.CatalogRepository
	logger  *slog.Logger
	now     func() time.Time
}

func NewLedgerHandler(ledgers *storage.LedgerRepository, catalog *storage.CatalogRepository, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledgers: ledgers,
		catalog: catalog,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type purchaseRequest struct {
	CustomerID   string `json:"customer_id"`
	PackageID    string `json:"package_id"`
	PackageName  string `json:"package_name"`
	TotalUnits   int    `json:"total_units"`
	ValidityDays int    `json:"validity_days"`
}

// Purchase opens a new session ledger for a customer's package buy.
func (h *LedgerHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	company := companyID(r)
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json body"})
		return
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.PackageID = strings.TrimSpace(req.PackageID)
	req.PackageName = strings.TrimSpace(req.PackageName)
	switch {
	case company == "":
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing company scope"})
		return
	case req.CustomerID == "" || req.PackageID == "":
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "customer_id and package_id required"})
		return
	case req.TotalUnits < 1:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "total_units must be at least 1"})
		return
	case req.ValidityDays < 1:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validity_days must be at least 1"})
		return
	}

	exists, err := h.catalog.CustomerExists(r.Context(), company, req.CustomerID)
	if err != nil {
		writeError(w, h.logger, "purchase ledger", err)
		return
	}
	if !exists {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "customer not found: " + req.CustomerID})
		return
	}

	now := h.now()
	led := &model.SessionLedger{
		CompanyID:    company,
		CustomerID:   req.CustomerID,
		PackageID:    req.PackageID,
		PackageName:  req.PackageName,
		PurchaseDate: now,
		ExpiryDate:   now.AddDate(0, 0, req.ValidityDays),
		TotalUnits:   req.TotalUnits,
		CreatedAt:    now,
	}
	if err := h.ledgers.Create(r.Context(), led); err != nil {
		writeError(w, h.logger, "purchase ledger", err)
		return
	}
	writeJSON(w, http.StatusCreated, led)
}

func (h *LedgerHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	company := companyID(r)
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if company == "" || id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "company scope and id required"})
		return
	}
	led, err := h.ledgers.Get(r.Context(), company, id)
	if err != nil {
		writeError(w, h.logger, "get ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, led)
}

// List returns a customer's ledgers, newest purchase first.
func (h *LedgerHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	company := companyID(r)
	customerID := strings.TrimSpace(r.URL.Query().Get("customer_id"))
	if company == "" || customerID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "company scope and customer_id required"})
		return
	}
	ledgers, err := h.ledgers.ListByCustomer(r.Context(), company, customerID)
	if err != nil {
		writeError(w, h.logger, "list ledgers", err)
		return
	}
	if ledgers == nil {
		ledgers = []model.SessionLedger{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ledgers": ledgers})
}
