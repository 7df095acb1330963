package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"loanbook/pkg/amortize"
	"loanbook/pkg/cache"
	"loanbook/pkg/collections"
	"loanbook/pkg/config"
	"loanbook/pkg/ledger"
	"loanbook/pkg/models"
	"loanbook/pkg/store"
)

const dateLayout = "2006-01-02"

// Server wires the ledger and the collections manager to the HTTP routes.
type Server struct {
	ledger      *ledger.Ledger
	collections *collections.Manager
	storage     store.Storage // Keep a reference to the storage to close it
	validate    *validator.Validate
	log         *logrus.Logger
}

func NewServer(s store.Storage, c cache.Repository, l *logrus.Logger) *Server {
	return &Server{
		ledger:      ledger.NewLedger(s, c),
		collections: collections.NewManager(s, l),
		storage:     s,
		validate:    validator.New(),
		log:         l,
	}
}

func newRouter(s *Server) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.approveLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/schedule", s.scheduleHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/payments", s.recordPaymentHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/transactions", s.transactionsHandler).Methods("GET")

	router.HandleFunc("/quotes", s.quoteHandler).Methods("POST")

	router.HandleFunc("/collections/sync", s.syncHandler).Methods("POST")
	router.HandleFunc("/collections/cases", s.listCasesHandler).Methods("GET")
	router.HandleFunc("/collections/cases/{id}/agent", s.assignAgentHandler).Methods("POST")
	router.HandleFunc("/collections/cases/{id}/status", s.caseStatusHandler).Methods("POST")

	return router
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrLoanNotFound),
		errors.Is(err, store.ErrCaseNotFound),
		errors.Is(err, store.ErrEntryNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, amortize.ErrInvalidTerms):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.log.WithError(err).Error("request failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// decodeAndValidate decodes the JSON body into req and runs struct validation.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func orgIDFromQuery(r *http.Request) (uuid.UUID, error) {
	raw := r.URL.Query().Get("organization_id")
	if raw == "" {
		return uuid.Nil, fmt.Errorf("organization_id query parameter is required")
	}
	return uuid.Parse(raw)
}

type approveLoanRequest struct {
	OrganizationID    string          `json:"organization_id" validate:"required,uuid"`
	CustomerKey       string          `json:"customer_key" validate:"required"`
	Principal         int64           `json:"principal" validate:"required,gt=0"`
	AnnualRatePercent decimal.Decimal `json:"annual_rate_percent"`
	TermMonths        int             `json:"term_months" validate:"required,min=1"`
	StartDate         string          `json:"start_date" validate:"required,datetime=2006-01-02"`
}

func (s *Server) approveLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req approveLoanRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	orgID, err := uuid.Parse(req.OrganizationID)
	if err != nil {
		http.Error(w, "Invalid organization ID", http.StatusBadRequest)
		return
	}
	startDate, _ := time.Parse(dateLayout, req.StartDate)

	loan, err := s.ledger.ApproveLoan(orgID, req.CustomerKey, req.Principal, req.AnnualRatePercent, req.TermMonths, startDate)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	loan, err := s.ledger.GetLoan(loanID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loans, err := s.ledger.LoansByOrganization(orgID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loans)
}

func (s *Server) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	if _, err := s.ledger.GetLoan(loanID); err != nil {
		s.respondError(w, err)
		return
	}

	lines, err := s.ledger.OutstandingSchedule(loanID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lines)
}

type paymentRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	var req paymentRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	tx, err := s.ledger.RecordPayment(loanID, req.Amount)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) transactionsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return
	}

	txs, err := s.ledger.Transactions(loanID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txs)
}

type quoteRequest struct {
	Principal         int64           `json:"principal" validate:"required,gt=0"`
	AnnualRatePercent decimal.Decimal `json:"annual_rate_percent"`
	TermMonths        int             `json:"term_months" validate:"required,min=1"`
	StartDate         string          `json:"start_date" validate:"required,datetime=2006-01-02"`
}

func (s *Server) quoteHandler(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	startDate, _ := time.Parse(dateLayout, req.StartDate)

	quote, err := s.ledger.QuoteLoan(req.Principal, req.AnnualRatePercent, req.TermMonths, startDate)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}

func (s *Server) syncHandler(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	report, err := s.collections.SyncOverdueCases(orgID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) listCasesHandler(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cases, err := s.collections.CasesForOrganization(orgID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cases)
}

type assignAgentRequest struct {
	AgentID string `json:"agent_id" validate:"required,uuid"`
}

func (s *Server) assignAgentHandler(w http.ResponseWriter, r *http.Request) {
	caseID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid case ID", http.StatusBadRequest)
		return
	}

	var req assignAgentRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	agentID, _ := uuid.Parse(req.AgentID)

	if err := s.collections.AssignAgent(caseID, agentID); err != nil {
		s.respondError(w, err)
		return
	}

	updated, err := s.collections.GetCase(caseID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

type caseStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending active recovered escalated"`
}

func (s *Server) caseStatusHandler(w http.ResponseWriter, r *http.Request) {
	caseID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid case ID", http.StatusBadRequest)
		return
	}

	var req caseStatusRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	if err := s.collections.UpdateCaseStatus(caseID, models.CaseStatus(req.Status)); err != nil {
		s.respondError(w, err)
		return
	}

	updated, err := s.collections.GetCase(caseID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

// runSyncLoop triggers the overdue scan for every organization on a fixed
// interval. Failures are logged and the loop keeps going; each scan converges
// independently.
func runSyncLoop(s *Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		orgs, err := s.storage.ListOrganizations()
		if err != nil {
			s.log.WithError(err).Error("sync loop: failed to list organizations")
			continue
		}
		for _, orgID := range orgs {
			if _, err := s.collections.SyncOverdueCases(orgID); err != nil {
				s.log.WithError(err).WithField("organization_id", orgID).Error("sync loop: scan failed")
			}
		}
	}
}

func main() {
	cfg := config.Load()
	log := logrus.New()

	sqliteStore, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize SQLite store: %v", err)
	}
	defer sqliteStore.Close()

	var quoteCache cache.Repository
	if cfg.RedisAddr != "" {
		quoteCache = cache.NewRedis(cfg.RedisAddr)
	} else {
		quoteCache = cache.NewMemory()
	}

	server := NewServer(sqliteStore, quoteCache, log)
	router := newRouter(server)

	go runSyncLoop(server, cfg.SyncInterval)

	log.WithField("addr", cfg.ListenAddr).Info("Server starting")
	log.Fatal(http.ListenAndServe(cfg.ListenAddr, router))
}
