package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/conorfennell/kotoba/internal/domain"
	"github.com/conorfennell/kotoba/internal/fingerprint"
	"github.com/conorfennell/kotoba/internal/importer"
	"github.com/conorfennell/kotoba/internal/parser"
	"github.com/conorfennell/kotoba/internal/quiz"
	"github.com/conorfennell/kotoba/internal/review"
	"github.com/conorfennell/kotoba/internal/schedule"
	"github.com/conorfennell/kotoba/internal/storage"
	"github.com/conorfennell/kotoba/internal/sweep"
)

// Options carries the handful of engine defaults the API applies when a
// request leaves them out.
type Options struct {
	QuizSize int
	QuizBias float64
	ReposDir string
}

// Server holds the dependencies for the HTTP API.
type Server struct {
	db      *storage.DB
	manager *review.Manager
	sweeper *sweep.Sweeper
	policy  *schedule.Policy
	opts    Options
	router  *http.ServeMux
	now     func() time.Time

	randMu sync.Mutex
	rng    *rand.Rand
}

// NewServer creates and configures a new server.
func NewServer(db *storage.DB, manager *review.Manager, sweeper *sweep.Sweeper, policy *schedule.Policy, opts Options) *Server {
	s := &Server{
		db:      db,
		manager: manager,
		sweeper: sweeper,
		policy:  policy,
		opts:    opts,
		router:  http.NewServeMux(),
		now:     time.Now,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("/items", s.handleItems())
	s.router.HandleFunc("/due", s.handleGetDue())
	s.router.HandleFunc("/progress", s.handleGetProgress())
	s.router.HandleFunc("/quiz", s.handleGetQuizPool())

	s.router.HandleFunc("/review/start", s.handleStartReview())
	s.router.HandleFunc("/review/resume", s.handleResumeReview())
	s.router.HandleFunc("/review", s.handleGetReview())
	s.router.HandleFunc("/review/reveal", s.handleReveal())
	s.router.HandleFunc("/review/mark", s.handleMark())
	s.router.HandleFunc("/review/stop", s.handleStopReview())

	s.router.HandleFunc("/snooze", s.handleSnooze())
	s.router.HandleFunc("/sync", s.handlePostSync())
}

type itemJSON struct {
	ID         int64  `json:"id"`
	Term       string `json:"term"`
	Definition string `json:"definition"`
	Mastered   bool   `json:"mastered"`
	CreatedAt  string `json:"created_at"`
}

func toItemJSON(items []domain.Item) []itemJSON {
	out := make([]itemJSON, len(items))
	for i, item := range items {
		out[i] = itemJSON{
			ID:         item.ID,
			Term:       item.Term,
			Definition: item.Definition,
			Mastered:   item.Mastered,
			CreatedAt:  item.CreatedAt.Format(time.RFC3339),
		}
	}
	return out
}

type summaryJSON struct {
	Correct   int `json:"correct"`
	Incorrect int `json:"incorrect"`
	Total     int `json:"total"`
}

func toSummaryJSON(s domain.Summary) summaryJSON {
	return summaryJSON{Correct: s.Correct, Incorrect: s.Incorrect, Total: s.Total}
}

// handleItems registers parsed pairs on POST and lists an owner's items on
// GET. Registration accepts the same loose "term: definition" lines the
// chat surface forwards.
func (s *Server) handleItems() http.HandlerFunc {
	type registerRequest struct {
		Owner string `json:"owner"`
		Text  string `json:"text"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			owner := r.URL.Query().Get("owner")
			if owner == "" {
				http.Error(w, "owner is required", http.StatusBadRequest)
				return
			}
			items, err := s.db.GetItems(r.Context(), owner)
			if err != nil {
				s.serverError(w, err)
				return
			}
			s.writeJSON(w, map[string]any{"items": toItemJSON(items)})

		case http.MethodPost:
			var req registerRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Owner == "" {
				http.Error(w, "owner and text are required", http.StatusBadRequest)
				return
			}
			pairs, err := parser.Parse(strings.NewReader(req.Text))
			if err != nil {
				http.Error(w, "could not parse pairs", http.StatusBadRequest)
				return
			}
			inserted := 0
			skipped := 0
			for _, pair := range pairs {
				fp := fingerprint.Hash(pair.Term, pair.Definition)
				existing, err := s.db.FindItemByFingerprint(r.Context(), req.Owner, fp)
				if err != nil {
					s.serverError(w, err)
					return
				}
				if existing != nil {
					skipped++
					continue
				}
				item := domain.Item{
					OwnerID:    req.Owner,
					Term:       pair.Term,
					Definition: pair.Definition,
					CreatedAt:  s.now(),
				}
				if _, err := s.db.InsertItem(r.Context(), item, fp); err != nil {
					s.serverError(w, err)
					return
				}
				inserted++
			}
			s.writeJSON(w, map[string]any{"inserted": inserted, "skipped": skipped})

		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// handleGetDue lists the owner's items due for review right now.
func (s *Server) handleGetDue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.URL.Query().Get("owner")
		if owner == "" {
			http.Error(w, "owner is required", http.StatusBadRequest)
			return
		}
		items, err := s.db.GetItems(r.Context(), owner)
		if err != nil {
			s.serverError(w, err)
			return
		}
		due := s.policy.DueItems(items, s.now())
		s.writeJSON(w, map[string]any{"due": toItemJSON(due)})
	}
}

// handleGetProgress reports the owner's standing across the interval
// schedule.
func (s *Server) handleGetProgress() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.URL.Query().Get("owner")
		if owner == "" {
			http.Error(w, "owner is required", http.StatusBadRequest)
			return
		}
		items, err := s.db.GetItems(r.Context(), owner)
		if err != nil {
			s.serverError(w, err)
			return
		}
		prog := s.policy.ComputeProgress(items, s.now())
		s.writeJSON(w, map[string]any{
			"total":        prog.Total,
			"due_today":    prog.DueToday,
			"stage_counts": prog.StageCounts,
		})
	}
}

// handleGetQuizPool samples a difficulty-weighted quiz pool for the owner.
func (s *Server) handleGetQuizPool() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.URL.Query().Get("owner")
		if owner == "" {
			http.Error(w, "owner is required", http.StatusBadRequest)
			return
		}
		count := s.opts.QuizSize
		if v := r.URL.Query().Get("count"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				http.Error(w, "invalid count", http.StatusBadRequest)
				return
			}
			count = n
		}
		bias := s.opts.QuizBias
		if v := r.URL.Query().Get("bias"); v != "" {
			b, err := strconv.ParseFloat(v, 64)
			if err != nil {
				http.Error(w, "invalid bias", http.StatusBadRequest)
				return
			}
			bias = b
		}

		items, err := s.db.GetItems(r.Context(), owner)
		if err != nil {
			s.serverError(w, err)
			return
		}
		ids := make([]int64, len(items))
		for i, item := range items {
			ids[i] = item.ID
		}
		statsByID, err := s.db.GetStats(r.Context(), ids)
		if err != nil {
			s.serverError(w, err)
			return
		}

		s.randMu.Lock()
		pool := quiz.SelectPool(items, statsByID, count, bias, s.rng)
		s.randMu.Unlock()
		s.writeJSON(w, map[string]any{"pool": toItemJSON(pool)})
	}
}

// handleStartReview builds a queue from today's due items (or the uniform
// fallback when nothing is due) and opens a session over it.
func (s *Server) handleStartReview() http.HandlerFunc {
	type startRequest struct {
		Owner string `json:"owner"`
		Count int    `json:"count"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req startRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Owner == "" {
			http.Error(w, "owner is required", http.StatusBadRequest)
			return
		}
		if req.Count <= 0 {
			req.Count = s.opts.QuizSize
		}

		items, err := s.db.GetItems(r.Context(), req.Owner)
		if err != nil {
			s.serverError(w, err)
			return
		}
		s.randMu.Lock()
		queue, fallback := quiz.DueOrFallback(s.policy, items, s.now(), req.Count, s.rng)
		s.randMu.Unlock()

		session, err := s.manager.Start(req.Owner, queue)
		if err != nil {
			s.reviewError(w, err)
			return
		}
		prompt, err := session.CurrentPrompt(req.Owner)
		if err != nil {
			s.reviewError(w, err)
			return
		}
		s.writeJSON(w, map[string]any{
			"prompt":   prompt,
			"queued":   len(queue),
			"fallback": fallback,
		})
	}
}

// handleResumeReview redeems a frozen batch token from a reminder
// notification into a live session.
func (s *Server) handleResumeReview() http.HandlerFunc {
	type resumeRequest struct {
		Token string `json:"token"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req resumeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
			http.Error(w, "token is required", http.StatusBadRequest)
			return
		}
		session, err := s.manager.Resume(req.Token)
		if err != nil {
			s.reviewError(w, err)
			return
		}
		prompt, err := session.CurrentPrompt(session.OwnerID())
		if err != nil {
			s.reviewError(w, err)
			return
		}
		s.writeJSON(w, map[string]any{"owner": session.OwnerID(), "prompt": prompt})
	}
}

// handleGetReview returns the current prompt of the owner's live session.
func (s *Server) handleGetReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.URL.Query().Get("owner")
		if owner == "" {
			http.Error(w, "owner is required", http.StatusBadRequest)
			return
		}
		session, err := s.manager.Get(owner)
		if err != nil {
			s.reviewError(w, err)
			return
		}
		prompt, err := session.CurrentPrompt(owner)
		if err != nil {
			s.reviewError(w, err)
			return
		}
		s.writeJSON(w, map[string]any{"prompt": prompt})
	}
}

type sessionRequest struct {
	Owner string `json:"owner"`
}

func (s *Server) sessionFromBody(w http.ResponseWriter, r *http.Request) (*review.Session, string, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, "", false
	}
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Owner == "" {
		http.Error(w, "owner is required", http.StatusBadRequest)
		return nil, "", false
	}
	session, err := s.manager.Get(req.Owner)
	if err != nil {
		s.reviewError(w, err)
		return nil, "", false
	}
	return session, req.Owner, true
}

// handleReveal uncovers the definition of the current item.
func (s *Server) handleReveal() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, owner, ok := s.sessionFromBody(w, r)
		if !ok {
			return
		}
		if err := session.Reveal(owner); err != nil {
			s.reviewError(w, err)
			return
		}
		prompt, err := session.CurrentPrompt(owner)
		if err != nil {
			s.reviewError(w, err)
			return
		}
		s.writeJSON(w, map[string]any{"prompt": prompt})
	}
}

// handleMark records the verdict on the revealed item and advances. The
// response carries the next prompt, or the final summary when the queue is
// exhausted.
func (s *Server) handleMark() http.HandlerFunc {
	type markRequest struct {
		Owner   string `json:"owner"`
		Correct *bool  `json:"correct"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req markRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Owner == "" || req.Correct == nil {
			http.Error(w, "owner and correct are required", http.StatusBadRequest)
			return
		}
		session, err := s.manager.Get(req.Owner)
		if err != nil {
			s.reviewError(w, err)
			return
		}
		summary, err := session.Mark(r.Context(), req.Owner, *req.Correct)
		if err != nil {
			s.reviewError(w, err)
			return
		}
		if summary != nil {
			s.writeJSON(w, map[string]any{"done": true, "summary": toSummaryJSON(*summary)})
			return
		}
		prompt, err := session.CurrentPrompt(req.Owner)
		if err != nil {
			s.reviewError(w, err)
			return
		}
		s.writeJSON(w, map[string]any{"done": false, "prompt": prompt})
	}
}

// handleStopReview ends the session early with a partial summary.
func (s *Server) handleStopReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, owner, ok := s.sessionFromBody(w, r)
		if !ok {
			return
		}
		summary, err := session.Stop(owner)
		if err != nil {
			s.reviewError(w, err)
			return
		}
		s.writeJSON(w, map[string]any{"done": true, "summary": toSummaryJSON(summary)})
	}
}

// handleSnooze re-delivers a reminder's frozen batch after the configured
// delay.
func (s *Server) handleSnooze() http.HandlerFunc {
	type snoozeRequest struct {
		Token string `json:"token"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req snoozeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
			http.Error(w, "token is required", http.StatusBadRequest)
			return
		}
		// The request context dies when the handler returns; the snooze delay
		// must outlive it.
		if err := s.sweeper.Snooze(context.Background(), req.Token); err != nil {
			s.reviewError(w, err)
			return
		}
		s.writeJSON(w, map[string]any{"snoozed": true})
	}
}

// handlePostSync triggers a vocabulary import in the foreground.
func (s *Server) handlePostSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := importer.Run(r.Context(), s.db, s.opts.ReposDir); err != nil {
			s.serverError(w, err)
			return
		}
		s.writeJSON(w, map[string]any{"synced": true})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// reviewError maps the review error taxonomy onto status codes.
func (s *Server) reviewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, review.ErrForbidden):
		http.Error(w, "not your session", http.StatusForbidden)
	case errors.Is(err, review.ErrInvalidState):
		http.Error(w, "action not valid now", http.StatusConflict)
	case errors.Is(err, review.ErrSessionActive):
		http.Error(w, "a session is already active", http.StatusConflict)
	case errors.Is(err, review.ErrNotFound), errors.Is(err, review.ErrEmptyQueue), errors.Is(err, storage.ErrNotFound):
		http.Error(w, "nothing to review", http.StatusNotFound)
	default:
		s.serverError(w, err)
	}
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	slog.Error("Request failed", "error", err)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}
