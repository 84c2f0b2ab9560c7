package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pbaille/lens/internal/aggregate"
	"github.com/pbaille/lens/internal/autofetch"
	"github.com/pbaille/lens/internal/domain"
	"github.com/pbaille/lens/internal/filter"
	"github.com/pbaille/lens/internal/knowledge"
	"github.com/pbaille/lens/internal/view"
)

const (
	defaultShareLimit = 10
	maxWriteBody      = 32 << 20
)

// scoped returns the snapshot narrowed by the channels and window query parameters
func (s *Server) scoped(r *http.Request) (knowledge.Snapshot, []domain.KnowledgeRecord, error) {
	snap, err := s.knowledge.Snapshot()
	if err != nil {
		return snap, nil, err
	}
	q := r.URL.Query()
	records := filter.ByChannels(snap.Records, filter.SplitList(q.Get("channels")))
	records = filter.ByWindow(records, filter.ParseWindow(q.Get("window")), s.now())
	return snap, records, nil
}

func (s *Server) listKnowledge(w http.ResponseWriter, r *http.Request) {
	snap, err := s.knowledge.Snapshot()
	if err != nil {
		s.fail(w, err)
		return
	}
	q := r.URL.Query()
	page := view.KnowledgeList(snap.Records, view.ListQuery{
		Search:   q.Get("search"),
		Channel:  q.Get("channel"),
		Window:   filter.ParseWindow(q.Get("window")),
		SortBy:   q.Get("sort"),
		Page:     queryInt(r, "page", 1),
		PageSize: queryInt(r, "page_size", view.DefaultListPageSize),
	}, s.now())

	writeJSON(w, http.StatusOK, map[string]any{
		"records":    page.Items,
		"total":      page.Total,
		"page":       page.Page,
		"pages":      page.Pages,
		"page_size":  page.PageSize,
		"channels":   filter.Channels(snap.Records),
		"stale":      snap.Stale,
		"updated_at": snap.UpdatedAt,
	})
}

func (s *Server) getKnowledge(w http.ResponseWriter, r *http.Request) {
	rec, err := s.knowledge.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) writeKnowledge(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWriteBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	raws, err := knowledge.DecodeBatch(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.knowledge.Write(r.Context(), raws)
	if errors.Is(err, domain.ErrValidation) {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// AnalyticsResponse carries every aggregate of the scoped records
type AnalyticsResponse struct {
	aggregate.Result
	Summary       aggregate.Summary `json:"summary"`
	TopProjects   []view.Share      `json:"top_projects"`
	TopCategories []view.Share      `json:"top_categories"`
	Stale         bool              `json:"stale"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func (s *Server) analytics(w http.ResponseWriter, r *http.Request) {
	snap, records, err := s.scoped(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	res := aggregate.Compute(records, s.opts)
	writeJSON(w, http.StatusOK, AnalyticsResponse{
		Result:        res,
		Summary:       aggregate.Summarize(records, res),
		TopProjects:   view.Shares(res.ProjectDistribution, defaultShareLimit),
		TopCategories: view.Shares(res.CategoryDistribution, defaultShareLimit),
		Stale:         snap.Stale,
		UpdatedAt:     snap.UpdatedAt,
	})
}

func (s *Server) projectShares(w http.ResponseWriter, r *http.Request) {
	_, records, err := s.scoped(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	res := aggregate.Compute(records, s.opts)
	writeJSON(w, http.StatusOK, map[string]any{
		"projects": view.Shares(res.ProjectDistribution, queryInt(r, "limit", defaultShareLimit)),
	})
}

func (s *Server) categoryShares(w http.ResponseWriter, r *http.Request) {
	_, records, err := s.scoped(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	res := aggregate.Compute(records, s.opts)
	writeJSON(w, http.StatusOK, map[string]any{
		"categories": view.Shares(res.CategoryDistribution, queryInt(r, "limit", defaultShareLimit)),
	})
}

func (s *Server) projectTrend(w http.ResponseWriter, r *http.Request) {
	_, records, err := s.scoped(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	project := chi.URLParam(r, "project")
	res := aggregate.Compute(records, s.opts)
	writeJSON(w, http.StatusOK, map[string]any{
		"project": project,
		"rpoints": res.RPoints(project),
		"points":  view.Trend(res, project),
	})
}

func (s *Server) coinTable(w http.ResponseWriter, r *http.Request) {
	_, records, err := s.scoped(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	q := r.URL.Query()
	res := aggregate.Compute(records, s.opts)
	writeJSON(w, http.StatusOK, map[string]any{
		"coins": view.CoinCategoryTable(res, view.CoinQuery{
			Search: q.Get("search"),
			SortBy: q.Get("sort"),
			Order:  view.ParseOrder(q.Get("order"), view.Desc),
		}),
		"top_categories": view.TopCategories(res.CoinCategories, defaultShareLimit),
	})
}

func (s *Server) categories(w http.ResponseWriter, r *http.Request) {
	_, records, err := s.scoped(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	q := r.URL.Query()
	stats := aggregate.CategoryOverview(records, s.now(), s.opts)
	writeJSON(w, http.StatusOK, map[string]any{
		"categories": view.CategoryList(stats, view.CategoryQuery{
			Search:   q.Get("search"),
			Selected: filter.SplitList(q.Get("selected")),
			SortBy:   q.Get("sort"),
		}),
	})
}

func (s *Server) channels(w http.ResponseWriter, r *http.Request) {
	snap, err := s.knowledge.Snapshot()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": filter.Channels(snap.Records)})
}

func (s *Server) channelRollup(w http.ResponseWriter, r *http.Request) {
	_, records, err := s.scoped(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channels": filter.SplitList(r.URL.Query().Get("channels")),
		"coins":    aggregate.ChannelRollup(records, s.opts),
	})
}

func (s *Server) marketTable(w http.ResponseWriter, r *http.Request) {
	if s.market == nil {
		s.fail(w, fmt.Errorf("market data: %w", domain.ErrNotConfigured))
		return
	}
	_, records, err := s.scoped(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	q := r.URL.Query()
	res := aggregate.Compute(records, s.opts)
	table := view.MarketTable(res, s.market.Snapshot(), view.MarketQuery{
		Search:   q.Get("search"),
		Tab:      q.Get("tab"),
		Category: q.Get("category"),
		SortBy:   q.Get("sort"),
		Order:    view.ParseOrder(q.Get("order"), view.Desc),
		Page:     queryInt(r, "page", 1),
		PageSize: queryInt(r, "page_size", view.DefaultMarketPageSize),
		Columns:  filter.SplitList(q.Get("columns")),
	})
	writeJSON(w, http.StatusOK, table)
}

func (s *Server) refreshMarket(w http.ResponseWriter, r *http.Request) {
	if s.market == nil {
		s.fail(w, fmt.Errorf("market data: %w", domain.ErrNotConfigured))
		return
	}
	if err := s.market.Refresh(r.Context(), s.market.Coins()); err != nil {
		s.fail(w, err)
		return
	}
	snap := s.market.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"quotes":     len(snap.Quotes),
		"stale":      snap.Stale,
		"updated_at": snap.UpdatedAt,
	})
}

// FAQRequest is the request body for a FAQ question
type FAQRequest struct {
	Question string `json:"question"`
}

func (s *Server) faq(w http.ResponseWriter, r *http.Request) {
	var req FAQRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		s.fail(w, domain.ErrEmptyQuestion)
		return
	}
	if s.answer == nil {
		s.fail(w, fmt.Errorf("answer workflow: %w", domain.ErrNotConfigured))
		return
	}

	result, err := s.answer.Ask(r.Context(), req.Question)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) startAutofetch(w http.ResponseWriter, r *http.Request) {
	var req autofetch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	start, err := autofetch.ParseStart(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.autofetch == nil {
		s.fail(w, fmt.Errorf("autofetch webhook: %w", domain.ErrNotConfigured))
		return
	}

	sent, err := s.autofetch.Start(r.Context(), req.ChannelName, start)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sent)
}
