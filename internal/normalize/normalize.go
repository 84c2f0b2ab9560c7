// Package normalize turns knowledge records in any of their historical JSON shapes into
// canonical domain.KnowledgeRecord values. It is the single boundary every ingestion path
// goes through; nothing downstream sees the variant shapes.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pbaille/lens/internal/domain"
)

// Key variants per field, in resolution order: machine-cased, camelCase, legacy.
var (
	idKeys         = []string{"id", "ID", "external_id"}
	dateKeys       = []string{"date", "publish_date", "publishDate", "Publish", "Date"}
	channelKeys    = []string{"channel name", "channel_name", "channelName", "channel", "Channel", "category"}
	titleKeys      = []string{"video_title", "videoTitle", "title", "Title"}
	transcriptKeys = []string{"transcript", "content", "Transcript"}
	linkKeys       = []string{"link", "url", "Link"}

	coinKeys      = []string{"coin_or_project", "coinOrProject", "coin", "Coin"}
	rpointsKeys   = []string{"rpoints", "rPoints", "Rpoints"}
	countKeys     = []string{"total_count", "totalCount", "Total count"}
	categoryKeys  = []string{"category", "categories", "Category", "Categories"}
	marketcapKeys = []string{"marketcap", "marketcapBucket", "marketcap_bucket", "Marketcap"}
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	domain.DateLayout,
}

// Options tune record normalization.
type Options struct {
	// NewID assigns ids to records that arrive without one. Defaults to random UUIDs.
	NewID func() string
}

func (o Options) newID() string {
	if o.NewID != nil {
		return o.NewID()
	}
	return uuid.New().String()
}

// Record normalizes the raw record at position index of its batch.
// Mentions that cannot be resolved are dropped and reported in the returned slice;
// the error is non-nil only when the record as a whole is unusable.
func Record(index int, raw []byte, opts Options) (domain.KnowledgeRecord, []error, error) {
	var rec domain.KnowledgeRecord

	fields, err := decodeObject(raw)
	if err != nil {
		return rec, nil, &domain.MalformedRecordError{Record: index, Mention: -1, Field: "record", Reason: err.Error()}
	}

	dateVal, ok := lookup(fields, dateKeys)
	if !ok {
		return rec, nil, &domain.MalformedRecordError{Record: index, Mention: -1, Field: "date", Reason: "missing"}
	}
	date, err := parseDate(dateVal)
	if err != nil {
		return rec, nil, &domain.MalformedRecordError{Record: index, Mention: -1, Field: "date", Reason: err.Error()}
	}

	rec.Date = date
	rec.ID = stringField(fields, idKeys)
	if rec.ID == "" {
		rec.ID = opts.newID()
	}
	rec.ChannelName = stringField(fields, channelKeys)
	if rec.ChannelName == "" {
		rec.ChannelName = domain.UnknownChannel
	}
	rec.VideoTitle = stringField(fields, titleKeys)
	rec.Transcript = stringField(fields, transcriptKeys)
	if rec.Transcript == "" {
		if summary, ok := fields["Summary"].(map[string]any); ok {
			rec.Transcript = stringField(summary, []string{"answer"})
		}
	}
	rec.Link = stringField(fields, linkKeys)

	projects, err := projectList(fields)
	if err != nil {
		return rec, nil, &domain.MalformedRecordError{Record: index, Mention: -1, Field: "projects", Reason: err.Error()}
	}

	var skipped []error
	rec.ProjectMentions = make([]domain.ProjectMention, 0, len(projects))
	for i, p := range projects {
		m, err := mention(p)
		if err != nil {
			err.Record, err.Mention = index, i
			skipped = append(skipped, err)
			continue
		}
		rec.ProjectMentions = append(rec.ProjectMentions, m)
	}

	return rec, skipped, nil
}

// Batch normalizes every raw record, logging and skipping what cannot be resolved.
// It never aborts the batch; all record and mention errors are returned in input order.
func Batch(raws []json.RawMessage, opts Options, logger *slog.Logger) ([]domain.KnowledgeRecord, []error) {
	if logger == nil {
		logger = slog.Default()
	}

	records := make([]domain.KnowledgeRecord, 0, len(raws))
	var errs []error
	for i, raw := range raws {
		rec, skipped, err := Record(i, raw, opts)
		for _, s := range skipped {
			logger.Warn("skipping mention", "error", s)
		}
		errs = append(errs, skipped...)
		if err != nil {
			logger.Warn("skipping record", "error", err)
			errs = append(errs, err)
			continue
		}
		records = append(records, rec)
	}
	return records, errs
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", v)
	}
	return obj, nil
}

// projectList finds the mention list wherever the record's shape keeps it.
func projectList(fields map[string]any) ([]any, error) {
	if answer, ok := fields["llm_answer"].(map[string]any); ok {
		if v, ok := lookup(answer, []string{"projects", "Projects"}); ok {
			return asList(v), nil
		}
	}
	if v, ok := lookup(fields, []string{"projects", "project_mentions", "projectMentions"}); ok {
		return asList(v), nil
	}
	if v, ok := lookup(fields, []string{"sorted", "Sorted"}); ok {
		return sortedList(v)
	}
	return nil, nil
}

// sortedList unpacks the legacy "sorted" column: a JSON string holding either the
// projects array or an object with a projects key.
func sortedList(v any) ([]any, error) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		dec := json.NewDecoder(strings.NewReader(s))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode sorted: %w", err)
		}
		// Some rows were stringified twice.
		if inner, ok := v.(string); ok {
			return sortedList(inner)
		}
	}
	if obj, ok := v.(map[string]any); ok {
		if p, ok := lookup(obj, []string{"projects", "Projects"}); ok {
			return asList(p), nil
		}
	}
	return asList(v), nil
}

func asList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		return []any{t}
	default:
		return nil
	}
}

func mention(v any) (domain.ProjectMention, *domain.MalformedRecordError) {
	var m domain.ProjectMention

	fields, ok := v.(map[string]any)
	if !ok {
		return m, &domain.MalformedRecordError{Field: "mention", Reason: fmt.Sprintf("expected object, got %T", v)}
	}

	m.CoinOrProject = stringField(fields, coinKeys)
	if m.CoinOrProject == "" {
		return m, &domain.MalformedRecordError{Field: "coin_or_project", Reason: "missing or empty"}
	}

	if raw, ok := lookup(fields, rpointsKeys); ok {
		points, err := parseRPoints(raw)
		if err != nil {
			return m, &domain.MalformedRecordError{Field: "rpoints", Reason: err.Error()}
		}
		m.RPoints = points
	}

	m.TotalCount = 1
	if raw, ok := lookup(fields, countKeys); ok {
		if n, ok := parseCount(raw); ok {
			m.TotalCount = n
		}
	}

	m.MarketcapBucket = strings.ToLower(stringField(fields, marketcapKeys))

	m.Categories = []string{}
	if raw, ok := lookup(fields, categoryKeys); ok {
		m.Categories = categorySet(raw)
	}

	return m, nil
}

func parseRPoints(v any) (float64, error) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", t.String())
		}
		f = n
	case float64:
		f = t
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", t)
		}
		f = n
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not finite: %v", f)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative: %v", f)
	}
	return f, nil
}

func parseCount(v any) (int, bool) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case float64:
		f = t
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > math.MaxInt32 || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// categorySet collapses duplicates and blanks, keeping first-seen order.
func categorySet(v any) []string {
	var raw []string
	switch t := v.(type) {
	case string:
		raw = []string{t}
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	}

	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, c := range raw {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func parseDate(v any) (time.Time, error) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateLayouts {
			if d, err := time.Parse(layout, s); err == nil {
				return d.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised date %q", t)
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("unrecognised date %q", t.String())
		}
		// Values this large are millisecond timestamps.
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unrecognised date type %T", v)
	}
}

// lookup returns the first key present with a non-null value.
func lookup(fields map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringField(fields map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := fields[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}
