// Package pipeline implements read-through ingestion of profile pages: serve
// from the document cache or store when possible, otherwise fetch, extract and
// persist the page, then re-read it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-insights/internal/cache"
	"github.com/JakeFAU/page-insights/internal/clock"
	"github.com/JakeFAU/page-insights/internal/insights"
	"github.com/JakeFAU/page-insights/internal/metrics"
	"github.com/JakeFAU/page-insights/internal/telemetry"
)

// EventIngested is the event type published after a successful ingestion.
const EventIngested = "page.ingested"

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)

// Extractor turns fetched markup into an entity graph.
type Extractor interface {
	ExtractHTML(body []byte, username, pageURL string) (insights.EntityGraph, error)
}

// Archiver keeps a copy of fetched markup and returns where it went.
type Archiver interface {
	Archive(ctx context.Context, username string, body []byte) (string, error)
}

// Config controls Service behavior.
type Config struct {
	// BaseURL is joined with the username to build the page URL.
	BaseURL string
	// DocumentPosts bounds the posts embedded in a page document.
	DocumentPosts int
	// EventType labels published ingestion events; empty disables publishing.
	EventType string
}

// Dependencies are the collaborators a Service composes. Store, Fetcher and
// Extractor are required; everything else is optional.
type Dependencies struct {
	Store     insights.Store
	Cache     insights.DocumentCache
	Fetcher   insights.Fetcher
	Headless  insights.Fetcher
	Detector  insights.RenderDetector
	Limiter   insights.RateLimiter
	Extractor Extractor
	Archiver  Archiver
	Publisher insights.Publisher
	Clock     insights.Clock
}

// Option customizes a Service.
type Option func(*Service)

// WithIngestionObserver receives one outcome per GetPage call.
func WithIngestionObserver(fn func(outcome string)) Option {
	return func(s *Service) { s.onIngestion = fn }
}

// WithFetchObserver receives the mode, success and latency of every fetch.
func WithFetchObserver(fn func(mode string, ok bool, d time.Duration)) Option {
	return func(s *Service) { s.onFetch = fn }
}

// Service serves page documents, ingesting them on first request.
type Service struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer

	onIngestion func(string)
	onFetch     func(string, bool, time.Duration)
}

// New constructs a Service.
func New(deps Dependencies, cfg Config, logger *zap.Logger, opts ...Option) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case deps.Extractor == nil:
		return nil, errors.New("pipeline: extractor is required")
	}
	if deps.Cache == nil {
		deps.Cache = cache.Noop[insights.PageDocument]{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.facebook.com"
	}
	if cfg.DocumentPosts <= 0 {
		cfg.DocumentPosts = insights.DefaultPostLimit
	}
	s := &Service{
		deps:        deps,
		cfg:         cfg,
		logger:      logger,
		tracer:      telemetry.Tracer(),
		onIngestion: func(string) {},
		onFetch:     func(string, bool, time.Duration) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ValidateUsername rejects names that cannot be a profile path segment.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("username %q: %w", username, insights.ErrInvalidInput)
	}
	return nil
}

// Ready reports whether the store is connected.
func (s *Service) Ready() bool {
	return s.deps.Store.Available()
}

// PageURL builds the profile URL for username.
func (s *Service) PageURL(username string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/" + url.PathEscape(username)
}

// GetPage returns the document for username, ingesting it on a cache and store miss.
func (s *Service) GetPage(ctx context.Context, username string) (insights.PageDocument, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.GetPage", trace.WithAttributes(attribute.String("username", username)))
	defer span.End()

	doc, outcome, err := s.getPage(ctx, username)
	s.onIngestion(outcome)
	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	return doc, err
}

func (s *Service) getPage(ctx context.Context, username string) (insights.PageDocument, string, error) {
	if err := ValidateUsername(username); err != nil {
		return insights.PageDocument{}, metrics.OutcomeInvalid, err
	}
	key := insights.CacheKey(username)
	if doc, ok := s.deps.Cache.Get(key); ok {
		return doc, metrics.OutcomeCacheHit, nil
	}
	if !s.deps.Store.Available() {
		return insights.PageDocument{}, metrics.OutcomeUnhealthy, insights.ErrNotInitialized
	}

	outcome := metrics.OutcomeStoreHit
	page, err := s.deps.Store.FindPageByUsername(ctx, username)
	if errors.Is(err, insights.ErrNotFound) {
		outcome = metrics.OutcomeIngested
		page, err = s.ingest(ctx, username)
	}
	if err != nil {
		return insights.PageDocument{}, outcomeFor(err), err
	}

	doc, err := s.document(ctx, page)
	if err != nil {
		return insights.PageDocument{}, metrics.OutcomeError, err
	}
	s.deps.Cache.Set(key, doc)
	return doc, outcome, nil
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, insights.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, insights.ErrDuplicateKey):
		return metrics.OutcomeConflict
	case errors.Is(err, insights.ErrNotInitialized):
		return metrics.OutcomeUnhealthy
	default:
		return metrics.OutcomeError
	}
}

func (s *Service) document(ctx context.Context, page insights.Page) (insights.PageDocument, error) {
	posts, err := s.deps.Store.FindPostsByPage(ctx, page.ID, s.cfg.DocumentPosts)
	if err != nil {
		return insights.PageDocument{}, fmt.Errorf("load posts for %s: %w", page.Username, err)
	}
	if posts == nil {
		posts = []insights.Post{}
	}
	return insights.PageDocument{Page: page, Posts: posts}, nil
}

// ingest runs fetch, extract and persist for a username the store has not seen.
func (s *Service) ingest(ctx context.Context, username string) (insights.Page, error) {
	pageURL := s.PageURL(username)
	resp, err := s.fetch(ctx, pageURL)
	if err != nil {
		if !errors.Is(err, insights.ErrFetchFailed) {
			return insights.Page{}, err
		}
		s.logger.Warn("page fetch failed", zap.String("username", username), zap.String("url", pageURL), zap.Error(err))
		return insights.Page{}, fmt.Errorf("ingest %s: %w: %w", username, insights.ErrNotFound, err)
	}

	archiveURI := s.archive(ctx, username, resp.Body)

	_, span := s.tracer.Start(ctx, "pipeline.extract")
	graph, err := s.deps.Extractor.ExtractHTML(resp.Body, username, pageURL)
	span.End()
	if err != nil {
		return insights.Page{}, fmt.Errorf("ingest %s: %w", username, err)
	}
	graph.Page.ArchiveURI = archiveURI

	if err := s.persist(ctx, &graph); err != nil {
		return insights.Page{}, fmt.Errorf("ingest %s: %w", username, err)
	}
	s.logger.Info("page ingested",
		zap.String("username", username),
		zap.String("page_id", graph.Page.ID),
		zap.Int("posts", len(graph.Posts)),
		zap.Int("followers", len(graph.Followers)),
		zap.Bool("headless", resp.UsedHeadless),
	)
	s.publish(ctx, graph)

	page, err := s.deps.Store.FindPageByUsername(ctx, username)
	if err != nil {
		return insights.Page{}, fmt.Errorf("reload %s: %w", username, err)
	}
	return page, nil
}

// persist writes the page and then its children. When a child insert fails
// the page is deleted again, so a later request re-ingests instead of serving
// a page with a partial graph.
func (s *Service) persist(ctx context.Context, graph *insights.EntityGraph) error {
	ctx, span := s.tracer.Start(ctx, "pipeline.persist")
	defer span.End()

	pageID, err := s.deps.Store.CreatePage(ctx, graph.Page)
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	graph.Page.ID = pageID

	if err := s.persistChildren(ctx, pageID, graph); err != nil {
		span.RecordError(err)
		if delErr := s.deps.Store.DeletePage(context.WithoutCancel(ctx), pageID); delErr != nil {
			s.logger.Error("partial page left behind",
				zap.String("page_id", pageID),
				zap.String("username", graph.Page.Username),
				zap.Error(delErr),
			)
			return errors.Join(err, fmt.Errorf("delete page %s: %w", pageID, delErr))
		}
		return err
	}
	return nil
}

func (s *Service) persistChildren(ctx context.Context, pageID string, graph *insights.EntityGraph) error {
	for i := range graph.Posts {
		graph.Posts[i].PageID = pageID
	}
	postIDs, err := s.deps.Store.CreatePosts(ctx, graph.Posts)
	if err != nil {
		return fmt.Errorf("create posts: %w", err)
	}

	var comments []insights.Comment
	for i, id := range postIDs {
		graph.Posts[i].ID = id
		for _, c := range graph.Posts[i].Comments {
			c.PostID = id
			comments = append(comments, c)
		}
	}
	if _, err := s.deps.Store.CreateComments(ctx, comments); err != nil {
		return fmt.Errorf("create comments: %w", err)
	}

	for i := range graph.Followers {
		graph.Followers[i].PageID = pageID
	}
	if _, err := s.deps.Store.CreateFollowers(ctx, graph.Followers); err != nil {
		return fmt.Errorf("create followers: %w", err)
	}
	return nil
}

// fetch waits on the limiter, runs the plain fetch and, when the detector
// flags a script-only shell, retries through the headless fetcher.
func (s *Service) fetch(ctx context.Context, pageURL string) (insights.FetchResponse, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.fetch", trace.WithAttributes(attribute.String("url", pageURL)))
	defer span.End()

	if s.deps.Limiter != nil {
		if err := s.deps.Limiter.Wait(ctx, pageURL); err != nil {
			return insights.FetchResponse{}, fmt.Errorf("rate limit %s: %w", pageURL, err)
		}
	}

	start := time.Now()
	resp, err := s.deps.Fetcher.Fetch(ctx, insights.FetchRequest{URL: pageURL})
	s.onFetch("plain", err == nil, time.Since(start))
	if err != nil {
		span.RecordError(err)
		if !errors.Is(err, insights.ErrFetchFailed) {
			err = fmt.Errorf("%w: %w", insights.ErrFetchFailed, err)
		}
		return insights.FetchResponse{}, err
	}

	if s.deps.Headless == nil || s.deps.Detector == nil || !s.deps.Detector.ShouldPromote(resp) {
		return resp, nil
	}

	start = time.Now()
	rendered, err := s.deps.Headless.Fetch(ctx, insights.FetchRequest{URL: pageURL})
	s.onFetch("headless", err == nil, time.Since(start))
	if err != nil {
		s.logger.Warn("headless promotion failed", zap.String("url", pageURL), zap.Error(err))
		return resp, nil
	}
	rendered.UsedHeadless = true
	span.SetAttributes(attribute.Bool("headless", true))
	return rendered, nil
}

func (s *Service) archive(ctx context.Context, username string, body []byte) string {
	if s.deps.Archiver == nil {
		return ""
	}
	uri, err := s.deps.Archiver.Archive(ctx, username, body)
	if err != nil {
		s.logger.Warn("archive raw page failed", zap.String("username", username), zap.Error(err))
		return ""
	}
	return uri
}

func (s *Service) publish(ctx context.Context, graph insights.EntityGraph) {
	if s.deps.Publisher == nil || s.cfg.EventType == "" {
		return
	}
	event := insights.IngestedEvent{
		Username:   graph.Page.Username,
		PageID:     graph.Page.ID,
		Posts:      len(graph.Posts),
		Followers:  len(graph.Followers),
		ArchiveURI: graph.Page.ArchiveURI,
		IngestedAt: s.deps.Clock.Now(),
	}
	if _, err := s.deps.Publisher.Publish(ctx, s.cfg.EventType, event); err != nil {
		s.logger.Warn("publish ingestion event failed", zap.String("username", graph.Page.Username), zap.Error(err))
	}
}
