package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/patrickmn/go-cache"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/user/streamtrack/internal/config"
	"github.com/user/streamtrack/internal/logging"
	"github.com/user/streamtrack/internal/metrics"
	"github.com/user/streamtrack/internal/utils"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ErrCatalogUnavailable 熔断打开或上游不可达
var ErrCatalogUnavailable = errors.New("catalog upstream unavailable")

const breakerName = "tmdb-api"

// 上游失败时的兜底响应
var (
	fallbackReviews     = []byte(`{"results":[],"total_results":0}`)
	fallbackCredits     = []byte(`{"cast":[],"crew":[]}`)
	fallbackResults     = []byte(`{"results":[]}`)
	fallbackEmpty       = []byte(`{}`)
	fallbackRegionEmpty = []byte(`{"results":{}}`)
)

// DiscoverParams 发现接口参数，genres/providers 为 TMDB 的 "|" 分隔串
type DiscoverParams struct {
	WithGenres         string
	WithWatchProviders string
	WatchRegion        string
	Page               int
	SortBy             string
}

// TMDBService TMDB 代理：鉴权、限流、熔断、合并并发请求与缓存
type TMDBService struct {
	cfg     config.TMDBConfig
	http    *utils.HTTPClient
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[[]byte]
	group   singleflight.Group
	static  *cache.Cache
	results *utils.LRUCache[[]byte]
}

// NewTMDBService 创建 TMDB 代理服务，client 为 nil 时按配置超时创建
func NewTMDBService(cfg config.TMDBConfig, client *utils.HTTPClient) *TMDBService {
	if client == nil {
		client = utils.NewHTTPClient(cfg.Timeout)
	}
	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = max(1, int(cfg.RateLimit))
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= 0.6
		},
		// 4xx 是调用方问题，不计入失败
		IsSuccessful: func(err error) bool {
			var ue *utils.UpstreamError
			if errors.As(err, &ue) {
				return ue.StatusCode < http.StatusInternalServerError
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("from", from.String()).Str("to", to.String()).Msg("[TMDB] 熔断状态变化")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &TMDBService{
		cfg:     cfg,
		http:    client,
		limiter: rate.NewLimiter(limit, burst),
		cb:      cb,
		static:  utils.NewStaticCache(ttl),
		results: utils.NewLRUCache[[]byte](512, ttl),
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Search 多类型搜索
func (s *TMDBService) Search(ctx context.Context, query string) ([]byte, error) {
	params := s.params()
	params.Set("query", query)
	return s.cachedResult(ctx, "search", "/search/multi", params)
}

// Genres 类型列表
func (s *TMDBService) Genres(ctx context.Context, mediaType string) ([]byte, error) {
	return s.cachedStatic(ctx, "genres", "/genre/"+mediaType+"/list", s.params())
}

// Providers 某地区可用的流媒体平台
func (s *TMDBService) Providers(ctx context.Context, mediaType, region string) ([]byte, error) {
	params := s.params()
	params.Set("watch_region", s.region(region))
	return s.cachedStatic(ctx, "providers", "/watch/providers/"+mediaType, params)
}

// Discover 按类型与平台筛选
func (s *TMDBService) Discover(ctx context.Context, mediaType string, p DiscoverParams) ([]byte, error) {
	params := s.params()
	params.Set("watch_region", s.region(p.WatchRegion))
	params.Set("page", strconv.Itoa(max(1, p.Page)))
	sortBy := p.SortBy
	if sortBy == "" {
		sortBy = "popularity.desc"
	}
	params.Set("sort_by", sortBy)
	params.Set("include_adult", "false")
	if p.WithGenres != "" {
		params.Set("with_genres", p.WithGenres)
	}
	if p.WithWatchProviders != "" {
		params.Set("with_watch_providers", p.WithWatchProviders)
	}
	return s.cachedResult(ctx, "discover", "/discover/"+mediaType, params)
}

// Details 影片或剧集详情
func (s *TMDBService) Details(ctx context.Context, mediaType, id, language string) ([]byte, error) {
	params := s.params()
	if language != "" {
		params.Set("language", language)
	}
	return s.cachedResult(ctx, "details", "/"+mediaType+"/"+url.PathEscape(id), params)
}

// Reviews 评论，默认英文
func (s *TMDBService) Reviews(ctx context.Context, mediaType, id, language string, page int) []byte {
	params := url.Values{}
	if language == "" {
		language = "en-US"
	}
	params.Set("language", language)
	params.Set("page", strconv.Itoa(max(1, page)))
	return s.orFallback(ctx, "reviews", s.itemPath(mediaType, id, "reviews"), params, fallbackReviews)
}

// Credits 演职员
func (s *TMDBService) Credits(ctx context.Context, mediaType, id string) []byte {
	return s.orFallback(ctx, "credits", s.itemPath(mediaType, id, "credits"), s.params(), fallbackCredits)
}

// Similar 相似作品
func (s *TMDBService) Similar(ctx context.Context, mediaType, id string, page int) []byte {
	params := s.params()
	params.Set("page", strconv.Itoa(max(1, page)))
	return s.orFallback(ctx, "similar", s.itemPath(mediaType, id, "similar"), params, fallbackResults)
}

// Videos 预告片等视频
func (s *TMDBService) Videos(ctx context.Context, mediaType, id string) []byte {
	return s.orFallback(ctx, "videos", s.itemPath(mediaType, id, "videos"), s.params(), fallbackResults)
}

// ExternalIDs IMDb 等外部 ID
func (s *TMDBService) ExternalIDs(ctx context.Context, mediaType, id string) []byte {
	return s.orFallback(ctx, "external_ids", s.itemPath(mediaType, id, "external_ids"), url.Values{}, fallbackEmpty)
}

// WatchProviders 单个作品在指定地区的观看渠道，没有则返回 {}
func (s *TMDBService) WatchProviders(ctx context.Context, mediaType, id, region string) []byte {
	body, err := s.get(ctx, "watch_providers", s.itemPath(mediaType, id, "watch/providers"), url.Values{})
	if err != nil {
		logging.Warn().Err(err).Str("id", id).Msg("[TMDB] 获取观看渠道失败")
		return fallbackRegionEmpty
	}
	var resp struct {
		Results map[string]json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fallbackRegionEmpty
	}
	rp, ok := resp.Results[s.region(region)]
	if !ok || len(rp) == 0 || string(rp) == "null" {
		return fallbackEmpty
	}
	return []byte(rp)
}

// UpstreamCode 上游错误对应的响应码；非上游错误返回 502/503
func UpstreamCode(err error) int {
	var ue *utils.UpstreamError
	if errors.As(err, &ue) {
		return ue.StatusCode
	}
	if errors.Is(err, ErrCatalogUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

// UpstreamMessage 优先取上游 status_message
func UpstreamMessage(err error, fallback string) string {
	var ue *utils.UpstreamError
	if !errors.As(err, &ue) || len(ue.Body) == 0 {
		return fallback
	}
	var body struct {
		StatusMessage string `json:"status_message"`
	}
	if json.Unmarshal(ue.Body, &body) != nil || body.StatusMessage == "" {
		return fallback
	}
	return body.StatusMessage
}

func (s *TMDBService) params() url.Values {
	params := url.Values{}
	params.Set("language", s.cfg.Language)
	return params
}

func (s *TMDBService) region(region string) string {
	if region == "" {
		region = s.cfg.Region
	}
	return strings.ToUpper(region)
}

func (s *TMDBService) itemPath(mediaType, id, sub string) string {
	return fmt.Sprintf("/%s/%s/%s", mediaType, url.PathEscape(id), sub)
}

func (s *TMDBService) orFallback(ctx context.Context, endpoint, path string, params url.Values, fallback []byte) []byte {
	body, err := s.get(ctx, endpoint, path, params)
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("[TMDB] 请求失败，返回空结果")
		return fallback
	}
	return body
}

func (s *TMDBService) cachedStatic(ctx context.Context, endpoint, path string, params url.Values) ([]byte, error) {
	key := path + "?" + params.Encode()
	if v, ok := s.static.Get(key); ok {
		metrics.CacheLookups.WithLabelValues("static", "hit").Inc()
		return v.([]byte), nil
	}
	metrics.CacheLookups.WithLabelValues("static", "miss").Inc()

	body, err := s.get(ctx, endpoint, path, params)
	if err != nil {
		return nil, err
	}
	s.static.SetDefault(key, body)
	return body, nil
}

func (s *TMDBService) cachedResult(ctx context.Context, endpoint, path string, params url.Values) ([]byte, error) {
	key := path + "?" + params.Encode()
	if v, ok := s.results.Get(key); ok {
		metrics.CacheLookups.WithLabelValues(endpoint, "hit").Inc()
		return v, nil
	}
	metrics.CacheLookups.WithLabelValues(endpoint, "miss").Inc()

	body, err := s.get(ctx, endpoint, path, params)
	if err != nil {
		return nil, err
	}
	s.results.Set(key, body)
	return body, nil
}

func (s *TMDBService) sharedTimeout() time.Duration {
	if s.cfg.Timeout > 0 {
		return s.cfg.Timeout
	}
	return 10 * time.Second
}

// get 发起上游请求，相同请求并发时只请求一次
func (s *TMDBService) get(ctx context.Context, endpoint, path string, params url.Values) ([]byte, error) {
	key := path + "?" + params.Encode()

	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	} else {
		params.Set("api_key", s.cfg.APIKey)
	}
	target := strings.TrimRight(s.cfg.BaseURL, "/") + path + "?" + params.Encode()

	// 共享请求不随首个调用方取消，单独计超时
	ch := s.group.DoChan(key, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sharedTimeout())
		defer cancel()
		if err := s.limiter.Wait(shared); err != nil {
			return nil, err
		}
		return s.cb.Execute(func() ([]byte, error) {
			return s.http.GetRaw(shared, target, header)
		})
	})

	var (
		v   interface{}
		err error
	)
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case res := <-ch:
		v, err = res.Val, res.Err
	}
	metrics.UpstreamRequests.WithLabelValues(endpoint, metrics.Outcome(err)).Inc()
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
		return nil, err
	}
	return v.([]byte), nil
}
