package client

import (
	"cmp"
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/user/streamtrack/internal/model"
)

const (
	DefaultRegion = "PL"
	DefaultSortBy = "popularity.desc"
)

// Catalog TMDB 代理客户端，不缓存不重试
type Catalog struct {
	c *Client
}

// NewCatalog 创建代理客户端
func NewCatalog(c *Client) *Catalog {
	return &Catalog{c: c}
}

// DiscoverParams 发现筛选条件
type DiscoverParams struct {
	GenreIDs    []int
	ProviderIDs []int
	Region      string
	Page        int
	SortBy      string
}

// Query 转成代理的查询参数
func (p DiscoverParams) Query() url.Values {
	q := url.Values{}
	if len(p.GenreIDs) > 0 {
		q.Set("with_genres", joinIDs(p.GenreIDs))
	}
	if len(p.ProviderIDs) > 0 {
		q.Set("with_watch_providers", joinIDs(p.ProviderIDs))
	}
	q.Set("watch_region", region(p.Region))
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	sortBy := p.SortBy
	if sortBy == "" {
		sortBy = DefaultSortBy
	}
	q.Set("sort_by", sortBy)
	return q
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, "|")
}

func region(r string) string {
	r = strings.ToUpper(strings.TrimSpace(r))
	if r == "" {
		return DefaultRegion
	}
	return r
}

func checkType(mediaType string) error {
	if !model.ValidMediaType(mediaType) {
		return fmt.Errorf("%w: media type must be %q or %q", ErrValidation, model.MediaTypeMovie, model.MediaTypeTV)
	}
	return nil
}

func (k *Catalog) get(ctx context.Context, path string, query url.Values, out any) error {
	return k.c.CallJSON(ctx, path, &RequestOptions{Query: query}, out)
}

func (k *Catalog) item(ctx context.Context, mediaType string, id int, sub string, query url.Values, out any) error {
	if err := checkType(mediaType); err != nil {
		return err
	}
	path := "/" + mediaType + "/" + strconv.Itoa(id)
	if sub != "" {
		path += "/" + sub
	}
	return k.get(ctx, path, query, out)
}

// Search 多类型搜索
func (k *Catalog) Search(ctx context.Context, query string) (*model.PagedResults, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query is empty", ErrValidation)
	}
	var out model.PagedResults
	if err := k.get(ctx, "/search", url.Values{"query": {query}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Genres 类型列表
func (k *Catalog) Genres(ctx context.Context, mediaType string) (*model.GenreList, error) {
	if err := checkType(mediaType); err != nil {
		return nil, err
	}
	var out model.GenreList
	if err := k.get(ctx, "/genres/"+mediaType, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Providers 某地区的平台，按展示优先级再按名称排序
func (k *Catalog) Providers(ctx context.Context, mediaType, watchRegion string) (*model.ProviderList, error) {
	if err := checkType(mediaType); err != nil {
		return nil, err
	}
	var out model.ProviderList
	if err := k.get(ctx, "/providers/"+mediaType, url.Values{"watch_region": {region(watchRegion)}}, &out); err != nil {
		return nil, err
	}
	SortProviders(out.Results)
	return &out, nil
}

// SortProviders 按 display_priority 升序，相同时按名称
func SortProviders(ps []model.Provider) {
	slices.SortStableFunc(ps, func(a, b model.Provider) int {
		if c := cmp.Compare(a.DisplayPriority, b.DisplayPriority); c != 0 {
			return c
		}
		return strings.Compare(a.ProviderName, b.ProviderName)
	})
}

// Discover 按类型与平台发现
func (k *Catalog) Discover(ctx context.Context, mediaType string, p DiscoverParams) (*model.PagedResults, error) {
	if err := checkType(mediaType); err != nil {
		return nil, err
	}
	var out model.PagedResults
	if err := k.get(ctx, "/discover/"+mediaType, p.Query(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Details 详情
func (k *Catalog) Details(ctx context.Context, mediaType string, id int) (*model.MediaDetails, error) {
	var out model.MediaDetails
	if err := k.item(ctx, mediaType, id, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reviews 评论，language 为空时由代理决定
func (k *Catalog) Reviews(ctx context.Context, mediaType string, id int, language string) (*model.ReviewList, error) {
	var q url.Values
	if language != "" {
		q = url.Values{"language": {language}}
	}
	var out model.ReviewList
	if err := k.item(ctx, mediaType, id, "reviews", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Credits 演职员
func (k *Catalog) Credits(ctx context.Context, mediaType string, id int) (*model.Credits, error) {
	var out model.Credits
	if err := k.item(ctx, mediaType, id, "credits", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Similar 相似作品
func (k *Catalog) Similar(ctx context.Context, mediaType string, id int) (*model.PagedResults, error) {
	var out model.PagedResults
	if err := k.item(ctx, mediaType, id, "similar", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Videos 视频
func (k *Catalog) Videos(ctx context.Context, mediaType string, id int) (*model.VideoList, error) {
	var out model.VideoList
	if err := k.item(ctx, mediaType, id, "videos", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExternalIDs 外部站点 ID
func (k *Catalog) ExternalIDs(ctx context.Context, mediaType string, id int) (*model.ExternalIDs, error) {
	var out model.ExternalIDs
	if err := k.item(ctx, mediaType, id, "external_ids", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WatchProviders 某地区的观看渠道，该地区没有时返回 nil
func (k *Catalog) WatchProviders(ctx context.Context, mediaType string, id int, watchRegion string) (*model.RegionProviders, error) {
	var out model.RegionProviders
	q := url.Values{"watch_region": {region(watchRegion)}}
	if err := k.item(ctx, mediaType, id, "watch/providers", q, &out); err != nil {
		return nil, err
	}
	if out.Link == "" && len(out.Flatrate) == 0 && len(out.Rent) == 0 && len(out.Buy) == 0 {
		return nil, nil
	}
	return &out, nil
}
