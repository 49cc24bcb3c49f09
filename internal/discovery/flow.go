// Package discovery 按平台、类别与类型筛选并逐张浏览推荐
package discovery

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/user/streamtrack/internal/client"
	"github.com/user/streamtrack/internal/model"
	"golang.org/x/sync/errgroup"
)

var (
	ErrWrongStep         = errors.New("action not available in this step")
	ErrNoPlatforms       = fmt.Errorf("%w: select at least one platform", client.ErrValidation)
	ErrNoGenres          = fmt.Errorf("%w: select at least one genre", client.ErrValidation)
	ErrInvalidCategory   = fmt.Errorf("%w: category must be movie or tv", client.ErrValidation)
	ErrNoMoreSuggestions = errors.New("no more suggestions")
)

// Step 向导步骤
type Step int

const (
	SelectingPlatforms Step = iota
	SelectingCategory
	SelectingGenres
	BrowsingResults
)

func (s Step) String() string {
	switch s {
	case SelectingPlatforms:
		return "selecting-platforms"
	case SelectingCategory:
		return "selecting-category"
	case SelectingGenres:
		return "selecting-genres"
	case BrowsingResults:
		return "browsing-results"
	default:
		return "step(" + strconv.Itoa(int(s)) + ")"
	}
}

// Catalog 发现流程用到的代理接口
type Catalog interface {
	Providers(ctx context.Context, mediaType, region string) (*model.ProviderList, error)
	Genres(ctx context.Context, mediaType string) (*model.GenreList, error)
	Discover(ctx context.Context, mediaType string, p client.DiscoverParams) (*model.PagedResults, error)
}

// Watchlist 接受推荐时写入待看列表
type Watchlist interface {
	AddToWatchlist(ctx context.Context, in model.WatchlistItemCreate) (*model.WatchlistItem, error)
}

// Auth 当前是否已登录
type Auth interface {
	Authenticated() bool
}

// Outcome 接受推荐的结果
type Outcome int

const (
	// NotSaved 未登录，只前进不写入
	NotSaved Outcome = iota
	Saved
	AlreadySaved
	SaveFailed
)

func (o Outcome) String() string {
	switch o {
	case Saved:
		return "saved"
	case AlreadySaved:
		return "already-saved"
	case SaveFailed:
		return "save-failed"
	default:
		return "not-saved"
	}
}

// Flow 四步推荐向导，方法可并发调用
type Flow struct {
	catalog   Catalog
	watchlist Watchlist
	auth      Auth
	region    string

	mu        sync.Mutex
	step      Step
	platforms []model.Provider
	genres    []model.Genre
	category  string
	selPlat   IDSet
	selGenre  IDSet
	results   []model.MediaItem
	index     int
	page      int
	pages     int
}

// New 创建向导，region 为空时使用 PL
func New(catalog Catalog, watchlist Watchlist, auth Auth, region string) *Flow {
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		region = client.DefaultRegion
	}
	return &Flow{
		catalog:   catalog,
		watchlist: watchlist,
		auth:      auth,
		region:    region,
		selPlat:   IDSet{},
		selGenre:  IDSet{},
	}
}

func (f *Flow) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

func (f *Flow) Region() string {
	return f.region
}

// LoadPlatforms 并行拉取电影与剧集平台，按 provider_id 去重
func (f *Flow) LoadPlatforms(ctx context.Context) ([]model.Provider, error) {
	lists := make([]*model.ProviderList, 2)
	g, gctx := errgroup.WithContext(ctx)
	for i, mediaType := range []string{model.MediaTypeMovie, model.MediaTypeTV} {
		g.Go(func() error {
			list, err := f.catalog.Providers(gctx, mediaType, f.region)
			if err != nil {
				return fmt.Errorf("load %s providers: %w", mediaType, err)
			}
			lists[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := map[int]bool{}
	var merged []model.Provider
	for _, list := range lists {
		for _, p := range list.Results {
			if seen[p.ProviderID] {
				continue
			}
			seen[p.ProviderID] = true
			merged = append(merged, p)
		}
	}
	slices.SortFunc(merged, func(a, b model.Provider) int {
		return cmp.Compare(strings.ToLower(a.ProviderName), strings.ToLower(b.ProviderName))
	})

	f.mu.Lock()
	f.platforms = merged
	f.mu.Unlock()
	return slices.Clone(merged), nil
}

// Platforms 已加载的平台
func (f *Flow) Platforms() []model.Provider {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.platforms)
}

// TogglePlatform 选中或取消平台
func (f *Flow) TogglePlatform(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != SelectingPlatforms {
		return ErrWrongStep
	}
	f.selPlat.Toggle(id)
	return nil
}

func (f *Flow) SelectedPlatforms() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selPlat.Sorted()
}

func (f *Flow) PlatformSelected(id int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selPlat.Has(id)
}

// ConfirmPlatforms 至少选一个平台后进入类别选择
func (f *Flow) ConfirmPlatforms() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != SelectingPlatforms {
		return ErrWrongStep
	}
	if f.selPlat.Len() == 0 {
		return ErrNoPlatforms
	}
	f.step = SelectingCategory
	return nil
}

// ChooseCategory 选择电影或剧集，清空已选类型并加载类型列表
func (f *Flow) ChooseCategory(ctx context.Context, mediaType string) ([]model.Genre, error) {
	if !model.ValidMediaType(mediaType) {
		return nil, ErrInvalidCategory
	}
	if f.Step() != SelectingCategory {
		return nil, ErrWrongStep
	}
	list, err := f.catalog.Genres(ctx, mediaType)
	if err != nil {
		return nil, fmt.Errorf("load genres: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != SelectingCategory {
		return nil, ErrWrongStep
	}
	f.category = mediaType
	f.genres = list.Genres
	f.selGenre = IDSet{}
	f.step = SelectingGenres
	return slices.Clone(list.Genres), nil
}

func (f *Flow) Category() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.category
}

// Genres 当前类别可选的类型
func (f *Flow) Genres() []model.Genre {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.genres)
}

// ToggleGenre 选中或取消类型
func (f *Flow) ToggleGenre(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != SelectingGenres {
		return ErrWrongStep
	}
	f.selGenre.Toggle(id)
	return nil
}

func (f *Flow) SelectedGenres() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selGenre.Sorted()
}

func (f *Flow) GenreSelected(id int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selGenre.Has(id)
}

// Submit 校验选择并拉取第一页结果
func (f *Flow) Submit(ctx context.Context) error {
	f.mu.Lock()
	if f.step != SelectingGenres {
		f.mu.Unlock()
		return ErrWrongStep
	}
	if f.selPlat.Len() == 0 {
		f.mu.Unlock()
		return ErrNoPlatforms
	}
	if !model.ValidMediaType(f.category) {
		f.mu.Unlock()
		return ErrInvalidCategory
	}
	if f.selGenre.Len() == 0 {
		f.mu.Unlock()
		return ErrNoGenres
	}
	category, params := f.category, f.paramsLocked(1)
	f.mu.Unlock()

	res, err := f.catalog.Discover(ctx, category, params)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.step = BrowsingResults
	f.setPageLocked(res)
	return nil
}

func (f *Flow) paramsLocked(page int) client.DiscoverParams {
	return client.DiscoverParams{
		GenreIDs:    f.selGenre.Sorted(),
		ProviderIDs: f.selPlat.Sorted(),
		Region:      f.region,
		Page:        page,
	}
}

func (f *Flow) setPageLocked(res *model.PagedResults) {
	f.results = res.Results
	f.index = 0
	f.page = max(res.Page, 1)
	f.pages = res.TotalPages
}

// Current 当前卡片，没有更多结果时返回 false
func (f *Flow) Current() (model.MediaItem, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != BrowsingResults || f.index >= len(f.results) {
		return model.MediaItem{}, false
	}
	return f.results[f.index], true
}

// Position 当前页、总页数与页内序号
func (f *Flow) Position() (page, pages, index, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.page, f.pages, f.index, len(f.results)
}

// Accept 已登录时把当前卡片加入待看再前进，重复条目视为成功，写入失败不阻止前进
func (f *Flow) Accept(ctx context.Context) (Outcome, error) {
	item, category, err := f.current()
	if err != nil {
		return NotSaved, err
	}

	outcome := NotSaved
	var saveErr error
	if f.auth != nil && f.auth.Authenticated() && f.watchlist != nil {
		_, saveErr = f.watchlist.AddToWatchlist(ctx, model.WatchlistItemCreate{
			MovieID:   strconv.Itoa(item.ID),
			Title:     item.DisplayTitle(),
			MediaType: category,
		})
		switch {
		case saveErr == nil:
			outcome = Saved
		case client.IsStatus(saveErr, http.StatusConflict):
			outcome, saveErr = AlreadySaved, nil
		default:
			outcome = SaveFailed
		}
	}

	if err := f.advance(ctx); err != nil {
		return outcome, err
	}
	if saveErr != nil {
		return outcome, fmt.Errorf("add to watchlist: %w", saveErr)
	}
	return outcome, nil
}

// Reject 跳过当前卡片
func (f *Flow) Reject(ctx context.Context) error {
	if _, _, err := f.current(); err != nil {
		return err
	}
	return f.advance(ctx)
}

func (f *Flow) current() (model.MediaItem, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != BrowsingResults {
		return model.MediaItem{}, "", ErrWrongStep
	}
	if f.index >= len(f.results) {
		return model.MediaItem{}, "", ErrNoMoreSuggestions
	}
	return f.results[f.index], f.category, nil
}

// advance 前进一张，本页最后一张且还有下一页时先拉取下一页，失败则停在当前卡片可重试
func (f *Flow) advance(ctx context.Context) error {
	f.mu.Lock()
	if f.index+1 < len(f.results) || f.page >= f.pages {
		f.index++
		f.mu.Unlock()
		return nil
	}
	category, page, params := f.category, f.page, f.paramsLocked(f.page+1)
	f.mu.Unlock()

	res, err := f.catalog.Discover(ctx, category, params)
	if err != nil {
		return fmt.Errorf("load page %d: %w", params.Page, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step == BrowsingResults && f.category == category && f.page == page {
		f.setPageLocked(res)
	}
	return nil
}

// Back 回到上一步，保留已有选择
func (f *Flow) Back() {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.step {
	case SelectingCategory:
		f.step = SelectingPlatforms
	case SelectingGenres:
		f.step = SelectingCategory
	case BrowsingResults:
		f.step = SelectingGenres
		f.results = nil
		f.index, f.page, f.pages = 0, 0, 0
	}
}

// Reset 清空所有选择回到第一步，已加载的平台保留
func (f *Flow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.step = SelectingPlatforms
	f.category = ""
	f.genres = nil
	f.selPlat = IDSet{}
	f.selGenre = IDSet{}
	f.results = nil
	f.index, f.page, f.pages = 0, 0, 0
}
