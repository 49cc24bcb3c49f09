// Package ui 推荐向导的终端界面
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/user/streamtrack/internal/client"
	"github.com/user/streamtrack/internal/discovery"
	"github.com/user/streamtrack/internal/model"
)

// ViewState 当前视图
type ViewState int

const (
	PlatformsView ViewState = iota
	CategoryView
	GenresView
	CardView
	viewCount
)

func viewFor(step discovery.Step) ViewState {
	switch step {
	case discovery.SelectingCategory:
		return CategoryView
	case discovery.SelectingGenres:
		return GenresView
	case discovery.BrowsingResults:
		return CardView
	default:
		return PlatformsView
	}
}

var categories = []struct {
	mediaType string
	label     string
}{
	{model.MediaTypeMovie, "Movies"},
	{model.MediaTypeTV, "TV series"},
}

type platformsLoadedMsg struct {
	platforms []model.Provider
	err       error
}

type genresLoadedMsg struct {
	genres []model.Genre
	err    error
}

type resultsLoadedMsg struct {
	err error
}

type swipedMsg struct {
	title    string
	accepted bool
	outcome  discovery.Outcome
	err      error
}

// Model 终端界面状态
type Model struct {
	ctx      context.Context
	flow     *discovery.Flow
	username string

	view     ViewState
	width    int
	height   int
	requests [viewCount]client.Request

	platformList list.Model
	genreList    list.Model
	category     int
	showDetails  bool
	notice       string
	validation   error

	spinner spinner.Model
	help    help.Model
	keys    keyMap
}

// NewModel username 为空表示未登录，接受推荐时不会写入待看列表
func NewModel(ctx context.Context, flow *discovery.Flow, username string) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return &Model{
		ctx:          ctx,
		flow:         flow,
		username:     username,
		view:         PlatformsView,
		platformList: newList("Streaming platforms", nil, 0, 0),
		genreList:    newList("Genres", nil, 0, 0),
		spinner:      sp,
		help:         help.New(),
		keys:         newKeyMap(),
	}
}

func (m *Model) request() *client.Request {
	return &m.requests[m.view]
}

// Init 加载平台列表
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.loadPlatforms())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.platformList.SetSize(msg.Width-4, msg.Height-8)
		m.genreList.SetSize(msg.Width-4, msg.Height-8)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.quit) {
			return m, tea.Quit
		}
		if m.request().Loading() {
			return m, nil
		}
		if key.Matches(msg, m.keys.reset) {
			return m.reset()
		}
		switch m.view {
		case PlatformsView:
			return m.handlePlatformKeys(msg)
		case CategoryView:
			return m.handleCategoryKeys(msg)
		case GenresView:
			return m.handleGenreKeys(msg)
		case CardView:
			return m.handleCardKeys(msg)
		}

	case platformsLoadedMsg:
		m.requests[PlatformsView].Finish(msg.err)
		if msg.err == nil {
			m.setPlatformItems(msg.platforms)
		}
		return m, nil

	case genresLoadedMsg:
		m.requests[CategoryView].Finish(msg.err)
		if msg.err == nil {
			m.setGenreItems(msg.genres)
			m.view = GenresView
		}
		return m, nil

	case resultsLoadedMsg:
		m.requests[GenresView].Finish(msg.err)
		if msg.err == nil {
			m.view = CardView
			m.showDetails = false
		}
		return m, nil

	case swipedMsg:
		m.requests[CardView].Finish(msg.err)
		m.notice = swipeNotice(msg)
		m.showDetails = false
		return m, nil
	}

	return m, nil
}

func swipeNotice(msg swipedMsg) string {
	if !msg.accepted {
		return ""
	}
	switch msg.outcome {
	case discovery.Saved:
		return fmt.Sprintf("%s added to your watchlist", msg.title)
	case discovery.AlreadySaved:
		return fmt.Sprintf("%s is already on your watchlist", msg.title)
	case discovery.NotSaved:
		return "Log in to save suggestions to your watchlist"
	default:
		return ""
	}
}

func (m *Model) reset() (tea.Model, tea.Cmd) {
	m.flow.Reset()
	for i := range m.requests {
		if i != int(PlatformsView) {
			m.requests[i].Dismiss()
		}
	}
	m.view = PlatformsView
	m.category = 0
	m.notice = ""
	m.validation = nil
	m.showDetails = false
	m.setPlatformItems(m.flow.Platforms())
	m.genreList.SetItems(nil)
	return m, nil
}

func (m *Model) back() {
	m.flow.Back()
	m.view = viewFor(m.flow.Step())
	m.validation = nil
	m.request().Dismiss()
}

func (m *Model) handlePlatformKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.toggle):
		if item, ok := m.platformList.SelectedItem().(platformItem); ok {
			if err := m.flow.TogglePlatform(item.provider.ProviderID); err == nil {
				item.selected = m.flow.PlatformSelected(item.provider.ProviderID)
				m.platformList.SetItem(m.platformList.Index(), item)
			}
		}
		m.validation = nil
		return m, nil
	case key.Matches(msg, m.keys.enter):
		m.validation = m.flow.ConfirmPlatforms()
		if m.validation == nil {
			m.view = CategoryView
		}
		return m, nil
	}
	if m.request().State() == client.StateError && key.Matches(msg, m.keys.back) {
		return m, m.loadPlatforms()
	}

	var cmd tea.Cmd
	m.platformList, cmd = m.platformList.Update(msg)
	return m, cmd
}

func (m *Model) handleCategoryKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.up):
		m.category = max(m.category-1, 0)
	case key.Matches(msg, m.keys.down):
		m.category = min(m.category+1, len(categories)-1)
	case key.Matches(msg, m.keys.back):
		m.back()
	case key.Matches(msg, m.keys.enter):
		return m, m.chooseCategory(categories[m.category].mediaType)
	}
	return m, nil
}

func (m *Model) handleGenreKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.toggle):
		if item, ok := m.genreList.SelectedItem().(genreItem); ok {
			if err := m.flow.ToggleGenre(item.genre.ID); err == nil {
				item.selected = m.flow.GenreSelected(item.genre.ID)
				m.genreList.SetItem(m.genreList.Index(), item)
			}
		}
		m.validation = nil
		return m, nil
	case key.Matches(msg, m.keys.back):
		m.back()
		return m, nil
	case key.Matches(msg, m.keys.enter):
		if len(m.flow.SelectedGenres()) == 0 {
			m.validation = discovery.ErrNoGenres
			return m, nil
		}
		return m, m.submit()
	}

	var cmd tea.Cmd
	m.genreList, cmd = m.genreList.Update(msg)
	return m, cmd
}

func (m *Model) handleCardKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.accept):
		return m, m.swipe(true)
	case key.Matches(msg, m.keys.reject):
		return m, m.swipe(false)
	case key.Matches(msg, m.keys.details):
		m.showDetails = !m.showDetails
	case key.Matches(msg, m.keys.back):
		m.back()
		m.notice = ""
	}
	return m, nil
}

func (m *Model) setPlatformItems(platforms []model.Provider) {
	items := make([]list.Item, len(platforms))
	for i, p := range platforms {
		items[i] = platformItem{provider: p, selected: m.flow.PlatformSelected(p.ProviderID)}
	}
	m.platformList.SetItems(items)
}

func (m *Model) setGenreItems(genres []model.Genre) {
	items := make([]list.Item, len(genres))
	for i, g := range genres {
		items[i] = genreItem{genre: g, selected: m.flow.GenreSelected(g.ID)}
	}
	m.genreList.SetItems(items)
	m.genreList.Select(0)
}

func (m *Model) loadPlatforms() tea.Cmd {
	m.requests[PlatformsView].Start()
	return func() tea.Msg {
		platforms, err := m.flow.LoadPlatforms(m.ctx)
		return platformsLoadedMsg{platforms: platforms, err: err}
	}
}

func (m *Model) chooseCategory(mediaType string) tea.Cmd {
	m.requests[CategoryView].Start()
	return func() tea.Msg {
		genres, err := m.flow.ChooseCategory(m.ctx, mediaType)
		return genresLoadedMsg{genres: genres, err: err}
	}
}

func (m *Model) submit() tea.Cmd {
	m.requests[GenresView].Start()
	return func() tea.Msg {
		return resultsLoadedMsg{err: m.flow.Submit(m.ctx)}
	}
}

func (m *Model) swipe(accept bool) tea.Cmd {
	item, ok := m.flow.Current()
	if !ok {
		return nil
	}
	m.requests[CardView].Start()
	return func() tea.Msg {
		msg := swipedMsg{title: item.DisplayTitle(), accepted: accept}
		if accept {
			msg.outcome, msg.err = m.flow.Accept(m.ctx)
		} else {
			msg.err = m.flow.Reject(m.ctx)
		}
		return msg
	}
}

func (m *Model) View() string {
	var b strings.Builder
	switch m.view {
	case PlatformsView:
		b.WriteString(m.renderPlatforms())
	case CategoryView:
		b.WriteString(m.renderCategory())
	case GenresView:
		b.WriteString(m.genreList.View())
	case CardView:
		b.WriteString(m.renderCard())
	}

	req := m.request()
	switch {
	case req.Loading():
		b.WriteString("\n" + m.spinner.View() + " Loading...")
	case req.State() == client.StateError:
		b.WriteString("\n" + styles.err.Render("Error: "+req.Err().Error()))
		if m.view == CardView {
			b.WriteString("\n" + styles.help.Render("Press y or n to try again."))
		}
	}
	if m.validation != nil {
		b.WriteString("\n" + styles.warn.Render(validationMessage(m.validation)))
	}
	b.WriteString("\n\n" + m.help.ShortHelpView(m.helpKeys()))
	return b.String()
}

func validationMessage(err error) string {
	switch {
	case errors.Is(err, discovery.ErrNoPlatforms):
		return "Select at least one platform."
	case errors.Is(err, discovery.ErrNoGenres):
		return "Select at least one genre."
	default:
		return err.Error()
	}
}

func (m *Model) helpKeys() []key.Binding {
	switch m.view {
	case PlatformsView:
		return []key.Binding{m.keys.toggle, m.keys.enter, m.keys.quit}
	case CategoryView:
		return []key.Binding{m.keys.up, m.keys.down, m.keys.enter, m.keys.back, m.keys.quit}
	case GenresView:
		return []key.Binding{m.keys.toggle, m.keys.enter, m.keys.back, m.keys.reset, m.keys.quit}
	default:
		return []key.Binding{m.keys.accept, m.keys.reject, m.keys.details, m.keys.reset, m.keys.quit}
	}
}

func (m *Model) renderPlatforms() string {
	if m.request().State() == client.StateError {
		return styles.title.Render("Streaming platforms") + "\nPress esc to retry."
	}
	return m.platformList.View()
}

func (m *Model) renderCategory() string {
	var b strings.Builder
	b.WriteString(styles.title.Render("What do you want to watch?"))
	b.WriteString("\n")
	for i, c := range categories {
		cursor := "  "
		if i == m.category {
			cursor = "> "
		}
		b.WriteString(cursor + c.label + "\n")
	}
	return b.String()
}

func (m *Model) renderCard() string {
	item, ok := m.flow.Current()
	if !ok {
		msg := "That's all the suggestions for you! Change your filters to see more."
		if _, _, _, count := m.flow.Position(); count == 0 {
			msg = "Nothing matches your filters. Try a different selection."
		}
		return styles.warn.Render(msg) + "\n"
	}

	var b strings.Builder
	title := item.DisplayTitle()
	if year := item.Year(); year != "" {
		title = fmt.Sprintf("%s (%s)", title, year)
	}
	b.WriteString(styles.title.Render(title))
	if item.VoteAverage > 0 {
		b.WriteString(fmt.Sprintf("\n★ %.1f", item.VoteAverage))
	}
	if m.showDetails {
		overview := item.Overview
		if overview == "" {
			overview = "No description."
		}
		b.WriteString("\n\n" + overview)
		b.WriteString("\n\n" + styles.help.Render(fmt.Sprintf("streamtrack details %s %d", m.flow.Category(), item.ID)))
	}

	page, pages, index, count := m.flow.Position()
	footer := fmt.Sprintf("%d/%d · page %d/%d", index+1, count, page, pages)
	if m.username != "" {
		footer += " · " + m.username
	}
	out := styles.card.Render(b.String()) + "\n" + styles.help.Render(footer)
	if m.notice != "" {
		out += "\n" + styles.ok.Render(m.notice)
	}
	return out
}
