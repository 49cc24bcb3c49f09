package ui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/streamtrack/internal/client"
	"github.com/user/streamtrack/internal/discovery"
	"github.com/user/streamtrack/internal/model"
)

type stubCatalog struct {
	providerErr error
	pageErr     error
	pages       int
	discovered  []client.DiscoverParams
}

func (s *stubCatalog) Providers(ctx context.Context, mediaType, region string) (*model.ProviderList, error) {
	if s.providerErr != nil {
		return nil, s.providerErr
	}
	return &model.ProviderList{Results: []model.Provider{{ProviderID: 8, ProviderName: "Netflix"}}}, nil
}

func (s *stubCatalog) Genres(ctx context.Context, mediaType string) (*model.GenreList, error) {
	return &model.GenreList{Genres: []model.Genre{{ID: 18, Name: "Dramat"}}}, nil
}

func (s *stubCatalog) Discover(ctx context.Context, mediaType string, p client.DiscoverParams) (*model.PagedResults, error) {
	s.discovered = append(s.discovered, p)
	if p.Page > 1 {
		if s.pageErr != nil {
			return nil, s.pageErr
		}
		return &model.PagedResults{Page: p.Page, TotalPages: s.pages, Results: []model.MediaItem{{ID: 70523, Name: "Dark"}}}, nil
	}
	return &model.PagedResults{
		Page:       1,
		TotalPages: max(s.pages, 1),
		Results: []model.MediaItem{
			{ID: 1396, Name: "Breaking Bad", FirstAirDate: "2008-01-20", VoteAverage: 8.9, Overview: "Nauczyciel chemii."},
			{ID: 66732, Name: "Stranger Things"},
		},
	}, nil
}

type anonymous struct{}

func (anonymous) Authenticated() bool { return false }

var (
	spaceKey = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	enterKey = tea.KeyMsg{Type: tea.KeyEnter}
	escKey   = tea.KeyMsg{Type: tea.KeyEsc}
	downKey  = tea.KeyMsg{Type: tea.KeyDown}
)

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func newTestModel(t *testing.T, cat *stubCatalog) *Model {
	t.Helper()
	flow := discovery.New(cat, nil, anonymous{}, "")
	m := NewModel(context.Background(), flow, "")
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	run(t, m, m.loadPlatforms())
	return m
}

// run 同步执行命令并把结果交回模型
func run(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	require.NotNil(t, cmd)
	m.Update(cmd())
}

func press(m *Model, msg tea.KeyMsg) tea.Cmd {
	_, cmd := m.Update(msg)
	return cmd
}

func TestWizardToCard(t *testing.T) {
	cat := &stubCatalog{}
	m := newTestModel(t, cat)
	assert.Equal(t, PlatformsView, m.view)
	assert.Contains(t, m.View(), "[ ] Netflix")

	press(m, enterKey)
	assert.Equal(t, PlatformsView, m.view)
	assert.Contains(t, m.View(), "Select at least one platform.")

	press(m, spaceKey)
	assert.Contains(t, m.View(), "[x] Netflix")
	assert.NotContains(t, m.View(), "Select at least one platform.")
	press(m, enterKey)
	assert.Equal(t, CategoryView, m.view)

	press(m, downKey)
	run(t, m, press(m, enterKey))
	assert.Equal(t, GenresView, m.view)
	assert.Equal(t, model.MediaTypeTV, m.flow.Category())

	press(m, enterKey)
	assert.Contains(t, m.View(), "Select at least one genre.")
	press(m, spaceKey)
	run(t, m, press(m, enterKey))
	assert.Equal(t, CardView, m.view)
	require.Len(t, cat.discovered, 1)
	assert.Equal(t, []int{18}, cat.discovered[0].GenreIDs)

	view := m.View()
	assert.Contains(t, view, "Breaking Bad (2008)")
	assert.Contains(t, view, "1/2")
	assert.NotContains(t, view, "Nauczyciel chemii.")

	press(m, runeKey('d'))
	view = m.View()
	assert.Contains(t, view, "Nauczyciel chemii.")
	assert.Contains(t, view, "streamtrack details tv 1396")
}

func TestSwipeAnonymous(t *testing.T) {
	m := newTestModel(t, &stubCatalog{})
	press(m, spaceKey)
	press(m, enterKey)
	run(t, m, press(m, enterKey))
	press(m, spaceKey)
	run(t, m, press(m, enterKey))

	run(t, m, press(m, runeKey('y')))
	view := m.View()
	assert.Contains(t, view, "Stranger Things")
	assert.Contains(t, view, "Log in to save suggestions")

	run(t, m, press(m, runeKey('n')))
	assert.Contains(t, m.View(), "That's all the suggestions for you!")
	assert.Nil(t, press(m, runeKey('y')))
}

func TestNextPageFailureCanBeRetried(t *testing.T) {
	cat := &stubCatalog{pages: 2, pageErr: errors.New("catalog offline")}
	m := newTestModel(t, cat)
	press(m, spaceKey)
	press(m, enterKey)
	run(t, m, press(m, enterKey))
	press(m, spaceKey)
	run(t, m, press(m, enterKey))

	run(t, m, press(m, runeKey('n')))
	run(t, m, press(m, runeKey('n')))
	view := m.View()
	assert.Contains(t, view, "Stranger Things")
	assert.Contains(t, view, "catalog offline")
	assert.Contains(t, view, "Press y or n to try again.")
	assert.NotContains(t, view, "That's all the suggestions")

	cat.pageErr = nil
	run(t, m, press(m, runeKey('n')))
	view = m.View()
	assert.Contains(t, view, "Dark")
	assert.NotContains(t, view, "catalog offline")
	assert.Len(t, cat.discovered, 3)
}

func TestBackAndStartOver(t *testing.T) {
	m := newTestModel(t, &stubCatalog{})
	press(m, spaceKey)
	press(m, enterKey)
	run(t, m, press(m, enterKey))
	require.Equal(t, GenresView, m.view)

	press(m, escKey)
	assert.Equal(t, CategoryView, m.view)
	press(m, escKey)
	assert.Equal(t, PlatformsView, m.view)
	assert.Contains(t, m.View(), "[x] Netflix")

	press(m, runeKey('r'))
	assert.Equal(t, PlatformsView, m.view)
	assert.Empty(t, m.flow.SelectedPlatforms())
	assert.Contains(t, m.View(), "[ ] Netflix")
}

func TestPlatformLoadErrorRetries(t *testing.T) {
	cat := &stubCatalog{providerErr: errors.New("catalog offline")}
	m := newTestModel(t, cat)
	assert.Equal(t, client.StateError, m.requests[PlatformsView].State())
	assert.Contains(t, m.View(), "catalog offline")

	cat.providerErr = nil
	run(t, m, press(m, escKey))
	assert.Equal(t, client.StateSuccess, m.requests[PlatformsView].State())
	assert.Contains(t, m.View(), "Netflix")
}

func TestQuit(t *testing.T) {
	m := newTestModel(t, &stubCatalog{})
	cmd := press(m, runeKey('q'))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
