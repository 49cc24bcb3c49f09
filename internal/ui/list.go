package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/user/streamtrack/internal/model"
)

var (
	_ list.Item = platformItem{}
	_ list.Item = genreItem{}
)

func checkbox(on bool) string {
	if on {
		return "[x]"
	}
	return "[ ]"
}

// platformItem 可勾选的平台
type platformItem struct {
	provider model.Provider
	selected bool
}

func (i platformItem) FilterValue() string { return i.provider.ProviderName }
func (i platformItem) Title() string {
	return fmt.Sprintf("%s %s", checkbox(i.selected), i.provider.ProviderName)
}
func (i platformItem) Description() string { return fmt.Sprintf("id %d", i.provider.ProviderID) }

// genreItem 可勾选的类型
type genreItem struct {
	genre    model.Genre
	selected bool
}

func (i genreItem) FilterValue() string { return i.genre.Name }
func (i genreItem) Title() string {
	return fmt.Sprintf("%s %s", checkbox(i.selected), i.genre.Name)
}
func (i genreItem) Description() string { return fmt.Sprintf("id %d", i.genre.ID) }

func newList(title string, items []list.Item, width, height int) list.Model {
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = false
	delegate.SetSpacing(0)
	l := list.New(items, delegate, width, height)
	l.Title = title
	l.SetFilteringEnabled(false)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	return l
}
