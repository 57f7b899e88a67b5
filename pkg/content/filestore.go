package content

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// siteExport is the YAML document layout consumed by LoadFileStore. It mirrors
// the shape a CMS export plugin produces: items with their meta, widget
// instances, theme assets, and the media library.
type siteExport struct {
	Items []struct {
		ID      int64             `yaml:"id"`
		Type    string            `yaml:"type"`
		URL     string            `yaml:"url,omitempty"`
		Title   string            `yaml:"title,omitempty"`
		Content string            `yaml:"content,omitempty"`
		Meta    map[string]string `yaml:"meta,omitempty"`
	} `yaml:"items"`
	Widgets []struct {
		ID       string            `yaml:"id"`
		Sidebar  string            `yaml:"sidebar"`
		Settings map[string]string `yaml:"settings,omitempty"`
	} `yaml:"widgets,omitempty"`
	Theme struct {
		LogoID int64 `yaml:"logo_id,omitempty"`
		IconID int64 `yaml:"icon_id,omitempty"`
	} `yaml:"theme,omitempty"`
	Media []struct {
		ID     int64  `yaml:"id"`
		URL    string `yaml:"url"`
		Title  string `yaml:"title,omitempty"`
		Alt    string `yaml:"alt,omitempty"`
		File   string `yaml:"file,omitempty"`
		Width  int    `yaml:"width,omitempty"`
		Height int    `yaml:"height,omitempty"`
	} `yaml:"media,omitempty"`
}

// LoadFileStore reads a YAML site export and returns a Store and MediaLibrary
// backed by it. This is what lets the CLI run a full scan standalone, without
// a live CMS to talk to.
func LoadFileStore(path string) (*MemoryStore, *MemoryLibrary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read site export '%s': %w", path, err)
	}

	var export siteExport
	if err := yaml.Unmarshal(data, &export); err != nil {
		return nil, nil, fmt.Errorf("parse site export '%s': %w", path, err)
	}

	store := NewMemoryStore()
	for _, it := range export.Items {
		if it.ID == 0 || it.Type == "" {
			return nil, nil, fmt.Errorf("site export '%s': item missing id or type", path)
		}
		store.AddItem(&Item{
			ID:      it.ID,
			Type:    it.Type,
			URL:     it.URL,
			Title:   it.Title,
			Content: it.Content,
			Meta:    it.Meta,
		})
	}
	for _, w := range export.Widgets {
		store.AddWidget(Widget{ID: w.ID, Sidebar: w.Sidebar, Settings: w.Settings})
	}
	store.SetThemeAssets(ThemeAssets{LogoID: export.Theme.LogoID, IconID: export.Theme.IconID})

	library := NewMemoryLibrary()
	for _, m := range export.Media {
		if m.ID == 0 {
			return nil, nil, fmt.Errorf("site export '%s': media entry missing id", path)
		}
		library.Add(&Media{
			ID:      m.ID,
			URL:     m.URL,
			Title:   m.Title,
			AltText: m.Alt,
			File:    m.File,
			Width:   m.Width,
			Height:  m.Height,
		})
	}

	return store, library, nil
}
