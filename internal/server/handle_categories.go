package server

import (
	"net/http"

	"github.com/playhistoric/chronoquiz/internal/catalog"
)

type CategoryListEntry struct {
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	MapCenter   [2]float64 `json:"mapCenter"`
	MapZoom     int        `json:"mapZoom"`
	TimelineMin int        `json:"timelineMin"`
	TimelineMax int        `json:"timelineMax"`
	EventCount  int        `json:"eventCount"`
}

func handleCategories(cat *catalog.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys := cat.Keys()
		entries := make([]CategoryListEntry, 0, len(keys))
		for _, key := range keys {
			c, _ := cat.Get(key)
			entries = append(entries, CategoryListEntry{
				Key:         c.Key,
				Name:        c.Name,
				Description: c.Description,
				MapCenter:   c.MapCenter,
				MapZoom:     c.MapZoom,
				TimelineMin: c.TimelineMin,
				TimelineMax: c.TimelineMax,
				EventCount:  len(c.Events),
			})
		}
		writeJSON(w, http.StatusOK, entries)
	}
}
