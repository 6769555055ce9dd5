package installer

import "github.com/vrsandeep/stream-go/internal/models"

// Publisher receives lifecycle events. *websocket.Hub satisfies it.
type Publisher interface {
	BroadcastJSON(v any)
}

type EventType string

const (
	EventInstalled EventType = "plugin_installed"
	EventUpdated   EventType = "plugin_updated"
	EventRemoved   EventType = "plugin_removed"
	EventLoaded    EventType = "plugin_loaded"
	EventUnloaded  EventType = "plugin_unloaded"
)

// Event is the JSON payload broadcast for each plugin lifecycle change.
type Event struct {
	Type          EventType `json:"type"`
	FilePath      string    `json:"filePath"`
	InternalName  string    `json:"internalName"`
	RepositoryURL string    `json:"repositoryUrl,omitempty"`
	Version       int       `json:"version"`
}

type discardPublisher struct{}

func (discardPublisher) BroadcastJSON(any) {}

func (s *Service) publish(t EventType, p models.PluginData) {
	s.events.BroadcastJSON(Event{
		Type:          t,
		FilePath:      p.FilePath,
		InternalName:  p.InternalName,
		RepositoryURL: p.RepositoryURL,
		Version:       p.Version,
	})
}
