// Package telemetry sends anonymous usage events.
package telemetry

import (
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
)

// Tracker records named events with properties.
type Tracker interface {
	Track(event string, props map[string]interface{})
	Close() error
}

// Nop discards events. Used when no API key is configured.
type Nop struct{}

func (Nop) Track(string, map[string]interface{}) {}
func (Nop) Close() error                         { return nil }

// PostHog enqueues events on a posthog client.
type PostHog struct {
	client     posthog.Client
	distinctID string
}

// New returns a PostHog tracker, or Nop when apiKey is empty or the client
// cannot be created.
func New(apiKey, endpoint, distinctID string) Tracker {
	if apiKey == "" {
		return Nop{}
	}
	cfg := posthog.Config{Endpoint: endpoint}
	client, err := posthog.NewWithConfig(apiKey, cfg)
	if err != nil {
		log.Printf("Failed to initialize PostHog: %v", err)
		return Nop{}
	}
	if distinctID == "" {
		distinctID = "anonymous"
	}
	return &PostHog{client: client, distinctID: distinctID}
}

// Track sends event with the platform attached.
func (p *PostHog) Track(event string, props map[string]interface{}) {
	properties := posthog.NewProperties().
		Set("os", runtime.GOOS).
		Set("arch", runtime.GOARCH)
	for k, v := range props {
		properties.Set(k, v)
	}
	if err := p.client.Enqueue(posthog.Capture{
		DistinctId: p.distinctID,
		Event:      event,
		Properties: properties,
	}); err != nil {
		log.Printf("[Telemetry] %s: %v", event, err)
	}
}

// Close flushes queued events.
func (p *PostHog) Close() error {
	return p.client.Close()
}

// InstallID returns the anonymous id stored in dir/install_id, creating it on
// first use. Failures yield a fresh, unsaved id.
func InstallID(dir string) string {
	path := filepath.Join(dir, "install_id")
	if data, err := os.ReadFile(path); err == nil {
		if id, err := uuid.Parse(strings.TrimSpace(string(data))); err == nil {
			return id.String()
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(dir, 0755); err == nil {
		if err := os.WriteFile(path, []byte(id+"\n"), 0644); err != nil {
			log.Printf("[Telemetry] Failed to save install id: %v", err)
		}
	}
	return id
}
