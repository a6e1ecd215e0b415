package kgsm

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/TheKrystalShip/kgsm/events"
	"github.com/TheKrystalShip/kgsm/version"
)

// eventConfig reads the process-wide settings the Event Dispatcher needs
// out of the global config document, falling back to spec.md §4.1's
// declared defaults for anything never explicitly set.
func (c *ConfigStore) eventConfig(root string) events.Config {
	boolOf := func(key string) bool {
		v, _ := c.GetDefault(key)
		return v == "true"
	}
	intOf := func(key string) int {
		v, _ := c.GetDefault(key)
		n, _ := strconv.Atoi(v)
		return n
	}
	stringOf := func(key string) string {
		v, _ := c.GetDefault(key)
		return v
	}

	var urls []string
	if raw := stringOf("webhook_urls"); raw != "" {
		for _, u := range strings.Split(raw, ",") {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
	}

	socketName := stringOf("event_socket_filename")
	if socketName == "" {
		socketName = "kgsm.sock"
	}

	return events.Config{
		EnableSocket:   boolOf("enable_event_broadcasting"),
		SocketPath:     filepath.Join(root, socketName),
		EnableWebhook:  boolOf("enable_webhook_events"),
		WebhookURLs:    urls,
		WebhookSecret:  stringOf("webhook_secret"),
		WebhookTimeout: time.Duration(intOf("webhook_timeout_seconds")) * time.Second,
		WebhookRetries: intOf("webhook_retry_count"),
		Hostname:       events.LocalHostname(),
		KGSMVersion:    kgsmVersionString(),
	}
}

func kgsmVersionString() string {
	info := version.Get()
	if info.GitCommit != "" {
		return info.GitCommit
	}
	return "dev"
}
