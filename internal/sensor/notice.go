package sensor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/mod/semver"
)

// HelloTopic carries release announcements from the feed operator.
const HelloTopic = "component/hello"

const defaultNoticeTitle = "Blitzortung"

// Notice announces a release newer than the running one.
type Notice struct {
	Version    string    `json:"version"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	ReceivedAt time.Time `json:"received_at"`
}

type helloMessage struct {
	LatestVersion        string  `json:"latest_version"`
	LatestVersionMessage *string `json:"latest_version_message"`
	LatestVersionTitle   *string `json:"latest_version_title"`
}

// UpdateNotice records hello announcements that advertise a newer version.
type UpdateNotice struct {
	current string
	clock   clockwork.Clock
	logger  *slog.Logger

	mu     sync.RWMutex
	notice *Notice
}

// NewUpdateNotice creates an UpdateNotice for the running version, given as
// "1.2.3" or "v1.2.3".
func NewUpdateNotice(current string, clock clockwork.Clock, logger *slog.Logger) *UpdateNotice {
	return &UpdateNotice{current: canonical(current), clock: clock, logger: logger}
}

// Receive handles one raw message and ignores every topic but HelloTopic.
func (u *UpdateNotice) Receive(topic string, payload []byte) {
	if topic != HelloTopic {
		return
	}

	var msg helloMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		u.logger.Debug("hello message ignored", "error", err)
		return
	}
	if msg.LatestVersion == "" {
		return
	}

	latest := canonical(msg.LatestVersion)
	if !semver.IsValid(latest) || !semver.IsValid(u.current) {
		u.logger.Debug("hello message ignored, unparsable version",
			"latest_version", msg.LatestVersion,
			"current_version", u.current,
		)
		return
	}
	if semver.Compare(latest, u.current) <= 0 {
		return
	}

	n := Notice{
		Version:    msg.LatestVersion,
		Title:      defaultNoticeTitle,
		Message:    fmt.Sprintf("New version %s is available.", msg.LatestVersion),
		ReceivedAt: u.clock.Now(),
	}
	if msg.LatestVersionTitle != nil {
		n.Title = *msg.LatestVersionTitle
	}
	if msg.LatestVersionMessage != nil {
		n.Message = *msg.LatestVersionMessage
	}

	u.logger.Info("new version is available", "version", msg.LatestVersion)

	u.mu.Lock()
	defer u.mu.Unlock()
	u.notice = &n
}

// Notice returns the latest recorded announcement.
func (u *UpdateNotice) Notice() (Notice, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.notice == nil {
		return Notice{}, false
	}
	return *u.notice, true
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
