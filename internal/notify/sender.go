package notify

import (
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"slices"
	"time"

	"github.com/goccy/go-json"
	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/rs/zerolog/log"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

type Sender interface {
	Send(subject, body string) error
}

// ShoutrrrSender delivers one message to every configured service URL.
type ShoutrrrSender struct {
	urls   []string
	sender *router.ServiceRouter
}

func NewShoutrrrSender(urls []string, timeout time.Duration) (*ShoutrrrSender, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one notification URL is required")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("create shoutrrr sender: %w", err)
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(stdlog.New(io.Discard, "", 0))
	return &ShoutrrrSender{urls: slices.Clone(urls), sender: sender}, nil
}

func (s *ShoutrrrSender) Send(subject, body string) error {
	params := stypes.Params{}
	if subject != "" {
		params.SetTitle(subject)
	}
	errs := s.sender.Send(body, &params)
	return errors.Join(errs...)
}

// Notifier turns encoded ThreatNotifications into messages.
type Notifier struct {
	sender Sender
}

func NewNotifier(sender Sender) *Notifier {
	return &Notifier{sender: sender}
}

// Notify decodes a ThreatNotification payload and sends its email. It
// reports false when the notification had nothing worth sending.
func (n *Notifier) Notify(payload []byte) (bool, error) {
	var tn models.ThreatNotification
	if err := json.Unmarshal(payload, &tn); err != nil {
		return false, fmt.Errorf("decode notification: %w", err)
	}

	subject, body, ok := BuildThreatEmail(tn.CameraID, tn.VideoStart, tn.Threats, tn.ResultsLocation)
	if !ok {
		log.Debug().Str("job", tn.JobID).Msg("Notify: no HIGH/MEDIUM threats, skipping")
		return false, nil
	}
	if err := n.sender.Send(subject, body); err != nil {
		return false, err
	}
	log.Info().Str("job", tn.JobID).Str("camera", tn.CameraID).Str("subject", subject).Msg("Notify: threat email sent")
	return true, nil
}
