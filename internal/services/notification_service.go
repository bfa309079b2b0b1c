package services

import (
	"fmt"
	"sync"

	"github.com/containrrr/shoutrrr"

	"github.com/Wikid82/keyroom/internal/logger"
	"github.com/Wikid82/keyroom/internal/models"
)

// NotificationService forwards committed custody events to shoutrrr services
// (Slack, Discord, email, generic webhooks...).
type NotificationService struct {
	urls []string
	send func(url, message string) error
	wg   sync.WaitGroup
}

func NewNotificationService(urls []string) *NotificationService {
	return &NotificationService{urls: urls, send: shoutrrr.Send}
}

// NotifyCustody formats the transition and delivers it in the background.
func (s *NotificationService) NotifyCustody(notice CustodyNotice) {
	if len(s.urls) == 0 {
		return
	}
	message := FormatCustodyMessage(notice)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Send(message)
	}()
}

// Send delivers message to every configured URL and returns the failures.
func (s *NotificationService) Send(message string) []error {
	var errs []error
	for _, url := range s.urls {
		if err := s.send(url, message); err != nil {
			logger.Component("notifications").WithError(err).Warn("failed to deliver custody notification")
			errs = append(errs, err)
		}
	}
	return errs
}

// Wait blocks until background deliveries have finished.
func (s *NotificationService) Wait() {
	s.wg.Wait()
}

// FormatCustodyMessage renders a one-line description of a transition.
func FormatCustodyMessage(notice CustodyNotice) string {
	verb := "taken by"
	if notice.Event.Action == models.CustodyReturn {
		verb = "returned by"
	}
	return fmt.Sprintf("Key %q %s %s (card %s, %s) at %s",
		notice.Key.Name,
		verb,
		notice.Employee.Name,
		notice.Employee.CardID,
		notice.Employee.Department,
		notice.Event.Timestamp.Format("2006-01-02 15:04:05 MST"),
	)
}
