// Package action holds the built-in side effects the model can trigger.
//
// A failure the remote service reports (a rejected email, an unknown chat)
// is returned as an unsuccessful ActionResult so the model can see it. A
// transport failure is returned as an error and aborts the run.
package action

import (
	"errors"
	"fmt"

	"github.com/ciaranashton/relay-agent/internal/domain"
	"github.com/ciaranashton/relay-agent/internal/httpclient"
	"github.com/ciaranashton/relay-agent/internal/mailer"
)

func ok(data any) (domain.ActionResult, error) {
	return domain.ActionResult{Success: true, Data: data}, nil
}

func rejected(msg string) (domain.ActionResult, error) {
	return domain.ActionResult{Success: false, Error: msg}, nil
}

// deliveryResult converts a delivery error into the result the model sees,
// passing transport errors through.
func deliveryResult(err error) (domain.ActionResult, error) {
	if re, isRejected := mailer.IsRejected(err); isRejected {
		return rejected(re.Message)
	}
	var se *httpclient.StatusError
	if errors.As(err, &se) && se.StatusCode < 500 {
		return rejected(se.Error())
	}
	return domain.ActionResult{}, err
}

func subjectOr(msg domain.Message, fallback string) string {
	if msg.Subject == "" {
		return fallback
	}
	return msg.Subject
}

func requireOption(kind, key, value string) error {
	if value == "" {
		return fmt.Errorf("%s action requires %s", kind, key)
	}
	return nil
}
