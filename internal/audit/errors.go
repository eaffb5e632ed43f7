package audit

import "errors"

// ErrPoisonPayload marks deliveries that can never succeed; consumers route
// them to the dead-letter queue instead of retrying.
var ErrPoisonPayload = errors.New("audit: undecodable payload")
