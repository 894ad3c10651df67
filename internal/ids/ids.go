package ids

import "github.com/segmentio/ksuid"

// New returns a K-sortable globally unique id. Used for user and
// refresh-session primary keys; the session id doubles as the "sid"
// claim inside refresh tokens.
func New() string {
	return ksuid.New().String()
}
