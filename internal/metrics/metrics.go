// Package metrics defines the Collector interface for recording server
// metrics, grounded on infodancer-pop3d's internal/metrics package.
package metrics

// Collector records Citadel server metrics.
type Collector interface {
	SessionOpened()
	SessionClosed()
	TLSSessionEstablished()

	AuthAttempt(success bool)

	CommandProcessed(command string)

	MessageEntered(roomFlags int)
	MessageDeleted()
	MessageMoved(copy bool)

	RoomGoto()
}

// Noop is a Collector that discards everything, used when metrics are
// disabled.
type Noop struct{}

func (Noop) SessionOpened()                  {}
func (Noop) SessionClosed()                  {}
func (Noop) TLSSessionEstablished()          {}
func (Noop) AuthAttempt(success bool)        {}
func (Noop) CommandProcessed(command string) {}
func (Noop) MessageEntered(roomFlags int)    {}
func (Noop) MessageDeleted()                 {}
func (Noop) MessageMoved(copy bool)          {}
func (Noop) RoomGoto()                       {}
