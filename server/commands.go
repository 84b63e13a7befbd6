package server

import (
	"github.com/Polqt/crdtcollab/clock"
	"github.com/Polqt/crdtcollab/crdt"
)

// serverCommand is the closed sum type of actions the command loop
// serializes, mirroring the accept-loop/command-handler split of the
// originating design: per-connection goroutines decode, validate and
// update document membership, then hand fan-out, presence and sync
// replies to one goroutine.
type serverCommand interface {
	isServerCommand()
}

type cmdAuthenticated struct {
	connID ConnectionID
	user   AuthenticatedUser
}

type cmdJoinDocument struct {
	connID ConnectionID
	docID  string
}

type cmdLeaveDocument struct {
	connID ConnectionID
	docID  string
}

type cmdBroadcastOps struct {
	docID    string
	ops      []crdt.CrdtOp
	senderID ConnectionID
}

type cmdBroadcastPresence struct {
	docID    string
	userID   string
	state    WirePresenceState
	senderID ConnectionID
}

type cmdDisconnected struct {
	connID ConnectionID
	docID  string
	userID string
}

type cmdSyncRequest struct {
	connID ConnectionID
	docID  string
	since  *clock.VectorClock
}

func (cmdAuthenticated) isServerCommand()     {}
func (cmdJoinDocument) isServerCommand()      {}
func (cmdLeaveDocument) isServerCommand()     {}
func (cmdBroadcastOps) isServerCommand()      {}
func (cmdBroadcastPresence) isServerCommand() {}
func (cmdDisconnected) isServerCommand()      {}
func (cmdSyncRequest) isServerCommand()       {}
