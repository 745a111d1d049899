package protocol

import "github.com/nik012003/voyeurs/internal/playback"

// Version is the protocol version carried in Hello. Peers speaking a
// different version are rejected during the handshake.
const Version uint32 = 1

// Message is a protocol frame payload. Exactly the types in this file
// implement it.
type Message interface {
	isMessage()
}

// Hello opens a connection in both directions. Name is used for log
// attribution and on-screen notices only; it plays no part in negotiation.
type Hello struct {
	ProtocolVersion uint32
	Name            string
}

// FullState carries the complete authoritative snapshot. Sent on join and
// periodically so recovering followers converge without waiting for the
// next discrete change.
type FullState struct {
	State playback.State
}

// StateDelta carries the authoritative snapshot after a discrete change.
// It is a full snapshot on the wire; the delta/full distinction is about
// when it is sent, not what it contains.
type StateDelta struct {
	State playback.State
}

// Ping is a delay probe. SentTime is milliseconds since the sender's
// connection start, independent of playback epochs.
type Ping struct {
	SentTime int64
}

// Pong echoes a Ping's SentTime back to the prober.
type Pong struct {
	EchoedTime int64
}

// Error tells the peer why the connection is about to close.
type Error struct {
	Reason string
}

func (Hello) isMessage()      {}
func (FullState) isMessage()  {}
func (StateDelta) isMessage() {}
func (Ping) isMessage()       {}
func (Pong) isMessage()       {}
func (Error) isMessage()      {}
