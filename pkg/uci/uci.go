// Package uci implements the textual Universal Chess Interface protocol:
// parsing engine output lines into typed events and formatting outgoing
// commands. Everything in this package is pure; process plumbing lives in
// pkg/process and pkg/transport.
package uci

import (
	"time"

	"github.com/kibitzer/kibitzer/pkg/types"
)

// Kind tags a protocol event
type Kind string

const (
	KindEngineID     Kind = "id"
	KindOption       Kind = "option"
	KindUCIOk        Kind = "uciok"
	KindReadyOk      Kind = "readyok"
	KindInfo         Kind = "info"
	KindBestMove     Kind = "bestmove"
	KindUnrecognized Kind = "unrecognized"
)

// Event is one parsed engine output line. Exactly one payload pointer is
// set, matching Kind; acknowledgment events carry no payload at all.
type Event struct {
	Kind Kind
	Raw  string

	ID       *types.EngineID
	Option   *types.Option
	Info     *Info
	BestMove *BestMove
}

// BestMove is the terminal reply to a go command
type BestMove struct {
	Move   string
	Ponder string
}

// Info is a search progress report. Engines populate these fields piecemeal
// and in any order; absent fields stay nil.
type Info struct {
	Depth    *int
	SelDepth *int
	MultiPV  *int
	ScoreCP  *int
	Mate     *int
	Nodes    *int64
	NPS      *int64
	HashFull *int
	TBHits   *int64
	Time     *time.Duration
	CurrMove string
	PV       []string
	String   string
}

// Commands sent to the engine. Keywords are case-sensitive per the protocol.
const (
	CommandUCI        = "uci"
	CommandIsReady    = "isready"
	CommandUCINewGame = "ucinewgame"
	CommandStop       = "stop"
	CommandQuit       = "quit"
)
