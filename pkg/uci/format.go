package uci

import (
	"strconv"
	"strings"
	"time"

	"github.com/kibitzer/kibitzer/pkg/types"
)

// FormatPosition builds a position command. An empty fen means the
// standard starting position.
func FormatPosition(fen string, moves []string) string {
	var b strings.Builder
	b.WriteString("position ")
	if fen == "" {
		b.WriteString("startpos")
	} else {
		b.WriteString("fen ")
		b.WriteString(fen)
	}
	if len(moves) > 0 {
		b.WriteString(" moves ")
		b.WriteString(strings.Join(moves, " "))
	}
	return b.String()
}

// FormatSetOption builds a setoption command. Button options have no
// value clause.
func FormatSetOption(name, value string) string {
	if value == "" {
		return "setoption name " + name
	}
	return "setoption name " + name + " value " + value
}

// FormatGo builds a go command from search limits. Empty limits become a
// movetime search of types.DefaultMoveTime so a bare Search call always
// terminates on a cooperating engine.
func FormatGo(limits types.SearchLimits) string {
	if limits.IsZero() {
		limits.MoveTime = types.DefaultMoveTime
	}

	parts := []string{"go"}
	if limits.Infinite {
		return "go infinite"
	}
	if limits.Depth > 0 {
		parts = append(parts, "depth", strconv.Itoa(limits.Depth))
	}
	if limits.Nodes > 0 {
		parts = append(parts, "nodes", strconv.FormatInt(limits.Nodes, 10))
	}
	if limits.MoveTime > 0 {
		parts = append(parts, "movetime", millis(limits.MoveTime))
	}
	if limits.WhiteTime > 0 {
		parts = append(parts, "wtime", millis(limits.WhiteTime))
	}
	if limits.BlackTime > 0 {
		parts = append(parts, "btime", millis(limits.BlackTime))
	}
	if limits.WhiteInc > 0 {
		parts = append(parts, "winc", millis(limits.WhiteInc))
	}
	if limits.BlackInc > 0 {
		parts = append(parts, "binc", millis(limits.BlackInc))
	}
	if limits.MovesToGo > 0 {
		parts = append(parts, "movestogo", strconv.Itoa(limits.MovesToGo))
	}
	return strings.Join(parts, " ")
}

// FormatOption reconstructs an option declaration line from a parsed
// option. Round-trips with Parse for every supported option type.
func FormatOption(opt types.Option) string {
	var b strings.Builder
	b.WriteString("option name ")
	b.WriteString(opt.Name)
	b.WriteString(" type ")
	b.WriteString(string(opt.Type))
	if opt.Type != types.OptionTypeButton {
		b.WriteString(" default ")
		if opt.Default == "" && opt.Type == types.OptionTypeString {
			b.WriteString("<empty>")
		} else {
			b.WriteString(opt.Default)
		}
	}
	if opt.Min != nil {
		b.WriteString(" min ")
		b.WriteString(strconv.Itoa(*opt.Min))
	}
	if opt.Max != nil {
		b.WriteString(" max ")
		b.WriteString(strconv.Itoa(*opt.Max))
	}
	for _, v := range opt.Vars {
		b.WriteString(" var ")
		b.WriteString(v)
	}
	return b.String()
}

func millis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}
