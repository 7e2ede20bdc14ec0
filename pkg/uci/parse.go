package uci

import (
	"strconv"
	"strings"
	"time"

	"github.com/kibitzer/kibitzer/pkg/types"
)

// Parse maps one raw engine output line to a protocol event. It never
// fails: lines outside the known vocabulary become KindUnrecognized, and
// malformed payloads degrade to whatever fields did parse. Real engines
// vary too much for anything stricter to survive contact.
func Parse(line string) Event {
	raw := line
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Event{Kind: KindUnrecognized, Raw: raw}
	}

	switch fields[0] {
	case "id":
		return parseID(raw, fields)
	case "option":
		return parseOption(raw, fields)
	case "uciok":
		return Event{Kind: KindUCIOk, Raw: raw}
	case "readyok":
		return Event{Kind: KindReadyOk, Raw: raw}
	case "bestmove":
		return parseBestMove(raw, fields)
	case "info":
		return parseInfo(raw, fields)
	default:
		// Includes copyprotection and registration: recognized by the
		// protocol but carrying nothing this client acts on.
		return Event{Kind: KindUnrecognized, Raw: raw}
	}
}

func parseID(raw string, fields []string) Event {
	if len(fields) < 3 {
		return Event{Kind: KindUnrecognized, Raw: raw}
	}
	id := &types.EngineID{}
	value := strings.Join(fields[2:], " ")
	switch fields[1] {
	case "name":
		id.Name = value
	case "author":
		id.Author = value
	default:
		return Event{Kind: KindUnrecognized, Raw: raw}
	}
	return Event{Kind: KindEngineID, Raw: raw, ID: id}
}

func parseBestMove(raw string, fields []string) Event {
	if len(fields) < 2 {
		return Event{Kind: KindUnrecognized, Raw: raw}
	}
	bm := &BestMove{Move: fields[1]}
	for i := 2; i+1 < len(fields); i++ {
		if fields[i] == "ponder" {
			bm.Ponder = fields[i+1]
			break
		}
	}
	return Event{Kind: KindBestMove, Raw: raw, BestMove: bm}
}

// optionKeywords delimit values inside an option declaration.
var optionKeywords = map[string]bool{
	"name":    true,
	"type":    true,
	"default": true,
	"min":     true,
	"max":     true,
	"var":     true,
}

// parseOption decodes the option declaration grammar:
//
//	option name <n> type <t> [default <v>] [min <v>] [max <v>] [var <v>]*
//
// Names and defaults may span multiple tokens, so each value runs until
// the next keyword.
func parseOption(raw string, fields []string) Event {
	opt := &types.Option{}
	sawDefault := false

	i := 1
	for i < len(fields) {
		keyword := fields[i]
		i++
		start := i
		for i < len(fields) && !optionKeywords[fields[i]] {
			i++
		}
		value := strings.Join(fields[start:i], " ")

		switch keyword {
		case "name":
			opt.Name = value
		case "type":
			opt.Type = types.OptionType(value)
		case "default":
			opt.Default = value
			sawDefault = true
		case "min":
			if n, err := strconv.Atoi(value); err == nil {
				opt.Min = &n
			}
		case "max":
			if n, err := strconv.Atoi(value); err == nil {
				opt.Max = &n
			}
		case "var":
			opt.Vars = append(opt.Vars, value)
		}
	}

	if opt.Name == "" || opt.Type == "" {
		return Event{Kind: KindUnrecognized, Raw: raw}
	}
	// Stockfish declares empty string defaults as the literal <empty>.
	if sawDefault && opt.Default == "<empty>" {
		opt.Default = ""
	}
	return Event{Kind: KindOption, Raw: raw, Option: opt}
}

// parseInfo extracts whatever keyed fields are present. Unknown keywords
// are skipped one token at a time so a single surprise does not discard
// the rest of the line.
func parseInfo(raw string, fields []string) Event {
	info := &Info{}
	for i := 1; i < len(fields); i++ {
		switch fields[i] {
		case "depth":
			i = takeInt(fields, i, &info.Depth)
		case "seldepth":
			i = takeInt(fields, i, &info.SelDepth)
		case "multipv":
			i = takeInt(fields, i, &info.MultiPV)
		case "nodes":
			i = takeInt64(fields, i, &info.Nodes)
		case "nps":
			i = takeInt64(fields, i, &info.NPS)
		case "hashfull":
			i = takeInt(fields, i, &info.HashFull)
		case "tbhits":
			i = takeInt64(fields, i, &info.TBHits)
		case "time":
			var ms *int64
			i = takeInt64(fields, i, &ms)
			if ms != nil {
				d := time.Duration(*ms) * time.Millisecond
				info.Time = &d
			}
		case "currmove":
			if i+1 < len(fields) {
				info.CurrMove = fields[i+1]
				i++
			}
		case "score":
			if i+2 < len(fields) {
				if n, err := strconv.Atoi(fields[i+2]); err == nil {
					switch fields[i+1] {
					case "cp":
						info.ScoreCP = &n
					case "mate":
						info.Mate = &n
					}
				}
				i += 2
			}
		case "pv":
			// The principal variation runs to the end of the line.
			info.PV = append([]string(nil), fields[i+1:]...)
			i = len(fields)
		case "string":
			// Free-form text runs to the end of the line.
			info.String = strings.Join(fields[i+1:], " ")
			i = len(fields)
		}
	}
	return Event{Kind: KindInfo, Raw: raw, Info: info}
}

func takeInt(fields []string, i int, dst **int) int {
	if i+1 < len(fields) {
		if n, err := strconv.Atoi(fields[i+1]); err == nil {
			*dst = &n
		}
		return i + 1
	}
	return i
}

func takeInt64(fields []string, i int, dst **int64) int {
	if i+1 < len(fields) {
		if n, err := strconv.ParseInt(fields[i+1], 10, 64); err == nil {
			*dst = &n
		}
		return i + 1
	}
	return i
}
