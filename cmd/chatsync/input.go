package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/vovakirdan/wirechat-sync/internal/core"
)

type inputKind int

const (
	inputSay inputKind = iota
	inputAction
	inputJoin
	inputLeave
	inputSwitch
	inputPrivate
	inputRetry
	inputDismiss
	inputQuit
)

// input is one parsed line typed by the user.
type input struct {
	kind     inputKind
	target   int64
	text     string
	failedID string
}

// parseInput turns a terminal line into an input. Plain text is a message
// to the active channel.
func parseInput(line string) (input, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return input{}, fmt.Errorf("empty input")
	}
	if !strings.HasPrefix(line, "/") {
		return input{kind: inputSay, text: line}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "me":
		if rest == "" {
			return input{}, fmt.Errorf("usage: /me <action>")
		}
		return input{kind: inputAction, text: rest}, nil
	case "join", "leave", "switch":
		id, err := parseID(rest)
		if err != nil {
			return input{}, fmt.Errorf("usage: /%s <channel-id>", name)
		}
		kinds := map[string]inputKind{"join": inputJoin, "leave": inputLeave, "switch": inputSwitch}
		return input{kind: kinds[name], target: id}, nil
	case "pm":
		target, text, _ := strings.Cut(rest, " ")
		id, err := parseID(target)
		text = strings.TrimSpace(text)
		if err != nil || text == "" {
			return input{}, fmt.Errorf("usage: /pm <user-id> <message>")
		}
		return input{kind: inputPrivate, target: id, text: text}, nil
	case "retry", "dismiss":
		if rest == "" {
			return input{}, fmt.Errorf("usage: /%s <correlation-id>", name)
		}
		kind := inputRetry
		if name == "dismiss" {
			kind = inputDismiss
		}
		return input{kind: kind, failedID: rest}, nil
	case "quit", "exit":
		return input{kind: inputQuit}, nil
	default:
		return input{}, fmt.Errorf("unknown command /%s", name)
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// printer renders confirmed messages that were not shown before.
type printer struct {
	seen map[int64]int64 // channel id -> highest printed message id
}

func newPrinter() *printer {
	return &printer{seen: make(map[int64]int64)}
}

// lines returns the new confirmed messages of snap in channel then id order.
func (p *printer) lines(snap core.Snapshot) []string {
	names := make(map[int64]string, len(snap.Channels))
	for _, ch := range snap.Channels {
		names[ch.ID] = ch.Name
	}

	ids := make([]int64, 0, len(snap.Messages))
	for id := range snap.Messages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []string
	for _, channelID := range ids {
		last := p.seen[channelID]
		for _, m := range snap.Messages[channelID] {
			if m.Pending() || m.ID <= last {
				continue
			}
			out = append(out, formatMessage(channelName(names, channelID), senderName(snap, m), m))
			last = m.ID
		}
		p.seen[channelID] = last
	}
	return out
}

func formatMessage(channel, sender string, m core.Message) string {
	if m.IsAction {
		return fmt.Sprintf("[%s] * %s %s", channel, sender, m.Content)
	}
	return fmt.Sprintf("[%s] %s: %s", channel, sender, m.Content)
}

func channelName(names map[int64]string, id int64) string {
	if name, ok := names[id]; ok && name != "" {
		return name
	}
	return "#" + strconv.FormatInt(id, 10)
}

func senderName(snap core.Snapshot, m core.Message) string {
	if m.Sender != nil && m.Sender.Username != "" {
		return m.Sender.Username
	}
	if u, ok := snap.Users[m.SenderID]; ok && u.Username != "" {
		return u.Username
	}
	return "user" + strconv.FormatInt(m.SenderID, 10)
}
