package peer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dbehnke/dmr-gateway/pkg/protocol"
)

// MaxStaticTalkgroups is the maximum number of static talkgroups per timeslot
// one options string may provision
const MaxStaticTalkgroups = 50

// StaticTalkgroup names one talkgroup on one timeslot
type StaticTalkgroup struct {
	Slot      int    `mapstructure:"slot"`
	Talkgroup uint32 `mapstructure:"talkgroup"`
}

// Subscriptions maps talkgroup id to the peer's subscription
type Subscriptions struct {
	tgs map[uint32]*Talkgroup
}

// NewSubscriptions creates an empty subscription map
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{tgs: make(map[uint32]*Talkgroup)}
}

// Get returns the subscription for talkgroup id, nil when absent
func (s *Subscriptions) Get(id uint32) *Talkgroup {
	return s.tgs[id]
}

// Add stores tg, replacing any subscription to the same talkgroup
func (s *Subscriptions) Add(tg *Talkgroup) {
	s.tgs[tg.ID] = tg
}

// Remove drops the subscription to talkgroup id
func (s *Subscriptions) Remove(id uint32) {
	delete(s.tgs, id)
}

// Len returns the number of subscriptions
func (s *Subscriptions) Len() int {
	return len(s.tgs)
}

// ClearUserActivated removes every user-activated subscription and keeps the
// static ones. It returns how many were removed.
func (s *Subscriptions) ClearUserActivated() int {
	n := 0
	for id, tg := range s.tgs {
		if tg.UserActivated {
			delete(s.tgs, id)
			n++
		}
	}
	return n
}

// Sweep removes the subscriptions that Keep rejects at now and returns them
func (s *Subscriptions) Sweep(now time.Time) []*Talkgroup {
	var removed []*Talkgroup
	for id, tg := range s.tgs {
		if !tg.Keep(now) {
			delete(s.tgs, id)
			removed = append(removed, tg)
		}
	}
	return removed
}

// List returns copies of all subscriptions ordered by talkgroup id
func (s *Subscriptions) List() []Talkgroup {
	out := make([]Talkgroup, 0, len(s.tgs))
	for _, tg := range s.tgs {
		out = append(out, *tg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Options is the parsed form of an RPTO options string
type Options struct {
	Static      []StaticTalkgroup
	UAExpiry    time.Duration
	HasUAExpiry bool // UAT was present; UAT=0 is a valid window
}

// ParseOptions parses a "key=value;" options list. Two talkgroup forms are
// accepted, one entry per talkgroup ("TS1_1=91;TS1_2=92;") or a comma list per
// slot ("TS1=91,92;TS2=3100"). UAT (or AUTO) sets the user-activated expiry in
// seconds. Unknown keys are ignored.
func ParseOptions(input string) (*Options, error) {
	opts := &Options{}

	input = strings.Trim(input, " \x00")
	if input == "" {
		return opts, nil
	}

	perSlot := map[int]int{}
	for _, pair := range strings.Split(input, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.Trim(strings.TrimSpace(value), "\x00")

		switch {
		case key == "UAT" || key == "AUTO":
			secs, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid %s value: %w", key, err)
			}
			if secs < 0 {
				return nil, fmt.Errorf("%s value cannot be negative: %d", key, secs)
			}
			opts.UAExpiry = time.Duration(secs) * time.Second
			opts.HasUAExpiry = true

		case strings.HasPrefix(key, "TS"):
			slot, err := parseSlotKey(key)
			if err != nil {
				return nil, err
			}
			tgs, err := parseTalkgroupList(value)
			if err != nil {
				return nil, fmt.Errorf("invalid %s value: %w", key, err)
			}
			for _, tg := range tgs {
				opts.Static = append(opts.Static, StaticTalkgroup{Slot: slot, Talkgroup: tg})
			}
			perSlot[slot] += len(tgs)
			if perSlot[slot] > MaxStaticTalkgroups {
				return nil, fmt.Errorf("too many TS%d talkgroups: %d (max %d)", slot, perSlot[slot], MaxStaticTalkgroups)
			}
		}
	}

	return opts, nil
}

// parseSlotKey accepts TS1, TS2, TS1_n and TS2_n
func parseSlotKey(key string) (int, error) {
	slotPart, _, _ := strings.Cut(strings.TrimPrefix(key, "TS"), "_")
	switch slotPart {
	case "1":
		return protocol.Timeslot1, nil
	case "2":
		return protocol.Timeslot2, nil
	}
	return 0, fmt.Errorf("invalid timeslot key: %s", key)
}

// parseTalkgroupList parses a comma-separated list of talkgroup IDs
func parseTalkgroupList(input string) ([]uint32, error) {
	parts := strings.Split(input, ",")
	result := make([]uint32, 0, len(parts))

	for _, part := range parts {
		part = strings.Trim(strings.TrimSpace(part), "\x00")
		if part == "" {
			continue
		}

		tgid, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid talkgroup ID '%s': %w", part, err)
		}
		if tgid == 0 || tgid > protocol.MaxID24Bit {
			return nil, fmt.Errorf("talkgroup ID out of range: %d", tgid)
		}

		result = append(result, uint32(tgid))
	}

	return result, nil
}
