package peer

import (
	"fmt"
	"strconv"
	"strings"
)

// ACLAction defines whether matching ids are permitted or denied
type ACLAction int

const (
	ACLPermit ACLAction = iota
	ACLDeny
)

// String returns the string representation of the ACL action
func (a ACLAction) String() string {
	switch a {
	case ACLPermit:
		return "PERMIT"
	case ACLDeny:
		return "DENY"
	default:
		return "UNKNOWN"
	}
}

// idRange is an inclusive range of peer ids. A single id is a range of one.
type idRange struct {
	start, end uint32
}

func (r idRange) contains(id uint32) bool {
	return id >= r.start && id <= r.end
}

func (r idRange) String() string {
	if r.start == 0 && r.end == ^uint32(0) {
		return "ALL"
	}
	if r.start == r.end {
		return strconv.FormatUint(uint64(r.start), 10)
	}
	return fmt.Sprintf("%d-%d", r.start, r.end)
}

// ACL is checked against the id presented in a login challenge response.
// A nil *ACL allows everyone.
type ACL struct {
	Action ACLAction
	ranges []idRange
}

// String returns the ACL in the form accepted by ParseACL
func (a *ACL) String() string {
	if a == nil {
		return "PERMIT:ALL"
	}
	parts := make([]string, len(a.ranges))
	for i, r := range a.ranges {
		parts[i] = r.String()
	}
	return a.Action.String() + ":" + strings.Join(parts, ",")
}

// Allows reports whether id may log in
func (a *ACL) Allows(id uint32) bool {
	if a == nil {
		return true
	}
	matched := false
	for _, r := range a.ranges {
		if r.contains(id) {
			matched = true
			break
		}
	}
	if a.Action == ACLPermit {
		return matched
	}
	return !matched
}

// ParseACL parses "ACTION:RULE[,RULE]..." where RULE is ALL, an id or a
// start-end range. An empty string yields a nil ACL that allows every id.
// Examples: "DENY:1", "DENY:1,1000-2000,4500", "PERMIT:3100-3199".
func ParseACL(rule string) (*ACL, error) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return nil, nil
	}

	action, list, ok := strings.Cut(rule, ":")
	if !ok {
		return nil, fmt.Errorf("invalid ACL %q: missing colon", rule)
	}

	acl := &ACL{}
	switch strings.ToUpper(strings.TrimSpace(action)) {
	case "PERMIT":
		acl.Action = ACLPermit
	case "DENY":
		acl.Action = ACLDeny
	default:
		return nil, fmt.Errorf("invalid ACL action: %s", action)
	}

	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		r, err := parseIDRange(item)
		if err != nil {
			return nil, err
		}
		acl.ranges = append(acl.ranges, r)
	}

	if len(acl.ranges) == 0 {
		return nil, fmt.Errorf("invalid ACL %q: no rules specified", rule)
	}
	return acl, nil
}

func parseIDRange(s string) (idRange, error) {
	if strings.EqualFold(s, "ALL") {
		return idRange{start: 0, end: ^uint32(0)}, nil
	}

	lo, hi, isRange := strings.Cut(s, "-")
	start, err := strconv.ParseUint(strings.TrimSpace(lo), 10, 32)
	if err != nil {
		return idRange{}, fmt.Errorf("invalid ID: %s", s)
	}
	if !isRange {
		return idRange{start: uint32(start), end: uint32(start)}, nil
	}

	end, err := strconv.ParseUint(strings.TrimSpace(hi), 10, 32)
	if err != nil {
		return idRange{}, fmt.Errorf("invalid range end: %s", hi)
	}
	if start > end {
		return idRange{}, fmt.Errorf("invalid range: start (%d) > end (%d)", start, end)
	}
	return idRange{start: uint32(start), end: uint32(end)}, nil
}
