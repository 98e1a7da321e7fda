package roles

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type entry struct {
	roleID    string
	channelID string
	count     int
}

// Count is a point-in-time value of one counted role.
type Count struct {
	Name      Name
	ChannelID string
	Value     int
}

// Directory is the single source of truth for role counts. It also
// remembers which counted roles each member holds, so leave events and
// echoed role updates can be applied as diffs.
type Directory struct {
	logger *zap.Logger

	entries map[Name]*entry
	byID    map[string]Name

	mu       sync.Mutex
	members  map[string]map[Name]bool
	complete bool
}

func New(bindings []Binding, logger *zap.Logger) (*Directory, error) {
	d := &Directory{
		logger:  logger.Named("roles"),
		entries: make(map[Name]*entry, len(bindings)),
		byID:    make(map[string]Name, len(bindings)),
		members: make(map[string]map[Name]bool),
	}
	for _, b := range bindings {
		if _, err := ParseName(string(b.Name)); err != nil {
			return nil, err
		}
		if b.RoleID == "" {
			return nil, fmt.Errorf("role %s: missing role id", b.Name)
		}
		if _, dup := d.entries[b.Name]; dup {
			return nil, fmt.Errorf("role %s: bound twice", b.Name)
		}
		if other, dup := d.byID[b.RoleID]; dup {
			return nil, fmt.Errorf("role %s: id %s already bound to %s", b.Name, b.RoleID, other)
		}
		d.entries[b.Name] = &entry{roleID: b.RoleID, channelID: b.ChannelID}
		d.byID[b.RoleID] = b.Name
	}
	return d, nil
}

func (d *Directory) RoleID(n Name) string {
	if e, ok := d.entries[n]; ok {
		return e.roleID
	}
	return ""
}

func (d *Directory) Lookup(roleID string) (Name, bool) {
	n, ok := d.byID[roleID]
	return n, ok
}

// Has reports whether roleIDs contains the role bound to n.
func (d *Directory) Has(roleIDs []string, n Name) bool {
	id := d.RoleID(n)
	if id == "" {
		return false
	}
	for _, r := range roleIDs {
		if r == id {
			return true
		}
	}
	return false
}

func (d *Directory) counted(n Name) bool {
	e, ok := d.entries[n]
	return ok && e.channelID != ""
}

func (d *Directory) tracked(roleIDs []string) map[Name]bool {
	set := make(map[Name]bool, len(roleIDs))
	for _, id := range roleIDs {
		if n, ok := d.byID[id]; ok && d.counted(n) {
			set[n] = true
		}
	}
	return set
}

func (d *Directory) Increment(n Name) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addLocked(n, 1)
}

// Decrement lowers the count of n by one. A count already at zero stays
// at zero and ErrUnderflow is returned.
func (d *Directory) Decrement(n Name) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addLocked(n, -1)
}

func (d *Directory) addLocked(n Name, delta int) error {
	e, ok := d.entries[n]
	if !ok || e.channelID == "" {
		return fmt.Errorf("%w: %s is not counted", ErrUnknownRole, n)
	}
	if e.count+delta < 0 {
		d.logger.Warn("role count inconsistency, clamping at zero", zap.String("role", string(n)))
		return fmt.Errorf("%w: %s", ErrUnderflow, n)
	}
	e.count += delta
	return nil
}

// Join records a new member, counting every tracked role they arrive with.
func (d *Directory) Join(userID string, roleIDs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applyLocked(userID, d.members[userID], d.tracked(roleIDs))
}

// Update applies a member's new role list. The previous list comes from
// the directory's own index; before is only consulted for members it has
// not seen. Applying the same update twice changes nothing.
func (d *Directory) Update(userID string, before, after []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, known := d.members[userID]
	switch {
	case known:
	case before != nil:
		prev = d.tracked(before)
	case !d.complete:
		// Unknown history: remember the member without guessing a delta.
		d.members[userID] = d.tracked(after)
		return
	}
	d.applyLocked(userID, prev, d.tracked(after))
}

// Leave removes a member, decrementing the tracked roles they held. The
// roleIDs of the event are used only if the member was never indexed.
func (d *Directory) Leave(userID string, roleIDs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	held, known := d.members[userID]
	if !known {
		held = d.tracked(roleIDs)
	}
	for n := range held {
		_ = d.addLocked(n, -1)
	}
	delete(d.members, userID)
}

func (d *Directory) applyLocked(userID string, prev, next map[Name]bool) {
	for n := range next {
		if !prev[n] {
			_ = d.addLocked(n, 1)
		}
	}
	for n := range prev {
		if !next[n] {
			_ = d.addLocked(n, -1)
		}
	}
	d.members[userID] = next
}

// Reset replaces every count and the member index with a full recount.
func (d *Directory) Reset(members map[string][]string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, e := range d.entries {
		e.count = 0
	}
	d.members = make(map[string]map[Name]bool, len(members))
	for userID, roleIDs := range members {
		held := d.tracked(roleIDs)
		for n := range held {
			d.entries[n].count++
		}
		d.members[userID] = held
	}
	d.complete = true
}

// Seed sets a count directly, for start-up without a recount.
func (d *Directory) Seed(n Name, value int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[n]
	if !ok || e.channelID == "" {
		return fmt.Errorf("%w: %s is not counted", ErrUnknownRole, n)
	}
	if value < 0 {
		value = 0
	}
	e.count = value
	return nil
}

func (d *Directory) Count(n Name) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[n]; ok {
		return e.count
	}
	return 0
}

// Snapshot returns the counted roles in display order.
func (d *Directory) Snapshot() []Count {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Count
	for _, n := range Known {
		e, ok := d.entries[n]
		if !ok || e.channelID == "" {
			continue
		}
		out = append(out, Count{Name: n, ChannelID: e.channelID, Value: e.count})
	}
	return out
}
