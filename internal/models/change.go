package models

// ChangeKind identifies a row-level change delivered by the change feed.
type ChangeKind int

const (
	ChangeInsert ChangeKind = iota
	ChangeUpdate
	ChangeDelete
)

// String returns the wire name of the change kind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeInsert:
		return "insert"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	}
	return "unknown"
}

// ChangeEvent is a row-level change to the subscriptions table. Insert and
// update events carry the new row image in Record; delete events carry only
// the identifier of the removed row. OwnerID is always set and is used to
// route the event to the owner's feed subscribers.
type ChangeEvent struct {
	Kind    ChangeKind
	OwnerID string
	// Record is the new row image. Nil for delete events.
	Record *Subscription
	// ID is the identifier of the removed row. Empty for insert and update
	// events, which carry it inside Record.
	ID string
}

// InsertEvent builds a ChangeEvent for a newly stored row.
func InsertEvent(rec *Subscription) ChangeEvent {
	return ChangeEvent{Kind: ChangeInsert, OwnerID: rec.OwnerID, Record: rec}
}

// UpdateEvent builds a ChangeEvent for an updated row.
func UpdateEvent(rec *Subscription) ChangeEvent {
	return ChangeEvent{Kind: ChangeUpdate, OwnerID: rec.OwnerID, Record: rec}
}

// DeleteEvent builds a ChangeEvent for a removed row.
func DeleteEvent(ownerID, id string) ChangeEvent {
	return ChangeEvent{Kind: ChangeDelete, OwnerID: ownerID, ID: id}
}
