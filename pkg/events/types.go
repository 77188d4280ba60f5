package events

import "fmt"

// Type is the dot-namespaced domain.action tag discriminating payload shape.
type Type string

const (
	TypeCustomerCreated  Type = "customers.created"
	TypeCustomerUpdated  Type = "customers.updated"
	TypeDebtCreated      Type = "debts.created"
	TypeDebtPaymentAdded Type = "debts.payment_added"
	TypeDebtNoteChanged  Type = "debts.note_changed"
)

var validTypes = []Type{
	TypeCustomerCreated,
	TypeCustomerUpdated,
	TypeDebtCreated,
	TypeDebtPaymentAdded,
	TypeDebtNoteChanged,
}

// IsValid reports whether the value is a known event type.
func (t Type) IsValid() bool {
	for _, candidate := range validTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseType converts raw input into a Type.
func ParseType(value string) (Type, error) {
	for _, candidate := range validTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// MergeClass declares how concurrent events from different devices combine.
type MergeClass string

const (
	// MergeAppend events are commutative inserts; cross-device order does not
	// change the resulting state.
	MergeAppend MergeClass = "append"
	// MergeReplace events resolve last-write-wins by server arrival order,
	// with device_id as a deterministic tiebreak.
	MergeReplace MergeClass = "replace"
)

var mergeClassByType = map[Type]MergeClass{
	TypeCustomerCreated:  MergeAppend,
	TypeCustomerUpdated:  MergeReplace,
	TypeDebtCreated:      MergeAppend,
	TypeDebtPaymentAdded: MergeAppend,
	TypeDebtNoteChanged:  MergeReplace,
}

// MergeClassFor returns the declared merge class for a type.
func MergeClassFor(t Type) (MergeClass, error) {
	if class, ok := mergeClassByType[t]; ok {
		return class, nil
	}
	return "", fmt.Errorf("no merge class declared for %q", t)
}

// IsMonetary reports whether events of this type must carry a rate snapshot.
func (t Type) IsMonetary() bool {
	return t == TypeDebtCreated || t == TypeDebtPaymentAdded
}
