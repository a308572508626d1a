package domain

import "fmt"

// EntryKind is the decoded variant of a moderation entry
type EntryKind int

const (
	KindEdit EntryKind = iota
	KindUpload
	KindMove
)

// String returns the persisted type string for the kind
func (k EntryKind) String() string {
	switch k {
	case KindUpload:
		return EntryTypeUpload
	case KindMove:
		return EntryTypeMove
	default:
		return EntryTypeEdit
	}
}

// EditChange carries the data needed to replay a queued edit
type EditChange struct {
	Page      PageRef
	Text      string
	Comment   string
	Minor     bool
	Bot       bool
	BaseRevID int64
}

// UploadChange carries the data needed to replay a queued file upload
type UploadChange struct {
	Page     PageRef
	StashKey string
	Text     string // file description page text
	Comment  string
}

// MoveChange carries the data needed to replay a queued page move
type MoveChange struct {
	From   PageRef
	To     PageRef
	Reason string
}

// Change is the tagged variant decoded from a persisted entry row.
// Exactly one of Edit/Upload/Move is non-nil, matching Kind.
type Change struct {
	Kind   EntryKind
	Edit   *EditChange
	Upload *UploadChange
	Move   *MoveChange
}

// DecodeChange builds the variant from the persisted row. An entry typed
// "edit" that carries a stash key is treated as an upload: old rows written
// before mod_type existed are distinguished only by the stash reference.
func DecodeChange(e *ModEntry) (Change, error) {
	switch {
	case e.Type == EntryTypeMove:
		return Change{Kind: KindMove, Move: &MoveChange{
			From:   e.Page(),
			To:     e.Page2(),
			Reason: e.Comment,
		}}, nil
	case e.Type == EntryTypeUpload || e.StashKey != "":
		return Change{Kind: KindUpload, Upload: &UploadChange{
			Page:     e.Page(),
			StashKey: e.StashKey,
			Text:     e.Text,
			Comment:  e.Comment,
		}}, nil
	case e.Type == EntryTypeEdit || e.Type == "":
		return Change{Kind: KindEdit, Edit: &EditChange{
			Page:      e.Page(),
			Text:      e.Text,
			Comment:   e.Comment,
			Minor:     e.Minor,
			Bot:       e.Bot,
			BaseRevID: e.BaseRevID,
		}}, nil
	default:
		return Change{}, fmt.Errorf("unknown entry type %q for entry %d", e.Type, e.ID)
	}
}
