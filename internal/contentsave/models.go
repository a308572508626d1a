package contentsave

import "time"

// Revision is one row of the page history - maps to revisions table
type Revision struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Namespace int       `gorm:"column:rev_namespace" json:"namespace"`
	Title     string    `gorm:"column:rev_title" json:"title"`
	ParentID  int64     `gorm:"column:rev_parent_id" json:"parent_id"` // 0 for first revision
	UserID    int64     `gorm:"column:rev_user" json:"user_id"`
	UserText  string    `gorm:"column:rev_user_text" json:"user_text"`
	Timestamp time.Time `gorm:"column:rev_timestamp" json:"timestamp"`
	Comment   string    `gorm:"column:rev_comment" json:"comment"`
	Minor     bool      `gorm:"column:rev_minor_edit" json:"minor"`
	Len       int       `gorm:"column:rev_len" json:"len"`
	Text      string    `gorm:"column:rev_text" json:"text"`
}

// TableName returns the table name
func (Revision) TableName() string {
	return "revisions"
}

// RecentChange is one row of the recent-changes feed - maps to recent_changes
type RecentChange struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Namespace  int       `gorm:"column:rc_namespace" json:"namespace"`
	Title      string    `gorm:"column:rc_title" json:"title"`
	UserID     int64     `gorm:"column:rc_user" json:"user_id"`
	UserText   string    `gorm:"column:rc_user_text" json:"user_text"`
	Timestamp  time.Time `gorm:"column:rc_timestamp" json:"timestamp"`
	RevisionID int64     `gorm:"column:rc_this_oldid" json:"revision_id"`
	IP         string    `gorm:"column:rc_ip" json:"ip"`
	Tags       string    `gorm:"column:rc_tags" json:"tags"` // newline-joined
	LogAction  string    `gorm:"column:rc_log_action" json:"log_action,omitempty"`
}

// TableName returns the table name
func (RecentChange) TableName() string {
	return "recent_changes"
}

// LogEntry is one row of the audit log - maps to log_entries
type LogEntry struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Type       string    `gorm:"column:log_type" json:"type"`     // upload, move, edit
	Action     string    `gorm:"column:log_action" json:"action"` // engine action verb
	Namespace  int       `gorm:"column:log_namespace" json:"namespace"`
	Title      string    `gorm:"column:log_title" json:"title"`
	UserID     int64     `gorm:"column:log_user" json:"user_id"`
	UserText   string    `gorm:"column:log_user_text" json:"user_text"`
	Timestamp  time.Time `gorm:"column:log_timestamp" json:"timestamp"`
	RevisionID int64     `gorm:"column:log_rev_id" json:"revision_id"` // 0 until the deferred post-commit step fills it
	Comment    string    `gorm:"column:log_comment" json:"comment"`
}

// TableName returns the table name
func (LogEntry) TableName() string {
	return "log_entries"
}

// ChangeAudit is the separate audit subsystem's per-save record of origin
// metadata - maps to change_audit. Reconciliation overrides IP/XFF/UA here so
// the moderator's connection details never leak into rows meant to track the
// original author.
type ChangeAudit struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Namespace int       `gorm:"column:ca_namespace" json:"namespace"`
	Title     string    `gorm:"column:ca_title" json:"title"`
	UserText  string    `gorm:"column:ca_user_text" json:"user_text"`
	Action    string    `gorm:"column:ca_action" json:"action"` // edit, upload, move
	Timestamp time.Time `gorm:"column:ca_timestamp" json:"timestamp"`
	IP        string    `gorm:"column:ca_ip" json:"ip"`
	XFF       string    `gorm:"column:ca_xff" json:"xff"`
	UserAgent string    `gorm:"column:ca_agent" json:"user_agent"`
}

// TableName returns the table name
func (ChangeAudit) TableName() string {
	return "change_audit"
}
